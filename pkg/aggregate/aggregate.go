package aggregate

import (
	"iter"
	"math"
	"slices"
)

// Key identifies one (day, category) bucket.
type Key struct {
	Day      Day
	Category string
}

// Accumulator holds the running totals of one bucket.
type Accumulator struct {
	Sum   float64
	Count int
	Min   float64
	Max   float64
}

// Add folds one value into the bucket.
func (a *Accumulator) Add(v float64) {
	if a.Count == 0 || v < a.Min {
		a.Min = v
	}
	if a.Count == 0 || v > a.Max {
		a.Max = v
	}
	a.Sum += v
	a.Count++
}

// Merge combines two buckets.
func (a Accumulator) Merge(b Accumulator) Accumulator {
	switch {
	case a.Count == 0:
		return b
	case b.Count == 0:
		return a
	}
	return Accumulator{
		Sum:   a.Sum + b.Sum,
		Count: a.Count + b.Count,
		Min:   math.Min(a.Min, b.Min),
		Max:   math.Max(a.Max, b.Max),
	}
}

// Average returns Sum/Count, or 0 for an empty bucket.
func (a Accumulator) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Accumulate groups records by key and sums value per group. keep may be
// nil. Records whose key or value is unavailable, or whose value is not a
// finite number, are skipped.
func Accumulate[R any, K comparable](
	records []R,
	key func(R) (K, bool),
	value func(R) (float64, bool),
	keep func(R) bool,
) map[K]Accumulator {
	return AccumulateSeq(slices.Values(records), key, value, keep)
}

// AccumulateSeq is Accumulate over a sequence.
func AccumulateSeq[R any, K comparable](
	records iter.Seq[R],
	key func(R) (K, bool),
	value func(R) (float64, bool),
	keep func(R) bool,
) map[K]Accumulator {
	out := make(map[K]Accumulator)
	for r := range records {
		if keep != nil && !keep(r) {
			continue
		}
		k, ok := key(r)
		if !ok {
			continue
		}
		v, ok := value(r)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		acc := out[k]
		acc.Add(v)
		out[k] = acc
	}
	return out
}

// Rounding maps a raw average to its presented value.
type Rounding func(float64) float64

// RoundTenth rounds half up to one decimal place.
func RoundTenth(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}

// RoundWhole rounds half up to an integer.
func RoundWhole(v float64) float64 {
	return math.Floor(v + 0.5)
}

// NoRounding keeps the raw average.
func NoRounding(v float64) float64 { return v }

// Averages divides every bucket and applies round. Empty buckets are dropped.
func Averages[K comparable](acc map[K]Accumulator, round Rounding) map[K]float64 {
	if round == nil {
		round = NoRounding
	}
	out := make(map[K]float64, len(acc))
	for k, a := range acc {
		if a.Count == 0 {
			continue
		}
		out[k] = round(a.Average())
	}
	return out
}
