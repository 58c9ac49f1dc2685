package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type rating struct {
	mess  string
	at    time.Time
	score *float64
	meal  string
}

func score(v float64) *float64 { return &v }

func byMessAndDay(loc *time.Location) (func(rating) (Key, bool), func(rating) (float64, bool)) {
	key := func(r rating) (Key, bool) {
		if r.mess == "" || r.at.IsZero() {
			return Key{}, false
		}
		return Key{Day: DayOf(r.at, loc), Category: r.mess}, true
	}
	value := func(r rating) (float64, bool) {
		if r.score == nil {
			return 0, false
		}
		return *r.score, true
	}
	return key, value
}

func TestAccumulate_AveragesPerGroup(t *testing.T) {
	day := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	records := []rating{
		{mess: "A", at: day, score: score(2)},
		{mess: "A", at: day.Add(time.Hour), score: score(4)},
		{mess: "B", at: day, score: score(5)},
	}

	key, value := byMessAndDay(time.UTC)
	avgs := Averages(Accumulate(records, key, value, nil), RoundTenth)

	d := Day{Year: 2025, Month: time.January, Day: 1}
	require.Equal(t, map[Key]float64{
		{Day: d, Category: "A"}: 3.0,
		{Day: d, Category: "B"}: 5.0,
	}, avgs)
}

func TestAccumulate_SkipsIncompleteRecords(t *testing.T) {
	day := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	records := []rating{
		{mess: "A", at: day, score: score(4)},
		{mess: "", at: day, score: score(1)},
		{mess: "A", score: score(1)},
		{mess: "A", at: day},
		{mess: "A", at: day, score: score(math.NaN())},
	}

	key, value := byMessAndDay(time.UTC)
	acc := Accumulate(records, key, value, nil)
	require.Len(t, acc, 1)
	for _, a := range acc {
		require.Equal(t, 1, a.Count)
		require.Equal(t, 4.0, a.Sum)
	}
}

func TestAccumulate_KeepFilter(t *testing.T) {
	day := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	records := []rating{
		{mess: "A", at: day, score: score(2), meal: "Lunch"},
		{mess: "A", at: day, score: score(4), meal: "Dinner"},
	}

	key, value := byMessAndDay(time.UTC)
	lunchOnly := func(r rating) bool { return r.meal == "Lunch" }
	avgs := Averages(Accumulate(records, key, value, lunchOnly), RoundTenth)
	require.Len(t, avgs, 1)
	for _, v := range avgs {
		require.Equal(t, 2.0, v)
	}
}

func TestAccumulate_EmptyInput(t *testing.T) {
	key, value := byMessAndDay(time.UTC)
	require.Empty(t, Accumulate(nil, key, value, nil))
	require.Empty(t, Averages(map[Key]Accumulator{}, RoundWhole))
}

func TestAccumulate_DayBoundaryFollowsLocation(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on Dec 31 is already Jan 1 in IST.
	late := time.Date(2024, 12, 31, 20, 0, 0, 0, time.UTC)
	records := []rating{{mess: "A", at: late, score: score(3)}}

	key, value := byMessAndDay(ist)
	acc := Accumulate(records, key, value, nil)
	_, ok := acc[Key{Day: Day{2025, time.January, 1}, Category: "A"}]
	require.True(t, ok)
}

func TestRounding(t *testing.T) {
	tests := []struct {
		in    float64
		tenth float64
		whole float64
	}{
		{3.333, 3.3, 3},
		{3.35, 3.4, 3},
		{12.5, 12.5, 13},
		{7.49, 7.5, 7},
		{0, 0, 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.tenth, RoundTenth(tt.in), "tenth of %v", tt.in)
		require.Equal(t, tt.whole, RoundWhole(tt.in), "whole of %v", tt.in)
	}
}

func TestAccumulator_MinMaxAndMerge(t *testing.T) {
	var a, b Accumulator
	a.Add(3)
	a.Add(1)
	b.Add(7)

	m := a.Merge(b)
	require.Equal(t, 3, m.Count)
	require.Equal(t, 11.0, m.Sum)
	require.Equal(t, 1.0, m.Min)
	require.Equal(t, 7.0, m.Max)
	require.Equal(t, a, a.Merge(Accumulator{}))
}
