/*
Package aggregate groups records by key and averages a numeric field.

Every live chart is the same computation: pick a day and a category out of
each record, sum a value per (day, category), then divide by the count. The
engine is pure and generic over the record type, so callers pass extractor
functions instead of writing one aggregator per chart:

	acc := aggregate.Accumulate(ratings,
	    func(r records.Rating) (aggregate.Key, bool) {
	        return aggregate.Key{Day: aggregate.DayOf(r.Timestamp, loc), Category: r.MessName}, true
	    },
	    func(r records.Rating) (float64, bool) { return r.Quality, true },
	    nil,
	)
	avgs := aggregate.Averages(acc, aggregate.RoundTenth)

Records whose key or value extractor reports false are skipped. Accumulate
never fails; incomplete input only shrinks the result.

# Days

Day is a civil date in a fixed location. Keys built from the same instant
in different zones may land on different days, so callers must use one
location for a whole computation.
*/
package aggregate
