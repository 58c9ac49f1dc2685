package charts

import (
	"time"

	"github.com/nicktill/campuspulse/pkg/aggregate"
	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/filter"
	"github.com/nicktill/campuspulse/pkg/records"
	"github.com/nicktill/campuspulse/pkg/series"
)

func ratingQuality(r records.Rating) (float64, bool) { return r.Quality, true }

// MessHygiene charts the daily average rating of every mess. The filter
// category selects a meal; the meal is matched per record so one
// subscription covers every selection.
func MessHygiene(loc *time.Location) *SeriesChart[records.Rating] {
	return &SeriesChart[records.Rating]{
		name: MessHygieneName,
		gate: authz.GateAdmin,
		query: func(filter.Filter) docstore.Query {
			return docstore.Query{Collection: records.RatingsCollection}
		},
		decode: records.RatingFrom,
		keep: func(f filter.Filter, r records.Rating) bool {
			return f.All() || r.MealType == f.Category
		},
		key: func(r records.Rating) (aggregate.Key, bool) {
			return aggregate.Key{Day: aggregate.DayOf(r.Timestamp, loc), Category: r.MessName}, true
		},
		value: ratingQuality,
		round: aggregate.RoundTenth,
		// Mess names are free-form.
		order: series.Alphabetical,
	}
}

// MealTrends charts the daily average rating of every meal. The filter
// category selects a mess and narrows the query itself.
func MealTrends(loc *time.Location) *SeriesChart[records.Rating] {
	return &SeriesChart[records.Rating]{
		name: MealTrendsName,
		gate: authz.GateSignedIn,
		query: func(f filter.Filter) docstore.Query {
			q := docstore.Query{Collection: records.RatingsCollection}
			if !f.All() {
				q.Where = []docstore.Predicate{docstore.Where("messName", docstore.Eq, f.Category)}
			}
			return q
		},
		decode: records.RatingFrom,
		key: func(r records.Rating) (aggregate.Key, bool) {
			if r.MealType == "" {
				return aggregate.Key{}, false
			}
			return aggregate.Key{Day: aggregate.DayOf(r.Timestamp, loc), Category: r.MealType}, true
		},
		value: ratingQuality,
		round: aggregate.RoundTenth,
		order: series.Canonical(records.Meals...),
	}
}

// RecentRatings lists the newest ratings, newest first. The filter
// category selects a mess.
func RecentRatings(limit int) *ListChart[records.Rating] {
	return &ListChart[records.Rating]{
		name: RecentRatingsName,
		gate: authz.GateSignedIn,
		query: func(f filter.Filter) docstore.Query {
			q := docstore.Query{
				Collection: records.RatingsCollection,
				OrderBy:    "timestamp",
				Desc:       true,
				Limit:      limit,
			}
			if !f.All() {
				q.Where = []docstore.Predicate{docstore.Where("messName", docstore.Eq, f.Category)}
			}
			return q
		},
		decode: records.RatingFrom,
	}
}
