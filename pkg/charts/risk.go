package charts

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/genai"
	"github.com/nicktill/campuspulse/pkg/records"
)

// LoadRiskInput reads emergency reports, hospital feedback and mess
// ratings concurrently and converts them for the risk model. The first
// failing read cancels the others and its error is returned unchanged, so
// a permission failure stays recognisable.
func LoadRiskInput(ctx context.Context, store docstore.Store) (genai.RiskInput, error) {
	var (
		reports   []docstore.Document
		feedbacks []docstore.Document
		ratings   []docstore.Document
	)

	g, gctx := errgroup.WithContext(ctx)
	read := func(collection string, dst *[]docstore.Document) {
		g.Go(func() error {
			docs, err := store.List(gctx, docstore.Query{Collection: collection})
			if err != nil {
				return err
			}
			*dst = docs
			return nil
		})
	}
	read(records.EmergencyCollection, &reports)
	read(records.FeedbackCollection, &feedbacks)
	read(records.RatingsCollection, &ratings)
	if err := g.Wait(); err != nil {
		return genai.RiskInput{}, fmt.Errorf("failed to load risk input: %w", err)
	}

	in := genai.RiskInput{
		EmergencyReports:  make([]genai.RiskReport, 0, len(reports)),
		HospitalFeedbacks: make([]genai.RiskFeedback, 0, len(feedbacks)),
		MessFoodRatings:   make([]genai.RiskRating, 0, len(ratings)),
	}
	for _, d := range reports {
		r, ok := records.EmergencyFrom(d)
		if !ok {
			continue
		}
		in.EmergencyReports = append(in.EmergencyReports, genai.RiskReport{
			ReportID:         r.ID,
			StudentName:      r.StudentName,
			EnrollmentNumber: r.EnrollmentNumber,
			Year:             r.Year,
			Location:         r.Location,
			EmergencyType:    r.EmergencyType,
			Timestamp:        records.ISOTime(r.Timestamp),
		})
	}
	for _, d := range feedbacks {
		fb, ok := records.FeedbackFrom(d)
		if !ok {
			continue
		}
		in.HospitalFeedbacks = append(in.HospitalFeedbacks, genai.RiskFeedback{
			FeedbackID:         fb.ID,
			WaitingTime:        fb.WaitingTime,
			DoctorAvailability: fb.DoctorAvailability,
			PostVisitFeedback:  fb.PostVisitFeedback,
			EmergencyVsNormal:  fb.EmergencyVsNormal,
			Timestamp:          records.ISOTime(fb.Timestamp),
		})
	}
	for _, d := range ratings {
		r, ok := records.RatingFrom(d)
		if !ok {
			continue
		}
		sick := "no"
		if r.Sick {
			sick = "yes"
		}
		in.MessFoodRatings = append(in.MessFoodRatings, genai.RiskRating{
			RatingID:            r.ID,
			FoodQualityRating:   r.Quality,
			SickAfterMealReport: sick,
			Timestamp:           records.ISOTime(r.Timestamp),
		})
	}
	return in, nil
}
