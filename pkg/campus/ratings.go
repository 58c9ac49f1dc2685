package campus

import (
	"context"
	"fmt"

	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/records"
)

// RatingInput is a mess food rating as entered by a student.
type RatingInput struct {
	MessName string  `json:"messName"`
	MealType string  `json:"mealType"`
	Quality  float64 `json:"foodQualityRating"`
	Sick     bool    `json:"sickAfterMeal"`
	Photo    *Photo  `json:"-"`
}

// RatingResult is what SubmitRating stored.
type RatingResult struct {
	Rating records.Rating `json:"rating"`
	// Report is the medical report filed for a sick rating.
	Report *records.EmergencyReport `json:"report,omitempty"`
}

// SubmitRating stores a rating. The photo, if any, is uploaded first and
// a failed upload stores nothing. A sick rating also files a medical
// emergency report located at "<mess> (<meal>)".
func (s *Service) SubmitRating(ctx context.Context, sess *authz.Session, in RatingInput) (RatingResult, error) {
	if err := requireSignedIn(sess); err != nil {
		return RatingResult{}, err
	}
	r := records.Rating{
		StudentID: sess.UID(),
		MessName:  in.MessName,
		MealType:  in.MealType,
		Quality:   in.Quality,
		Sick:      in.Sick,
	}
	if err := records.Validate(r); err != nil {
		return RatingResult{}, err
	}

	url, err := s.upload(ctx, in.Photo)
	if err != nil {
		return RatingResult{}, err
	}
	r.ImageURL = url

	doc, err := s.create(ctx, sess, records.RatingsCollection, r.Fields())
	if err != nil {
		return RatingResult{}, err
	}
	stored, _ := records.RatingFrom(doc)
	res := RatingResult{Rating: stored}
	if !in.Sick {
		return res, nil
	}

	p, err := s.profile(ctx, sess)
	if err != nil {
		return res, fmt.Errorf("rating stored, sickness report not filed: %w", err)
	}
	report := records.EmergencyReport{
		StudentID:        sess.UID(),
		StudentName:      orDefault(p.DisplayName, "Unknown"),
		EnrollmentNumber: orDefault(p.EnrollmentNumber, "N/A"),
		Year:             p.Year,
		Location:         fmt.Sprintf("%s (%s)", in.MessName, in.MealType),
		EmergencyType:    "Medical",
	}
	filed, err := s.fileEmergency(ctx, sess, report)
	if err != nil {
		return res, fmt.Errorf("rating stored, sickness report not filed: %w", err)
	}
	res.Report = &filed
	return res, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
