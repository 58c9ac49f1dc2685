package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/records"
)

// student generates a steady stream of one student's activity.
type student struct {
	uid     string
	name    string
	enroll  string
	api     *apiClient
	rng     *rand.Rand
	limiter *rate.Limiter
	loc     *time.Location
}

// run performs actions until ctx ends or actions is exhausted. A negative
// actions runs forever.
func (s *student) run(ctx context.Context, actions int) error {
	for n := 0; actions < 0 || n < actions; n++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}
		var err error
		switch roll := s.rng.Intn(100); {
		case roll < 70:
			err = s.rate(ctx)
		case roll < 95:
			err = s.visit(ctx)
		default:
			err = s.sos(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Warn().Err(err).Str("student", s.uid).Msg("seed action failed")
		}
	}
	return nil
}

func (s *student) pick(options []string) string {
	return options[s.rng.Intn(len(options))]
}

func (s *student) rate(ctx context.Context) error {
	body := map[string]any{
		"messName":          s.pick(records.Messes),
		"mealType":          s.pick(records.Meals),
		"foodQualityRating": 1 + s.rng.Intn(5),
	}
	if err := s.api.call(ctx, http.MethodPost, "/v1/ratings", body, nil); err != nil {
		return err
	}
	logging.Debug().Str("student", s.uid).Interface("rating", body).Msg("rated a meal")
	return nil
}

// visit books an appointment and then either reviews or cancels it.
func (s *student) visit(ctx context.Context) error {
	day := time.Now().In(s.loc).AddDate(0, 0, s.rng.Intn(3))
	var appt records.Appointment
	err := s.api.call(ctx, http.MethodPost, "/v1/appointments", map[string]any{
		"studentName":      s.name,
		"enrollmentNumber": s.enroll,
		"appointmentDate":  day.Format("2006-01-02"),
		"appointmentTime":  fmt.Sprintf("%02d:%02d", 9+s.rng.Intn(8), 15*s.rng.Intn(4)),
		"reason":           s.pick([]string{"Fever", "Sprained ankle", "Headache", "Routine checkup"}),
	}, &appt)
	if err != nil {
		return err
	}

	path := "/v1/appointments/" + appt.ID
	if s.rng.Intn(5) == 0 {
		return s.api.call(ctx, http.MethodPatch, path+"/status", map[string]string{"status": records.StatusCancelled}, nil)
	}
	availability := "available"
	if s.rng.Intn(4) == 0 {
		availability = "unavailable"
	}
	return s.api.call(ctx, http.MethodPost, path+"/feedback", map[string]any{
		"waitingTime":        float64(5 + s.rng.Intn(55)),
		"doctorAvailability": availability,
		"postVisitFeedback":  "Seeded visit",
	}, nil)
}

func (s *student) sos(ctx context.Context) error {
	return s.api.call(ctx, http.MethodPost, "/v1/sos", map[string]any{
		"studentName":      s.name,
		"enrollmentNumber": s.enroll,
		"year":             1 + s.rng.Intn(4),
		"location":         s.pick([]string{"Library", "Sports complex", "Hostel block C", "Main gate"}),
		"emergencyType":    s.pick(records.EmergencyTypes),
	}, nil)
}
