package campus

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/records"
)

// EmergencyInput is an SOS alert as entered by the caller.
type EmergencyInput struct {
	StudentName      string   `json:"studentName"`
	EnrollmentNumber string   `json:"enrollmentNumber"`
	Year             int      `json:"year,omitempty"`
	Location         string   `json:"location"`
	EmergencyType    string   `json:"emergencyType"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
}

// ReportEmergency stores an SOS report and publishes it. Coordinates are
// kept only when both are present. Admins raising an alert have no year.
func (s *Service) ReportEmergency(ctx context.Context, sess *authz.Session, in EmergencyInput) (records.EmergencyReport, error) {
	if err := requireSignedIn(sess); err != nil {
		return records.EmergencyReport{}, err
	}
	if !slices.Contains(records.EmergencyTypes, in.EmergencyType) {
		return records.EmergencyReport{}, fmt.Errorf("%w: unknown emergency type %q", records.ErrInvalid, in.EmergencyType)
	}

	r := records.EmergencyReport{
		StudentID:        sess.UID(),
		StudentName:      in.StudentName,
		EnrollmentNumber: in.EnrollmentNumber,
		Location:         in.Location,
		EmergencyType:    in.EmergencyType,
	}
	if !sess.IsAdmin() {
		r.Year = in.Year
	}
	if in.Latitude != nil && in.Longitude != nil {
		r.Latitude, r.Longitude = in.Latitude, in.Longitude
	}
	if err := records.Validate(r); err != nil {
		return records.EmergencyReport{}, err
	}
	return s.fileEmergency(ctx, sess, r)
}

func (s *Service) fileEmergency(ctx context.Context, sess *authz.Session, r records.EmergencyReport) (records.EmergencyReport, error) {
	doc, err := s.create(ctx, sess, records.EmergencyCollection, r.Fields())
	if err != nil {
		return records.EmergencyReport{}, err
	}
	stored, _ := records.EmergencyFrom(doc)
	s.publish(ctx, stored)
	return stored, nil
}

// profile reads the caller's profile. A missing profile is empty.
func (s *Service) profile(ctx context.Context, sess *authz.Session) (records.UserProfile, error) {
	doc, err := s.as(sess).Get(ctx, records.UserProfileCollection, sess.UID())
	if errors.Is(err, docstore.ErrNotFound) {
		return records.UserProfile{UID: sess.UID()}, nil
	}
	if err != nil {
		return records.UserProfile{}, err
	}
	return records.ProfileFrom(doc), nil
}
