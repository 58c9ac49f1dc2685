package campus

import (
	"context"
	"fmt"

	"github.com/nicktill/campuspulse/pkg/aggregate"
	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/records"
)

// AppointmentInput is a booking request.
type AppointmentInput struct {
	StudentName      string        `json:"studentName"`
	EnrollmentNumber string        `json:"enrollmentNumber"`
	Date             aggregate.Day `json:"appointmentDate"`
	Time             string        `json:"appointmentTime"`
	Reason           string        `json:"reason"`
}

// BookAppointment schedules a visit for the caller. Bookings made by an
// admin are marked as admin booked.
func (s *Service) BookAppointment(ctx context.Context, sess *authz.Session, in AppointmentInput) (records.Appointment, error) {
	if err := requireSignedIn(sess); err != nil {
		return records.Appointment{}, err
	}
	if in.Date.IsZero() {
		return records.Appointment{}, fmt.Errorf("%w: appointmentDate is required", records.ErrInvalid)
	}
	a := records.Appointment{
		StudentID:        sess.UID(),
		StudentName:      in.StudentName,
		EnrollmentNumber: in.EnrollmentNumber,
		AppointmentDate:  in.Date.Start(s.loc),
		AppointmentTime:  in.Time,
		Reason:           in.Reason,
		Status:           records.StatusScheduled,
		BookedBy:         records.BookedByStudent,
	}
	if sess.IsAdmin() {
		a.BookedBy = records.BookedByAdmin
	}
	if err := records.Validate(a); err != nil {
		return records.Appointment{}, err
	}

	doc, err := s.create(ctx, sess, records.AppointmentsCollection, a.Fields())
	if err != nil {
		return records.Appointment{}, err
	}
	stored, _ := records.AppointmentFrom(doc)
	return stored, nil
}

// appointment loads an appointment the caller may act on. Students may
// only act on their own.
func (s *Service) appointment(ctx context.Context, sess *authz.Session, id string) (records.Appointment, error) {
	if err := requireSignedIn(sess); err != nil {
		return records.Appointment{}, err
	}
	doc, err := s.store.Get(ctx, records.AppointmentsCollection, id)
	if err != nil {
		return records.Appointment{}, err
	}
	a, ok := records.AppointmentFrom(doc)
	if !ok {
		return records.Appointment{}, fmt.Errorf("%w: appointment %s has no date", records.ErrInvalid, id)
	}
	if !sess.IsAdmin() && a.StudentID != sess.UID() {
		return records.Appointment{}, &docstore.OpError{
			Op:   docstore.OpUpdate,
			Path: docstore.JoinPath(records.AppointmentsCollection, id),
			Err:  fmt.Errorf("%w: not your appointment", docstore.ErrPermissionDenied),
		}
	}
	if a.Status != records.StatusScheduled {
		return records.Appointment{}, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, a.Status)
	}
	return a, nil
}

// update merges fields into an appointment.
func (s *Service) update(ctx context.Context, sess *authz.Session, a records.Appointment, fields docstore.Fields) (records.Appointment, error) {
	doc, err := s.as(sess).Write(ctx, records.AppointmentsCollection, a.ID, fields, docstore.Update)
	if err != nil {
		return records.Appointment{}, err
	}
	updated, _ := records.AppointmentFrom(doc)
	return updated, nil
}

// UpdateAppointmentStatus moves a scheduled appointment to completed or
// cancelled. Students may only cancel.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, sess *authz.Session, id, status string) (records.Appointment, error) {
	switch status {
	case records.StatusCancelled:
	case records.StatusCompleted:
		if !sess.IsAdmin() {
			return records.Appointment{}, fmt.Errorf("%w: students complete a visit by leaving feedback", ErrInvalidTransition)
		}
	default:
		return records.Appointment{}, fmt.Errorf("%w: cannot move to %q", ErrInvalidTransition, status)
	}

	a, err := s.appointment(ctx, sess, id)
	if err != nil {
		return records.Appointment{}, err
	}
	return s.update(ctx, sess, a, docstore.Fields{"status": status})
}

// FeedbackInput is a student's review of a visit.
type FeedbackInput struct {
	WaitingTime        float64 `json:"waitingTime" validate:"gte=0"`
	DoctorAvailability string  `json:"doctorAvailability" validate:"oneof=available unavailable"`
	PostVisitFeedback  string  `json:"postVisitFeedback" validate:"max=2000"`
}

// SubmitFeedback completes a scheduled appointment with the visit review
// and files the review as hospital feedback.
func (s *Service) SubmitFeedback(ctx context.Context, sess *authz.Session, id string, in FeedbackInput) (records.Appointment, error) {
	if err := records.Validate(in); err != nil {
		return records.Appointment{}, err
	}
	a, err := s.appointment(ctx, sess, id)
	if err != nil {
		return records.Appointment{}, err
	}

	updated, err := s.update(ctx, sess, a, docstore.Fields{
		"status":             records.StatusCompleted,
		"waitingTime":        in.WaitingTime,
		"doctorAvailability": in.DoctorAvailability,
		"postVisitFeedback":  in.PostVisitFeedback,
	})
	if err != nil {
		return records.Appointment{}, err
	}

	fb := records.HospitalFeedback{
		StudentID:          a.StudentID,
		WaitingTime:        in.WaitingTime,
		DoctorAvailability: in.DoctorAvailability,
		PostVisitFeedback:  in.PostVisitFeedback,
		EmergencyVsNormal:  "normal",
	}
	if _, err := s.create(ctx, sess, records.FeedbackCollection, fb.Fields()); err != nil {
		return updated, fmt.Errorf("appointment completed, feedback not filed: %w", err)
	}
	return updated, nil
}
