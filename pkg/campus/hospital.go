package campus

import (
	"context"
	"errors"

	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/records"
)

// HospitalStatusID is the campusInfo document holding the doctor status.
const HospitalStatusID = "hospital"

// DoctorStatus returns the current status board, or the default board
// when none has been set.
func (s *Service) DoctorStatus(ctx context.Context, sess *authz.Session) (records.DoctorStatus, error) {
	doc, err := s.as(sess).Get(ctx, records.CampusInfoCollection, HospitalStatusID)
	if errors.Is(err, docstore.ErrNotFound) {
		return records.DefaultDoctorStatus(), nil
	}
	if err != nil {
		return records.DoctorStatus{}, err
	}
	return records.DoctorStatusFrom(doc), nil
}

// SetDoctorStatus merges st into the status board. An empty alert level
// means normal operations.
func (s *Service) SetDoctorStatus(ctx context.Context, sess *authz.Session, st records.DoctorStatus) (records.DoctorStatus, error) {
	if st.EmergencyStatus == "" {
		st.EmergencyStatus = records.EmergencyStatuses[0]
	}
	if err := records.Validate(st); err != nil {
		return records.DoctorStatus{}, err
	}
	doc, err := s.as(sess).Write(ctx, records.CampusInfoCollection, HospitalStatusID, st.Fields(), docstore.Merge)
	if err != nil {
		return records.DoctorStatus{}, err
	}
	return records.DoctorStatusFrom(doc), nil
}
