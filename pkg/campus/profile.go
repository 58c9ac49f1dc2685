package campus

import (
	"context"
	"fmt"

	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/records"
)

// ProfileInput is a profile edit. Nil fields are left as stored.
type ProfileInput struct {
	DisplayName      *string `json:"displayName" validate:"omitempty,max=100"`
	EnrollmentNumber *string `json:"enrollmentNumber" validate:"omitempty,max=32"`
	Hostel           *string `json:"hostel" validate:"omitempty,max=100"`
	Department       *string `json:"department" validate:"omitempty,max=100"`
	Year             *int    `json:"year" validate:"omitempty,gte=1,lte=6"`
	PhoneNumber      *string `json:"phoneNumber" validate:"omitempty,max=20"`
}

func (in ProfileInput) fields() docstore.Fields {
	f := docstore.Fields{}
	set := func(key string, v *string) {
		if v != nil {
			f[key] = *v
		}
	}
	set("displayName", in.DisplayName)
	set("enrollmentNumber", in.EnrollmentNumber)
	set("hostel", in.Hostel)
	set("department", in.Department)
	set("phoneNumber", in.PhoneNumber)
	if in.Year != nil {
		f["year"] = *in.Year
	}
	return f
}

// Profile returns the caller's profile. A missing profile is empty.
func (s *Service) Profile(ctx context.Context, sess *authz.Session) (records.UserProfile, error) {
	if err := requireSignedIn(sess); err != nil {
		return records.UserProfile{}, err
	}
	return s.profile(ctx, sess)
}

// UpdateProfile merges an edit into the caller's profile, creating it on
// first use.
func (s *Service) UpdateProfile(ctx context.Context, sess *authz.Session, in ProfileInput) (records.UserProfile, error) {
	if err := requireSignedIn(sess); err != nil {
		return records.UserProfile{}, err
	}
	if err := records.Validate(in); err != nil {
		return records.UserProfile{}, err
	}
	fields := in.fields()
	if len(fields) == 0 {
		return records.UserProfile{}, fmt.Errorf("%w: nothing to update", records.ErrInvalid)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	doc, err := s.as(sess).Write(ctx, records.UserProfileCollection, sess.UID(), fields, docstore.Merge)
	if err != nil {
		return records.UserProfile{}, err
	}
	return records.ProfileFrom(doc), nil
}
