// Package campus implements the write paths of the campus health app:
// SOS reports, mess ratings, hospital appointments, the doctor status
// board and nutrition logs. Every write goes through an access-checked
// view of the store for the calling session.
package campus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/campuspulse/pkg/alerts"
	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/metrics"
	"github.com/nicktill/campuspulse/pkg/records"
)

var (
	// ErrSignInRequired is returned to anonymous callers of signed-in
	// operations.
	ErrSignInRequired = fmt.Errorf("%w: sign-in required", docstore.ErrPermissionDenied)

	// ErrInvalidTransition is returned when an appointment is no longer
	// scheduled or the requested status is not reachable.
	ErrInvalidTransition = errors.New("invalid appointment status transition")

	// ErrNoUploader is returned for a write carrying a photo when no
	// uploader is configured.
	ErrNoUploader = errors.New("photo upload not configured")
)

// Uploader stores a photo and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, mimeType string, photo []byte) (string, error)
}

// Photo is an uploaded image.
type Photo struct {
	MimeType string
	Data     []byte
}

// Service is safe for concurrent use.
type Service struct {
	store   docstore.Store
	policy  docstore.Policy
	photos  Uploader
	alerts  alerts.Publisher
	loc     *time.Location
	newID   func() string
	timeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithUploader sets the photo uploader. Without one, writes carrying a
// photo fail.
func WithUploader(u Uploader) Option {
	return func(s *Service) { s.photos = u }
}

// WithAlerts sets the emergency publisher.
func WithAlerts(p alerts.Publisher) Option {
	return func(s *Service) { s.alerts = p }
}

// WithLocation sets the zone appointment dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithWriteTimeout bounds each store write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// New creates a service over the unchecked store. policy decides what
// each session may do.
func New(store docstore.Store, policy docstore.Policy, opts ...Option) *Service {
	s := &Service{
		store:  store,
		policy: policy,
		alerts: alerts.Nop{},
		loc:    time.UTC,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// as returns the store view for sess.
func (s *Service) as(sess *authz.Session) docstore.Store {
	if sess == nil {
		sess = authz.Anonymous()
	}
	return docstore.Guard(s.store, s.policy, sess.Subject)
}

func requireSignedIn(sess *authz.Session) error {
	if sess.UID() == "" {
		return ErrSignInRequired
	}
	return nil
}

// create stores a new document under a fresh id.
func (s *Service) create(ctx context.Context, sess *authz.Session, collection string, fields docstore.Fields) (docstore.Document, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	doc, err := s.as(sess).Write(ctx, collection, s.newID(), fields, docstore.Create)
	if err != nil {
		return docstore.Document{}, err
	}
	metrics.RecordsWritten.WithLabelValues(metricCollection(collection)).Inc()
	return doc, nil
}

// metricCollection folds per-user subcollections into one label value.
func metricCollection(collection string) string {
	if _, sub, ok := strings.Cut(strings.TrimPrefix(collection, records.UserProfileCollection+"/"), "/"); ok {
		return sub
	}
	return collection
}

func (s *Service) upload(ctx context.Context, p *Photo) (string, error) {
	if p == nil || len(p.Data) == 0 {
		return "", nil
	}
	if s.photos == nil {
		return "", ErrNoUploader
	}
	url, err := s.photos.Upload(ctx, p.MimeType, p.Data)
	if err != nil {
		return "", fmt.Errorf("photo upload failed: %w", err)
	}
	return url, nil
}

// publish fans a stored report out. A failed publish is logged; the
// report itself is already stored.
func (s *Service) publish(ctx context.Context, r records.EmergencyReport) {
	if err := s.alerts.Publish(ctx, r); err != nil {
		logging.Warn().Err(err).Str("report_id", r.ID).Msg("emergency report stored but not published")
	}
}
