package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/nicktill/campuspulse/pkg/config"
	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/server/monitor"
)

// NewSupervisor returns the root supervisor for background services.
// Supervisor events are logged through the structured logger.
func NewSupervisor(name string) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          config.ServerShutdownTimeout,
	})
}

func logEvent(ev suture.Event) {
	var e = logging.Warn()
	if ev.Type() == suture.EventTypeResume {
		e = logging.Info()
	}
	e.Fields(ev.Map()).Str("event", ev.String()).Msg("supervisor event")
}

// HTTPServer matches *http.Server's lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server under a supervisor.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps server. Shutdown waits up to shutdownTimeout for
// active requests.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = config.ServerShutdownTimeout
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// ctx is already cancelled, shut down on a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// HubService runs the live client hub.
type HubService struct{ Hub *Hub }

func (s HubService) Serve(ctx context.Context) error { return s.Hub.Serve(ctx) }
func (s HubService) String() string                  { return "live-hub" }

// GarbageCollector reclaims value log space.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// BadgerGCService runs BadgerDB garbage collection periodically. BadgerDB
// keeps overwritten document versions in its value log until collected.
type BadgerGCService struct {
	Store    GarbageCollector
	Interval time.Duration
}

func (s BadgerGCService) Serve(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = config.BadgerGCInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", interval).Msg("badger GC scheduler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			// One pass per tick so a large rewrite never blocks shutdown.
			if err := s.Store.RunGC(config.BadgerGCDiscardRatio); err != nil {
				logging.Debug().Err(err).Dur("took", time.Since(start)).Msg("badger GC found nothing to rewrite")
				continue
			}
			logging.Info().Dur("took", time.Since(start)).Msg("badger GC reclaimed disk space")
		}
	}
}

func (s BadgerGCService) String() string { return "badger-gc" }

// Pinger checks that a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeService pings a dependency on start and then every Interval,
// recording results in Monitor.
type ProbeService struct {
	Name     string
	Target   Pinger
	Monitor  *monitor.ProbeMonitor
	Interval time.Duration
}

func (s ProbeService) Serve(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = config.ModelProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.probe(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s ProbeService) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, config.ReadTimeout)
	defer cancel()

	err := s.Target.Ping(probeCtx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.Monitor.RecordFailure(err)
		status := s.Monitor.Status()
		e := logging.Warn()
		if status.ConsecutiveErrors > 3 {
			e = logging.Error()
		}
		e.Err(err).Str("target", s.Name).Int("consecutive_errors", status.ConsecutiveErrors).Msg("probe failed")
		return
	}
	s.Monitor.RecordSuccess()
}

func (s ProbeService) String() string { return s.Name + "-probe" }
