// Command seed drives a running campuspulse server with simulated student
// activity so the dashboards have live data to show.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/config"
	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/records"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	var (
		target   = flag.String("target", "http://localhost:"+cfg.Server.Port, "campuspulse base URL")
		students = flag.Int("students", 5, "number of simulated students")
		actions  = flag.Int("actions", 20, "actions per student, -1 to run until interrupted")
		every    = flag.Duration("every", 2*time.Second, "pause between one student's actions")
		admin    = flag.String("admin", "warden", "admin uid used to publish the doctor status")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	if cfg.Auth.JWTSecret == "" {
		logging.Fatal().Msg("auth.jwt_secret must match the server's to issue tokens")
	}
	auth := authz.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := publishDoctorStatus(ctx, *target, auth, *admin); err != nil {
		// The admin uid may not be registered; students still work.
		logging.Warn().Err(err).Str("admin", *admin).Msg("doctor status not published")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 1; i <= *students; i++ {
		uid := fmt.Sprintf("seed-student-%d", i)
		api, err := newAPIClient(*target, auth, uid)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to issue token")
		}
		s := &student{
			uid:     uid,
			name:    fmt.Sprintf("Student %d", i),
			enroll:  fmt.Sprintf("EN-%04d", i),
			api:     api,
			rng:     rand.New(rand.NewSource(*seed + int64(i))),
			limiter: rate.NewLimiter(rate.Every(*every), 1),
			loc:     cfg.Location(),
		}
		g.Go(func() error { return s.run(ctx, *actions) })
	}

	logging.Info().Str("target", *target).Int("students", *students).Int("actions", *actions).Msg("seeding started")
	if err := g.Wait(); err != nil {
		logging.Fatal().Err(err).Msg("seeding failed")
	}
	logging.Info().Msg("seeding finished")
}

func publishDoctorStatus(ctx context.Context, target string, auth *authz.Authenticator, uid string) error {
	api, err := newAPIClient(target, auth, uid)
	if err != nil {
		return err
	}
	st := records.DefaultDoctorStatus()
	st.IsAvailable = true
	st.EmergencyStatus = "Normal Operations"
	return api.call(ctx, http.MethodPut, "/v1/hospital/status", st, nil)
}
