package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"

	"github.com/nicktill/campuspulse/pkg/alerts"
	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/campus"
	"github.com/nicktill/campuspulse/pkg/charts"
	"github.com/nicktill/campuspulse/pkg/config"
	"github.com/nicktill/campuspulse/pkg/docstore/badger"
	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/server"
	"github.com/nicktill/campuspulse/pkg/server/monitor"
	"github.com/nicktill/campuspulse/pkg/upload"
)

// app holds everything main starts and later tears down.
type app struct {
	cfg       *config.Config
	store     *badger.Store
	publisher alerts.Publisher
	hub       *server.Hub
	handler   http.Handler
	model     server.Pinger
	modelMon  *monitor.ProbeMonitor
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := server.InitializeStorage(cfg.Server)
	if err != nil {
		return nil, err
	}

	policy, err := authz.NewPolicy()
	if err != nil {
		store.Close()
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		logging.Warn().Msg("auth.jwt_secret is empty, every request is anonymous")
	}
	auth := authz.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, authz.NewResolver(store, cfg.Auth.SessionTTL))

	a := &app{
		cfg:       cfg,
		store:     store,
		publisher: alerts.Nop{},
		hub:       server.NewHub(),
		modelMon:  monitor.NewProbeMonitor("model", 3*config.ModelProbeInterval),
	}

	opts := []campus.Option{campus.WithLocation(cfg.Location())}
	if len(cfg.Alerts.Brokers) > 0 {
		a.publisher = alerts.NewKafka(cfg.Alerts.Brokers, cfg.Alerts.Topic)
		logging.Info().Strs("brokers", cfg.Alerts.Brokers).Str("topic", cfg.Alerts.Topic).Msg("emergency alerts fan out to kafka")
	}
	opts = append(opts, campus.WithAlerts(a.publisher))

	uploader := upload.New(upload.Config{
		CloudName: cfg.Upload.CloudName,
		APIKey:    cfg.Upload.APIKey,
		APISecret: cfg.Upload.APISecret,
		Folder:    cfg.Upload.Folder,
		BaseURL:   cfg.Upload.BaseURL,
	})
	if uploader.Configured() {
		opts = append(opts, campus.WithUploader(uploader))
	} else {
		logging.Warn().Msg("photo uploads disabled, upload credentials missing")
	}

	deps := server.Deps{
		Store:    store,
		Policy:   policy,
		Auth:     auth,
		Campus:   campus.New(store, policy, opts...),
		Charts:   charts.NewRegistry(cfg.Location(), config.LiveAlertsLimit, config.RecentRatingsLimit),
		Hub:      a.hub,
		Storage:  monitor.NewStorageMonitor(cfg.Server.DataDir, cfg.MaxStorageBytes()),
		ModelMon: a.modelMon,
		Stats:    store.Stats,
		Port:     cfg.Server.Port,
	}
	if cfg.Server.InMemory {
		deps.Storage = nil
	}
	// A nil *genai.Client must not end up inside the interface.
	if model := server.NewModel(cfg.Model); model != nil {
		deps.Model = model
		a.model = model
	} else {
		a.modelMon.Disable()
		logging.Warn().Msg("model.api_key is empty, assistant and estimates are disabled")
	}

	a.handler = server.NewAPI(deps).Handler()
	return a, nil
}

// supervisor builds the service tree.
func (a *app) supervisor() *suture.Supervisor {
	sup := server.NewSupervisor("campuspulse")
	sup.Add(server.HubService{Hub: a.hub})
	if !a.cfg.Server.InMemory {
		sup.Add(server.BadgerGCService{Store: a.store, Interval: config.BadgerGCInterval})
	}
	if a.model != nil {
		sup.Add(server.ProbeService{Name: "model", Target: a.model, Monitor: a.modelMon})
	}
	sup.Add(server.NewHTTPService(&http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      a.handler,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}, config.ServerShutdownTimeout))
	return sup
}

func (a *app) Close() error {
	return errors.Join(a.publisher.Close(), a.store.Close())
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error().Err(err).Msg("shutdown left resources open")
		}
	}()

	logging.Info().
		Str("port", cfg.Server.Port).
		Str("time_zone", cfg.Campus.TimeZone).
		Int64("max_storage_gb", cfg.Server.MaxStorageGB).
		Msg("campuspulse server starting")

	err = a.supervisor().Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("campuspulse server stopped")
		return nil
	}
	return err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
