package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/campus"
	"github.com/nicktill/campuspulse/pkg/charts"
	"github.com/nicktill/campuspulse/pkg/config"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/docstore/badger"
	"github.com/nicktill/campuspulse/pkg/genai"
	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/server/monitor"
)

// Model is the generative model endpoint used by the assistant, nutrition
// and risk routes.
type Model interface {
	FirstAid(ctx context.Context, history []genai.ChatMessage) (string, error)
	Nutrition(ctx context.Context, mimeType string, photo []byte) (genai.NutritionEstimate, error)
	PredictRisks(ctx context.Context, input genai.RiskInput) (genai.RiskPrediction, error)
}

// StatsFunc reports document store statistics.
type StatsFunc func(ctx context.Context) (*badger.Stats, error)

// Deps are the collaborators of the HTTP API. Model, Stats and the
// monitors may be nil.
type Deps struct {
	Store    docstore.Store
	Policy   docstore.Policy
	Auth     *authz.Authenticator
	Campus   *campus.Service
	Charts   *charts.Registry
	Model    Model
	Hub      *Hub
	Storage  *monitor.StorageMonitor
	ModelMon *monitor.ProbeMonitor
	Stats    StatsFunc
	Port     string
}

// API serves the campuspulse HTTP and websocket routes.
type API struct {
	store    docstore.Store
	policy   docstore.Policy
	auth     *authz.Authenticator
	campus   *campus.Service
	charts   *charts.Registry
	model    Model
	hub      *Hub
	storage  *monitor.StorageMonitor
	modelMon *monitor.ProbeMonitor
	stats    StatsFunc
	port     string
	started  time.Time
}

// NewAPI wires the handlers.
func NewAPI(d Deps) *API {
	port := d.Port
	if port == "" {
		port = config.DefaultPort
	}
	hub := d.Hub
	if hub == nil {
		hub = NewHub()
	}
	return &API{
		store:    d.Store,
		policy:   d.Policy,
		auth:     d.Auth,
		campus:   d.Campus,
		charts:   d.Charts,
		model:    d.Model,
		hub:      hub,
		storage:  d.Storage,
		modelMon: d.ModelMon,
		stats:    d.Stats,
		port:     port,
		started:  time.Now(),
	}
}

// InitializeStorage opens the badger document store described by cfg.
func InitializeStorage(cfg config.ServerConfig) (*badger.Store, error) {
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		InMemory:    cfg.InMemory,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	logging.Info().
		Str("path", cfg.DataDir).
		Bool("in_memory", cfg.InMemory).
		Int64("max_memory_mb", cfg.MaxMemoryMB).
		Msg("document store opened")
	return store, nil
}

// NewModel returns the model client for cfg, or nil when no API key is
// configured.
func NewModel(cfg config.ModelConfig) *genai.Client {
	if cfg.APIKey == "" {
		return nil
	}
	return genai.NewClient(genai.Config{
		BaseURL:          cfg.BaseURL,
		APIKey:           cfg.APIKey,
		Model:            cfg.Name,
		Timeout:          cfg.Timeout,
		RequestsPerMin:   cfg.RequestsPerMin,
		BreakerFailures:  cfg.BreakerFailures,
		BreakerOpenDelay: cfg.BreakerOpenDelay,
	})
}
