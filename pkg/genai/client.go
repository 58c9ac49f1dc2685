// Package genai calls a hosted generative model through its
// generateContent REST API. Calls are paced by a rate limiter and guarded
// by a circuit breaker; every failure is reported as either ErrUnavailable
// or ErrMalformedOutput so callers can offer a retry either way.
package genai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/metrics"
)

var (
	// ErrUnavailable covers transport failures, error statuses, rate
	// limiting and an open breaker.
	ErrUnavailable = errors.New("model unavailable")

	// ErrMalformedOutput covers empty output, invalid JSON and schema
	// violations.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrInvalidInput is returned before any call is made.
	ErrInvalidInput = errors.New("invalid model input")
)

// maxResponseSize bounds the body read from the model endpoint.
const maxResponseSize = 4 << 20

// StatusError is a non-200 answer from the model endpoint. It matches
// ErrUnavailable.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: status %d", ErrUnavailable, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrUnavailable }

// healthy reports whether err says nothing about the endpoint's health:
// the caller gave up, or the endpoint rejected the request itself.
func healthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500 &&
			se.Code != http.StatusRequestTimeout && se.Code != http.StatusTooManyRequests
	}
	return false
}

// Config configures a Client.
type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	RequestsPerMin   int
	BreakerFailures  uint32
	BreakerOpenDelay time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a client. A zero RequestsPerMin disables pacing.
func NewClient(cfg Config) *Client {
	limit := rate.Inf
	if cfg.RequestsPerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMin))
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "model-endpoint",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenDelay,
		// Only endpoint failures count toward tripping.
		IsSuccessful: healthy,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.ModelBreakerState.Set(breakerValue(to))
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		cb:      cb,
	}
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState reports the breaker state for health checks.
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// Part is one piece of a message: text or inline binary data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64 encoded media.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Content is one message.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Request is a generateContent call. A non-nil Schema requests JSON
// output conforming to it.
type Request struct {
	Contents []Content
	Schema   map[string]any
}

type generationConfig struct {
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

// Generate runs req and returns the concatenated text of the first
// candidate. flow labels metrics and logs.
func (c *Client) Generate(ctx context.Context, flow string, req Request) (string, error) {
	start := time.Now()
	defer metrics.ObserveModelCall(flow, start)

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.ModelCallErrors.WithLabelValues(flow, "unavailable").Inc()
		return "", fmt.Errorf("%w: rate limited: %v", ErrUnavailable, err)
	}

	body := generateRequest{Contents: req.Contents}
	if req.Schema != nil {
		body.GenerationConfig = &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.Schema,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	raw, err := c.execute(ctx, func() ([]byte, error) {
		return c.post(ctx, payload)
	})
	if err != nil {
		metrics.ModelCallErrors.WithLabelValues(flow, "unavailable").Inc()
		logging.Warn().Err(err).Str("flow", flow).Msg("model call failed")
		if errors.Is(err, ErrUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	text, err := firstCandidateText(raw)
	if err != nil {
		metrics.ModelCallErrors.WithLabelValues(flow, "malformed").Inc()
		return "", err
	}
	return text, nil
}

// execute runs fn through the breaker. A failure after ctx ended is
// reported as the context's error so the breaker does not count it.
func (c *Client) execute(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	return c.cb.Execute(func() ([]byte, error) {
		raw, err := fn()
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
		return raw, err
	})
}

func (c *Client) endpoint(suffix string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	u := fmt.Sprintf("%s/models/%s%s", base, url.PathEscape(c.cfg.Model), suffix)
	if c.cfg.APIKey != "" {
		u += "?key=" + url.QueryEscape(c.cfg.APIKey)
	}
	return u
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(":generateContent"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return raw, nil
}

func firstCandidateText(raw []byte) (string, error) {
	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedOutput)
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}
	return text, nil
}

// Ping checks that the configured model is reachable. It bypasses the
// limiter but goes through the breaker.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.execute(ctx, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(""), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return c.do(req)
	})
	if err != nil && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
