package main

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nicktill/campuspulse/pkg/authz"
)

type recorder struct {
	mu    sync.Mutex
	paths map[string]int
	auth  *authz.Authenticator
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if _, err := rec.auth.Verify(token); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := r.Method + " " + r.URL.Path
	if strings.HasPrefix(r.URL.Path, "/v1/appointments/") {
		key = r.Method + " /v1/appointments/" + r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	}
	rec.mu.Lock()
	rec.paths[key]++
	rec.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(`{"id":"appt-1"}`))
}

func (rec *recorder) count(key string) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.paths[key]
}

func TestStudent_Run(t *testing.T) {
	auth := authz.NewAuthenticator("seed-secret", "campuspulse", nil)
	rec := &recorder{paths: map[string]int{}, auth: auth}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	api, err := newAPIClient(srv.URL, auth, "seed-student-1")
	require.NoError(t, err)
	s := &student{
		uid:     "seed-student-1",
		name:    "Student 1",
		enroll:  "EN-0001",
		api:     api,
		rng:     rand.New(rand.NewSource(7)),
		limiter: rate.NewLimiter(rate.Inf, 1),
		loc:     time.UTC,
	}
	require.NoError(t, s.run(context.Background(), 60))

	ratings := rec.count("POST /v1/ratings")
	booked := rec.count("POST /v1/appointments")
	sos := rec.count("POST /v1/sos")
	assert.Equal(t, 60, ratings+booked+sos)
	assert.Positive(t, ratings)
	assert.Positive(t, booked)
	assert.Equal(t, booked, rec.count("POST /v1/appointments/feedback")+rec.count("PATCH /v1/appointments/status"))
}

func TestStudent_StopsOnCancel(t *testing.T) {
	auth := authz.NewAuthenticator("seed-secret", "", nil)
	api, err := newAPIClient("http://127.0.0.1:1", auth, "u")
	require.NoError(t, err)
	s := &student{
		uid:     "u",
		api:     api,
		rng:     rand.New(rand.NewSource(1)),
		limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
		loc:     time.UTC,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() { done <- s.run(ctx, -1) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("student did not stop")
	}
}

func TestAPIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"storage limit reached"}`, http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	api, err := newAPIClient(srv.URL, authz.NewAuthenticator("k", "", nil), "u")
	require.NoError(t, err)
	err = api.call(context.Background(), http.MethodPost, "/v1/ratings", map[string]int{"x": 1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "507")
	assert.Contains(t, err.Error(), "storage limit reached")
}
