package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/campus"
	"github.com/nicktill/campuspulse/pkg/charts"
	"github.com/nicktill/campuspulse/pkg/config"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/genai"
	"github.com/nicktill/campuspulse/pkg/httpx"
	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/metrics"
	"github.com/nicktill/campuspulse/pkg/records"
	"github.com/nicktill/campuspulse/pkg/series"
	"github.com/nicktill/campuspulse/pkg/server/monitor"
	"github.com/nicktill/campuspulse/pkg/upload"
)

var errModelNotConfigured = errors.New("model endpoint not configured")

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes   int64  `json:"used_bytes"`
	MaxBytes    int64  `json:"max_bytes"`
	Documents   uint64 `json:"documents,omitempty"`
	Collections uint64 `json:"collections,omitempty"`
	StoreBytes  uint64 `json:"store_bytes,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status       string              `json:"status"`
	Version      string              `json:"version"`
	Uptime       string              `json:"uptime"`
	LiveClients  int                 `json:"live_clients"`
	Storage      string              `json:"storage"`
	Model        monitor.ProbeStatus `json:"model"`
	ModelBreaker string              `json:"model_breaker,omitempty"`
}

// Handler builds the full router with recovery, CORS and sessions.
// CORS and sessions wrap the router so preflight requests never reach
// route matching.
func (a *API) Handler() http.Handler {
	router := mux.NewRouter()
	SetupRoutes(router, a)

	var h http.Handler = router
	if a.auth != nil {
		h = a.auth.Middleware(h)
	}
	h = corsMiddleware(a.port)(h)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, a *API) {
	router.Use(instrument)
	api := router.PathPrefix("/v1").Subrouter()

	// Writes are refused once storage is full.
	write := func(h http.HandlerFunc) http.Handler { return a.storageGuard(h) }
	api.Handle("/sos", write(a.handleSOS)).Methods("POST")
	api.Handle("/ratings", write(a.handleRating)).Methods("POST")
	api.Handle("/appointments", write(a.handleBookAppointment)).Methods("POST")
	api.Handle("/appointments/{id}/status", write(a.handleAppointmentStatus)).Methods("PATCH")
	api.Handle("/appointments/{id}/feedback", write(a.handleFeedback)).Methods("POST")
	api.Handle("/hospital/status", write(a.handleSetDoctorStatus)).Methods("PUT")
	api.Handle("/nutrition/logs", write(a.handleNutritionLog)).Methods("POST")
	api.Handle("/profile", write(a.handleUpdateProfile)).Methods("PUT")
	api.HandleFunc("/hospital/status", a.handleDoctorStatus).Methods("GET")
	api.HandleFunc("/nutrition/logs", a.handleNutritionDiary).Methods("GET")
	api.HandleFunc("/profile", a.handleProfile).Methods("GET")

	// Model flows
	api.HandleFunc("/nutrition/analyze", a.handleNutritionAnalyze).Methods("POST")
	api.HandleFunc("/assistant/chat", a.handleChat).Methods("POST")
	api.HandleFunc("/risk/predict", a.handlePredictRisks).Methods("POST")

	// Charts
	api.HandleFunc("/charts", a.handleChartList).Methods("GET")
	api.HandleFunc("/charts/{chart}", a.handleChart).Methods("GET")
	api.HandleFunc("/live/{chart}", a.handleLive).Methods("GET")

	// Operations
	api.HandleFunc("/storage", a.handleStorageUsage).Methods("GET")
	api.HandleFunc("/health", a.handleHealth).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := []string{
		"http://localhost:" + port,
		"http://127.0.0.1:" + port,
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// instrument records request latency by route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// storageGuard rejects writes once the data directory is full.
func (a *API) storageGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.storage != nil {
			if err := a.storage.Check(); err != nil {
				logging.Warn().Err(err).Str("path", r.URL.Path).Msg("write rejected")
				httpx.RespondError(w, http.StatusInsufficientStorage, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...any) {
	logging.Error().Interface("panic", v).Msg("recovered from handler panic")
}

// respondErr maps domain errors to status codes.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, campus.ErrSignInRequired), errors.Is(err, authz.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, docstore.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, docstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, records.ErrInvalid),
		errors.Is(err, genai.ErrInvalidInput),
		errors.Is(err, docstore.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, campus.ErrInvalidTransition), errors.Is(err, docstore.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, genai.ErrMalformedOutput), errors.Is(err, upload.ErrUploadFailed):
		status = http.StatusBadGateway
	case errors.Is(err, genai.ErrUnavailable),
		errors.Is(err, upload.ErrNotConfigured),
		errors.Is(err, campus.ErrNoUploader),
		errors.Is(err, docstore.ErrUnavailable),
		errors.Is(err, errModelNotConfigured):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	httpx.RespondError(w, status, err)
}

// gateErr is the error for a session that does not pass gate.
func gateErr(sess *authz.Session, gate authz.Gate) error {
	if sess.Access(gate) == authz.AccessGranted {
		return nil
	}
	if sess.UID() == "" {
		return campus.ErrSignInRequired
	}
	return docstore.ErrPermissionDenied
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httpx.DecodeJSON(w, r, config.MaxRequestBodySize, v); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// photoFromDataURI decodes an optional photo.
func photoFromDataURI(uri string) (*campus.Photo, error) {
	if uri == "" {
		return nil, nil
	}
	mimeType, data, err := genai.ParseDataURI(uri)
	if err != nil {
		return nil, err
	}
	if len(data) > config.MaxPhotoSize {
		return nil, errPhotoTooLarge
	}
	return &campus.Photo{MimeType: mimeType, Data: data}, nil
}

var errPhotoTooLarge = errors.New("photo too large")

func (a *API) handleSOS(w http.ResponseWriter, r *http.Request) {
	var in campus.EmergencyInput
	if !decode(w, r, &in) {
		return
	}
	report, err := a.campus.ReportEmergency(r.Context(), session(r), in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, report)
}

type ratingRequest struct {
	campus.RatingInput
	PhotoDataURI string `json:"photoDataUri,omitempty"`
}

// handleRating accepts a JSON rating with an optional data URI photo, or a
// multipart form with an optional "photo" file part.
func (a *API) handleRating(w http.ResponseWriter, r *http.Request) {
	var in campus.RatingInput

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var err error
		in, err = ratingFromForm(w, r)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
	} else {
		var req ratingRequest
		if !decode(w, r, &req) {
			return
		}
		photo, err := photoFromDataURI(req.PhotoDataURI)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		in = req.RatingInput
		in.Photo = photo
	}

	res, err := a.campus.SubmitRating(r.Context(), session(r), in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, res)
}

func ratingFromForm(w http.ResponseWriter, r *http.Request) (campus.RatingInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxPhotoSize+config.MaxRequestBodySize)
	if err := r.ParseMultipartForm(config.MaxRequestBodySize); err != nil {
		return campus.RatingInput{}, err
	}

	in := campus.RatingInput{
		MessName: formValue(r, "messName"),
		MealType: formValue(r, "mealType"),
	}
	if v := formValue(r, "foodQualityRating"); v != "" {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return campus.RatingInput{}, errors.New("foodQualityRating must be a number")
		}
		in.Quality = q
	}
	if v := formValue(r, "sickAfterMeal"); v != "" {
		sick, err := strconv.ParseBool(v)
		if err != nil {
			return campus.RatingInput{}, errors.New("sickAfterMeal must be a boolean")
		}
		in.Sick = sick
	}

	file, header, err := r.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return campus.RatingInput{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, config.MaxPhotoSize+1))
	if err != nil {
		return campus.RatingInput{}, err
	}
	if len(data) > config.MaxPhotoSize {
		return campus.RatingInput{}, errPhotoTooLarge
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	in.Photo = &campus.Photo{MimeType: mimeType, Data: data}
	return in, nil
}

func (a *API) handleBookAppointment(w http.ResponseWriter, r *http.Request) {
	var in campus.AppointmentInput
	if !decode(w, r, &in) {
		return
	}
	appt, err := a.campus.BookAppointment(r.Context(), session(r), in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, appt)
}

func (a *API) handleAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	appt, err := a.campus.UpdateAppointmentStatus(r.Context(), session(r), mux.Vars(r)["id"], req.Status)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, appt)
}

func (a *API) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var in campus.FeedbackInput
	if !decode(w, r, &in) {
		return
	}
	appt, err := a.campus.SubmitFeedback(r.Context(), session(r), mux.Vars(r)["id"], in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, appt)
}

func (a *API) handleDoctorStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.campus.DoctorStatus(r.Context(), session(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, st)
}

// handleSetDoctorStatus stores the status and pushes it to live clients.
func (a *API) handleSetDoctorStatus(w http.ResponseWriter, r *http.Request) {
	var in records.DoctorStatus
	if !decode(w, r, &in) {
		return
	}
	st, err := a.campus.SetDoctorStatus(r.Context(), session(r), in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := a.hub.Broadcast(map[string]any{"type": "doctorStatus", "status": st}); err != nil {
		logging.Warn().Err(err).Msg("failed to broadcast doctor status")
	}
	httpx.RespondJSON(w, http.StatusOK, st)
}

func (a *API) handleNutritionAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := gateErr(session(r), authz.GateSignedIn); err != nil {
		respondErr(w, r, err)
		return
	}
	var req struct {
		PhotoDataURI string `json:"photoDataUri"`
	}
	if err := httpx.DecodeJSON(w, r, config.MaxPhotoSize*2, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if a.model == nil {
		respondErr(w, r, errModelNotConfigured)
		return
	}
	mimeType, data, err := genai.ParseDataURI(req.PhotoDataURI)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	est, err := a.model.Nutrition(r.Context(), mimeType, data)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, est)
}

type nutritionLogRequest struct {
	genai.NutritionEstimate
	PhotoDataURI string `json:"photoDataUri,omitempty"`
}

func (a *API) handleNutritionLog(w http.ResponseWriter, r *http.Request) {
	var req nutritionLogRequest
	if err := httpx.DecodeJSON(w, r, config.MaxPhotoSize*2, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	photo, err := photoFromDataURI(req.PhotoDataURI)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := a.campus.LogNutrition(r.Context(), session(r), req.NutritionEstimate, photo)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, entry)
}

// handleNutritionDiary lists the caller's logs, newest first. limit
// defaults to config.NutritionDiarySize.
func (a *API) handleNutritionDiary(w http.ResponseWriter, r *http.Request) {
	limit := config.NutritionDiarySize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), config.ReadTimeout)
	defer cancel()
	logs, err := a.campus.NutritionDiary(ctx, session(r), limit)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := a.campus.Profile(r.Context(), session(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, p)
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in campus.ProfileInput
	if !decode(w, r, &in) {
		return
	}
	p, err := a.campus.UpdateProfile(r.Context(), session(r), in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, p)
}

func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		History []genai.ChatMessage `json:"history"`
	}
	if !decode(w, r, &req) {
		return
	}
	if a.model == nil {
		respondErr(w, r, errModelNotConfigured)
		return
	}
	answer, err := a.model.FirstAid(r.Context(), req.History)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"reply": answer})
}

// handlePredictRisks reads campus data as the caller and asks the model
// for health risks. Admin only.
func (a *API) handlePredictRisks(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if err := gateErr(sess, authz.GateAdmin); err != nil {
		respondErr(w, r, err)
		return
	}
	if a.model == nil {
		respondErr(w, r, errModelNotConfigured)
		return
	}

	readCtx, cancel := context.WithTimeout(r.Context(), config.ReadTimeout)
	defer cancel()
	input, err := charts.LoadRiskInput(readCtx, docstore.Guard(a.store, a.policy, sess.Subject))
	if err != nil {
		respondErr(w, r, err)
		return
	}

	prediction, err := a.model.PredictRisks(r.Context(), input)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, prediction)
}

func (a *API) handleChartList(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string][]string{"charts": a.charts.Names()})
}

// chartResponse is a one-shot chart read.
type chartResponse struct {
	Chart    string `json:"chart"`
	Category string `json:"category,omitempty"`
	Date     string `json:"date,omitempty"`
	Payload  any    `json:"payload"`
}

// handleChart builds a chart once from a fresh read. format=json or
// format=csv download a series chart as an export file.
func (a *API) handleChart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["chart"]
	chart, ok := a.charts.Get(name)
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotFound, "unknown chart "+name)
		return
	}
	q := r.URL.Query()
	f, err := filterFromQuery(q)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	format := q.Get("format")
	if format != "" && format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "format must be json or csv")
		return
	}

	sess := session(r)
	if err := gateErr(sess, chart.Gate()); err != nil {
		respondErr(w, r, err)
		return
	}
	f.Viewer = sess.UID()

	ctx, cancel := context.WithTimeout(r.Context(), config.ReadTimeout)
	defer cancel()
	docs, err := docstore.Guard(a.store, a.policy, sess.Subject).List(ctx, chart.Query(f))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	payload := chart.Build(f, docs)

	if format == "" {
		resp := chartResponse{Chart: name, Category: f.Category, Payload: payload}
		if !f.Date.IsZero() {
			resp.Date = f.Date.String()
		}
		httpx.RespondJSON(w, http.StatusOK, resp)
		return
	}

	s, ok := payload.(series.Series)
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, "only series charts can be exported")
		return
	}
	filename := name + "-" + time.Now().Format("2006-01-02") + "." + format
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	var res *series.ExportResult
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		res, err = s.WriteCSV(w)
	} else {
		w.Header().Set("Content-Type", "application/json")
		res, err = s.WriteJSON(w, name)
	}
	if err != nil {
		logging.Error().Err(err).Str("chart", name).Msg("chart export failed")
		return
	}
	logging.Debug().Str("chart", name).Str("format", res.Format).Int("rows", res.Rows).Msg("chart exported")
}

// handleStorageUsage returns current storage usage.
func (a *API) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	var usage StorageUsage
	if a.storage != nil {
		used, err := a.storage.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		usage.UsedBytes = used
		usage.MaxBytes = a.storage.GetLimit()
	}
	if a.stats != nil {
		st, err := a.stats(r.Context())
		if err != nil {
			respondErr(w, r, err)
			return
		}
		usage.Documents = st.Documents
		usage.Collections = st.Collections
		usage.StoreBytes = st.SizeBytes
	}
	httpx.RespondJSON(w, http.StatusOK, usage)
}

// handleHealth returns service health status. A full data directory or an
// unreachable model endpoint reports degraded.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "healthy",
		Version:     "1.0.0",
		Uptime:      time.Since(a.started).Round(time.Second).String(),
		LiveClients: a.hub.Count(),
		Storage:     "ok",
	}
	statusCode := http.StatusOK

	if a.storage != nil {
		if err := a.storage.Check(); err != nil {
			resp.Storage = err.Error()
			resp.Status = "degraded"
		}
	}
	if a.modelMon != nil {
		resp.Model = a.modelMon.Status()
		if !resp.Model.Healthy {
			resp.Status = "degraded"
		}
	}
	if b, ok := a.model.(interface{ BreakerState() string }); ok {
		resp.ModelBreaker = b.BreakerState()
	}

	if resp.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	httpx.RespondJSON(w, statusCode, resp)
}

// formValue is a trimmed form value.
func formValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.FormValue(key))
}
