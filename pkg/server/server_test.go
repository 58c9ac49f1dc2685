package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/campus"
	"github.com/nicktill/campuspulse/pkg/charts"
	"github.com/nicktill/campuspulse/pkg/config"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/docstore/badger"
	"github.com/nicktill/campuspulse/pkg/docstore/memory"
	"github.com/nicktill/campuspulse/pkg/genai"
	"github.com/nicktill/campuspulse/pkg/records"
	"github.com/nicktill/campuspulse/pkg/server/monitor"
)

var ist = time.FixedZone("IST", 5*3600+1800)

type fakeUploader struct {
	mu    sync.Mutex
	calls int
}

func (u *fakeUploader) Upload(ctx context.Context, mimeType string, photo []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	return "https://img.example/photo.jpg", nil
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

type fakeModel struct {
	mu    sync.Mutex
	err   error
	input genai.RiskInput
	mime  string
}

func (m *fakeModel) FirstAid(ctx context.Context, history []genai.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return "Apply pressure to the wound.", nil
}

func (m *fakeModel) Nutrition(ctx context.Context, mimeType string, photo []byte) (genai.NutritionEstimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mime = mimeType
	if m.err != nil {
		return genai.NutritionEstimate{}, m.err
	}
	return genai.NutritionEstimate{Calories: 450, ProteinGrams: 12, CarbsGrams: 60, FatGrams: 15}, nil
}

func (m *fakeModel) PredictRisks(ctx context.Context, input genai.RiskInput) (genai.RiskPrediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.input = input
	if m.err != nil {
		return genai.RiskPrediction{}, m.err
	}
	return genai.RiskPrediction{HealthRisks: []genai.HealthRisk{{
		RiskType:  "Foodborne illness",
		RiskLevel: "medium",
	}}}, nil
}

func (m *fakeModel) BreakerState() string { return "closed" }

func (m *fakeModel) last() (string, genai.RiskInput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mime, m.input
}

func (m *fakeModel) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

type fixture struct {
	t      *testing.T
	store  *memory.Store
	auth   *authz.Authenticator
	model  *fakeModel
	photos *fakeUploader
	hub    *Hub
	srv    *httptest.Server
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	_, err := store.Write(ctx, records.AdminRolesCollection, "admin1", docstore.Fields{}, docstore.Create)
	require.NoError(t, err)

	policy, err := authz.NewPolicy()
	require.NoError(t, err)

	f := &fixture{
		t:      t,
		store:  store,
		auth:   authz.NewAuthenticator("test-secret", "campuspulse", authz.NewResolver(store, time.Minute)),
		model:  &fakeModel{},
		photos: &fakeUploader{},
		hub:    NewHub(),
	}

	probe := monitor.NewProbeMonitor("model", time.Minute)
	probe.RecordSuccess()

	d := Deps{
		Store:    store,
		Policy:   policy,
		Auth:     f.auth,
		Campus:   campus.New(store, policy, campus.WithUploader(f.photos), campus.WithLocation(ist)),
		Charts:   charts.NewRegistry(ist, config.LiveAlertsLimit, config.RecentRatingsLimit),
		Model:    f.model,
		Hub:      f.hub,
		ModelMon: probe,
	}
	for _, o := range opts {
		o(&d)
	}

	hubCtx, cancel := context.WithCancel(ctx)
	go f.hub.Serve(hubCtx)
	f.srv = httptest.NewServer(NewAPI(d).Handler())
	t.Cleanup(func() {
		cancel()
		f.srv.Close()
	})
	return f
}

func (f *fixture) token(uid string) string {
	f.t.Helper()
	tok, err := f.auth.Issue(uid, time.Hour)
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) request(method, path, uid, contentType string, body io.Reader) *http.Response {
	f.t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	require.NoError(f.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(uid))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) do(method, path, uid string, body any) *http.Response {
	f.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		r = bytes.NewReader(b)
	}
	return f.request(method, path, uid, "application/json", r)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) count(collection string) int {
	f.t.Helper()
	docs, err := f.store.List(context.Background(), docstore.Query{Collection: collection})
	require.NoError(f.t, err)
	return len(docs)
}

func (f *fixture) seedRating(id, mess, meal string, quality float64, ts time.Time) {
	f.t.Helper()
	_, err := f.store.Write(context.Background(), records.RatingsCollection, id, docstore.Fields{
		"studentId":           "s1",
		"messName":            mess,
		"mealType":            meal,
		"foodQualityRating":   quality,
		"sickAfterMealReport": "no",
		"timestamp":           ts,
	}, docstore.Create)
	require.NoError(f.t, err)
}

func sosBody() map[string]any {
	return map[string]any{
		"studentName":      "Asha",
		"enrollmentNumber": "EN-17",
		"year":             2,
		"location":         "Library",
		"emergencyType":    "Medical",
	}
}

func TestSOS(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodPost, "/v1/sos", "", sosBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(http.MethodPost, "/v1/sos", "s1", sosBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	report := decodeBody[records.EmergencyReport](t, resp)
	assert.Equal(t, "s1", report.StudentID)
	assert.Equal(t, "Medical", report.EmergencyType)
	assert.Equal(t, 1, f.count(records.EmergencyCollection))

	body := sosBody()
	body["emergencyType"] = "Alien invasion"
	resp = f.do(http.MethodPost, "/v1/sos", "s1", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body = sosBody()
	body["unexpected"] = true
	resp = f.do(http.MethodPost, "/v1/sos", "s1", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown fields are rejected")
}

func TestSOS_BadToken(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/sos", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRating_JSON(t *testing.T) {
	f := newFixture(t)
	photo := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))

	resp := f.do(http.MethodPost, "/v1/ratings", "s1", map[string]any{
		"messName":          "Southern mess",
		"mealType":          "Lunch",
		"foodQualityRating": 4,
		"sickAfterMeal":     true,
		"photoDataUri":      photo,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	res := decodeBody[campus.RatingResult](t, resp)
	assert.Equal(t, "https://img.example/photo.jpg", res.Rating.ImageURL)
	require.NotNil(t, res.Report, "a sick rating files a medical report")
	assert.Equal(t, "Southern mess (Lunch)", res.Report.Location)
	assert.Equal(t, 1, f.count(records.RatingsCollection))
	assert.Equal(t, 1, f.count(records.EmergencyCollection))
}

func TestRating_Multipart(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("messName", "Veg mess"))
	require.NoError(t, mw.WriteField("mealType", "Dinner"))
	require.NoError(t, mw.WriteField("foodQualityRating", "5"))
	part, err := mw.CreateFormFile("photo", "plate.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\nrest-of-image"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := f.request(http.MethodPost, "/v1/ratings", "s1", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decodeBody[campus.RatingResult](t, resp)
	assert.Equal(t, "Veg mess", res.Rating.MessName)
	assert.Equal(t, 5.0, res.Rating.Quality)
	assert.Nil(t, res.Report)
	assert.Equal(t, 1, f.photos.count())
}

func TestRating_MultipartBadNumber(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("messName", "Veg mess"))
	require.NoError(t, mw.WriteField("mealType", "Dinner"))
	require.NoError(t, mw.WriteField("foodQualityRating", "great"))
	require.NoError(t, mw.Close())

	resp := f.request(http.MethodPost, "/v1/ratings", "s1", mw.FormDataContentType(), &buf)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, f.count(records.RatingsCollection))
}

func TestAppointments(t *testing.T) {
	f := newFixture(t)
	book := map[string]any{
		"studentName":      "Asha",
		"enrollmentNumber": "EN-17",
		"appointmentDate":  "2025-03-10",
		"appointmentTime":  "10:30",
		"reason":           "Fever",
	}

	resp := f.do(http.MethodPost, "/v1/appointments", "s1", book)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decodeBody[records.Appointment](t, resp)
	assert.Equal(t, records.StatusScheduled, first.Status)
	assert.True(t, first.AppointmentDate.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, ist)))

	resp = f.do(http.MethodPatch, "/v1/appointments/"+first.ID+"/status", "s1", map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "students complete visits through feedback")

	resp = f.do(http.MethodPatch, "/v1/appointments/"+first.ID+"/status", "s2", map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(http.MethodPatch, "/v1/appointments/"+first.ID+"/status", "s1", map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, records.StatusCancelled, decodeBody[records.Appointment](t, resp).Status)

	feedback := map[string]any{"waitingTime": 20, "doctorAvailability": "available", "postVisitFeedback": "Quick"}
	resp = f.do(http.MethodPost, "/v1/appointments/"+first.ID+"/feedback", "s1", feedback)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "cancelled visits take no feedback")

	resp = f.do(http.MethodPost, "/v1/appointments", "s1", book)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := decodeBody[records.Appointment](t, resp)

	resp = f.do(http.MethodPost, "/v1/appointments/"+second.ID+"/feedback", "s1", feedback)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decodeBody[records.Appointment](t, resp)
	assert.Equal(t, records.StatusCompleted, done.Status)
	require.NotNil(t, done.WaitingTime)
	assert.Equal(t, 20.0, *done.WaitingTime)
	assert.Equal(t, 1, f.count(records.FeedbackCollection))

	resp = f.do(http.MethodPost, "/v1/appointments/missing/feedback", "s1", feedback)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDoctorStatus(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodGet, "/v1/hospital/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, records.DefaultDoctorStatus(), decodeBody[records.DoctorStatus](t, resp))

	next := records.DoctorStatus{Name: "Dr. R. Mehta", Specialty: "Pediatrics", IsAvailable: false, EmergencyStatus: "High Alert"}
	resp = f.do(http.MethodPut, "/v1/hospital/status", "s1", next)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(http.MethodPut, "/v1/hospital/status", "admin1", next)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(http.MethodGet, "/v1/hospital/status", "s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, next, decodeBody[records.DoctorStatus](t, resp))
}

func TestNutrition(t *testing.T) {
	f := newFixture(t)
	photo := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	resp := f.do(http.MethodPost, "/v1/nutrition/analyze", "", map[string]string{"photoDataUri": photo})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(http.MethodPost, "/v1/nutrition/analyze", "s1", map[string]string{"photoDataUri": "not a uri"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(http.MethodPost, "/v1/nutrition/analyze", "s1", map[string]string{"photoDataUri": photo})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	est := decodeBody[genai.NutritionEstimate](t, resp)
	assert.Equal(t, 450.0, est.Calories)
	mimeType, _ := f.model.last()
	assert.Equal(t, "image/png", mimeType)

	resp = f.do(http.MethodPost, "/v1/nutrition/logs", "s1", map[string]any{
		"calories": est.Calories, "proteinGrams": est.ProteinGrams,
		"carbsGrams": est.CarbsGrams, "fatGrams": est.FatGrams,
		"photoDataUri": photo,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	entry := decodeBody[records.NutritionLog](t, resp)
	assert.Equal(t, "s1", entry.UserID)
	assert.Equal(t, "https://img.example/photo.jpg", entry.PhotoURL)
	assert.Equal(t, 1, f.count(records.NutritionLogsCollection("s1")))
}

func TestAssistantChat(t *testing.T) {
	f := newFixture(t)
	history := map[string]any{"history": []genai.ChatMessage{{Role: "user", Content: "I cut my hand"}}}

	resp := f.do(http.MethodPost, "/v1/assistant/chat", "", history)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Apply pressure to the wound.", decodeBody[map[string]string](t, resp)["reply"])

	f.model.fail(genai.ErrUnavailable)
	resp = f.do(http.MethodPost, "/v1/assistant/chat", "", history)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.model.fail(genai.ErrMalformedOutput)
	resp = f.do(http.MethodPost, "/v1/assistant/chat", "", history)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestModelNotConfigured(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Model = nil })
	resp := f.do(http.MethodPost, "/v1/assistant/chat", "", map[string]any{"history": []genai.ChatMessage{}})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPredictRisks(t *testing.T) {
	f := newFixture(t)
	f.seedRating("r1", "Southern mess", "Lunch", 2, time.Date(2025, 3, 10, 13, 0, 0, 0, ist))

	resp := f.do(http.MethodPost, "/v1/risk/predict", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(http.MethodPost, "/v1/risk/predict", "s1", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(http.MethodPost, "/v1/risk/predict", "admin1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pred := decodeBody[genai.RiskPrediction](t, resp)
	require.Len(t, pred.HealthRisks, 1)
	assert.Equal(t, "medium", pred.HealthRisks[0].RiskLevel)
	_, input := f.model.last()
	require.Len(t, input.MessFoodRatings, 1)
	assert.Equal(t, "r1", input.MessFoodRatings[0].RatingID)
}

func TestCharts_List(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodGet, "/v1/charts", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decodeBody[map[string][]string](t, resp)["charts"], charts.MealTrendsName)
}

func TestCharts_OneShot(t *testing.T) {
	f := newFixture(t)
	f.seedRating("r1", "Southern mess", "Breakfast", 4, time.Date(2025, 3, 10, 8, 0, 0, 0, ist))
	f.seedRating("r2", "Southern mess", "Lunch", 2, time.Date(2025, 3, 10, 13, 0, 0, 0, ist))
	f.seedRating("r3", "Veg mess", "Lunch", 5, time.Date(2025, 3, 10, 13, 0, 0, 0, ist))

	resp := f.do(http.MethodGet, "/v1/charts/meal-trends", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(http.MethodGet, "/v1/charts/mess-hygiene", "s1", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(http.MethodGet, "/v1/charts/nope", "s1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(http.MethodGet, "/v1/charts/meal-trends?date=10-03-2025", "s1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(http.MethodGet, "/v1/charts/meal-trends?category=Southern+mess", "s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Chart    string `json:"chart"`
		Category string `json:"category"`
		Payload  struct {
			Categories []string         `json:"categories"`
			Rows       []map[string]any `json:"rows"`
		} `json:"payload"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, charts.MealTrendsName, got.Chart)
	assert.Equal(t, "Southern mess", got.Category)
	assert.Equal(t, []string{"Breakfast", "Lunch"}, got.Payload.Categories)
	require.Len(t, got.Payload.Rows, 1)
	assert.Equal(t, "2025-03-10", got.Payload.Rows[0]["day"])
	assert.Equal(t, 2.0, got.Payload.Rows[0]["Lunch"])

	resp = f.do(http.MethodGet, "/v1/charts/mess-hygiene?format=csv", "admin1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "mess-hygiene-")
	csv, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "day,Southern mess,Veg mess\n2025-03-10,3,5\n", string(csv))

	resp = f.do(http.MethodGet, "/v1/charts/live-alerts?format=csv", "admin1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "list charts have no csv form")

	resp = f.do(http.MethodGet, "/v1/charts/mess-hygiene?format=xml", "admin1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRating_FractionalQualityRejected(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/v1/ratings", "s1", map[string]any{
		"messName": "Veg mess", "mealType": "Lunch", "foodQualityRating": 3.7,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, f.count(records.RatingsCollection))
}

func TestProfileRoutes(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodGet, "/v1/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(http.MethodPut, "/v1/profile", "s1", map[string]any{"hostel": "Ganga", "year": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ganga", decodeBody[records.UserProfile](t, resp).Hostel)

	resp = f.do(http.MethodPut, "/v1/profile", "s1", map[string]any{"year": 12})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(http.MethodGet, "/v1/profile", "s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeBody[records.UserProfile](t, resp)
	assert.Equal(t, "s1", p.UID)
	assert.Equal(t, 3, p.Year)

	resp = f.do(http.MethodGet, "/v1/profile", "s2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[records.UserProfile](t, resp).Hostel)
}

func TestNutritionDiaryRoute(t *testing.T) {
	f := newFixture(t)
	for _, kcal := range []int{300, 500} {
		resp := f.do(http.MethodPost, "/v1/nutrition/logs", "s1", map[string]any{"calories": kcal})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := f.do(http.MethodGet, "/v1/nutrition/logs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(http.MethodGet, "/v1/nutrition/logs?limit=0", "s1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(http.MethodGet, "/v1/nutrition/logs", "s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decodeBody[map[string][]records.NutritionLog](t, resp)["logs"]
	require.Len(t, all, 2)
	assert.False(t, all[1].Timestamp.After(all[0].Timestamp))

	resp = f.do(http.MethodGet, "/v1/nutrition/logs?limit=1", "s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[map[string][]records.NutritionLog](t, resp)["logs"], 1)

	resp = f.do(http.MethodGet, "/v1/nutrition/logs", "s2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[map[string][]records.NutritionLog](t, resp)["logs"])
}

func TestCharts_MyAppointments(t *testing.T) {
	f := newFixture(t)
	for _, uid := range []string{"s1", "s1", "s2"} {
		resp := f.do(http.MethodPost, "/v1/appointments", uid, map[string]any{
			"studentName": uid, "enrollmentNumber": "EN-1", "appointmentDate": "2025-03-10",
			"appointmentTime": "10:30", "reason": "Checkup",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := f.do(http.MethodGet, "/v1/charts/my-appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for uid, want := range map[string]int{"s1": 2, "s2": 1, "admin1": 0} {
		resp = f.do(http.MethodGet, "/v1/charts/my-appointments", uid, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, uid)
		var got struct {
			Payload []records.Appointment `json:"payload"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		require.Len(t, got.Payload, want, uid)
		for _, a := range got.Payload {
			assert.Equal(t, uid, a.StudentID)
		}
	}

	// The viewer comes from the session, so a live client sees its own list.
	conn := f.dial("/v1/live/my-appointments", "s2")
	v := next(t, conn, ready)
	var list []records.Appointment
	require.NoError(t, json.Unmarshal(v.Payload, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "s2", list[0].StudentID)
}

func TestCharts_RecentRatings(t *testing.T) {
	f := newFixture(t)
	f.seedRating("r1", "Southern mess", "Breakfast", 4, time.Date(2025, 3, 10, 8, 0, 0, 0, ist))
	f.seedRating("r2", "Veg mess", "Lunch", 2, time.Date(2025, 3, 10, 13, 0, 0, 0, ist))
	f.seedRating("r3", "Southern mess", "Dinner", 5, time.Date(2025, 3, 10, 20, 0, 0, 0, ist))

	resp := f.do(http.MethodGet, "/v1/charts/recent-ratings?category=Southern+mess", "s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Payload []records.Rating `json:"payload"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Payload, 2)
	assert.Equal(t, "r3", got.Payload[0].ID)
	assert.Equal(t, "r1", got.Payload[1].ID)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decodeBody[HealthResponse](t, resp)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "closed", h.ModelBreaker)
	assert.True(t, h.Model.Healthy)
}

func TestHealth_ModelDown(t *testing.T) {
	probe := monitor.NewProbeMonitor("model", time.Minute)
	f := newFixture(t, func(d *Deps) { d.ModelMon = probe })

	resp := f.do(http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", decodeBody[HealthResponse](t, resp).Status)
}

func TestStorageLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001.vlog"), []byte("value log"), 0o644))
	f := newFixture(t, func(d *Deps) {
		d.Storage = monitor.NewStorageMonitor(dir, 1)
		d.Stats = func(context.Context) (*badger.Stats, error) {
			return &badger.Stats{Documents: 3, Collections: 1, SizeBytes: 2048}, nil
		}
	})

	resp := f.do(http.MethodPost, "/v1/sos", "s1", sosBody())
	assert.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)
	assert.Equal(t, 0, f.count(records.EmergencyCollection))

	resp = f.do(http.MethodGet, "/v1/hospital/status", "s1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads are not limited")

	resp = f.do(http.MethodGet, "/v1/storage", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	usage := decodeBody[StorageUsage](t, resp)
	assert.Equal(t, int64(1), usage.MaxBytes)
	assert.Positive(t, usage.UsedBytes)
	assert.Equal(t, uint64(3), usage.Documents)

	resp = f.do(http.MethodGet, "/v1/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/v1/appointments/a1/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PATCH")

	req, err = http.NewRequest(http.MethodOptions, f.srv.URL+"/v1/sos", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/v1/charts", "", nil)

	resp := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `campuspulse_http_request_duration_seconds_count{method="GET",route="/v1/charts"}`)
}
