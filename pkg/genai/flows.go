package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/nicktill/campuspulse/pkg/metrics"
)

// Flow names used in metrics.
const (
	FlowFirstAid  = "first_aid"
	FlowNutrition = "nutrition"
	FlowRisk      = "risk"
)

// Chat roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func outputValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// decodeOutput parses JSON model output into v, applies normalize when
// set, and checks v's validate tags.
func decodeOutput(flow, text string, v any, normalize func()) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")

	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		if normalize != nil {
			normalize()
		}
		err = outputValidator().Struct(v)
	}
	if err != nil {
		metrics.ModelCallErrors.WithLabelValues(flow, "malformed").Inc()
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// ChatMessage is one turn of the first-aid conversation.
type ChatMessage struct {
	Role    string `json:"role" validate:"oneof=user model"`
	Content string `json:"content"`
}

// FirstAid answers the last user message in history.
func (c *Client) FirstAid(ctx context.Context, history []ChatMessage) (string, error) {
	last := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			last = i
			break
		}
	}
	if last < 0 || strings.TrimSpace(history[last].Content) == "" {
		return "", fmt.Errorf("%w: no user message in history", ErrInvalidInput)
	}

	prompt, err := render(firstAidTmpl, struct {
		Question string
		Earlier  []ChatMessage
	}{history[last].Content, history[:last]})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}

	return c.Generate(ctx, FlowFirstAid, Request{
		Contents: []Content{{Role: RoleUser, Parts: []Part{{Text: prompt}}}},
	})
}

// NutritionEstimate is the model's estimate for one meal photo.
type NutritionEstimate struct {
	Calories     float64 `json:"calories" validate:"gte=0"`
	ProteinGrams float64 `json:"proteinGrams" validate:"gte=0"`
	CarbsGrams   float64 `json:"carbsGrams" validate:"gte=0"`
	FatGrams     float64 `json:"fatGrams" validate:"gte=0"`
}

var nutritionSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"calories":     map[string]any{"type": "NUMBER"},
		"proteinGrams": map[string]any{"type": "NUMBER"},
		"carbsGrams":   map[string]any{"type": "NUMBER"},
		"fatGrams":     map[string]any{"type": "NUMBER"},
	},
	"required": []string{"calories", "proteinGrams", "carbsGrams", "fatGrams"},
}

// ParseDataURI splits data:<mime>;base64,<data>.
func ParseDataURI(uri string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: not a data URI", ErrInvalidInput)
	}
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: data URI has no payload", ErrInvalidInput)
	}
	mimeType, ok = strings.CutSuffix(meta, ";base64")
	if !ok || mimeType == "" {
		return "", nil, fmt.Errorf("%w: data URI must be base64 with a MIME type", ErrInvalidInput)
	}
	data, err = base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return mimeType, data, nil
}

// Nutrition estimates the nutrition content of a meal photo.
func (c *Client) Nutrition(ctx context.Context, mimeType string, photo []byte) (NutritionEstimate, error) {
	if !strings.HasPrefix(mimeType, "image/") || len(photo) == 0 {
		return NutritionEstimate{}, fmt.Errorf("%w: expected an image", ErrInvalidInput)
	}

	prompt, err := render(nutritionTmpl, nil)
	if err != nil {
		return NutritionEstimate{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	text, err := c.Generate(ctx, FlowNutrition, Request{
		Contents: []Content{{Role: RoleUser, Parts: []Part{
			{Text: prompt},
			{InlineData: &InlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(photo)}},
		}}},
		Schema: nutritionSchema,
	})
	if err != nil {
		return NutritionEstimate{}, err
	}

	var out NutritionEstimate
	if err := decodeOutput(FlowNutrition, text, &out, nil); err != nil {
		return NutritionEstimate{}, err
	}
	return out, nil
}

// RiskReport is an emergency report as sent to the risk model.
type RiskReport struct {
	ReportID         string `json:"reportId"`
	StudentName      string `json:"studentName"`
	EnrollmentNumber string `json:"enrollmentNumber"`
	Year             int    `json:"year,omitempty"`
	Location         string `json:"location"`
	EmergencyType    string `json:"emergencyType"`
	Timestamp        string `json:"timestamp"`
}

// RiskFeedback is a hospital feedback record as sent to the risk model.
type RiskFeedback struct {
	FeedbackID         string  `json:"feedbackId"`
	WaitingTime        float64 `json:"waitingTime"`
	DoctorAvailability string  `json:"doctorAvailability"`
	PostVisitFeedback  string  `json:"postVisitFeedback"`
	EmergencyVsNormal  string  `json:"emergencyVsNormal"`
	Timestamp          string  `json:"timestamp"`
}

// RiskRating is a mess rating as sent to the risk model.
type RiskRating struct {
	RatingID            string  `json:"ratingId"`
	FoodQualityRating   float64 `json:"foodQualityRating"`
	SickAfterMealReport string  `json:"sickAfterMealReport"`
	Timestamp           string  `json:"timestamp"`
}

// RiskInput is the campus data the risk model analyses.
type RiskInput struct {
	EmergencyReports  []RiskReport   `json:"emergencyReports"`
	HospitalFeedbacks []RiskFeedback `json:"hospitalFeedbacks"`
	MessFoodRatings   []RiskRating   `json:"messFoodRatings"`
}

// HealthRisk is one predicted risk.
type HealthRisk struct {
	RiskType        string `json:"riskType" validate:"required"`
	RiskLevel       string `json:"riskLevel" validate:"oneof=high medium low"`
	Description     string `json:"description"`
	AffectedArea    string `json:"affectedArea"`
	Recommendations string `json:"recommendations"`
}

// RiskPrediction is the risk model's answer.
type RiskPrediction struct {
	HealthRisks []HealthRisk `json:"healthRisks" validate:"dive"`
}

var riskSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"healthRisks": map[string]any{
			"type": "ARRAY",
			"items": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"riskType":        map[string]any{"type": "STRING"},
					"riskLevel":       map[string]any{"type": "STRING", "enum": []string{"high", "medium", "low"}},
					"description":     map[string]any{"type": "STRING"},
					"affectedArea":    map[string]any{"type": "STRING"},
					"recommendations": map[string]any{"type": "STRING"},
				},
				"required": []string{"riskType", "riskLevel", "description", "affectedArea", "recommendations"},
			},
		},
	},
	"required": []string{"healthRisks"},
}

// PredictRisks asks the model for campus health risks in input.
func (c *Client) PredictRisks(ctx context.Context, input RiskInput) (RiskPrediction, error) {
	prompt, err := render(riskTmpl, input)
	if err != nil {
		return RiskPrediction{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	text, err := c.Generate(ctx, FlowRisk, Request{
		Contents: []Content{{Role: RoleUser, Parts: []Part{{Text: prompt}}}},
		Schema:   riskSchema,
	})
	if err != nil {
		return RiskPrediction{}, err
	}

	var out RiskPrediction
	lower := func() {
		for i := range out.HealthRisks {
			out.HealthRisks[i].RiskLevel = strings.ToLower(strings.TrimSpace(out.HealthRisks[i].RiskLevel))
		}
	}
	if err := decodeOutput(FlowRisk, text, &out, lower); err != nil {
		return RiskPrediction{}, err
	}
	return out, nil
}
