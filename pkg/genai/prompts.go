package genai

import (
	"strings"
	"text/template"
)

var firstAidTmpl = template.Must(template.New("firstAid").Parse(
	`You are a first-aid assistant for a university campus. Give clear, short, safe first-aid steps for minor health problems.
Always say that this advice does not replace a doctor and that serious problems need professional care.
If the situation sounds serious, tell the student to get medical help immediately.

Question: "{{.Question}}"
{{if .Earlier}}
Earlier messages:
{{range .Earlier}}{{.Role}}: {{.Content}}
{{end}}{{end}}`))

var nutritionTmpl = template.Must(template.New("nutrition").Parse(
	`You are a nutritionist. Identify the food in the attached meal photo and estimate its total calories and its protein, carbohydrate and fat content in grams.`))

var riskTmpl = template.Must(template.New("risk").Parse(
	`You analyse campus health data and identify health risks and trends. Give actionable recommendations.

Emergency reports:
{{range .EmergencyReports}}- {{.ReportID}}: {{.StudentName}} ({{.EnrollmentNumber}}{{if .Year}}, year {{.Year}}{{end}}) at {{.Location}}, {{.EmergencyType}}, {{.Timestamp}}
{{else}}- none
{{end}}
Hospital feedback:
{{range .HospitalFeedbacks}}- {{.FeedbackID}}: waited {{.WaitingTime}} min, doctor {{.DoctorAvailability}}, {{.EmergencyVsNormal}} case, "{{.PostVisitFeedback}}", {{.Timestamp}}
{{else}}- none
{{end}}
Mess food ratings:
{{range .MessFoodRatings}}- {{.RatingID}}: quality {{.FoodQualityRating}}, sick after meal: {{.SickAfterMealReport}}, {{.Timestamp}}
{{else}}- none
{{end}}
Report each risk with its level (high, medium or low), the affected area and recommendations.`))

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
