package campus

import (
	"context"

	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/genai"
	"github.com/nicktill/campuspulse/pkg/records"
)

// LogNutrition stores an analysed meal in the caller's nutrition diary.
// The photo, if any, is uploaded first.
func (s *Service) LogNutrition(ctx context.Context, sess *authz.Session, est genai.NutritionEstimate, photo *Photo) (records.NutritionLog, error) {
	if err := requireSignedIn(sess); err != nil {
		return records.NutritionLog{}, err
	}
	n := records.NutritionLog{
		UserID:       sess.UID(),
		Calories:     est.Calories,
		ProteinGrams: est.ProteinGrams,
		CarbsGrams:   est.CarbsGrams,
		FatGrams:     est.FatGrams,
	}
	if err := records.Validate(n); err != nil {
		return records.NutritionLog{}, err
	}
	url, err := s.upload(ctx, photo)
	if err != nil {
		return records.NutritionLog{}, err
	}
	n.PhotoURL = url

	doc, err := s.create(ctx, sess, records.NutritionLogsCollection(sess.UID()), n.Fields())
	if err != nil {
		return records.NutritionLog{}, err
	}
	stored, _ := records.NutritionLogFrom(doc)
	return stored, nil
}

// NutritionDiary returns the caller's newest nutrition logs, newest first.
// A limit of zero returns the whole diary.
func (s *Service) NutritionDiary(ctx context.Context, sess *authz.Session, limit int) ([]records.NutritionLog, error) {
	if err := requireSignedIn(sess); err != nil {
		return nil, err
	}
	docs, err := s.as(sess).List(ctx, docstore.Query{
		Collection: records.NutritionLogsCollection(sess.UID()),
		OrderBy:    "timestamp",
		Desc:       true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]records.NutritionLog, 0, len(docs))
	for _, d := range docs {
		if n, ok := records.NutritionLogFrom(d); ok {
			out = append(out, n)
		}
	}
	return out, nil
}
