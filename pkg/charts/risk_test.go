package charts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/docstore/memory"
	"github.com/nicktill/campuspulse/pkg/records"
)

func TestLoadRiskInput(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	write := func(collection, id string, f docstore.Fields) {
		_, err := store.Write(ctx, collection, id, f, docstore.Create)
		require.NoError(t, err)
	}
	write(records.EmergencyCollection, "e1", docstore.Fields{
		"studentName": "Asha", "location": "Southern mess (Lunch)", "emergencyType": "Medical",
		"year": 2, "timestamp": at("2024-03-01", 13),
	})
	write(records.FeedbackCollection, "f1", docstore.Fields{
		"waitingTime": 25, "doctorAvailability": "available", "emergencyVsNormal": "normal",
		"timestamp": at("2024-03-01", 15),
	})
	write(records.RatingsCollection, "r1", docstore.Fields{
		"messName": "Southern mess", "mealType": "Lunch", "foodQualityRating": 1,
		"sickAfterMealReport": "yes", "timestamp": at("2024-03-01", 12),
	})
	write(records.RatingsCollection, "r2", docstore.Fields{"messName": "Southern mess"})

	in, err := LoadRiskInput(ctx, store)
	require.NoError(t, err)

	require.Len(t, in.EmergencyReports, 1)
	require.Equal(t, "e1", in.EmergencyReports[0].ReportID)
	require.Equal(t, 2, in.EmergencyReports[0].Year)
	require.Equal(t, "2024-03-01T07:30:00.000Z", in.EmergencyReports[0].Timestamp)

	require.Len(t, in.HospitalFeedbacks, 1)
	require.Equal(t, 25.0, in.HospitalFeedbacks[0].WaitingTime)

	require.Len(t, in.MessFoodRatings, 1, "incomplete ratings are skipped")
	require.Equal(t, "yes", in.MessFoodRatings[0].SickAfterMealReport)
}

func TestLoadRiskInput_PermissionDenied(t *testing.T) {
	deny := docstore.PolicyFunc(func(ctx context.Context, req docstore.Request) error {
		if req.Collection == records.FeedbackCollection {
			return docstore.ErrPermissionDenied
		}
		return nil
	})
	guarded := docstore.Guard(memory.New(), deny, docstore.Subject{ID: "s1", Role: "student"})

	_, err := LoadRiskInput(context.Background(), guarded)
	require.True(t, docstore.IsPermissionDenied(err))
}
