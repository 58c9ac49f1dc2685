package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/campuspulse/pkg/docstore"
)

func TestObject(t *testing.T) {
	student := docstore.Subject{ID: "s1", Role: RoleStudent}

	tests := []struct {
		name string
		req  docstore.Request
		want string
	}{
		{
			name: "plain list",
			req:  docstore.Request{Subject: student, Action: docstore.ActionRead, Collection: "messFoodRatings"},
			want: "messFoodRatings",
		},
		{
			name: "own appointments",
			req: docstore.Request{
				Subject: student, Action: docstore.ActionRead, Collection: "appointments",
				Where: []docstore.Predicate{docstore.Where("studentId", docstore.Eq, "s1")},
			},
			want: "appointments/self",
		},
		{
			name: "someone else's appointments",
			req: docstore.Request{
				Subject: student, Action: docstore.ActionRead, Collection: "appointments",
				Where: []docstore.Predicate{docstore.Where("studentId", docstore.Eq, "s2")},
			},
			want: "appointments",
		},
		{
			name: "nutrition log",
			req:  docstore.Request{Subject: student, Action: docstore.ActionCreate, Collection: "userProfile/s1/nutritionLogs", ID: "n1"},
			want: "userProfile/self/nutritionLogs/n1",
		},
		{
			name: "other profile",
			req:  docstore.Request{Subject: student, Action: docstore.ActionRead, Collection: "userProfile", ID: "s10"},
			want: "userProfile/s10",
		},
		{
			name: "owned create",
			req: docstore.Request{
				Subject: student, Action: docstore.ActionCreate, Collection: "emergencyReports", ID: "e1",
				Fields: docstore.Fields{"studentId": "s1"},
			},
			want: "emergencyReports/self",
		},
		{
			name: "update judged by stored owner",
			req: docstore.Request{
				Subject: student, Action: docstore.ActionUpdate, Collection: "appointments", ID: "ap2",
				Fields:   docstore.Fields{"studentId": "s1"},
				Existing: docstore.Fields{"studentId": "s2"},
			},
			want: "appointments/ap2",
		},
		{
			name: "own role entry",
			req:  docstore.Request{Subject: student, Action: docstore.ActionRead, Collection: "roles_admin", ID: "s1"},
			want: "roles_admin/self",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Object(tt.req))
		})
	}
}

func TestPolicy_Authorize(t *testing.T) {
	p, err := NewPolicy()
	require.NoError(t, err)

	anon := docstore.Subject{Role: RoleAnonymous}
	student := docstore.Subject{ID: "s1", Role: RoleStudent}
	admin := docstore.Subject{ID: "a1", Role: RoleAdmin}

	tests := []struct {
		name  string
		req   docstore.Request
		allow bool
	}{
		{"anonymous reads ratings", docstore.Request{Subject: anon, Action: docstore.ActionRead, Collection: "messFoodRatings"}, true},
		{"anonymous reads hospital status", docstore.Request{Subject: anon, Action: docstore.ActionRead, Collection: "campusInfo", ID: "hospital"}, true},
		{"anonymous cannot rate", docstore.Request{Subject: anon, Action: docstore.ActionCreate, Collection: "messFoodRatings", ID: "r1"}, false},
		{"student rates", docstore.Request{
			Subject: student, Action: docstore.ActionCreate, Collection: "messFoodRatings", ID: "r1",
			Fields: docstore.Fields{"studentId": "s1"},
		}, true},
		{"student cannot rate as someone else", docstore.Request{
			Subject: student, Action: docstore.ActionCreate, Collection: "messFoodRatings", ID: "r1",
			Fields: docstore.Fields{"studentId": "s2"},
		}, false},
		{"student lists own appointments", docstore.Request{
			Subject: student, Action: docstore.ActionRead, Collection: "appointments",
			Where: []docstore.Predicate{docstore.Where("studentId", docstore.Eq, "s1")},
		}, true},
		{"student cannot list all appointments", docstore.Request{Subject: student, Action: docstore.ActionRead, Collection: "appointments"}, false},
		{"student cannot read reports", docstore.Request{Subject: student, Action: docstore.ActionRead, Collection: "emergencyReports"}, false},
		{"student cannot set doctor status", docstore.Request{Subject: student, Action: docstore.ActionUpdate, Collection: "campusInfo", ID: "hospital"}, false},
		{"student writes own nutrition log", docstore.Request{Subject: student, Action: docstore.ActionCreate, Collection: "userProfile/s1/nutritionLogs", ID: "n1"}, true},
		{"student updates own appointment", docstore.Request{
			Subject: student, Action: docstore.ActionUpdate, Collection: "appointments", ID: "ap1",
			Fields:   docstore.Fields{"status": "cancelled"},
			Existing: docstore.Fields{"studentId": "s1", "status": "scheduled"},
		}, true},
		{"student cannot update another's appointment by naming themselves", docstore.Request{
			Subject: student, Action: docstore.ActionUpdate, Collection: "appointments", ID: "ap2",
			Fields:   docstore.Fields{"studentId": "s1", "status": "cancelled"},
			Existing: docstore.Fields{"studentId": "s2", "status": "scheduled"},
		}, false},
		{"student cannot give an appointment away", docstore.Request{
			Subject: student, Action: docstore.ActionUpdate, Collection: "appointments", ID: "ap1",
			Fields:   docstore.Fields{"studentId": "s2"},
			Existing: docstore.Fields{"studentId": "s1"},
		}, false},
		{"admin lists everything", docstore.Request{Subject: admin, Action: docstore.ActionRead, Collection: "appointments"}, true},
		{"admin sets doctor status", docstore.Request{Subject: admin, Action: docstore.ActionUpdate, Collection: "campusInfo", ID: "hospital"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(context.Background(), tt.req)
			if tt.allow {
				require.NoError(t, err)
				return
			}
			require.True(t, docstore.IsPermissionDenied(err))
		})
	}
}
