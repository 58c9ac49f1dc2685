package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/docstore/memory"
	"github.com/nicktill/campuspulse/pkg/records"
)

func newAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	store := memory.New()
	_, err := store.Write(context.Background(), records.AdminRolesCollection, "a1", docstore.Fields{}, docstore.Create)
	require.NoError(t, err)
	return NewAuthenticator("test-secret", "campuspulse", NewResolver(store, time.Minute))
}

func serve(a *Authenticator, req *http.Request) (*httptest.ResponseRecorder, *Session) {
	var got *Session
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionFrom(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func TestMiddleware_AnonymousWithoutToken(t *testing.T) {
	rec, s := serve(newAuthenticator(t), httptest.NewRequest(http.MethodGet, "/v1/charts/mess-hygiene", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, RoleAnonymous, s.Subject.Role)
}

func TestMiddleware_ResolvesAdmin(t *testing.T) {
	a := newAuthenticator(t)
	token, err := a.Issue("a1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/charts/response-time", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, s := serve(a, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, s.IsAdmin())
	require.Equal(t, "a1", s.UID())
}

func TestMiddleware_QueryToken(t *testing.T) {
	a := newAuthenticator(t)
	token, err := a.Issue("s1", time.Hour)
	require.NoError(t, err)

	rec, s := serve(a, httptest.NewRequest(http.MethodGet, "/v1/live/meal-trends?access_token="+token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, RoleStudent, s.Subject.Role)
}

func TestMiddleware_RejectsBadTokens(t *testing.T) {
	a := newAuthenticator(t)
	expired, err := a.Issue("s1", -time.Minute)
	require.NoError(t, err)

	other := NewAuthenticator("other-secret", "campuspulse", nil)
	forged, err := other.Issue("a1", time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{"expired": expired, "forged": forged, "garbage": "not-a-jwt"} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec, s := serve(a, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Nil(t, s)
		})
	}
}

func TestVerify_WrongIssuer(t *testing.T) {
	a := newAuthenticator(t)
	token, err := NewAuthenticator("test-secret", "someone-else", nil).Issue("s1", time.Hour)
	require.NoError(t, err)

	_, err = a.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
