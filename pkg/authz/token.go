package authz

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nicktill/campuspulse/pkg/httpx"
	"github.com/nicktill/campuspulse/pkg/logging"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// Authenticator verifies HS256 bearer tokens issued by the identity
// provider. The token subject is the caller uid.
type Authenticator struct {
	secret   []byte
	issuer   string
	resolver *Resolver
}

// NewAuthenticator creates an authenticator. With an empty secret every
// request is anonymous.
func NewAuthenticator(secret, issuer string, resolver *Resolver) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, resolver: resolver}
}

// Issue signs a token for uid. Used by tooling and tests; production
// tokens come from the identity provider.
func (a *Authenticator) Issue(uid string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its uid.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Middleware attaches the caller's Session to the request context.
// Requests without a token are anonymous; a bad token is rejected with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" || len(a.secret) == 0 {
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), Anonymous())))
			return
		}

		uid, err := a.Verify(raw)
		if err != nil {
			logging.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected bearer token")
			httpx.RespondError(w, http.StatusUnauthorized, err)
			return
		}

		session, err := a.resolver.Resolve(r.Context(), uid)
		if err != nil {
			logging.Warn().Err(err).Str("uid", uid).Msg("privilege lookup failed")
			httpx.RespondErrorString(w, http.StatusServiceUnavailable, "authorization lookup failed")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter browsers use for websocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
