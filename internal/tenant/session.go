package tenant

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// SessionClaims are the claims of a session token. Subject is the user id.
type SessionClaims struct {
	OrganizationID string `json:"org,omitempty"`
	PersonID       string `json:"person,omitempty"`
	jwt.RegisteredClaims
}

// SessionVerifier checks HS256 session tokens and puts the principal on the
// request context.
type SessionVerifier struct {
	key    []byte
	logger *zap.Logger
}

func NewSessionVerifier(signingKey string, logger *zap.Logger) *SessionVerifier {
	return &SessionVerifier{key: []byte(signingKey), logger: logger}
}

// Middleware never rejects; handlers decide via ResolveOrganization.
func (v *SessionVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok || len(v.key) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		p, err := v.Verify(raw)
		if err != nil {
			v.logger.Debug("rejected session token", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Verify parses a token and returns its principal.
func (v *SessionVerifier) Verify(raw string) (Principal, error) {
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("parse session token: %w", err)
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("session token has no subject")
	}
	return Principal{
		UserID:         claims.Subject,
		PersonID:       claims.PersonID,
		OrganizationID: claims.OrganizationID,
	}, nil
}

// IssueSession signs a session token for p valid for ttl.
func IssueSession(signingKey string, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		OrganizationID: p.OrganizationID,
		PersonID:       p.PersonID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
