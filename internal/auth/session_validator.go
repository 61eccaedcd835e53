// Package auth validates and issues the HS256 session tokens that identify API callers.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer = "koi-auth"
	defaultQueryParam    = "access_token"
	bearerPrefix         = "bearer "
)

// TokenSource names where a request carried its session token.
type TokenSource string

const (
	TokenSourceHeader TokenSource = "header"
	TokenSourceCookie TokenSource = "cookie"
	TokenSourceQuery  TokenSource = "query"
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
)

// SessionClaims is the JWT payload of a session token.
type SessionClaims struct {
	UserID          string   `json:"user_id"`
	UserEmail       string   `json:"user_email"`
	UserDisplayName string   `json:"user_display_name"`
	UserAvatarURL   string   `json:"user_avatar_url"`
	UserRoles       []string `json:"user_roles"`
	jwt.RegisteredClaims
}

// SessionValidatorConfig describes how to validate session tokens.
// Issuer defaults to the issuer TokenIssuer uses. QueryParam defaults to access_token
// and serves WebSocket handshakes that cannot carry headers.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	QueryParam    string
	Clock         func() time.Time
}

// SessionValidator validates HS256 session tokens carried by a request.
type SessionValidator struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	queryParam    string
	clock         func() time.Time
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	queryParam := strings.TrimSpace(cfg.QueryParam)
	if queryParam == "" {
		queryParam = defaultQueryParam
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		queryParam:    queryParam,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	if strings.TrimSpace(claims.UserID) == "" {
		claims.UserID = claims.Subject
	}
	return *claims, nil
}

// ValidateRequest extracts the session token and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	token, _, err := v.ExtractToken(r)
	if err != nil {
		return SessionClaims{}, err
	}
	return v.ValidateToken(token)
}

// ExtractToken finds the session token of r. The Authorization header wins; a
// non-bearer scheme is rejected rather than skipped. The cookie comes next and the
// query parameter last.
func (v *SessionValidator) ExtractToken(r *http.Request) (string, TokenSource, error) {
	if r == nil {
		return "", "", ErrMissingSessionToken
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
			return "", TokenSourceHeader, ErrInvalidSessionToken
		}
		return strings.TrimSpace(header[len(bearerPrefix):]), TokenSourceHeader, nil
	}
	if cookie, err := r.Cookie(v.cookieName); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return cookie.Value, TokenSourceCookie, nil
	}
	if r.URL != nil {
		if token := strings.TrimSpace(r.URL.Query().Get(v.queryParam)); token != "" {
			return token, TokenSourceQuery, nil
		}
	}
	return "", "", ErrMissingSessionToken
}
