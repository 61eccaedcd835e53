package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 12 * time.Hour
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenIssuerConfig configures the session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer mints session tokens that SessionValidator accepts.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	ttl           time.Duration
	clock         func() time.Time
}

// Principal describes the identity a session token is minted for.
type Principal struct {
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
	Roles       []string
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// IssueSessionToken produces a signed JWT and its lifetime in seconds.
func (i *TokenIssuer) IssueSessionToken(_ context.Context, principal Principal) (string, int64, error) {
	subject := strings.TrimSpace(principal.Subject)
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)

	claims := SessionClaims{
		UserID:          subject,
		UserEmail:       strings.TrimSpace(principal.Email),
		UserDisplayName: strings.TrimSpace(principal.DisplayName),
		UserAvatarURL:   strings.TrimSpace(principal.AvatarURL),
		UserRoles:       principal.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(i.ttl.Seconds()), nil
}
