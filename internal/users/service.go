// Package users resolves session claims into canonical accounts and provisions
// their progression profile on first sight.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/auth"
	"github.com/MarcoPoloResearchLab/koi/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ProfileProvisioner creates the progression profile of a newly seen account.
type ProfileProvisioner interface {
	EnsureProfile(ctx context.Context, seed profiles.Seed) (profiles.Profile, error)
}

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database    *gorm.DB
	Provisioner ProfileProvisioner
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db          *gorm.DB
	provisioner ProfileProvisioner
	now         func() time.Time
	logger      *zap.Logger
	provisioned sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:          cfg.Database,
		provisioner: cfg.Provisioner,
		now:         clock,
		logger:      logger,
	}, nil
}

// Resolve returns the account for the session claims. It records the provider+subject
// pair on first sight, refreshes changed attributes, and provisions the profile once per process.
func (s *Service) Resolve(ctx context.Context, claims auth.SessionClaims) (Account, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return Account{}, ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			AvatarURL:   normalize(claims.UserAvatarURL),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return Account{}, err
		}
	case err != nil:
		return Account{}, err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
			identity.DisplayName = display
		}
		if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != identity.AvatarURL {
			updates["user_avatar_url"] = avatar
			identity.AvatarURL = avatar
		}
		if err := s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("user_id", identity.UserID), zap.Error(err))
		}
	}

	account := Account{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
	}
	if err := s.provision(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

func (s *Service) provision(ctx context.Context, account Account) error {
	if s.provisioner == nil {
		return nil
	}
	if _, done := s.provisioned.Load(account.UserID); done {
		return nil
	}
	_, err := s.provisioner.EnsureProfile(ctx, profiles.Seed{
		UserID:    account.UserID,
		FullName:  account.DisplayName,
		AvatarURL: account.AvatarURL,
		Email:     account.Email,
	})
	if err != nil {
		return fmt.Errorf("users: provision profile: %w", err)
	}
	s.provisioned.Store(account.UserID, struct{}{})
	return nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
