// Package profiles is the reference data platform behind the gamification client:
// profile rows, badge awards, daily check-ins and XP grants.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/koi/internal/ranks"
	"github.com/MarcoPoloResearchLab/koi/internal/realtime"
	"github.com/MarcoPoloResearchLab/koi/internal/rewards"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	minNameLength = 2
	maxNameLength = 50
	dayLayout     = "2006-01-02"

	actionLevelUpBonus = "level_up_bonus"
)

var (
	// ErrProfileNotFound indicates no profile row exists for the user.
	ErrProfileNotFound = errors.New("profiles: profile not found")
	// ErrMissingUserID indicates an empty user identifier.
	ErrMissingUserID = errors.New("profiles: user identifier is required")
	// ErrInvalidName indicates a display name outside the allowed length.
	ErrInvalidName = errors.New("profiles: name must be between 2 and 50 characters")
	// ErrNameAlreadyChanged indicates the one-time rename was already used.
	ErrNameAlreadyChanged = errors.New("profiles: name can only be changed once")
	// ErrInvalidAmount indicates a non-positive XP grant.
	ErrInvalidAmount = errors.New("profiles: xp amount must be positive")

	errMissingDatabase = errors.New("profiles: database handle is required")
)

const (
	opServiceNew     = "profiles.service.new"
	opEnsure         = "profiles.ensure"
	opFetch          = "profiles.fetch"
	opFetchBadges    = "profiles.fetch_badges"
	opCheckin        = "profiles.checkin"
	opCheckinStatus  = "profiles.checkin_status"
	opRecordAction   = "profiles.record_action"
	opRename         = "profiles.rename"
	opPruneCheckins  = "profiles.prune_checkins"
	checkinDoneMsg   = "already checked in today"
	checkinBusyMsg   = "check-in already in progress"
	checkinSucceeded = "checked in"
)

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// Publisher receives a message for every persisted profile change.
type Publisher interface {
	Publish(realtime.Message)
}

// ServiceConfig describes the dependencies of the profile service.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	Publisher   Publisher
	CheckinLock CheckinLock
	AdminEmails []string
	Logger      *zap.Logger
}

// Service owns profile progression.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	publisher   Publisher
	checkinLock CheckinLock
	admins      map[string]struct{}
	logger      *zap.Logger
}

// NewService validates cfg and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if normalized := normalizeEmail(email); normalized != "" {
			admins[normalized] = struct{}{}
		}
	}
	return &Service{
		db:          cfg.Database,
		clock:       clock,
		publisher:   cfg.Publisher,
		checkinLock: cfg.CheckinLock,
		admins:      admins,
		logger:      logger,
	}, nil
}

// Seed carries the identity attributes used to provision a profile.
type Seed struct {
	UserID    string
	FullName  string
	AvatarURL string
	Email     string
}

// EnsureProfile returns the profile of seed.UserID, creating it at level 1 when missing.
// Missing avatar and email values are filled from the seed; the name is never overwritten.
func (s *Service) EnsureProfile(ctx context.Context, seed Seed) (Profile, error) {
	userID := strings.TrimSpace(seed.UserID)
	if userID == "" {
		return Profile{}, newServiceError(opEnsure, "missing_user_id", ErrMissingUserID)
	}
	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = Profile{
			UserID:    userID,
			Level:     ranks.MinLevel,
			FullName:  strings.TrimSpace(seed.FullName),
			AvatarURL: strings.TrimSpace(seed.AvatarURL),
			Email:     normalizeEmail(seed.Email),
		}
		createErr := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&profile).Error
		if createErr != nil {
			s.logError(opEnsure, "insert_failed", createErr, zap.String("user_id", userID))
			return Profile{}, newServiceError(opEnsure, "insert_failed", createErr)
		}
		return s.FetchProfile(ctx, userID)
	}
	if err != nil {
		s.logError(opEnsure, "select_failed", err, zap.String("user_id", userID))
		return Profile{}, newServiceError(opEnsure, "select_failed", err)
	}

	updates := map[string]any{}
	if avatar := strings.TrimSpace(seed.AvatarURL); avatar != "" && profile.AvatarURL == "" {
		updates["avatar_url"] = avatar
		profile.AvatarURL = avatar
	}
	if email := normalizeEmail(seed.Email); email != "" && profile.Email == "" {
		updates["email"] = email
		profile.Email = email
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&Profile{}).Where("user_id = ?", userID).Updates(updates).Error; err != nil {
			s.logError(opEnsure, "update_failed", err, zap.String("user_id", userID))
			return Profile{}, newServiceError(opEnsure, "update_failed", err)
		}
	}
	return profile, nil
}

// FetchProfile returns the profile row of userID.
func (s *Service) FetchProfile(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, newServiceError(opFetch, "missing_user_id", ErrMissingUserID)
	}
	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newServiceError(opFetch, "not_found", ErrProfileNotFound)
	}
	if err != nil {
		s.logError(opFetch, "select_failed", err, zap.String("user_id", userID))
		return Profile{}, newServiceError(opFetch, "select_failed", err)
	}
	return profile, nil
}

// FetchAwardedBadges lists the badges awarded to userID in award order.
func (s *Service) FetchAwardedBadges(ctx context.Context, userID string) ([]AwardedBadge, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newServiceError(opFetchBadges, "missing_user_id", ErrMissingUserID)
	}
	var awarded []AwardedBadge
	err := s.db.WithContext(ctx).
		Table(UserBadge{}.TableName()+" AS ub").
		Select("b.badge_id AS id, b.name AS name, b.icon AS icon, b.description AS description, ub.awarded_at AS awarded_at").
		Joins("JOIN "+Badge{}.TableName()+" AS b ON b.badge_id = ub.badge_id").
		Where("ub.user_id = ?", userID).
		Order("ub.awarded_at ASC, b.badge_id ASC").
		Scan(&awarded).Error
	if err != nil {
		s.logError(opFetchBadges, "select_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opFetchBadges, "select_failed", err)
	}
	if awarded == nil {
		awarded = []AwardedBadge{}
	}
	return awarded, nil
}

// HasCheckedInToday reports whether userID checked in on the current UTC day.
func (s *Service) HasCheckedInToday(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, newServiceError(opCheckinStatus, "missing_user_id", ErrMissingUserID)
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&DailyCheckin{}).
		Where("user_id = ? AND day = ?", userID, s.today()).
		Count(&count).Error
	if err != nil {
		s.logError(opCheckinStatus, "select_failed", err, zap.String("user_id", userID))
		return false, newServiceError(opCheckinStatus, "select_failed", err)
	}
	return count > 0, nil
}

// PerformCheckin records today's check-in and grants its XP. A second call on the
// same day answers Success=false without granting anything.
func (s *Service) PerformCheckin(ctx context.Context, userID string) (CheckinResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CheckinResult{}, newServiceError(opCheckin, "missing_user_id", ErrMissingUserID)
	}
	day := s.today()
	if s.checkinLock != nil {
		acquired, err := s.checkinLock.Acquire(ctx, userID, day)
		if err != nil {
			s.logError(opCheckin, "lock_failed", err, zap.String("user_id", userID))
		} else if !acquired {
			return CheckinResult{Success: false, Message: checkinBusyMsg}, nil
		}
	}

	var (
		grant   Grant
		already bool
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&DailyCheckin{}).Where("user_id = ? AND day = ?", userID, day).Count(&count).Error; err != nil {
			return newServiceError(opCheckin, "select_failed", err)
		}
		if count > 0 {
			already = true
			return nil
		}
		checkin := DailyCheckin{ID: newRecordID(), UserID: userID, Day: day, CreatedAt: s.clock().UTC()}
		if err := tx.Create(&checkin).Error; err != nil {
			return newServiceError(opCheckin, "insert_failed", err)
		}
		awarded, err := s.awardXP(tx, userID, string(rewards.ActionDailyCheckin), rewards.MustReward(rewards.ActionDailyCheckin))
		if err != nil {
			return err
		}
		firstBadge, err := s.awardBadge(tx, userID, FirstCheckinBadgeID)
		if err != nil {
			return newServiceError(opCheckin, "badge_award_failed", err)
		}
		if firstBadge {
			awarded.AwardedBadges = append(awarded.AwardedBadges, FirstCheckinBadgeID)
		}
		grant = awarded
		return nil
	})
	if txErr != nil {
		if done, err := s.HasCheckedInToday(ctx, userID); err == nil && done {
			return CheckinResult{Success: false, Message: checkinDoneMsg}, nil
		}
		s.logError(opCheckin, "transaction_failed", txErr, zap.String("user_id", userID))
		return CheckinResult{}, wrapServiceError(opCheckin, "transaction_failed", txErr)
	}
	if already {
		return CheckinResult{Success: false, Message: checkinDoneMsg}, nil
	}

	s.publish(grant.Profile)
	s.logger.Info("daily check-in recorded",
		zap.String("user_id", userID),
		zap.String("day", day),
		zap.Int64("xp", grant.Profile.XP),
		zap.Int("level", grant.Profile.Level))
	return CheckinResult{Success: true, Message: checkinSucceeded}, nil
}

// RecordAction grants the catalog reward of action to userID.
func (s *Service) RecordAction(ctx context.Context, userID string, action rewards.Action) (Grant, error) {
	amount, ok := rewards.Reward(action)
	if !ok {
		return Grant{}, newServiceError(opRecordAction, "unknown_action", fmt.Errorf("%w: %q", rewards.ErrUnknownAction, action))
	}
	return s.grant(ctx, userID, string(action), amount)
}

func (s *Service) grant(ctx context.Context, userID, action string, amount int64) (Grant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Grant{}, newServiceError(opRecordAction, "missing_user_id", ErrMissingUserID)
	}
	if amount <= 0 {
		return Grant{}, newServiceError(opRecordAction, "invalid_amount", ErrInvalidAmount)
	}
	var result Grant
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		granted, err := s.awardXP(tx, userID, action, amount)
		if err != nil {
			return err
		}
		result = granted
		return nil
	})
	if txErr != nil {
		s.logError(opRecordAction, "transaction_failed", txErr,
			zap.String("user_id", userID),
			zap.String("action", action))
		return Grant{}, wrapServiceError(opRecordAction, "transaction_failed", txErr)
	}
	s.publish(result.Profile)
	s.logger.Info("xp granted",
		zap.String("user_id", userID),
		zap.String("action", action),
		zap.Int64("amount", result.Amount),
		zap.Int64("bonus", result.Bonus),
		zap.Int64("xp", result.Profile.XP),
		zap.Int("level", result.Profile.Level))
	return result, nil
}

// awardXP adds amount to the profile, applies the level-up bonus of every level crossed
// and grants the level badges reached. It runs inside tx.
func (s *Service) awardXP(tx *gorm.DB, userID, action string, amount int64) (Grant, error) {
	var profile Profile
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Grant{}, newServiceError(opRecordAction, "not_found", ErrProfileNotFound)
	}
	if err != nil {
		return Grant{}, newServiceError(opRecordAction, "select_failed", err)
	}

	now := s.clock().UTC()
	result := Grant{Action: action, Amount: amount, PreviousLevel: ranks.ClampLevel(profile.Level)}
	profile.Level = result.PreviousLevel
	profile.XP += amount
	if err := s.appendLedger(tx, userID, action, amount, profile.XP, now); err != nil {
		return Grant{}, err
	}

	for target := ranks.ByXP(profile.XP).Level; profile.Level < target; target = ranks.ByXP(profile.XP).Level {
		profile.Level++
		bonus := rewards.LevelUpBonus(profile.Level)
		if bonus <= 0 {
			continue
		}
		profile.XP += bonus
		result.Bonus += bonus
		if err := s.appendLedger(tx, userID, actionLevelUpBonus, bonus, profile.XP, now); err != nil {
			return Grant{}, err
		}
	}

	err = tx.Model(&Profile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"xp": profile.XP, "level": profile.Level, "updated_at": now}).Error
	if err != nil {
		return Grant{}, newServiceError(opRecordAction, "update_failed", err)
	}
	profile.UpdatedAt = now

	var levelBadges []Badge
	if err := tx.Where("min_level > 0 AND min_level <= ?", profile.Level).Order("min_level ASC").Find(&levelBadges).Error; err != nil {
		return Grant{}, newServiceError(opRecordAction, "badge_select_failed", err)
	}
	for _, badge := range levelBadges {
		awarded, err := s.awardBadge(tx, userID, badge.ID)
		if err != nil {
			return Grant{}, newServiceError(opRecordAction, "badge_award_failed", err)
		}
		if awarded {
			result.AwardedBadges = append(result.AwardedBadges, badge.ID)
		}
	}

	result.Profile = profile
	return result, nil
}

func (s *Service) appendLedger(tx *gorm.DB, userID, action string, amount, balance int64, at time.Time) error {
	entry := LedgerEntry{
		ID:           newRecordID(),
		UserID:       userID,
		Action:       action,
		Amount:       amount,
		BalanceAfter: balance,
		CreatedAt:    at,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return newServiceError(opRecordAction, "ledger_insert_failed", err)
	}
	return nil
}

// awardBadge grants badgeID once; it reports whether a new award was written.
func (s *Service) awardBadge(tx *gorm.DB, userID, badgeID string) (bool, error) {
	var count int64
	if err := tx.Model(&UserBadge{}).Where("user_id = ? AND badge_id = ?", userID, badgeID).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	var catalog int64
	if err := tx.Model(&Badge{}).Where("badge_id = ?", badgeID).Count(&catalog).Error; err != nil {
		return false, err
	}
	if catalog == 0 {
		return false, nil
	}
	award := UserBadge{ID: newRecordID(), UserID: userID, BadgeID: badgeID, AwardedAt: s.clock().UTC()}
	if err := tx.Create(&award).Error; err != nil {
		return false, err
	}
	return true, nil
}

// RenameProfile applies the one-time display name change. Admins may rename any number of times.
func (s *Service) RenameProfile(ctx context.Context, userID, email, name string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, newServiceError(opRename, "missing_user_id", ErrMissingUserID)
	}
	name = strings.TrimSpace(name)
	if length := utf8.RuneCountInString(name); length < minNameLength || length > maxNameLength {
		return Profile{}, newServiceError(opRename, "invalid_name", ErrInvalidName)
	}
	admin := s.IsAdmin(email)

	var profile Profile
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).Take(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRename, "not_found", ErrProfileNotFound)
		}
		if err != nil {
			return newServiceError(opRename, "select_failed", err)
		}
		if profile.NameChanged && !admin {
			return newServiceError(opRename, "already_changed", ErrNameAlreadyChanged)
		}
		now := s.clock().UTC()
		if err := tx.Model(&Profile{}).Where("user_id = ?", userID).
			Updates(map[string]any{"full_name": name, "name_changed": true, "updated_at": now}).Error; err != nil {
			return newServiceError(opRename, "update_failed", err)
		}
		profile.FullName = name
		profile.NameChanged = true
		profile.UpdatedAt = now
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrNameAlreadyChanged) && !errors.Is(txErr, ErrProfileNotFound) {
			s.logError(opRename, "transaction_failed", txErr, zap.String("user_id", userID))
		}
		return Profile{}, wrapServiceError(opRename, "transaction_failed", txErr)
	}
	s.publish(profile)
	return profile, nil
}

// PruneCheckins deletes check-ins older than retention and returns how many were removed.
func (s *Service) PruneCheckins(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.clock().UTC().Add(-retention).Format(dayLayout)
	result := s.db.WithContext(ctx).Where("day < ?", cutoff).Delete(&DailyCheckin{})
	if result.Error != nil {
		s.logError(opPruneCheckins, "delete_failed", result.Error, zap.String("cutoff", cutoff))
		return 0, newServiceError(opPruneCheckins, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// IsAdmin reports whether email belongs to a configured administrator.
func (s *Service) IsAdmin(email string) bool {
	_, ok := s.admins[normalizeEmail(email)]
	return ok
}

func (s *Service) today() string {
	return s.clock().UTC().Format(dayLayout)
}

func (s *Service) publish(profile Profile) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(realtime.Message{
		UserID:    profile.UserID,
		EventType: realtime.EventProfileChanged,
		Level:     profile.Level,
		XP:        profile.XP,
		FullName:  profile.FullName,
		AvatarURL: profile.AvatarURL,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("profiles service error", attrs...)
}

// wrapServiceError keeps an inner ServiceError intact and wraps anything else.
func wrapServiceError(operation, reason string, err error) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return newServiceError(operation, reason, err)
}

func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
