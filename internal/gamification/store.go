// Package gamification keeps the progression snapshot of the signed-in identity
// in sync with its persisted record and turns observed changes into toasts.
package gamification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/ranks"
	"github.com/MarcoPoloResearchLab/koi/internal/rewards"
	"github.com/MarcoPoloResearchLab/koi/internal/toast"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultLevelUpDelay separates the level-up toast from the XP toast of the same push.
const DefaultLevelUpDelay = 2500 * time.Millisecond

const (
	opStart          = "gamification.start"
	opLoadProfile    = "gamification.load_profile"
	opSubscribe      = "gamification.subscribe"
	opLoadBadges     = "gamification.load_badges"
	opCheckinStatus  = "gamification.checkin_status"
	opPerformCheckin = "gamification.perform_checkin"
	opPush           = "gamification.push"
)

const checkinFailedMessage = "check-in failed, please try again"

// StoreConfig describes the collaborators of a Store.
type StoreConfig struct {
	Backend  Backend
	Identity IdentityResolver
	Notifier *toast.Emitter
	// LevelUpDelay defaults to DefaultLevelUpDelay when zero; negative means no delay.
	LevelUpDelay time.Duration
	Logger       *zap.Logger
	// OnChange receives the new view after every state change, outside the store lock.
	// It may be called concurrently while an identity is loading.
	OnChange func(View)
}

// Store is the single writer of the progression snapshot.
type Store struct {
	backend      Backend
	identity     IdentityResolver
	notifier     *toast.Emitter
	levelUpDelay time.Duration
	logger       *zap.Logger
	onChange     func(View)

	baseCtx    context.Context
	baseCancel context.CancelFunc
	consumers  sync.WaitGroup

	mu            sync.Mutex
	snapshot      Snapshot
	previousXP    int64
	previousLevel int
	generation    uint64
	subscription  *subscription
	closed        bool

	// checkedInLocally survives status reads that started before a successful check-in.
	checkedInLocally bool
}

type subscription struct {
	cancel      context.CancelFunc
	unsubscribe func()
}

func (s *subscription) close() {
	if s == nil {
		return
	}
	s.cancel()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// NewStore constructs a store holding guest defaults.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Backend == nil {
		return nil, ErrMissingBackend
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = toast.NewEmitter(toast.Config{Logger: logger})
	}
	delay := cfg.LevelUpDelay
	switch {
	case delay == 0:
		delay = DefaultLevelUpDelay
	case delay < 0:
		delay = 0
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Store{
		backend:       cfg.Backend,
		identity:      cfg.Identity,
		notifier:      notifier,
		levelUpDelay:  delay,
		logger:        logger,
		onChange:      cfg.OnChange,
		baseCtx:       baseCtx,
		baseCancel:    baseCancel,
		snapshot:      defaultSnapshot(""),
		previousLevel: defaultLevel,
	}, nil
}

// Notifier exposes the emitter the store reports gains to.
func (s *Store) Notifier() *toast.Emitter {
	return s.notifier
}

// State returns the current read model.
func (s *Store) State() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.view()
}

// Start resolves the signed-in identity and loads its state.
// Resolution failures leave the guest defaults in place.
func (s *Store) Start(ctx context.Context) error {
	if s.identity == nil {
		return nil
	}
	identity, err := s.identity.CurrentIdentity(ctx)
	if err != nil {
		if errors.Is(err, ErrNoIdentity) {
			s.logger.Debug("no identity, staying on guest defaults")
		} else {
			s.logError(opStart, "identity_lookup_failed", err)
		}
		return nil
	}
	return s.SetIdentity(ctx, identity)
}

// SetIdentity switches the store to identity: the previous subscription is torn down,
// the snapshot is reset, and the profile, badges and check-in status are loaded.
// The change subscription opens once the profile load has resolved.
func (s *Store) SetIdentity(ctx context.Context, identity Identity) error {
	identity.ID = strings.TrimSpace(identity.ID)
	if identity.ID == "" {
		return s.Logout()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	previous := s.subscription
	s.subscription = nil
	s.generation++
	generation := s.generation
	s.snapshot = defaultSnapshot(identity.ID)
	s.previousXP = 0
	s.previousLevel = defaultLevel
	s.checkedInLocally = false
	s.mu.Unlock()

	previous.close()
	s.notifier.Reset()
	s.notifyChange()

	var group errgroup.Group
	group.Go(func() error {
		s.loadProfile(ctx, generation, identity)
		s.openSubscription(generation, identity.ID)
		return nil
	})
	group.Go(func() error {
		if err := s.loadBadges(ctx, generation, identity.ID); err != nil {
			s.logError(opLoadBadges, "fetch_failed", err, zap.String("identity_id", identity.ID))
		}
		return nil
	})
	group.Go(func() error {
		if err := s.refreshCheckinStatus(ctx, generation, identity.ID); err != nil {
			s.logError(opCheckinStatus, "fetch_failed", err, zap.String("identity_id", identity.ID))
		}
		return nil
	})
	return group.Wait()
}

// Logout returns the store to guest defaults and releases the subscription.
func (s *Store) Logout() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	previous := s.subscription
	s.subscription = nil
	s.generation++
	s.snapshot = defaultSnapshot("")
	s.previousXP = 0
	s.previousLevel = defaultLevel
	s.checkedInLocally = false
	s.mu.Unlock()

	previous.close()
	s.notifier.Reset()
	s.notifyChange()
	return nil
}

// Close releases the subscription and waits for the push consumer to exit.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	previous := s.subscription
	s.subscription = nil
	s.generation++
	s.mu.Unlock()

	previous.close()
	s.baseCancel()
	s.consumers.Wait()
	s.notifier.Reset()
}

// ReloadBadges replaces the badge set with the server's current list.
func (s *Store) ReloadBadges(ctx context.Context) error {
	identityID, generation, err := s.activeIdentity()
	if err != nil {
		return err
	}
	return s.loadBadges(ctx, generation, identityID)
}

// RefreshCheckinStatus re-reads whether the identity already checked in today.
func (s *Store) RefreshCheckinStatus(ctx context.Context) error {
	identityID, generation, err := s.activeIdentity()
	if err != nil {
		return err
	}
	return s.refreshCheckinStatus(ctx, generation, identityID)
}

// PerformDailyCheckin asks the server to grant the daily check-in reward.
// A successful answer marks the identity as checked in and shows the reward right away;
// the authoritative XP arrives later through the change stream.
func (s *Store) PerformDailyCheckin(ctx context.Context) (CheckinResult, error) {
	identityID, generation, err := s.activeIdentity()
	if err != nil {
		return CheckinResult{Success: false, Message: "sign in to check in"}, err
	}

	result, err := s.backend.PerformCheckin(ctx, identityID)
	if err != nil {
		s.logError(opPerformCheckin, "procedure_failed", err, zap.String("identity_id", identityID))
		return CheckinResult{Success: false, Message: checkinFailedMessage}, fmt.Errorf("gamification: perform checkin: %w", err)
	}
	if !result.Success {
		s.logger.Info("check-in refused",
			zap.String("identity_id", identityID),
			zap.String("message", result.Message))
		return result, nil
	}

	s.mu.Lock()
	current := generation == s.generation
	var epoch uint64
	if current {
		s.snapshot.HasCheckedInToday = true
		s.checkedInLocally = true
		epoch = s.notifier.Epoch()
	}
	s.mu.Unlock()
	if !current {
		return result, nil
	}

	s.notifier.ShowXPGainIn(epoch, rewards.MustReward(rewards.ActionDailyCheckin), rewards.ReasonCheckin)
	s.notifyChange()
	return result, nil
}

func (s *Store) activeIdentity() (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", 0, ErrStoreClosed
	}
	if s.snapshot.IdentityID == "" {
		return "", 0, ErrNoIdentity
	}
	return s.snapshot.IdentityID, s.generation, nil
}

func (s *Store) loadProfile(ctx context.Context, generation uint64, identity Identity) {
	record, err := s.backend.FetchProfile(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			s.logger.Info("profile not provisioned yet", zap.String("identity_id", identity.ID))
		} else {
			s.logError(opLoadProfile, "fetch_failed", err, zap.String("identity_id", identity.ID))
		}
		return
	}

	level := ranks.ClampLevel(record.Level)

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	s.snapshot.Level = level
	s.snapshot.XP = record.XP
	s.snapshot.ProfileName = firstNonEmpty(record.FullName, identity.DisplayName, DefaultProfileName)
	s.snapshot.AvatarURL = firstNonEmpty(record.AvatarURL, identity.AvatarURL)
	s.previousXP = record.XP
	s.previousLevel = level
	s.mu.Unlock()

	s.notifyChange()
}

func (s *Store) openSubscription(generation uint64, identityID string) {
	subscriptionCtx, cancel := context.WithCancel(s.baseCtx)
	stream, unsubscribe, err := s.backend.SubscribeProfile(subscriptionCtx, identityID)
	if err != nil {
		cancel()
		s.logError(opSubscribe, "subscribe_failed", err, zap.String("identity_id", identityID))
		return
	}
	active := &subscription{cancel: cancel, unsubscribe: unsubscribe}

	s.mu.Lock()
	if generation != s.generation || s.closed {
		s.mu.Unlock()
		active.close()
		return
	}
	s.subscription = active
	s.consumers.Add(1)
	s.mu.Unlock()

	go s.consume(subscriptionCtx, generation, identityID, stream)
}

func (s *Store) consume(ctx context.Context, generation uint64, identityID string, stream <-chan ProfileRecord) {
	defer s.consumers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-stream:
			if !ok {
				s.logger.Warn("profile change stream closed", zap.String("identity_id", identityID))
				return
			}
			s.applyPush(generation, record)
		}
	}
}

// applyPush diffs a pushed record against the last known values and reports gains.
func (s *Store) applyPush(generation uint64, record ProfileRecord) bool {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return false
	}
	level := ranks.ClampLevel(record.Level)
	xpGained := record.XP - s.previousXP
	levelGained := level - s.previousLevel
	epoch := s.notifier.Epoch()

	s.snapshot.XP = record.XP
	s.snapshot.Level = level
	if record.FullName != "" {
		s.snapshot.ProfileName = record.FullName
	}
	if record.AvatarURL != "" {
		s.snapshot.AvatarURL = record.AvatarURL
	}
	s.previousXP = record.XP
	s.previousLevel = level
	identityID := s.snapshot.IdentityID
	s.mu.Unlock()

	s.logger.Debug("profile push applied",
		zap.String("operation", opPush),
		zap.String("identity_id", identityID),
		zap.Int64("xp", record.XP),
		zap.Int64("xp_gained", xpGained),
		zap.Int("level", level),
		zap.Int("level_gained", levelGained))

	// Toasts are dropped when Logout or SetIdentity reset the emitter after the epoch was read.
	if xpGained > 0 {
		s.notifier.ShowXPGainIn(epoch, xpGained, rewards.ReasonForAmount(xpGained))
	}
	if levelGained > 0 {
		s.notifier.ScheduleLevelUpIn(epoch, s.levelUpDelay, level)
	}
	s.notifyChange()
	return true
}

func (s *Store) loadBadges(ctx context.Context, generation uint64, identityID string) error {
	fetched, err := s.backend.FetchAwardedBadges(ctx, identityID)
	if err != nil {
		return err
	}
	badges := make([]Badge, 0, len(fetched))
	for _, badge := range fetched {
		badge.Unlocked = true
		badges = append(badges, badge)
	}

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.snapshot.Badges = badges
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

func (s *Store) refreshCheckinStatus(ctx context.Context, generation uint64, identityID string) error {
	checkedIn, err := s.backend.HasCheckedInToday(ctx, identityID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return nil
	}
	if !checkedIn && s.checkedInLocally {
		s.logger.Debug("stale check-in status ignored", zap.String("identity_id", identityID))
	}
	s.snapshot.HasCheckedInToday = checkedIn || s.checkedInLocally
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

func (s *Store) notifyChange() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.State())
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Warn("gamification store error", attrs...)
}
