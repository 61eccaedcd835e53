package gamification

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoIdentity indicates that no authenticated identity is available.
	ErrNoIdentity = errors.New("gamification: no identity")
	// ErrProfileNotFound indicates that the identity has no persisted profile yet.
	ErrProfileNotFound = errors.New("gamification: profile not found")
	// ErrStoreClosed indicates that the store was closed.
	ErrStoreClosed = errors.New("gamification: store closed")
	// ErrMissingBackend indicates that the store was built without a backend.
	ErrMissingBackend = errors.New("gamification: backend required")
)

// Identity is the authenticated actor whose progression is tracked.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ProfileRecord is the persisted progression record, as read or pushed.
// Empty FullName or AvatarURL means the field was not supplied.
type ProfileRecord struct {
	ID        string `json:"id"`
	Level     int    `json:"level"`
	XP        int64  `json:"xp"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Badge is an awarded badge. Fetched badges are always unlocked.
type Badge struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Icon        string    `json:"icon"`
	Description string    `json:"description"`
	AwardedAt   time.Time `json:"awarded_at"`
	Unlocked    bool      `json:"unlocked"`
}

// CheckinResult is the server's authoritative answer to a check-in attempt.
type CheckinResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// IdentityResolver reports the currently authenticated identity.
// It returns ErrNoIdentity when nobody is signed in.
type IdentityResolver interface {
	CurrentIdentity(ctx context.Context) (Identity, error)
}

// ProfileReader performs the one-shot profile read.
type ProfileReader interface {
	FetchProfile(ctx context.Context, identityID string) (ProfileRecord, error)
}

// ProfileSubscriber opens the change stream for one identity's record.
// The returned cleanup releases the subscription; the stream may be closed by the backend.
type ProfileSubscriber interface {
	SubscribeProfile(ctx context.Context, identityID string) (<-chan ProfileRecord, func(), error)
}

// BadgeReader lists the badges awarded to an identity.
type BadgeReader interface {
	FetchAwardedBadges(ctx context.Context, identityID string) ([]Badge, error)
}

// CheckinService exposes the daily check-in procedure and its status.
type CheckinService interface {
	PerformCheckin(ctx context.Context, identityID string) (CheckinResult, error)
	HasCheckedInToday(ctx context.Context, identityID string) (bool, error)
}

// Backend is the complete data-platform contract consumed by the Store.
type Backend interface {
	ProfileReader
	ProfileSubscriber
	BadgeReader
	CheckinService
}
