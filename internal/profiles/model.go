package profiles

import (
	"time"
)

// Profile is the persisted progression row of one identity.
type Profile struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"id"`
	Level       int       `gorm:"column:level;not null;default:1" json:"level"`
	XP          int64     `gorm:"column:xp;not null;default:0" json:"xp"`
	FullName    string    `gorm:"column:full_name;size:320" json:"full_name"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512" json:"avatar_url"`
	Email       string    `gorm:"column:email;size:320" json:"-"`
	NameChanged bool      `gorm:"column:name_changed;not null;default:false" json:"name_changed"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// Badge is a catalog entry. MinLevel > 0 marks badges granted on reaching that level.
type Badge struct {
	ID          string    `gorm:"column:badge_id;primaryKey;size:120;not null"`
	Name        string    `gorm:"column:name;size:190;not null"`
	Icon        string    `gorm:"column:icon;size:512"`
	Description string    `gorm:"column:description;size:1024"`
	MinLevel    int       `gorm:"column:min_level;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing the badge catalog.
func (Badge) TableName() string {
	return "badges"
}

// UserBadge records that a badge was awarded to a user.
type UserBadge struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_user_badges_user_badge"`
	BadgeID   string    `gorm:"column:badge_id;size:120;not null;uniqueIndex:idx_user_badges_user_badge"`
	AwardedAt time.Time `gorm:"column:awarded_at;not null"`
}

// TableName exposes the table backing awarded badges.
func (UserBadge) TableName() string {
	return "user_badges"
}

// DailyCheckin is one check-in per user per UTC day.
type DailyCheckin struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_daily_checkins_user_day"`
	Day       string    `gorm:"column:day;size:10;not null;uniqueIndex:idx_daily_checkins_user_day;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing check-ins.
func (DailyCheckin) TableName() string {
	return "daily_checkins"
}

// LedgerEntry records every XP grant applied to a profile.
type LedgerEntry struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index"`
	Action       string    `gorm:"column:action;size:64;not null"`
	Amount       int64     `gorm:"column:amount;not null"`
	BalanceAfter int64     `gorm:"column:balance_after;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing the XP ledger.
func (LedgerEntry) TableName() string {
	return "xp_ledger"
}

// Models lists every table owned by this package, for schema migration.
func Models() []any {
	return []any{&Profile{}, &Badge{}, &UserBadge{}, &DailyCheckin{}, &LedgerEntry{}}
}

// AwardedBadge is a catalog badge joined with its award time.
type AwardedBadge struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Icon        string    `json:"icon"`
	Description string    `json:"description"`
	AwardedAt   time.Time `json:"awarded_at"`
}

// CheckinResult is the answer of the check-in procedure.
type CheckinResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Grant describes the outcome of one XP award.
type Grant struct {
	Action        string   `json:"action"`
	Amount        int64    `json:"amount"`
	Bonus         int64    `json:"bonus"`
	PreviousLevel int      `json:"previous_level"`
	Profile       Profile  `json:"profile"`
	AwardedBadges []string `json:"awarded_badges,omitempty"`
}

// LeveledUp reports whether the grant moved the profile to a higher level.
func (g Grant) LeveledUp() bool {
	return g.Profile.Level > g.PreviousLevel
}
