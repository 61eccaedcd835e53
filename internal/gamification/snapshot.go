package gamification

import (
	"github.com/MarcoPoloResearchLab/koi/internal/ranks"
	"github.com/MarcoPoloResearchLab/koi/internal/rewards"
)

const (
	// DefaultProfileName is shown until a profile provides a name.
	DefaultProfileName = "Guest"
	defaultLevel       = ranks.MinLevel
)

// Snapshot is the in-memory progression state of one identity.
type Snapshot struct {
	IdentityID        string
	Level             int
	XP                int64
	ProfileName       string
	AvatarURL         string
	Badges            []Badge
	HasCheckedInToday bool
}

func defaultSnapshot(identityID string) Snapshot {
	return Snapshot{
		IdentityID:  identityID,
		Level:       defaultLevel,
		ProfileName: DefaultProfileName,
		Badges:      []Badge{},
	}
}

// View is the read model exposed to the display layer.
type View struct {
	IdentityID        string
	Level             int
	XP                int64
	XPToNextLevel     int64
	XPProgress        float64
	Rank              ranks.Rank
	Badges            []Badge
	ProfileName       string
	AvatarURL         string
	HasCheckedInToday bool
	ImagePostLimit    rewards.ImageQuota
}

func (s Snapshot) view() View {
	badges := make([]Badge, len(s.Badges))
	copy(badges, s.Badges)
	return View{
		IdentityID:        s.IdentityID,
		Level:             s.Level,
		XP:                s.XP,
		XPToNextLevel:     ranks.XPToNextRank(s.XP),
		XPProgress:        ranks.ProgressInRank(s.XP),
		Rank:              ranks.ByLevel(s.Level),
		Badges:            badges,
		ProfileName:       s.ProfileName,
		AvatarURL:         s.AvatarURL,
		HasCheckedInToday: s.HasCheckedInToday,
		ImagePostLimit:    rewards.ImageLimitForLevel(s.Level),
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
