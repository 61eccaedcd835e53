// Package ranks holds the five-tier rank table and the pure functions that map
// XP and levels onto it.
package ranks

import (
	"math"

	"golang.org/x/text/language"
)

const (
	// MinLevel is the lowest rank level.
	MinLevel = 1
	// MaxLevel is the highest rank level; its XP span is unbounded.
	MaxLevel = 5
	// Unbounded marks the open upper end of the top rank.
	Unbounded int64 = math.MaxInt64
)

// Rank describes one tier of the progression ladder.
type Rank struct {
	Level       int    `json:"level"`
	Name        string `json:"name"`
	NameVi      string `json:"name_vi"`
	Description string `json:"description"`
	Image       string `json:"image"`
	MinXP       int64  `json:"min_xp"`
	MaxXP       int64  `json:"max_xp"`
	Color       string `json:"color"`
	GlowColor   string `json:"glow_color"`
}

// IsMax reports whether the rank is the top of the ladder.
func (r Rank) IsMax() bool {
	return r.Level == MaxLevel
}

// Span returns the number of XP points covered by a bounded rank, or zero for the top rank.
func (r Rank) Span() int64 {
	if r.IsMax() {
		return 0
	}
	return r.MaxXP - r.MinXP + 1
}

var displayLanguages = language.NewMatcher([]language.Tag{
	language.English,
	language.Vietnamese,
})

// DisplayName picks the localized rank name for the supplied language tag.
func (r Rank) DisplayName(tag language.Tag) string {
	_, index, confidence := displayLanguages.Match(tag)
	if index == 1 && confidence != language.No && r.NameVi != "" {
		return r.NameVi
	}
	return r.Name
}

// ParseLocale converts a BCP 47 string into a language tag, defaulting to English.
func ParseLocale(value string) language.Tag {
	tag, err := language.Parse(value)
	if err != nil {
		return language.English
	}
	return tag
}

var table = [MaxLevel]Rank{
	{
		Level:       1,
		Name:        "Silver Koi",
		NameVi:      "Cá Koi Bạc",
		Description: "Beginner - Just starting the journey",
		Image:       "/ranks/rank-1.png",
		MinXP:       0,
		MaxXP:       499,
		Color:       "text-gray-400",
		GlowColor:   "shadow-gray-400/50",
	},
	{
		Level:       2,
		Name:        "Golden Koi",
		NameVi:      "Cá Koi Vàng",
		Description: "Apprentice - Learning the ropes",
		Image:       "/ranks/rank-2.png",
		MinXP:       500,
		MaxXP:       999,
		Color:       "text-yellow-500",
		GlowColor:   "shadow-yellow-500/50",
	},
	{
		Level:       3,
		Name:        "Jade Dragon",
		NameVi:      "Rồng Xanh Ngọc",
		Description: "Skilled - Mastering the craft",
		Image:       "/ranks/rank-3.png",
		MinXP:       1000,
		MaxXP:       2499,
		Color:       "text-emerald-500",
		GlowColor:   "shadow-emerald-500/50",
	},
	{
		Level:       4,
		Name:        "Thunder Dragon",
		NameVi:      "Rồng Xanh Dương",
		Description: "Expert - Commanding respect",
		Image:       "/ranks/rank-4.png",
		MinXP:       2500,
		MaxXP:       4999,
		Color:       "text-blue-500",
		GlowColor:   "shadow-blue-500/50",
	},
	{
		Level:       5,
		Name:        "Phoenix Dragon",
		NameVi:      "Rồng Đỏ",
		Description: "Legend - The ultimate master",
		Image:       "/ranks/rank-5.png",
		MinXP:       5000,
		MaxXP:       Unbounded,
		Color:       "text-red-500",
		GlowColor:   "shadow-red-500/50",
	},
}

// Table returns a copy of the ordered rank table.
func Table() []Rank {
	out := make([]Rank, len(table))
	copy(out, table[:])
	return out
}

// ClampLevel restricts a level to the valid rank range.
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// ByLevel returns the rank for a level, clamping out-of-range input.
func ByLevel(level int) Rank {
	return table[ClampLevel(level)-1]
}

// ByXP returns the highest rank whose lower bound does not exceed xp.
// Negative XP resolves to the first rank.
func ByXP(xp int64) Rank {
	for index := len(table) - 1; index >= 0; index-- {
		if xp >= table[index].MinXP {
			return table[index]
		}
	}
	return table[0]
}

// ProgressInRank returns the completion percentage (0-100) inside the rank containing xp.
func ProgressInRank(xp int64) float64 {
	rank := ByXP(xp)
	if rank.IsMax() {
		return 100
	}
	progress := float64(xp-rank.MinXP) / float64(rank.Span()) * 100
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

// XPToNextRank returns the XP still needed to enter the next rank, or zero at the top.
func XPToNextRank(xp int64) int64 {
	rank := ByXP(xp)
	if rank.IsMax() {
		return 0
	}
	return rank.MaxXP + 1 - xp
}
