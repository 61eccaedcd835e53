// Package rewards defines the fixed XP economy: per-action rewards, level-up
// bonuses, image posting quotas and the reason labels shown for XP gains.
package rewards

import (
	"errors"
	"fmt"
	"strings"
)

// Action enumerates activities that grant XP.
type Action string

const (
	ActionDailyCheckin   Action = "daily_checkin"
	ActionCreatePost     Action = "create_post"
	ActionReceiveLike    Action = "receive_like"
	ActionReceiveComment Action = "receive_comment"
	ActionReceiveShare   Action = "receive_share"
	ActionGiveComment    Action = "give_comment"
)

// ErrUnknownAction indicates an action outside the catalog.
var ErrUnknownAction = errors.New("rewards: unknown action")

var actionRewards = map[Action]int64{
	ActionDailyCheckin:   3,
	ActionCreatePost:     5,
	ActionReceiveLike:    1,
	ActionReceiveComment: 2,
	ActionReceiveShare:   3,
	ActionGiveComment:    1,
}

// actionOrder fixes the presentation order of the catalog.
var actionOrder = []Action{
	ActionDailyCheckin,
	ActionCreatePost,
	ActionReceiveLike,
	ActionReceiveComment,
	ActionReceiveShare,
	ActionGiveComment,
}

var levelUpBonuses = map[int]int64{
	2: 50,
	3: 80,
	4: 150,
	5: 300,
}

// ParseAction validates raw input against the catalog.
func ParseAction(value string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := actionRewards[action]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, value)
	}
	return action, nil
}

// Reward returns the XP granted for an action and whether the action is known.
func Reward(action Action) (int64, bool) {
	amount, ok := actionRewards[action]
	return amount, ok
}

// MustReward returns the XP granted for a catalog action and panics otherwise.
func MustReward(action Action) int64 {
	amount, ok := actionRewards[action]
	if !ok {
		panic(fmt.Sprintf("rewards: unknown action %q", action))
	}
	return amount
}

// Actions lists the catalog in display order.
func Actions() []Action {
	out := make([]Action, len(actionOrder))
	copy(out, actionOrder)
	return out
}

// LevelUpBonus returns the one-time bonus for reaching level, or zero.
func LevelUpBonus(level int) int64 {
	return levelUpBonuses[level]
}
