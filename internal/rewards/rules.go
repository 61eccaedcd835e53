package rewards

// ActionRule is one line of the published XP rules.
type ActionRule struct {
	Action Action `json:"action"`
	XP     int64  `json:"xp"`
}

// BonusRule is one line of the published level-up bonus rules.
type BonusRule struct {
	Level int   `json:"level"`
	XP    int64 `json:"xp"`
}

// QuotaRule pairs a level with its image quota.
type QuotaRule struct {
	Level int        `json:"level"`
	Quota ImageQuota `json:"quota"`
}

// Rules is the complete, display-ready XP economy.
type Rules struct {
	Actions []ActionRule `json:"actions"`
	Bonuses []BonusRule  `json:"bonuses"`
	Quotas  []QuotaRule  `json:"quotas"`
}

// PublishedRules assembles the catalog tables in display order.
func PublishedRules() Rules {
	rules := Rules{
		Actions: make([]ActionRule, 0, len(actionOrder)),
		Bonuses: make([]BonusRule, 0, len(levelUpBonuses)),
		Quotas:  make([]QuotaRule, 0, len(imageQuotas)),
	}
	for _, action := range actionOrder {
		rules.Actions = append(rules.Actions, ActionRule{Action: action, XP: actionRewards[action]})
	}
	for level := 2; level <= 5; level++ {
		rules.Bonuses = append(rules.Bonuses, BonusRule{Level: level, XP: levelUpBonuses[level]})
	}
	for level := 1; level <= 5; level++ {
		rules.Quotas = append(rules.Quotas, QuotaRule{Level: level, Quota: imageQuotas[level]})
	}
	return rules
}
