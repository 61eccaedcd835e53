package rewards

const (
	ReasonNewPost         = "new post"
	ReasonCheckin         = "checkin"
	ReasonReceivedComment = "received comment"
	ReasonReceivedShare   = "received share"
	ReasonInteraction     = "interaction"
	ReasonBonus           = "bonus"
	ReasonGeneric         = "generic activity"
)

// BonusThreshold is the smallest unmatched gain labelled as a bonus.
const BonusThreshold int64 = 50

type reasonRule struct {
	actions []Action
	reason  string
}

// reasonRules are evaluated in order; the first rule whose reward equals the gain wins.
// Check-in and received share both grant 3 XP, so 3 resolves to ReasonCheckin.
var reasonRules = []reasonRule{
	{actions: []Action{ActionCreatePost}, reason: ReasonNewPost},
	{actions: []Action{ActionDailyCheckin}, reason: ReasonCheckin},
	{actions: []Action{ActionReceiveComment}, reason: ReasonReceivedComment},
	{actions: []Action{ActionReceiveShare}, reason: ReasonReceivedShare},
	{actions: []Action{ActionReceiveLike, ActionGiveComment}, reason: ReasonInteraction},
}

// ReasonForAmount labels an observed XP gain by reverse-mapping it onto the catalog.
func ReasonForAmount(amount int64) string {
	for _, rule := range reasonRules {
		for _, action := range rule.actions {
			if actionRewards[action] == amount {
				return rule.reason
			}
		}
	}
	if amount >= BonusThreshold {
		return ReasonBonus
	}
	return ReasonGeneric
}
