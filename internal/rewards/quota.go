package rewards

import "math"

// Period is the window an image quota applies to.
type Period string

const (
	PeriodDay  Period = "day"
	PeriodWeek Period = "week"
)

// Unlimited is the quota count sentinel for "no bound".
const Unlimited = math.MaxInt

// ImageQuota caps how many image posts a level may publish per period.
type ImageQuota struct {
	Count       int    `json:"count"`
	Period      Period `json:"period"`
	Description string `json:"description"`
}

// IsUnlimited reports whether the quota has no bound.
func (q ImageQuota) IsUnlimited() bool {
	return q.Count == Unlimited
}

var imageQuotas = map[int]ImageQuota{
	1: {Count: 3, Period: PeriodWeek, Description: "3 image posts / 7 days"},
	2: {Count: 5, Period: PeriodWeek, Description: "5 image posts / 7 days"},
	3: {Count: 2, Period: PeriodDay, Description: "2 image posts / day"},
	4: {Count: 2, Period: PeriodDay, Description: "2 image posts / day"},
	5: {Count: Unlimited, Period: PeriodDay, Description: "Unlimited"},
}

// ImageLimitForLevel returns the quota for level, falling back to the level 1 quota.
func ImageLimitForLevel(level int) ImageQuota {
	if quota, ok := imageQuotas[level]; ok {
		return quota
	}
	return imageQuotas[1]
}
