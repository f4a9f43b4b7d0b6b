package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Tier string

const (
	TierCold       Tier = "cold"
	TierWarm       Tier = "warm"
	TierHot        Tier = "hot"
	TierSalesReady Tier = "sales_ready"
)

const (
	MinScore = 0
	MaxScore = 100
)

// TierFor buckets a clamped score.
func TierFor(score int) Tier {
	switch {
	case score >= 80:
		return TierSalesReady
	case score >= 50:
		return TierHot
	case score >= 25:
		return TierWarm
	default:
		return TierCold
	}
}

func (t Tier) Valid() bool {
	switch t {
	case TierCold, TierWarm, TierHot, TierSalesReady:
		return true
	default:
		return false
	}
}

// Clamp bounds a raw score to the published range.
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// LeadScore is the engagement score of one entity. Score is BaseScore (derived
// from the event log) plus the manual Adjustment, clamped.
type LeadScore struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID `gorm:"not null;uniqueIndex:ux_lead_scores_entity,priority:1;index:ix_lead_scores_tier,priority:1" json:"organization_id"`
	EntityID       string       `gorm:"type:text;not null;uniqueIndex:ux_lead_scores_entity,priority:2" json:"entity_id"`
	EntityType     string       `gorm:"type:text;not null" json:"entity_type"`
	Score          int          `gorm:"not null" json:"score"`
	Tier           Tier         `gorm:"type:text;not null;index:ix_lead_scores_tier,priority:2" json:"tier"`
	BaseScore      int          `gorm:"not null" json:"base_score"`
	Adjustment     int          `gorm:"not null;default:0" json:"adjustment"`
	LastActivityAt *time.Time   `json:"last_activity_at,omitempty"`
	ComputedAt     time.Time    `gorm:"not null;index" json:"computed_at"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (LeadScore) TableName() string { return "lead_scores" }
