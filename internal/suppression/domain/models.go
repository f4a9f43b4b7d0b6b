package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Reason string

const (
	ReasonHardBounce     Reason = "hard_bounce"
	ReasonSpamComplaint  Reason = "spam_complaint"
	ReasonUnsubscribed   Reason = "unsubscribed"
	ReasonManual         Reason = "manual"
	ReasonFrequencyCap   Reason = "frequency_cap"
	ReasonDomainThrottle Reason = "domain_throttle"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonHardBounce, ReasonSpamComplaint, ReasonUnsubscribed, ReasonManual, ReasonFrequencyCap, ReasonDomainThrottle:
		return true
	default:
		return false
	}
}

const (
	FrequencyCapLimit    = 5
	FrequencyCapWindow   = 7 * 24 * time.Hour
	DomainThrottleLimit  = 50
	DomainThrottleWindow = time.Hour
)

// Entry blocks sends to one address. A nil ExpiresAt never expires.
type Entry struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;uniqueIndex:ux_suppression_email,priority:1" json:"organization_id"`
	Email     string       `gorm:"type:text;not null;uniqueIndex:ux_suppression_email,priority:2" json:"email"`
	Reason    Reason       `gorm:"type:text;not null" json:"reason"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Entry) TableName() string { return "suppression_entries" }

// Active reports whether the entry still blocks at now.
func (e Entry) Active(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}
