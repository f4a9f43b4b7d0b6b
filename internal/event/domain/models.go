// Package domain holds the append-only business event log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType = string

const (
	EventEmailSent     EventType = "email_sent"
	EventEmailOpened   EventType = "email_opened"
	EventEmailClicked  EventType = "email_clicked"
	EventEmailBounced  EventType = "email_bounced"
	EventSpamComplaint EventType = "spam_complaint"
	EventUnsubscribed  EventType = "unsubscribed"
	EventReplyReceived EventType = "reply_received"
	EventMeetingBooked EventType = "meeting_booked"
	EventStageChanged  EventType = "stage_changed"
	EventFormSubmitted EventType = "form_submitted"
	EventPageVisited   EventType = "page_visited"
)

const EntityTypeContact = "contact"

// Event is an immutable business fact. Recipient and RecipientDomain are
// denormalized from email payloads so gate queries stay index-only.
type Event struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID   `gorm:"not null;uniqueIndex:ux_events_dedupe,priority:1;index:ix_events_entity,priority:1;index:ix_events_recipient,priority:1;index:ix_events_domain,priority:1" json:"organization_id"`
	EventType       string         `gorm:"type:text;not null;index:ix_events_recipient,priority:3;index:ix_events_domain,priority:3" json:"event_type"`
	EntityType      string         `gorm:"type:text;not null" json:"entity_type"`
	EntityID        string         `gorm:"type:text;not null;index:ix_events_entity,priority:2" json:"entity_id"`
	Source          string         `gorm:"type:text;not null;default:''" json:"source"`
	OccurredAt      time.Time      `gorm:"not null;index:ix_events_entity,priority:3;index:ix_events_recipient,priority:4;index:ix_events_domain,priority:4" json:"occurred_at"`
	ReceivedAt      time.Time      `gorm:"not null" json:"received_at"`
	DedupeKey       string         `gorm:"type:text;not null;uniqueIndex:ux_events_dedupe,priority:2" json:"dedupe_key"`
	Recipient       string         `gorm:"type:text;not null;default:'';index:ix_events_recipient,priority:2" json:"-"`
	RecipientDomain string         `gorm:"type:text;not null;default:'';index:ix_events_domain,priority:2" json:"-"`
	Payload         datatypes.JSON `gorm:"not null" json:"payload"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "events" }

// DecodedPayload returns the typed payload for the event type.
func (e Event) DecodedPayload() (Payload, error) {
	return DecodePayload(e.EventType, e.Payload)
}
