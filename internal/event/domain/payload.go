package domain

import (
	"encoding/json"
	"net/mail"
	"strings"
	"time"
)

type PayloadKind string

const (
	PayloadEmail       PayloadKind = "email"
	PayloadReply       PayloadKind = "reply"
	PayloadMeeting     PayloadKind = "meeting"
	PayloadStageChange PayloadKind = "stage_change"
	PayloadOpaque      PayloadKind = "opaque"
)

// Payload is a tagged union over the known event shapes. Unknown event types
// decode to OpaquePayload so producers can ship new types ahead of the engine.
type Payload interface {
	Kind() PayloadKind
}

type EmailPayload struct {
	Email        string `json:"email"`
	MessageID    string `json:"message_id,omitempty"`
	Subject      string `json:"subject,omitempty"`
	URL          string `json:"url,omitempty"`
	BounceType   string `json:"bounce_type,omitempty"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	NodeID       string `json:"node_id,omitempty"`
}

func (EmailPayload) Kind() PayloadKind { return PayloadEmail }

// HardBounce reports whether a bounce is permanent. Missing bounce types are
// treated as hard so the address stays protected.
func (p EmailPayload) HardBounce() bool {
	switch strings.ToLower(strings.TrimSpace(p.BounceType)) {
	case "soft", "transient":
		return false
	default:
		return true
	}
}

type ReplyPayload struct {
	Email     string `json:"email"`
	MessageID string `json:"message_id,omitempty"`
	InReplyTo string `json:"in_reply_to,omitempty"`
	Sentiment string `json:"sentiment,omitempty"`
}

func (ReplyPayload) Kind() PayloadKind { return PayloadReply }

type MeetingPayload struct {
	Email       string     `json:"email,omitempty"`
	MeetingID   string     `json:"meeting_id,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

func (MeetingPayload) Kind() PayloadKind { return PayloadMeeting }

type StageChangePayload struct {
	FromStage string `json:"from_stage,omitempty"`
	ToStage   string `json:"to_stage"`
}

func (StageChangePayload) Kind() PayloadKind { return PayloadStageChange }

type OpaquePayload struct {
	Fields map[string]any
}

func (OpaquePayload) Kind() PayloadKind { return PayloadOpaque }

func (p OpaquePayload) MarshalJSON() ([]byte, error) {
	if p.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Fields)
}

// DecodePayload parses raw JSON into the variant registered for eventType.
func DecodePayload(eventType string, raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	var (
		payload Payload
		err     error
	)
	switch eventType {
	case EventEmailSent, EventEmailOpened, EventEmailClicked, EventEmailBounced, EventSpamComplaint, EventUnsubscribed:
		var p EmailPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventReplyReceived:
		var p ReplyPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventMeetingBooked:
		var p MeetingPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventStageChanged:
		var p StageChangePayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		fields := map[string]any{}
		err = json.Unmarshal(raw, &fields)
		payload = OpaquePayload{Fields: fields}
	}
	if err != nil {
		return nil, ErrInvalidPayload
	}
	return payload, nil
}

// ValidatePayload enforces the required fields of each typed variant.
func ValidatePayload(p Payload) error {
	switch typed := p.(type) {
	case EmailPayload:
		if _, err := NormalizeEmail(typed.Email); err != nil {
			return ErrInvalidPayload
		}
	case ReplyPayload:
		if _, err := NormalizeEmail(typed.Email); err != nil {
			return ErrInvalidPayload
		}
	case MeetingPayload:
		if typed.Email != "" {
			if _, err := NormalizeEmail(typed.Email); err != nil {
				return ErrInvalidPayload
			}
		}
	case StageChangePayload:
		if strings.TrimSpace(typed.ToStage) == "" {
			return ErrInvalidPayload
		}
	}
	return nil
}

// RecipientOf returns the normalized address the event concerns, if any.
func RecipientOf(p Payload) string {
	var raw string
	switch typed := p.(type) {
	case EmailPayload:
		raw = typed.Email
	case ReplyPayload:
		raw = typed.Email
	case MeetingPayload:
		raw = typed.Email
	}
	email, err := NormalizeEmail(raw)
	if err != nil {
		return ""
	}
	return email
}

// NormalizeEmail lowercases and validates a bare address.
func NormalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

// DomainOf returns the lowercase domain part of a normalized address.
func DomainOf(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
