package email

import (
	"context"
	"errors"
)

// Message is one rendered outbound email. IdempotencyKey is stable across
// retries of the same workflow step so transports can drop replays.
type Message struct {
	To             string
	From           string
	FromName       string
	Subject        string
	HTMLBody       string
	TemplateID     string
	IdempotencyKey string
}

type Receipt struct {
	MessageID string
	Provider  string
}

type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// ErrInvalidRecipient marks a permanent rejection of the address; retrying
// cannot succeed.
var ErrInvalidRecipient = errors.New("invalid_recipient")

// IsPermanent reports whether a send error should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidRecipient)
}

type NoOpProvider struct{}

func (p *NoOpProvider) Name() string { return "noop" }

func (p *NoOpProvider) Send(ctx context.Context, msg Message) (Receipt, error) {
	return Receipt{MessageID: msg.IdempotencyKey, Provider: p.Name()}, nil
}
