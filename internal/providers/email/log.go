package email

import (
	"context"

	"go.uber.org/zap"
)

// LogProvider writes messages to the logger instead of delivering them.
type LogProvider struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("email.log")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	p.log.Info("email captured",
		zap.String("idempotency_key", msg.IdempotencyKey),
		zap.String("template_id", msg.TemplateID),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.HTMLBody)),
	)
	return Receipt{MessageID: msg.IdempotencyKey, Provider: p.Name()}, nil
}
