package engine

import (
	"bytes"
	"context"
	"encoding/json"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/sequencer/internal/config"
	crmdomain "github.com/smallbiznis/sequencer/internal/crm/domain"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	"github.com/smallbiznis/sequencer/internal/providers/email"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"go.uber.org/zap"
)

// sendKey is both the transport idempotency key and the dedupe key of the
// recorded email_sent event.
func sendKey(e domain.Enrollment, nodeID string) string {
	return e.ID.String() + ":" + nodeID
}

func (t *tick) email(ctx context.Context, node domain.Node, cfg domain.EmailConfig) (step, error) {
	en := t.engine

	// a recorded send means an earlier tick delivered but lost its commit
	sent, err := en.eventRepo.FindByDedupeKey(ctx, en.db, t.e.OrgID, sendKey(t.e, node.ID))
	if err != nil {
		return step{}, err
	}
	if sent != nil {
		return follow(domain.EdgeDefault, "sent"), nil
	}

	entity, err := t.entity(ctx)
	if err != nil {
		return step{}, err
	}
	recipient := ""
	if entity != nil {
		recipient = entity.Email
	}
	if recipient == "" {
		recipient, _ = t.e.Snapshot("email")
	}
	recipient, err = eventdomain.NormalizeEmail(recipient)
	if err != nil {
		t.e.LastError = "no deliverable address for entity " + t.e.EntityID
		return finish(domain.OutcomeMissingRecipient, "missing_recipient"), nil
	}

	check, err := en.gate.Check(ctx, recipient)
	if err != nil {
		return step{}, err
	}
	if !check.Allowed {
		return finish(domain.SuppressedOutcome(string(check.Reason)), "suppressed"), nil
	}

	msg, err := t.render(cfg, recipient, entity)
	if err != nil {
		t.e.LastError = err.Error()
		return finish(domain.OutcomeRenderFailed, "render_failed"), nil
	}
	msg.To = recipient
	msg.From = en.from
	msg.FromName = en.fromName
	msg.IdempotencyKey = sendKey(t.e, node.ID)

	receipt, err := en.sender.Send(ctx, msg)
	if err != nil {
		return t.sendFailed(ctx, node, err), nil
	}
	en.metrics.RecordSend(ctx, en.sender.Name(), "sent")

	payload, err := json.Marshal(eventdomain.EmailPayload{
		Email:        recipient,
		MessageID:    receipt.MessageID,
		Subject:      msg.Subject,
		WorkflowID:   t.e.WorkflowID.String(),
		EnrollmentID: t.e.ID.String(),
		NodeID:       node.ID,
	})
	if err != nil {
		return step{}, err
	}
	occurred := t.now
	_, err = en.events.Ingest(ctx, eventdomain.IngestRequest{
		EventType:  eventdomain.EventEmailSent,
		EntityType: t.e.EntityType,
		EntityID:   t.e.EntityID,
		Source:     sourceEngine,
		OccurredAt: &occurred,
		Payload:    payload,
		DedupeKey:  sendKey(t.e, node.ID),
	})
	if err != nil {
		return step{}, err
	}
	return follow(domain.EdgeDefault, "sent"), nil
}

// sendFailed keeps the enrollment on the email node and schedules the next
// attempt, or stops it once MaxAttempts is reached.
func (t *tick) sendFailed(ctx context.Context, node domain.Node, sendErr error) step {
	en := t.engine
	t.e.SendAttempts++
	t.e.LastError = sendErr.Error()

	if email.IsPermanent(sendErr) {
		en.metrics.RecordSend(ctx, en.sender.Name(), "rejected")
		return finish(domain.OutcomeInvalidRecipient, "rejected")
	}
	en.metrics.RecordSend(ctx, en.sender.Name(), "failed")

	delivery := en.engineCfg.Get().Delivery
	if t.e.SendAttempts >= delivery.MaxAttempts {
		t.log.Warn("send attempts exhausted",
			zap.String("node_id", node.ID),
			zap.Int("attempts", t.e.SendAttempts),
			zap.Error(sendErr),
		)
		return finish(domain.OutcomeSendFailed, "send_failed")
	}

	delay := retryDelay(delivery, t.e.SendAttempts)
	t.log.Info("send failed, retry scheduled",
		zap.String("node_id", node.ID),
		zap.Int("attempt", t.e.SendAttempts),
		zap.Duration("retry_in", delay),
		zap.Error(sendErr),
	)
	return hold(t.now.Add(delay), "retry")
}

// retryDelay is the backoff before attempt+1: initial, x2 per attempt,
// capped at the configured maximum.
func retryDelay(cfg config.DeliveryConfig, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	delay := cfg.InitialBackoff
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

type renderData struct {
	Email      string
	EntityID   string
	EntityType string
	Fields     map[string]string
	State      map[string]any
}

func (t *tick) render(cfg domain.EmailConfig, recipient string, entity *crmdomain.Entity) (email.Message, error) {
	data := renderData{
		Email:      recipient,
		EntityID:   t.e.EntityID,
		EntityType: t.e.EntityType,
		Fields:     map[string]string{},
		State:      map[string]any(t.e.StateSnapshot),
	}
	if entity != nil {
		for k, v := range entity.Fields {
			data.Fields[k] = v
		}
	}

	subjectTpl, err := texttemplate.New("subject").Option("missingkey=zero").Parse(cfg.Subject)
	if err != nil {
		return email.Message{}, err
	}
	var subject bytes.Buffer
	if err := subjectTpl.Execute(&subject, data); err != nil {
		return email.Message{}, err
	}

	bodyTpl, err := htmltemplate.New("body").Option("missingkey=zero").Parse(cfg.Body)
	if err != nil {
		return email.Message{}, err
	}
	var body bytes.Buffer
	if err := bodyTpl.Execute(&body, data); err != nil {
		return email.Message{}, err
	}

	return email.Message{
		Subject:    strings.TrimSpace(subject.String()),
		HTMLBody:   body.String(),
		TemplateID: cfg.TemplateID,
	}, nil
}
