package activity

import (
	"context"
	"encoding/json"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/sequencer/internal/config"
	"github.com/smallbiznis/sequencer/internal/crm/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultChannel = "crm.activity"

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Redis *redis.Client `optional:"true"`
}

// New publishes over redis pub/sub when a client is configured and falls
// back to logging otherwise.
func New(p Params) domain.ActivitySink {
	log := p.Log.Named("crm.activity")
	if p.Redis == nil {
		return &logSink{log: log}
	}
	channel := strings.TrimSpace(p.Cfg.Activity.Channel)
	if channel == "" {
		channel = defaultChannel
	}
	return &redisSink{client: p.Redis, channel: channel, log: log}
}

type redisSink struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func (s *redisSink) Publish(ctx context.Context, activity domain.Activity) error {
	payload, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

type logSink struct {
	log *zap.Logger
}

func (s *logSink) Publish(_ context.Context, activity domain.Activity) error {
	s.log.Info("crm activity",
		zap.String("type", string(activity.Type)),
		zap.String("org_id", activity.OrgID),
		zap.String("entity_id", activity.EntityID),
		zap.String("enrollment_id", activity.EnrollmentID),
		zap.String("outcome", activity.Outcome),
	)
	return nil
}
