package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/cache"
	"github.com/smallbiznis/sequencer/internal/crm/domain"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultTTL = 30 * time.Second

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type gormResolver struct {
	db    *gorm.DB
	log   *zap.Logger
	cache cache.Cache[string, domain.Entity]
	ttl   time.Duration
}

func New(p Params) domain.Resolver {
	return &gormResolver{
		db:    p.DB,
		log:   p.Log.Named("crm.resolver"),
		cache: cache.NewTTLCache[string, domain.Entity](),
		ttl:   defaultTTL,
	}
}

func (r *gormResolver) Resolve(ctx context.Context, orgID snowflake.ID, entityType, entityID string) (*domain.Entity, error) {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	if entityType != eventdomain.EntityTypeContact {
		return nil, domain.ErrEntityNotFound
	}

	key := fmt.Sprintf("%d:%s:%s", orgID, entityType, entityID)
	if cached, ok := r.cache.Get(key); ok {
		return &cached, nil
	}

	var contact domain.Contact
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, entityID).
		First(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrEntityNotFound
		}
		return nil, err
	}

	entity := toEntity(contact)
	r.cache.Set(key, entity, r.ttl)
	return &entity, nil
}

func toEntity(c domain.Contact) domain.Entity {
	fields := map[string]string{}
	for k, v := range c.Attributes {
		if v == nil {
			continue
		}
		fields[strings.ToLower(k)] = fmt.Sprint(v)
	}
	if c.FirstName != "" {
		fields["first_name"] = c.FirstName
	}
	if c.LastName != "" {
		fields["last_name"] = c.LastName
	}
	if c.Company != "" {
		fields["company"] = c.Company
	}
	if c.Stage != "" {
		fields["stage"] = c.Stage
	}

	email, err := eventdomain.NormalizeEmail(c.Email)
	if err != nil {
		email = ""
	}
	return domain.Entity{
		ID:     c.ID,
		Type:   eventdomain.EntityTypeContact,
		OrgID:  c.OrgID,
		Email:  email,
		Domain: eventdomain.DomainOf(email),
		Fields: fields,
	}
}
