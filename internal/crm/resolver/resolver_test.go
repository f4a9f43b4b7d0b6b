package resolver

import (
	"context"
	"testing"

	"github.com/smallbiznis/sequencer/internal/crm/domain"
	"github.com/smallbiznis/sequencer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func TestResolve_ContactWithCache(t *testing.T) {
	db := testutil.OpenSQLite(t, &domain.Contact{})
	orgID := testutil.NewNode(t).Generate()

	require.NoError(t, db.Create(&domain.Contact{
		ID:         "c-1",
		OrgID:      orgID,
		Email:      "Ada@Example.com",
		FirstName:  "Ada",
		Stage:      "lead",
		Attributes: datatypes.JSONMap{"Industry": "fintech"},
	}).Error)

	r := New(Params{DB: db, Log: zap.NewNop()})
	entity, err := r.Resolve(context.Background(), orgID, "contact", "c-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", entity.Email)
	assert.Equal(t, "example.com", entity.Domain)

	stage, ok := entity.Field("Stage")
	assert.True(t, ok)
	assert.Equal(t, "lead", stage)
	industry, ok := entity.Field("industry")
	assert.True(t, ok)
	assert.Equal(t, "fintech", industry)

	require.NoError(t, db.Model(&domain.Contact{}).Where("id = ?", "c-1").Update("stage", "customer").Error)
	cached, err := r.Resolve(context.Background(), orgID, "contact", "c-1")
	require.NoError(t, err)
	assert.Equal(t, "lead", cached.Fields["stage"])

	_, err = r.Resolve(context.Background(), orgID, "contact", "missing")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	_, err = r.Resolve(context.Background(), orgID, "account", "c-1")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}
