package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/sequencer/internal/clock"
	"github.com/smallbiznis/sequencer/internal/config"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	eventrepository "github.com/smallbiznis/sequencer/internal/event/repository"
	eventservice "github.com/smallbiznis/sequencer/internal/event/service"
	"github.com/smallbiznis/sequencer/internal/orgcontext"
	"github.com/smallbiznis/sequencer/internal/scoring/domain"
	"github.com/smallbiznis/sequencer/internal/scoring/repository"
	"github.com/smallbiznis/sequencer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc    domain.Service
	events eventdomain.Service
	clock  *clock.FakeClock
	ctx    context.Context
	seq    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenSQLite(t, &eventdomain.Event{}, &domain.LeadScore{})
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	eventRepo := eventrepository.Provide()

	svc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Repo:         repository.Provide(),
		EventRepo:    eventRepo,
		EngineConfig: config.NewStaticEngineConfigHolder(config.DefaultEngineConfig()),
	})
	dispatcher := eventservice.NewDispatcher(zap.NewNop())
	RegisterSubscriber(dispatcher, svc)

	return &fixture{
		svc: svc,
		events: eventservice.New(eventservice.Params{
			DB:         db,
			Log:        zap.NewNop(),
			GenID:      node,
			Clock:      clk,
			Repo:       eventRepo,
			Dispatcher: dispatcher,
		}),
		clock: clk,
		ctx:   orgcontext.WithOrgID(context.Background(), int64(node.Generate())),
	}
}

func (f *fixture) ingest(t *testing.T, entityID, eventType string, ago time.Duration) {
	t.Helper()
	f.seq++
	occurred := f.clock.Now().Add(-ago)
	_, err := f.events.Ingest(f.ctx, eventdomain.IngestRequest{
		EventType:  eventType,
		EntityType: eventdomain.EntityTypeContact,
		EntityID:   entityID,
		OccurredAt: &occurred,
		Payload:    json.RawMessage(`{"email":"lead@example.com"}`),
		DedupeKey:  fmt.Sprintf("k-%d", f.seq),
	})
	require.NoError(t, err)
}

func TestScore_TracksIngestedEvents(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "c-1", eventdomain.EventEmailOpened, time.Hour)

	score, err := f.svc.Get(f.ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 10, score.Score)
	assert.Equal(t, domain.TierCold, score.Tier)

	f.ingest(t, "c-1", eventdomain.EventReplyReceived, time.Minute)
	score, err = f.svc.Get(f.ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 50, score.Score)
	assert.Equal(t, domain.TierHot, score.Tier)
	require.NotNil(t, score.LastActivityAt)
}

func TestGet_ComputesMissingScore(t *testing.T) {
	f := newFixture(t)
	score, err := f.svc.Get(f.ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, score.Score)
	assert.Equal(t, domain.TierCold, score.Tier)

	_, err = f.svc.Get(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestAdjust_ClampsAndRetiers(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "c-1", eventdomain.EventEmailClicked, time.Hour)

	up, err := f.svc.Adjust(f.ctx, domain.AdjustRequest{EntityID: "c-1", Delta: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, up.Score)
	assert.Equal(t, domain.TierSalesReady, up.Tier)

	down, err := f.svc.Adjust(f.ctx, domain.AdjustRequest{EntityID: "c-1", Delta: -1000})
	require.NoError(t, err)
	assert.Equal(t, 0, down.Score)
	assert.Equal(t, domain.TierCold, down.Tier)

	_, err = f.svc.Adjust(f.ctx, domain.AdjustRequest{EntityID: "c-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidDelta)
}

func TestAdjust_SurvivesRecompute(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "c-1", eventdomain.EventEmailOpened, time.Hour)

	adjusted, err := f.svc.Adjust(f.ctx, domain.AdjustRequest{EntityID: "c-1", Delta: 15})
	require.NoError(t, err)
	assert.Equal(t, 25, adjusted.Score)
	assert.Equal(t, domain.TierWarm, adjusted.Tier)

	f.ingest(t, "c-1", eventdomain.EventEmailOpened, time.Minute)
	score, err := f.svc.Get(f.ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 35, score.Score)
}

func TestRefreshStale_AppliesRecencyDecay(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "c-1", eventdomain.EventReplyReceived, time.Hour)

	score, err := f.svc.Get(f.ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 40, score.Score)

	f.clock.Advance(10 * 24 * time.Hour)
	refreshed, err := f.svc.RefreshStale(context.Background(), f.clock.Now().Add(-24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)

	score, err = f.svc.Get(f.ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 30, score.Score)
	assert.Equal(t, domain.TierWarm, score.Tier)
}

func TestList_FiltersByTier(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "hot", eventdomain.EventMeetingBooked, time.Hour)
	f.ingest(t, "cold", eventdomain.EventEmailOpened, time.Hour)

	res, err := f.svc.List(f.ctx, domain.ListRequest{Tier: domain.TierSalesReady})
	require.NoError(t, err)
	require.Len(t, res.Scores, 1)
	assert.Equal(t, "hot", res.Scores[0].EntityID)

	_, err = f.svc.List(f.ctx, domain.ListRequest{Tier: "lukewarm"})
	assert.ErrorIs(t, err, domain.ErrInvalidTier)
}
