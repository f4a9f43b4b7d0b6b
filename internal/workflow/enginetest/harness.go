// Package enginetest wires the full sequencing stack over in-memory sqlite
// for engine and scheduler tests.
package enginetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/clock"
	"github.com/smallbiznis/sequencer/internal/config"
	crmdomain "github.com/smallbiznis/sequencer/internal/crm/domain"
	"github.com/smallbiznis/sequencer/internal/crm/resolver"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	eventrepository "github.com/smallbiznis/sequencer/internal/event/repository"
	eventservice "github.com/smallbiznis/sequencer/internal/event/service"
	"github.com/smallbiznis/sequencer/internal/migration"
	"github.com/smallbiznis/sequencer/internal/orgcontext"
	"github.com/smallbiznis/sequencer/internal/providers/email"
	scoringdomain "github.com/smallbiznis/sequencer/internal/scoring/domain"
	scoringrepository "github.com/smallbiznis/sequencer/internal/scoring/repository"
	scoringservice "github.com/smallbiznis/sequencer/internal/scoring/service"
	suppressiondomain "github.com/smallbiznis/sequencer/internal/suppression/domain"
	suppressionrepository "github.com/smallbiznis/sequencer/internal/suppression/repository"
	suppressionservice "github.com/smallbiznis/sequencer/internal/suppression/service"
	"github.com/smallbiznis/sequencer/internal/testutil"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/internal/workflow/engine"
	workflowrepository "github.com/smallbiznis/sequencer/internal/workflow/repository"
	workflowservice "github.com/smallbiznis/sequencer/internal/workflow/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var Start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Models lists every table the engine touches.
func Models() []any {
	return migration.Models()
}

type Harness struct {
	DB        *gorm.DB
	Clock     *clock.FakeClock
	Node      *snowflake.Node
	OrgID     snowflake.ID
	Ctx       context.Context
	Events    eventdomain.Service
	Gate      suppressiondomain.Service
	Scores    scoringdomain.Service
	Workflows domain.Service
	Repo      domain.Repository
	Engine    *engine.Engine
	Sender    *Sender
	Activity  *ActivityRecorder

	seq int
}

type Option func(*config.EngineConfig)

func WithDelivery(maxAttempts int, initial, max time.Duration) Option {
	return func(cfg *config.EngineConfig) {
		cfg.Delivery.MaxAttempts = maxAttempts
		cfg.Delivery.InitialBackoff = initial
		cfg.Delivery.MaxBackoff = max
	}
}

func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()
	db := testutil.OpenSQLite(t, Models()...)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(Start)
	log := zap.NewNop()

	engineCfg := config.DefaultEngineConfig()
	for _, opt := range opts {
		opt(&engineCfg)
	}
	holder := config.NewStaticEngineConfigHolder(engineCfg)

	eventRepo := eventrepository.Provide()
	dispatcher := eventservice.NewDispatcher(log)
	events := eventservice.New(eventservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: eventRepo, Dispatcher: dispatcher,
	})
	gate := suppressionservice.New(suppressionservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: suppressionrepository.Provide(), EventRepo: eventRepo,
	})
	scores := scoringservice.New(scoringservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: scoringrepository.Provide(), EventRepo: eventRepo, EngineConfig: holder,
	})

	activity := &ActivityRecorder{}
	repo := workflowrepository.Provide()
	workflows := workflowservice.New(workflowservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: repo, Activity: activity,
	})
	suppressionservice.RegisterSubscriber(dispatcher, gate)
	scoringservice.RegisterSubscriber(dispatcher, scores)
	workflowservice.RegisterSubscriber(dispatcher, workflows)

	sender := &Sender{}
	eng := engine.New(engine.Params{
		DB:           db,
		Log:          log,
		Clock:        clk,
		Cfg:          config.Config{Email: config.EmailConfig{From: "sales@acme.test", FromName: "Acme"}},
		EngineConfig: holder,
		Repo:         repo,
		EventRepo:    eventRepo,
		Events:       events,
		Gate:         gate,
		Scores:       scores,
		Sender:       sender,
		Resolver:     resolver.New(resolver.Params{DB: db, Log: log}),
		Activity:     activity,
	})

	orgID := node.Generate()
	return &Harness{
		DB:        db,
		Clock:     clk,
		Node:      node,
		OrgID:     orgID,
		Ctx:       orgcontext.WithOrgID(context.Background(), int64(orgID)),
		Events:    events,
		Gate:      gate,
		Scores:    scores,
		Workflows: workflows,
		Repo:      repo,
		Engine:    eng,
		Sender:    sender,
		Activity:  activity,
	}
}

func (h *Harness) AddContact(t testing.TB, id, address string, attrs map[string]any) {
	t.Helper()
	contact := crmdomain.Contact{
		ID:         id,
		OrgID:      h.OrgID,
		Email:      address,
		FirstName:  "Ada",
		Attributes: datatypes.JSONMap(attrs),
		UpdatedAt:  h.Clock.Now(),
	}
	require.NoError(t, h.DB.Create(&contact).Error)
}

// Ingest records an event for a contact at the current fake time.
func (h *Harness) Ingest(t testing.TB, entityID, eventType, payload string) eventdomain.Event {
	t.Helper()
	h.seq++
	occurred := h.Clock.Now()
	res, err := h.Events.Ingest(h.Ctx, eventdomain.IngestRequest{
		EventType:  eventType,
		EntityType: eventdomain.EntityTypeContact,
		EntityID:   entityID,
		Source:     "test",
		OccurredAt: &occurred,
		Payload:    json.RawMessage(payload),
		DedupeKey:  fmt.Sprintf("test-%d", h.seq),
	})
	require.NoError(t, err)
	return res.Event
}

func (h *Harness) CreateActive(t testing.TB, name string, graph domain.Graph, triggers ...string) domain.Definition {
	t.Helper()
	def, err := h.Workflows.CreateDefinition(h.Ctx, domain.CreateDefinitionRequest{
		Name:              name,
		EntityType:        eventdomain.EntityTypeContact,
		TriggerEventTypes: triggers,
		Status:            domain.WorkflowActive,
		Definition:        graph,
	})
	require.NoError(t, err)
	return def
}

func (h *Harness) Enroll(t testing.TB, def domain.Definition, entityID string) domain.Enrollment {
	t.Helper()
	res, err := h.Workflows.Enroll(h.Ctx, domain.EnrollRequest{
		WorkflowID: def.WorkflowID.String(),
		EntityID:   entityID,
	})
	require.NoError(t, err)
	return res.Enrollment
}

func (h *Harness) Reload(t testing.TB, id snowflake.ID) domain.Enrollment {
	t.Helper()
	e, err := h.Workflows.GetEnrollment(h.Ctx, id.String())
	require.NoError(t, err)
	return e
}

// RunDue claims and advances due enrollments until none remain at the
// current fake time.
func (h *Harness) RunDue(t testing.TB) int {
	t.Helper()
	processed := 0
	for round := 0; round < 20; round++ {
		now := h.Clock.Now()
		token := fmt.Sprintf("test-claim-%d-%d", now.Unix(), round)
		claimed, err := h.Repo.ClaimDue(context.Background(), h.DB, now, 100, now.Add(time.Minute), token)
		require.NoError(t, err)
		if len(claimed) == 0 {
			return processed
		}
		for _, e := range claimed {
			_, err := h.Engine.Advance(context.Background(), e, token)
			require.NoError(t, err)
			processed++
		}
	}
	t.Fatalf("enrollments still due after 20 rounds")
	return processed
}

// Sender records outbound messages. Queued errors are returned by the next
// sends, in order.
type Sender struct {
	mu       sync.Mutex
	messages []email.Message
	failures []error
}

func (s *Sender) Name() string { return "test" }

func (s *Sender) Send(_ context.Context, msg email.Message) (email.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return email.Receipt{}, err
		}
	}
	s.messages = append(s.messages, msg)
	return email.Receipt{MessageID: "msg-" + msg.IdempotencyKey, Provider: s.Name()}, nil
}

func (s *Sender) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

func (s *Sender) Messages() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Message(nil), s.messages...)
}

type ActivityRecorder struct {
	mu         sync.Mutex
	activities []crmdomain.Activity
}

func (r *ActivityRecorder) Publish(_ context.Context, activity crmdomain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, activity)
	return nil
}

func (r *ActivityRecorder) All() []crmdomain.Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]crmdomain.Activity(nil), r.activities...)
}

// Days returns a pointer for WaitConfig.WaitDays.
func Days(v float64) *float64 { return &v }

// Linear builds a graph whose nodes are chained by default edges.
func Linear(nodes ...domain.Node) domain.Graph {
	g := domain.Graph{Nodes: nodes}
	for i := 1; i < len(nodes); i++ {
		g.Edges = append(g.Edges, domain.Edge{From: nodes[i-1].ID, To: nodes[i].ID, Label: domain.EdgeDefault})
	}
	return g
}

func EmailNode(id, subject string) domain.Node {
	return domain.Node{ID: id, Type: domain.NodeEmail, Config: domain.EmailConfig{Subject: subject, Body: "<p>Hello {{.Fields.first_name}}</p>"}}
}

func WaitNode(id string, days float64) domain.Node {
	return domain.Node{ID: id, Type: domain.NodeWait, Config: domain.WaitConfig{WaitDays: Days(days)}}
}
