package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/sequencer/internal/observability"
	"github.com/smallbiznis/sequencer/internal/ratelimit"
	"github.com/smallbiznis/sequencer/internal/workflow/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type denyingLimiter struct {
	retryAfter time.Duration
	calls      int
}

func (l *denyingLimiter) Enabled() bool { return true }

func (l *denyingLimiter) AllowOrg(context.Context, string) (*ratelimit.RateLimitResult, error) {
	l.calls++
	return &ratelimit.RateLimitResult{Allowed: false, Limit: 10, RetryAfter: l.retryAfter}, nil
}

type testServer struct {
	h   *enginetest.Harness
	srv *Server
	org string
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := enginetest.New(t)
	srv := NewServer(ServerParams{
		Gin:            NewEngine(observability.Config{}, nil),
		DB:             h.DB,
		EventSvc:       h.Events,
		SuppressionSvc: h.Gate,
		ScoringSvc:     h.Scores,
		WorkflowSvc:    h.Workflows,
	})
	return testServer{h: h, srv: srv, org: h.OrgID.String()}
}

func (ts testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return ts.doAs(t, ts.org, method, path, body)
}

func (ts testServer) doAs(t *testing.T, org, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if org != "" {
		req.Header.Set(HeaderOrg, org)
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Errors  []struct {
			Field string `json:"field"`
			Code  string `json:"code"`
		} `json:"errors"`
	} `json:"error"`
}

func eventBody(dedupe string) map[string]any {
	return map[string]any{
		"event_type":  "email_opened",
		"entity_type": "contact",
		"entity_id":   "c1",
		"source":      "webhook",
		"occurred_at": enginetest.Start.Format(time.RFC3339),
		"payload":     map[string]any{"email": "ada@example.com"},
		"dedupe_key":  dedupe,
	}
}

func TestRequiresOrgHeader(t *testing.T) {
	ts := newTestServer(t)

	for _, org := range []string{"", "not-a-number", "0"} {
		rec := ts.doAs(t, org, http.MethodGet, "/api/events", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, org)
		body := decode[errorBody](t, rec)
		assert.Equal(t, "validation_error", body.Error.Type)
		require.Len(t, body.Error.Errors, 1)
		assert.Equal(t, "invalid_org_id", body.Error.Errors[0].Code)
	}
}

func TestIngestEventIsIdempotent(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/events", eventBody("evt-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
		Deduplicated bool `json:"deduplicated"`
	}](t, rec)
	assert.False(t, first.Deduplicated)

	rec = ts.do(t, http.MethodPost, "/api/events", eventBody("evt-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
		Deduplicated bool `json:"deduplicated"`
	}](t, rec)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Data.ID, second.Data.ID)

	rec = ts.do(t, http.MethodGet, "/api/events?entity_id=c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Data []json.RawMessage `json:"data"`
	}](t, rec)
	assert.Len(t, list.Data, 1)
}

func TestIngestEventValidation(t *testing.T) {
	ts := newTestServer(t)

	body := eventBody("evt-bad")
	delete(body, "occurred_at")
	rec := ts.do(t, http.MethodPost, "/api/events", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[errorBody](t, rec)
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "invalid_occurred_at", resp.Error.Errors[0].Code)
	assert.Equal(t, "occurred_at", resp.Error.Errors[0].Field)

	rec = ts.do(t, http.MethodGet, "/api/events?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsAreScopedToTenant(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/events", eventBody("evt-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	other := ts.h.Node.Generate().String()
	rec = ts.doAs(t, other, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Data []json.RawMessage `json:"data"`
	}](t, rec)
	assert.Empty(t, list.Data)
}

func TestIngestRateLimited(t *testing.T) {
	ts := newTestServer(t)
	limiter := &denyingLimiter{retryAfter: 1500 * time.Millisecond}
	ts.srv.ingestLimiter = limiter

	rec := ts.do(t, http.MethodPost, "/api/events", eventBody("evt-1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode[errorBody](t, rec).Error.Type)
	assert.Equal(t, 1, limiter.calls)

	// reads are not throttled
	rec = ts.do(t, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type workflowResponse struct {
	Data struct {
		ID         string `json:"id"`
		WorkflowID string `json:"workflow_id"`
		Version    int    `json:"version"`
		Status     string `json:"status"`
	} `json:"data"`
}

type enrollmentResponse struct {
	Data struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		CurrentNodeID string `json:"current_node_id"`
	} `json:"data"`
	Created bool `json:"created"`
}

func createWorkflow(t *testing.T, ts testServer) workflowResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/workflows", map[string]any{
		"name":        "Trial nurture",
		"entity_type": "contact",
		"definition": map[string]any{
			"nodes": []map[string]any{
				{"id": "intro", "type": "email", "config": map[string]any{"subject": "Hi"}},
				{"id": "pause", "type": "wait", "config": map[string]any{"wait_days": 2}},
			},
			"edges": []map[string]any{{"from": "intro", "to": "pause"}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[workflowResponse](t, rec)
}

func TestWorkflowLifecycle(t *testing.T) {
	ts := newTestServer(t)
	wf := createWorkflow(t, ts)
	assert.Equal(t, "draft", wf.Data.Status)
	assert.Equal(t, 1, wf.Data.Version)
	path := "/api/workflows/" + wf.Data.WorkflowID

	// drafts do not accept enrollments
	rec := ts.do(t, http.MethodPost, path+"/enrollments", map[string]any{"entity_id": "c1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPatch, path+"/status", map[string]any{"status": "active"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "active", decode[workflowResponse](t, rec).Data.Status)

	rec = ts.do(t, http.MethodPost, path+"/enrollments", map[string]any{"entity_id": "c1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	enrolled := decode[enrollmentResponse](t, rec)
	assert.True(t, enrolled.Created)
	assert.Equal(t, "intro", enrolled.Data.CurrentNodeID)

	rec = ts.do(t, http.MethodPost, path+"/enrollments", map[string]any{"entity_id": "c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[enrollmentResponse](t, rec)
	assert.False(t, again.Created)
	assert.Equal(t, enrolled.Data.ID, again.Data.ID)

	rec = ts.do(t, http.MethodGet, path+"/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, path+"?version=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, path+"?version=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/workflows/"+ts.h.Node.Generate().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkflowValidationErrorCarriesDetail(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/workflows", map[string]any{
		"name":        "Broken",
		"entity_type": "contact",
		"definition": map[string]any{
			"nodes": []map[string]any{{"id": "intro", "type": "email", "config": map[string]any{"subject": "Hi"}}},
			"edges": []map[string]any{{"from": "intro", "to": "missing"}},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[struct {
		Error struct {
			Errors []struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"errors"`
		} `json:"error"`
	}](t, rec)
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "invalid_definition", resp.Error.Errors[0].Code)
	assert.Contains(t, resp.Error.Errors[0].Message, "missing")
}

func TestEnrollmentTransitions(t *testing.T) {
	ts := newTestServer(t)
	wf := createWorkflow(t, ts)
	path := "/api/workflows/" + wf.Data.WorkflowID
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPatch, path+"/status", map[string]any{"status": "active"}).Code)
	enrolled := decode[enrollmentResponse](t, ts.do(t, http.MethodPost, path+"/enrollments", map[string]any{"entity_id": "c1"}))
	base := "/api/enrollments/" + enrolled.Data.ID

	rec := ts.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paused", decode[enrollmentResponse](t, rec).Data.Status)

	rec = ts.do(t, http.MethodPost, base+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decode[enrollmentResponse](t, rec).Data.Status)

	rec = ts.do(t, http.MethodPost, base+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode[enrollmentResponse](t, rec).Data.Status)

	rec = ts.do(t, http.MethodGet, "/api/enrollments?status=stopped", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Data []json.RawMessage `json:"data"`
	}](t, rec)
	assert.Len(t, list.Data, 1)

	rec = ts.do(t, http.MethodGet, "/api/enrollments/"+ts.h.Node.Generate().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/enrollments/nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuppressionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/suppression", map[string]any{"email": "Ada@Example.com", "reason": "manual"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entry := decode[struct {
		Data struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, "ada@example.com", entry.Data.Email)

	type checkResponse struct {
		Data struct {
			Allowed bool   `json:"allowed"`
			Reason  string `json:"reason"`
		} `json:"data"`
	}
	rec = ts.do(t, http.MethodGet, "/api/suppression/check?email=ada@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[checkResponse](t, rec)
	assert.False(t, check.Data.Allowed)
	assert.Equal(t, "manual", check.Data.Reason)

	rec = ts.do(t, http.MethodPost, "/api/suppression/bulk", map[string]any{"entries": []map[string]any{
		{"email": "b@example.com", "reason": "unsubscribed"},
		{"email": "c@example.com", "reason": "spam_complaint"},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/suppression?reason=unsubscribed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Data []json.RawMessage `json:"data"`
	}](t, rec)
	assert.Len(t, list.Data, 1)

	rec = ts.do(t, http.MethodDelete, "/api/suppression/"+entry.Data.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/suppression/check?email=ada@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[checkResponse](t, rec).Data.Allowed)

	rec = ts.do(t, http.MethodPost, "/api/suppression", map[string]any{"email": "ada@example.com", "reason": "because"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScoreEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scores/adjust", map[string]any{"entity_id": "c1", "delta": 30})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	type scoreResponse struct {
		Data struct {
			Score int    `json:"score"`
			Tier  string `json:"tier"`
		} `json:"data"`
	}
	rec = ts.do(t, http.MethodGet, "/api/scores/c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	score := decode[scoreResponse](t, rec)
	assert.Equal(t, 30, score.Data.Score)
	assert.Equal(t, "warm", score.Data.Tier)

	rec = ts.do(t, http.MethodGet, "/api/scores?tier=warm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/scores?tier=lukewarm", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/scores/adjust", map[string]any{"entity_id": "c1", "delta": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	sqlDB, err := ts.h.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	rec = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
