package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
)

type ingestEventRequest struct {
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Source     string          `json:"source"`
	OccurredAt *time.Time      `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
	DedupeKey  string          `json:"dedupe_key"`
}

func (s *Server) IngestEvent(c *gin.Context) {
	var req ingestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if eventType := strings.TrimSpace(req.EventType); eventType != "" {
		c.Set("event_type", eventType)
	}

	res, err := s.eventSvc.Ingest(c.Request.Context(), eventdomain.IngestRequest{
		EventType:  req.EventType,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Source:     req.Source,
		OccurredAt: req.OccurredAt,
		Payload:    req.Payload,
		DedupeKey:  req.DedupeKey,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Deduplicated {
		c.Set("deduplicated", true)
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": res.Event, "deduplicated": res.Deduplicated})
}

func (s *Server) ListEvents(c *gin.Context) {
	var query struct {
		pagination.Pagination
		EntityID  string `form:"entity_id"`
		EventType string `form:"event_type"`
		From      string `form:"from"`
		To        string `form:"to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	resp, err := s.eventSvc.List(c.Request.Context(), eventdomain.ListRequest{
		EntityID:   strings.TrimSpace(query.EntityID),
		EventType:  strings.TrimSpace(query.EventType),
		From:       from,
		To:         to,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Events, "page_info": resp.PageInfo})
}
