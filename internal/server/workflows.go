package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	workflowdomain "github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
)

// CreateWorkflow saves a new workflow, or a new version when workflow_id is set.
func (s *Server) CreateWorkflow(c *gin.Context) {
	var req workflowdomain.CreateDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	def, err := s.workflowSvc.CreateDefinition(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": def})
}

func (s *Server) ListWorkflows(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.workflowSvc.ListDefinitions(c.Request.Context(), workflowdomain.ListDefinitionsRequest{
		Status:     workflowdomain.WorkflowStatus(strings.TrimSpace(query.Status)),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Workflows, "page_info": resp.PageInfo})
}

func (s *Server) GetWorkflow(c *gin.Context) {
	version, err := parseOptionalInt(c.Query("version"))
	if err != nil {
		AbortWithError(c, workflowdomain.ErrInvalidVersion)
		return
	}

	def, err := s.workflowSvc.GetDefinition(c.Request.Context(), strings.TrimSpace(c.Param("id")), version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": def})
}

func (s *Server) ListWorkflowVersions(c *gin.Context) {
	versions, err := s.workflowSvc.ListVersions(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": versions})
}

type updateWorkflowStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) UpdateWorkflowStatus(c *gin.Context) {
	var req updateWorkflowStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	def, err := s.workflowSvc.UpdateStatus(c.Request.Context(), strings.TrimSpace(c.Param("id")), workflowdomain.WorkflowStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": def})
}

type enrollRequest struct {
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	Snapshot   map[string]any `json:"state_snapshot"`
}

// EnrollEntity is a no-op returning 200 when the entity is already enrolled.
func (s *Server) EnrollEntity(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.workflowSvc.Enroll(c.Request.Context(), workflowdomain.EnrollRequest{
		WorkflowID: strings.TrimSpace(c.Param("id")),
		EntityType: strings.TrimSpace(req.EntityType),
		EntityID:   strings.TrimSpace(req.EntityID),
		Snapshot:   req.Snapshot,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": res.Enrollment, "created": res.Created})
}
