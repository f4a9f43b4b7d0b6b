package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	workflowdomain "github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
)

func (s *Server) ListEnrollments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status     string `form:"status"`
		WorkflowID string `form:"workflow_id"`
		EntityID   string `form:"entity_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.workflowSvc.ListEnrollments(c.Request.Context(), workflowdomain.ListEnrollmentsRequest{
		Status:     workflowdomain.EnrollmentStatus(strings.TrimSpace(query.Status)),
		WorkflowID: strings.TrimSpace(query.WorkflowID),
		EntityID:   strings.TrimSpace(query.EntityID),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Enrollments, "page_info": resp.PageInfo})
}

func (s *Server) GetEnrollment(c *gin.Context) {
	e, err := s.workflowSvc.GetEnrollment(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": e})
}

func (s *Server) PauseEnrollment(c *gin.Context) {
	s.transitionEnrollment(c, s.workflowSvc.Pause)
}

func (s *Server) ResumeEnrollment(c *gin.Context) {
	s.transitionEnrollment(c, s.workflowSvc.Resume)
}

func (s *Server) StopEnrollment(c *gin.Context) {
	s.transitionEnrollment(c, s.workflowSvc.Stop)
}

func (s *Server) transitionEnrollment(c *gin.Context, fn func(context.Context, string) (workflowdomain.Enrollment, error)) {
	e, err := fn(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": e})
}
