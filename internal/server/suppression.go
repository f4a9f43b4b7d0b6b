package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	suppressiondomain "github.com/smallbiznis/sequencer/internal/suppression/domain"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
)

func (s *Server) ListSuppressions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Reason string `form:"reason"`
		Email  string `form:"email"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.suppressionSvc.List(c.Request.Context(), suppressiondomain.ListRequest{
		Reason:     suppressiondomain.Reason(strings.TrimSpace(query.Reason)),
		Email:      strings.TrimSpace(query.Email),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) CreateSuppression(c *gin.Context) {
	var req suppressiondomain.SuppressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.suppressionSvc.Suppress(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) BulkSuppress(c *gin.Context) {
	var req suppressiondomain.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.suppressionSvc.Bulk(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

// CheckSuppression evaluates the gate without sending anything.
func (s *Server) CheckSuppression(c *gin.Context) {
	res, err := s.suppressionSvc.Check(c.Request.Context(), c.Query("email"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) DeleteSuppression(c *gin.Context) {
	if err := s.suppressionSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
