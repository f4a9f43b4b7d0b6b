package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	scoringdomain "github.com/smallbiznis/sequencer/internal/scoring/domain"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
)

func (s *Server) ListScores(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Tier string `form:"tier"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.scoringSvc.List(c.Request.Context(), scoringdomain.ListRequest{
		Tier:       scoringdomain.Tier(strings.TrimSpace(query.Tier)),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Scores, "page_info": resp.PageInfo})
}

func (s *Server) GetScore(c *gin.Context) {
	score, err := s.scoringSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("entity_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": score})
}

func (s *Server) AdjustScore(c *gin.Context) {
	var req scoringdomain.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	score, err := s.scoringSvc.Adjust(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": score})
}
