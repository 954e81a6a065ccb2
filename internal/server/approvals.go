package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	approvaldomain "github.com/smallbiznis/atrium/internal/approval/domain"
)

func (s *Server) SubmitApproval(c *gin.Context) {
	orgID, actor, ok := s.requestScope(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req approvaldomain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.approvalSvc.Submit(c.Request.Context(), orgID, actor, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListApprovals(c *gin.Context) {
	orgID, ok := orgIDFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query approvaldomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.approvalSvc.List(c.Request.Context(), orgID, query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Approvals, "page_info": resp.PageInfo})
}

func (s *Server) GetApprovalByID(c *gin.Context) {
	orgID, ok := orgIDFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, approvaldomain.ErrInvalidID)
		return
	}

	resp, err := s.approvalSvc.Get(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DecideApproval(c *gin.Context) {
	orgID, actor, ok := s.requestScope(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, approvaldomain.ErrInvalidID)
		return
	}

	var req approvaldomain.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.approvalSvc.Decide(c.Request.Context(), orgID, actor, id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) BulkDecideApprovals(c *gin.Context) {
	orgID, actor, ok := s.requestScope(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req approvaldomain.BulkDecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.approvalSvc.DecideMany(c.Request.Context(), orgID, actor, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.writeBulkResult(c, result)
}
