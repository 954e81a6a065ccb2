package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/atrium/internal/bulkop"
	invitationdomain "github.com/smallbiznis/atrium/internal/invitation/domain"
)

type bulkCreateInvitationsRequest struct {
	Invitations []invitationdomain.CreateRequest `json:"invitations"`
}

type bulkIDsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) CreateInvitation(c *gin.Context) {
	orgID, actor, ok := s.requestScope(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req invitationdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invitationSvc.Create(c.Request.Context(), orgID, actor, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListInvitations(c *gin.Context) {
	orgID, ok := orgIDFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query invitationdomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invitationSvc.List(c.Request.Context(), orgID, query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invitations, "page_info": resp.PageInfo})
}

func (s *Server) GetInvitationByID(c *gin.Context) {
	orgID, ok := orgIDFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, invitationdomain.ErrInvalidID)
		return
	}

	resp, err := s.invitationSvc.Get(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResendInvitation(c *gin.Context) {
	orgID, actor, ok := s.requestScope(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, invitationdomain.ErrInvalidID)
		return
	}

	resp, err := s.invitationSvc.Resend(c.Request.Context(), orgID, actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelInvitation(c *gin.Context) {
	orgID, actor, ok := s.requestScope(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, invitationdomain.ErrInvalidID)
		return
	}

	// The reason body is optional.
	var req invitationdomain.CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.invitationSvc.Cancel(c.Request.Context(), orgID, actor, id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// AcceptInvitation redeems an invitation code for the authenticated caller.
// It is deliberately outside the org-scoped admin group.
func (s *Server) AcceptInvitation(c *gin.Context) {
	userID, ok := s.userIDFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		AbortWithError(c, newValidationError("code", "invalid_code", "an invitation code is required"))
		return
	}

	resp, err := s.invitationSvc.Accept(c.Request.Context(), code, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) BulkCreateInvitations(c *gin.Context) {
	orgID, actor, ok := s.requestScope(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req bulkCreateInvitationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.invitationSvc.CreateMany(c.Request.Context(), orgID, actor, req.Invitations)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.writeBulkResult(c, result)
}

func (s *Server) BulkResendInvitations(c *gin.Context) {
	orgID, actor, ok := s.requestScope(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req bulkIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.invitationSvc.ResendMany(c.Request.Context(), orgID, actor, req.IDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.writeBulkResult(c, result)
}

func (s *Server) BulkCancelInvitations(c *gin.Context) {
	orgID, actor, ok := s.requestScope(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req bulkIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.invitationSvc.CancelMany(c.Request.Context(), orgID, actor, req.IDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.writeBulkResult(c, result)
}

// writeBulkResult renders a batch outcome. Clients that ask for text/csv get
// the failure rows as a download, everyone else gets the full JSON report.
func (s *Server) writeBulkResult(c *gin.Context, result *bulkop.Result) {
	if acceptsCSV(c) {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="failures.csv"`)
		c.Status(http.StatusOK)
		if err := bulkop.WriteFailuresCSV(c.Writer, result.Failed); err != nil {
			_ = c.Error(err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func acceptsCSV(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/csv")
}
