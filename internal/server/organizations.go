package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
)

type createOrganizationRequest struct {
	Name string `json:"name"`
}

// ListUserOrgs lists the organizations the caller belongs to, with the role
// held in each. Clients use it to pick the X-Org-ID they operate under.
func (s *Server) ListUserOrgs(c *gin.Context) {
	userID, ok := s.userIDFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	orgs, err := s.organizationSvc.ListOrganizationsByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orgs})
}

func (s *Server) CreateOrganization(c *gin.Context) {
	userID, ok := s.userIDFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.organizationSvc.Create(c.Request.Context(), userID, orgdomain.CreateOrganizationRequest{
		Name: req.Name,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

// GetOrganization returns the organization the request is scoped to.
func (s *Server) GetOrganization(c *gin.Context) {
	orgID, ok := orgIDFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.organizationSvc.GetByID(c.Request.Context(), orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
