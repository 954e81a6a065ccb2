package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// authorizeOrgAction gates a route on the casbin capability check for the
// resolved organization. It runs after AuthRequired and OrgContext.
func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := orgIDFromRequest(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, ok := s.userIDFromRequest(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		subject := fmt.Sprintf("user:%s", userID.String())
		if err := s.authzSvc.Authorize(c.Request.Context(), subject, orgID.String(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
