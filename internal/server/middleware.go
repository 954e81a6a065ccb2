package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/auditcontext"
	"github.com/smallbiznis/atrium/internal/fault"
	"github.com/smallbiznis/atrium/internal/identity"
	"github.com/smallbiznis/atrium/internal/orgcontext"
)

const (
	HeaderOrg         = "X-Org-ID"
	contextUserIDKey  = "user_id"
	contextOrgRoleKey = "org_role"
)

var errTooManyAccepts = fault.New(fault.KindRateLimited, "too many accept attempts from this address")

// AuthRequired resolves the caller from the bearer token. It only establishes
// identity; organization membership is resolved separately by OrgContext.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID, err := s.verifier.Verify(token)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID.String())

		ctx := auditcontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeUser), userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// OrgContext resolves the active organization from the X-Org-ID header and the
// caller's membership role in it. Requests from non-members never reach the
// handlers.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := s.userIDFromRequest(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" && s.cfg.DefaultOrgID != 0 {
			raw = snowflake.ID(s.cfg.DefaultOrgID).String()
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "a valid X-Org-ID header is required"))
			return
		}

		role, err := s.organizationSvc.MemberRole(c.Request.Context(), orgID, userID)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextOrgRoleKey, role)
		c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), int64(orgID)))
		c.Next()
	}
}

func (s *Server) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.TrimSpace(c.GetString(contextOrgRoleKey))
		if role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		AbortWithError(c, ErrForbidden)
	}
}

// AcceptRateLimit throttles the public accept endpoint per client address.
// A broken limiter backend fails open so accepts keep working.
func (s *Server) AcceptRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		res, err := s.limiter.AllowAccept(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.Next()
			return
		}
		if !res.Allowed {
			AbortWithError(c, errTooManyAccepts)
			return
		}
		c.Next()
	}
}

func (s *Server) userIDFromRequest(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.GetString(contextUserIDKey))
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// currentActor rebuilds the caller identity the middlewares resolved. Handlers
// hand it to the services explicitly instead of the services reading it from
// ambient state.
func (s *Server) currentActor(c *gin.Context) (identity.Actor, bool) {
	userID, ok := s.userIDFromRequest(c)
	if !ok {
		return identity.Actor{}, false
	}
	return identity.Actor{
		UserID: userID,
		Role:   strings.TrimSpace(c.GetString(contextOrgRoleKey)),
	}, true
}

func orgIDFromRequest(c *gin.Context) (snowflake.ID, bool) {
	return orgcontext.OrgIDFromContext(c.Request.Context())
}

// requestScope returns the organization and actor the middlewares resolved
// for this request.
func (s *Server) requestScope(c *gin.Context) (snowflake.ID, identity.Actor, bool) {
	orgID, ok := orgIDFromRequest(c)
	if !ok {
		return 0, identity.Actor{}, false
	}
	actor, ok := s.currentActor(c)
	if !ok {
		return 0, identity.Actor{}, false
	}
	return orgID, actor, true
}
