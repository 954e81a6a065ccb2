package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/atrium/internal/approval"
	approvaldomain "github.com/smallbiznis/atrium/internal/approval/domain"
	"github.com/smallbiznis/atrium/internal/audit"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/authorization"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/identity"
	"github.com/smallbiznis/atrium/internal/invitation"
	invitationdomain "github.com/smallbiznis/atrium/internal/invitation/domain"
	"github.com/smallbiznis/atrium/internal/notification"
	"github.com/smallbiznis/atrium/internal/observability"
	obsmiddleware "github.com/smallbiznis/atrium/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	obstracing "github.com/smallbiznis/atrium/internal/observability/tracing"
	"github.com/smallbiznis/atrium/internal/organization"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/internal/providers"
	"github.com/smallbiznis/atrium/internal/ratelimit"
	"github.com/smallbiznis/atrium/internal/user"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	identity.Module,
	authorization.Module,
	audit.Module,
	notification.Module,
	providers.Module,
	ratelimit.Module,
	user.Module,
	organization.Module,
	invitation.Module,
	approval.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	verifier        *identity.Verifier
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	invitationSvc   invitationdomain.Service
	approvalSvc     approvaldomain.Service
	organizationSvc orgdomain.Service
	limiter         *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Verifier        *identity.Verifier
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	InvitationSvc   invitationdomain.Service
	ApprovalSvc     approvaldomain.Service
	OrganizationSvc orgdomain.Service
	Limiter         *ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		verifier:        p.Verifier,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		invitationSvc:   p.InvitationSvc,
		approvalSvc:     p.ApprovalSvc,
		organizationSvc: p.OrganizationSvc,
		limiter:         p.Limiter,
	}

	svc.registerAdminRoutes()
	svc.registerPublicRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	// --- global middlewares ---
	admin.Use(s.AuthRequired())
	admin.Use(s.OrgContext())

	// -------- Invitations --------
	admin.GET("/invitations", s.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager), s.authorizeOrgAction(authorization.ObjectInvitation, authorization.ActionInvitationView), s.ListInvitations)
	admin.POST("/invitations", s.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager), s.authorizeOrgAction(authorization.ObjectInvitation, authorization.ActionInvitationCreate), s.CreateInvitation)
	admin.GET("/invitations/:id", s.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager), s.authorizeOrgAction(authorization.ObjectInvitation, authorization.ActionInvitationView), s.GetInvitationByID)
	admin.POST("/invitations/:id/resend", s.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager), s.authorizeOrgAction(authorization.ObjectInvitation, authorization.ActionInvitationResend), s.ResendInvitation)
	admin.POST("/invitations/:id/cancel", s.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager), s.authorizeOrgAction(authorization.ObjectInvitation, authorization.ActionInvitationCancel), s.CancelInvitation)

	// Bulk lifecycle actions stay admin-only.
	admin.POST("/invitations/bulk", s.RequireRole(orgdomain.RoleAdmin), s.authorizeOrgAction(authorization.ObjectInvitation, authorization.ActionInvitationCreate), s.BulkCreateInvitations)
	admin.POST("/invitations/bulk/resend", s.RequireRole(orgdomain.RoleAdmin), s.authorizeOrgAction(authorization.ObjectInvitation, authorization.ActionInvitationResend), s.BulkResendInvitations)
	admin.POST("/invitations/bulk/cancel", s.RequireRole(orgdomain.RoleAdmin), s.authorizeOrgAction(authorization.ObjectInvitation, authorization.ActionInvitationCancel), s.BulkCancelInvitations)

	// -------- Approval Requests --------
	admin.POST("/approvals", s.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager, orgdomain.RoleUser), s.authorizeOrgAction(authorization.ObjectApprovalRequest, authorization.ActionApprovalSubmit), s.SubmitApproval)
	admin.GET("/approvals", s.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager), s.authorizeOrgAction(authorization.ObjectApprovalRequest, authorization.ActionApprovalView), s.ListApprovals)
	admin.GET("/approvals/:id", s.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager), s.authorizeOrgAction(authorization.ObjectApprovalRequest, authorization.ActionApprovalView), s.GetApprovalByID)
	admin.POST("/approvals/:id/decide", s.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager), s.authorizeOrgAction(authorization.ObjectApprovalRequest, authorization.ActionApprovalDecide), s.DecideApproval)
	admin.POST("/approvals/bulk/decide", s.RequireRole(orgdomain.RoleAdmin), s.authorizeOrgAction(authorization.ObjectApprovalRequest, authorization.ActionApprovalDecide), s.BulkDecideApprovals)

	// -------- Audit Logs --------
	admin.GET("/audit-logs", s.RequireRole(orgdomain.RoleAdmin), s.authorizeOrgAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	// -------- Organization --------
	admin.GET("/organization", s.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager, orgdomain.RoleUser), s.GetOrganization)
}

func (s *Server) registerPublicRoutes() {
	// Accept needs the caller's identity but no membership: the invitee is
	// not a member until the accept commits.
	s.engine.POST("/invite/:code/accept", s.AuthRequired(), s.AcceptRateLimit(), s.AcceptInvitation)

	orgs := s.engine.Group("/orgs", s.AuthRequired())
	{
		orgs.GET("", s.ListUserOrgs)
		orgs.POST("", s.CreateOrganization)
	}
}
