package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectInvitation         = "invitation"
	ObjectApprovalRequest    = "approval_request"
	ObjectAuditLog           = "audit_log"
	ObjectOrganizationMember = "organization_member"
)

const (
	ActionInvitationView   = "invitation.view"
	ActionInvitationCreate = "invitation.create"
	ActionInvitationResend = "invitation.resend"
	ActionInvitationCancel = "invitation.cancel"

	ActionApprovalView   = "approval_request.view"
	ActionApprovalSubmit = "approval_request.submit"
	ActionApprovalDecide = "approval_request.decide"

	ActionAuditLogView = "audit_log.view"

	ActionMemberView = "organization_member.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := s.resolveActor(ctx, actor, orgID)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, orgID, object, action)
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, orgID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actorType, actorID, orgID, object, action)
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, orgID string) (string, string, string, *string, error) {
	if actor == "system" {
		roleName := "role:system"
		return actor, roleName, "system", nil, nil
	}
	if strings.HasPrefix(actor, "api_key:") {
		// API keys use system role for full permissions
		apiKeyIDRaw := strings.TrimPrefix(actor, "api_key:")
		apiKeyID, err := snowflake.ParseString(apiKeyIDRaw)
		if err != nil || apiKeyID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		apiKeyIDStr := apiKeyID.String()
		roleName := "role:system"
		return actor, roleName, "api_key", &apiKeyIDStr, nil
	}
	if strings.HasPrefix(actor, "user:") {
		userIDRaw := strings.TrimPrefix(actor, "user:")
		userID, err := snowflake.ParseString(userIDRaw)
		if err != nil || userID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		parsedOrgID, err := snowflake.ParseString(orgID)
		userIDStr := userID.String()
		if err != nil || parsedOrgID == 0 {
			return actor, "", "user", &userIDStr, ErrInvalidOrganization
		}
		role, err := s.roleForUser(ctx, parsedOrgID, userID)
		if err != nil {
			return actor, "", "user", &userIDStr, err
		}
		roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
		return actor, roleName, "user", &userIDStr, nil
	}
	return "", "", "", nil, ErrInvalidActor
}

func (s *ServiceImpl) roleForUser(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM organization_members
		 WHERE org_id = ? AND user_id = ?
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *string, orgID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	parsedOrgID, err := snowflake.ParseString(orgID)
	if err != nil || parsedOrgID == 0 {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &parsedOrgID, actorType, actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"actor":   actorType,
		"org_id":  orgID,
		"subject": actorSubject(actorType, actorID),
	})
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorType string, actorID *string, orgID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	parsedOrgID, err := snowflake.ParseString(orgID)
	if err != nil || parsedOrgID == 0 {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &parsedOrgID, actorType, actorID, "authorization.granted", "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"actor":   actorType,
		"org_id":  orgID,
		"subject": actorSubject(actorType, actorID),
	})
}

func actorSubject(actorType string, actorID *string) string {
	switch actorType {
	case "system":
		return "system"
	case "user":
		if actorID != nil && strings.TrimSpace(*actorID) != "" {
			return fmt.Sprintf("user:%s", strings.TrimSpace(*actorID))
		}
	}
	return ""
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionApprovalDecide, ActionInvitationCancel:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Regular users can raise profile change requests and see their own.
		{"role:user", ObjectApprovalRequest, ActionApprovalSubmit},

		// Manager permissions
		{"role:manager", ObjectInvitation, ActionInvitationView},
		{"role:manager", ObjectInvitation, ActionInvitationCreate},
		{"role:manager", ObjectInvitation, ActionInvitationResend},
		{"role:manager", ObjectInvitation, ActionInvitationCancel},
		{"role:manager", ObjectApprovalRequest, ActionApprovalSubmit},
		{"role:manager", ObjectApprovalRequest, ActionApprovalView},
		{"role:manager", ObjectApprovalRequest, ActionApprovalDecide},
		{"role:manager", ObjectOrganizationMember, ActionMemberView},

		// Admin permissions
		{"role:admin", ObjectInvitation, ActionInvitationView},
		{"role:admin", ObjectInvitation, ActionInvitationCreate},
		{"role:admin", ObjectInvitation, ActionInvitationResend},
		{"role:admin", ObjectInvitation, ActionInvitationCancel},
		{"role:admin", ObjectApprovalRequest, ActionApprovalSubmit},
		{"role:admin", ObjectApprovalRequest, ActionApprovalView},
		{"role:admin", ObjectApprovalRequest, ActionApprovalDecide},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectOrganizationMember, ActionMemberView},

		// System permissions (for automated processes and API keys)
		{"role:system", ObjectInvitation, ActionInvitationView},
		{"role:system", ObjectInvitation, ActionInvitationCreate},
		{"role:system", ObjectInvitation, ActionInvitationResend},
		{"role:system", ObjectInvitation, ActionInvitationCancel},
		{"role:system", ObjectApprovalRequest, ActionApprovalView},
		{"role:system", ObjectApprovalRequest, ActionApprovalDecide},
		{"role:system", ObjectAuditLog, ActionAuditLogView},
		{"role:system", ObjectOrganizationMember, ActionMemberView},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
