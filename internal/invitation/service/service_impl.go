package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/atrium/internal/audit"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/fault"
	"github.com/smallbiznis/atrium/internal/identity"
	"github.com/smallbiznis/atrium/internal/invitation/domain"
	"github.com/smallbiznis/atrium/internal/notification"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/internal/ratelimit"
	userdomain "github.com/smallbiznis/atrium/internal/user/domain"
	"github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errStatusChanged signals a lost conditional update inside a transaction;
// the caller reloads the row to classify what won.
var errStatusChanged = errors.New("invitation status changed")

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Users    userdomain.Repository
	Orgs     orgdomain.Repository
	Recorder *audit.Recorder
	Dispatch *notification.Dispatcher
	Limiter  *ratelimit.Limiter `optional:"true"`
	Metrics  *obsmetrics.Metrics
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	baseURL  string
	genID    *snowflake.Node
	clk      clock.Clock
	repo     domain.Repository
	users    userdomain.Repository
	orgs     orgdomain.Repository
	recorder *audit.Recorder
	dispatch *notification.Dispatcher
	limiter  *ratelimit.Limiter
	metrics  *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("invitation.service"),
		baseURL:  p.Config.PublicBaseURL,
		genID:    p.GenID,
		clk:      p.Clock,
		repo:     p.Repo,
		users:    p.Users,
		orgs:     p.Orgs,
		recorder: p.Recorder,
		dispatch: p.Dispatch,
		limiter:  p.Limiter,
		metrics:  p.Metrics,
	}
}

func (s *service) Create(ctx context.Context, orgID snowflake.ID, actor identity.Actor, req domain.CreateRequest) (*domain.InvitationResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	role, err := normalizeRole(req.Role)
	if err != nil {
		return nil, err
	}

	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	inv, err := s.createOne(ctx, org, actor, email, role)
	if err != nil {
		return nil, err
	}

	return s.view(inv), nil
}

// createOne runs the conflict checks, quota reservation, and insert for a
// single invitation. Conflicting requests never consume quota.
func (s *service) createOne(ctx context.Context, org *orgdomain.Organization, actor identity.Actor, email, role string) (*domain.Invitation, error) {
	now := s.clk.Now()

	if user, err := s.users.GetByEmail(ctx, email); err == nil && user != nil {
		member, err := s.orgs.IsMember(ctx, org.ID, user.ID)
		if err != nil {
			return nil, err
		}
		if member {
			return nil, domain.ErrAlreadyMember
		}
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if existing, err := s.repo.FindPendingByEmail(ctx, org.ID, email); err != nil {
		return nil, err
	} else if existing != nil {
		if !existing.IsExpired(now) {
			return nil, domain.ErrPendingExists
		}
		// A stale pending row past its deadline does not block a fresh
		// invitation; retire it first.
		s.lazyExpire(ctx, existing, now)
	}

	if err := s.reserveQuota(ctx, org.ID, 1); err != nil {
		return nil, err
	}

	inv := &domain.Invitation{
		ID:         s.genID.Generate(),
		OrgID:      org.ID,
		Email:      email,
		Role:       role,
		Code:       uuid.NewString(),
		Status:     domain.StatusPending,
		InvitedBy:  actor.UserID,
		ExpiresAt:  now.Add(domain.TTL),
		LastSentAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, inv); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrPendingExists
		}
		return nil, err
	}

	s.metrics.RecordInvitationIssued(ctx, org.ID.String())
	s.recordAudit(ctx, actor, org.ID, "invitation_created", inv.ID, map[string]any{
		"email":      inv.Email,
		"role":       inv.Role,
		"expires_at": inv.ExpiresAt.Format(time.RFC3339),
	})
	s.sendInviteEmail(ctx, org, actor, inv)

	return inv, nil
}

func (s *service) Resend(ctx context.Context, orgID snowflake.ID, actor identity.Actor, id snowflake.ID) (*domain.InvitationResponse, error) {
	inv, err := s.resendOne(ctx, orgID, actor, id)
	if err != nil {
		return nil, err
	}
	return s.view(inv), nil
}

func (s *service) resendOne(ctx context.Context, orgID snowflake.ID, actor identity.Actor, id snowflake.ID) (*domain.Invitation, error) {
	inv, err := s.loadPending(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()

	ok, err := s.repo.MarkResent(ctx, inv.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.classifyLostUpdate(ctx, orgID, id)
	}

	inv.ResendCount++
	inv.LastSentAt = now
	inv.UpdatedAt = now

	s.recordAudit(ctx, actor, orgID, "invitation_resent", inv.ID, map[string]any{
		"email":        inv.Email,
		"resend_count": inv.ResendCount,
	})

	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err == nil {
		s.sendInviteEmail(ctx, org, actor, inv)
	} else {
		s.log.Warn("resend email skipped, organization lookup failed",
			zap.String("invitation_id", inv.ID.String()),
			zap.Error(err),
		)
	}

	return inv, nil
}

func (s *service) Cancel(ctx context.Context, orgID snowflake.ID, actor identity.Actor, id snowflake.ID, reason string) (*domain.InvitationResponse, error) {
	inv, err := s.cancelOne(ctx, orgID, actor, id, reason)
	if err != nil {
		return nil, err
	}
	return s.view(inv), nil
}

func (s *service) cancelOne(ctx context.Context, orgID snowflake.ID, actor identity.Actor, id snowflake.ID, reason string) (*domain.Invitation, error) {
	inv, err := s.loadPending(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()

	var reasonPtr *string
	if reason = strings.TrimSpace(reason); reason != "" {
		reasonPtr = &reason
	}

	ok, err := s.repo.MarkCancelled(ctx, inv.ID, now, reasonPtr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.classifyLostUpdate(ctx, orgID, id)
	}

	inv.Status = domain.StatusCancelled
	inv.CancelledAt = &now
	inv.CancelReason = reasonPtr
	inv.UpdatedAt = now

	meta := map[string]any{"email": inv.Email}
	if reasonPtr != nil {
		meta["reason"] = *reasonPtr
	}
	obsmetrics.Lifecycle().IncInvitationTransition(
		obsmetrics.InvitationStatusPending, obsmetrics.InvitationStatusCancelled)
	s.recordAudit(ctx, actor, orgID, "invitation_cancelled", inv.ID, meta)

	return inv, nil
}

func (s *service) Accept(ctx context.Context, code string, userID snowflake.ID) (*domain.AcceptResponse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fault.New(fault.KindValidation, "invitation code is required")
	}
	if userID == 0 {
		return nil, fault.New(fault.KindValidation, "user id is required")
	}

	inv, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := s.ensureAcceptable(ctx, inv); err != nil {
		return nil, err
	}
	now := s.clk.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		txUsers := s.users.WithTx(tx)
		txOrgs := s.orgs.WithTx(tx)

		ok, err := txRepo.MarkAccepted(ctx, inv.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errStatusChanged
		}

		if _, err := txUsers.GetByID(ctx, userID); err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			// First sign-in through an invitation provisions the account
			// from the invitation email.
			if err := txUsers.Create(ctx, userdomain.User{
				ID:          userID,
				Email:       inv.Email,
				DisplayName: defaultDisplayName(inv.Email),
				CreatedAt:   now,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
		}

		return txOrgs.AddMember(ctx, orgdomain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     inv.OrgID,
			UserID:    userID,
			Role:      inv.Role,
			CreatedAt: now,
		})
	})
	if err != nil {
		if errors.Is(err, errStatusChanged) {
			return nil, s.classifyLostUpdate(ctx, inv.OrgID, inv.ID)
		}
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyMember
		}
		return nil, err
	}

	s.metrics.RecordInvitationAccepted(ctx, inv.OrgID.String())
	obsmetrics.Lifecycle().IncInvitationTransition(
		obsmetrics.InvitationStatusPending, obsmetrics.InvitationStatusAccepted)
	s.recordAudit(ctx, identity.Actor{UserID: userID}, inv.OrgID, "invitation_accepted", inv.ID, map[string]any{
		"email": inv.Email,
		"role":  inv.Role,
	})

	resp := &domain.AcceptResponse{
		OrgID: inv.OrgID.String(),
		Role:  inv.Role,
	}
	if org, err := s.orgs.GetOrganization(ctx, inv.OrgID); err == nil {
		resp.OrgName = org.Name
	}
	return resp, nil
}

func (s *service) Get(ctx context.Context, orgID, id snowflake.ID) (*domain.InvitationResponse, error) {
	inv, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return s.view(inv), nil
}

func (s *service) List(ctx context.Context, orgID snowflake.ID, req domain.ListRequest) (*domain.ListResponse, error) {
	filter := domain.ListFilter{OrgID: orgID}

	if status := strings.TrimSpace(req.Status); status != "" {
		st := domain.Status(status)
		switch st {
		case domain.StatusPending, domain.StatusAccepted, domain.StatusCancelled, domain.StatusExpired:
			filter.Status = &st
		default:
			return nil, fault.Newf(fault.KindValidation, "unknown status %q", status)
		}
	}
	if raw := strings.TrimSpace(req.Email); raw != "" {
		email, err := normalizeEmail(raw)
		if err != nil {
			return nil, domain.ErrInvalidEmail
		}
		filter.Email = &email
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return nil, domain.ErrInvalidPageToken
		}
		filter.Cursor = &domain.ListCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}
	filter.Limit = pageSize

	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.Invitation) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	resp := &domain.ListResponse{
		Invitations: make([]domain.InvitationResponse, 0, len(items)),
		PageInfo:    *pageInfo,
	}
	for _, item := range items {
		resp.Invitations = append(resp.Invitations, *s.view(item))
	}
	return resp, nil
}

// loadPending fetches an invitation and verifies it is still actionable:
// pending and inside its acceptance window. Past-deadline pending rows are
// retired on the spot and reported as expired.
func (s *service) loadPending(ctx context.Context, orgID, id snowflake.ID) (*domain.Invitation, error) {
	inv, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := s.ensureAcceptable(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *service) ensureAcceptable(ctx context.Context, inv *domain.Invitation) error {
	switch inv.Status {
	case domain.StatusAccepted:
		return domain.ErrAlreadyAccepted
	case domain.StatusCancelled:
		return domain.ErrAlreadyCancelled
	case domain.StatusExpired:
		return domain.ErrExpired
	}

	if now := s.clk.Now(); inv.IsExpired(now) {
		s.lazyExpire(ctx, inv, now)
		return domain.ErrExpired
	}
	return nil
}

// lazyExpire writes the expired status back for a past-deadline pending row.
// Best effort: the caller's verdict stands even if the write loses a race or
// fails.
func (s *service) lazyExpire(ctx context.Context, inv *domain.Invitation, now time.Time) {
	ok, err := s.repo.MarkExpired(ctx, inv.ID, now)
	if err != nil {
		s.log.Warn("failed to retire expired invitation",
			zap.String("invitation_id", inv.ID.String()),
			zap.Error(err),
		)
		return
	}
	if !ok {
		return
	}

	obsmetrics.Lifecycle().IncInvitationTransition(
		obsmetrics.InvitationStatusPending, obsmetrics.InvitationStatusExpired)
	targetID := inv.ID.String()
	s.recorder.Record(ctx, &inv.OrgID, string(auditdomain.ActorTypeSystem), nil,
		"invitation_expired", "invitation", &targetID,
		map[string]any{"email": inv.Email})
}

// classifyLostUpdate reloads an invitation after a conditional update wrote
// zero rows and maps the winning state to the right error.
func (s *service) classifyLostUpdate(ctx context.Context, orgID, id snowflake.ID) error {
	inv, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	switch inv.Status {
	case domain.StatusAccepted:
		return domain.ErrAlreadyAccepted
	case domain.StatusCancelled:
		return domain.ErrAlreadyCancelled
	case domain.StatusExpired:
		return domain.ErrExpired
	default:
		return domain.ErrNotPending
	}
}

func (s *service) reserveQuota(ctx context.Context, orgID snowflake.ID, n int64) error {
	if !s.limiter.Enabled() {
		return nil
	}

	res, err := s.limiter.ReserveInvites(ctx, orgID.String(), n)
	if err != nil {
		// Quota is an availability guard, not a correctness one: a broken
		// Redis must not take invitations down with it.
		s.log.Warn("invitation quota check failed, allowing", zap.Error(err))
		return nil
	}
	if !res.Allowed {
		s.metrics.RecordRateLimitDenied(ctx, orgID.String(), "invitation_create", "daily_quota")
		return domain.ErrQuotaExceeded
	}

	s.metrics.RecordRateLimitAllowed(ctx, orgID.String(), "invitation_create")
	return nil
}

func (s *service) sendInviteEmail(ctx context.Context, org *orgdomain.Organization, actor identity.Actor, inv *domain.Invitation) {
	inviterName := ""
	if inviter, err := s.users.GetByID(ctx, actor.UserID); err == nil {
		inviterName = inviter.DisplayName
	}
	if inviterName == "" {
		inviterName = "A teammate"
	}

	s.dispatch.SendTemplate([]string{inv.Email}, "invitation_created", map[string]any{
		"org_name":     org.Name,
		"inviter_name": inviterName,
		"role":         inv.Role,
		"accept_url":   s.baseURL + "/invite/" + inv.Code,
		"expires_at":   inv.ExpiresAt.Format("Jan 2, 2006"),
	})
}

func (s *service) recordAudit(ctx context.Context, actor identity.Actor, orgID snowflake.ID, action string, invID snowflake.ID, metadata map[string]any) {
	actorID := actor.UserID.String()
	targetID := invID.String()
	s.recorder.Record(ctx, &orgID, string(auditdomain.ActorTypeUser), &actorID,
		action, "invitation", &targetID, metadata)
}

func (s *service) view(inv *domain.Invitation) *domain.InvitationResponse {
	return &domain.InvitationResponse{
		ID:           inv.ID.String(),
		OrgID:        inv.OrgID.String(),
		Email:        inv.Email,
		Role:         inv.Role,
		Status:       string(inv.Status),
		Expired:      inv.Status == domain.StatusExpired || (inv.Status == domain.StatusPending && inv.IsExpired(s.clk.Now())),
		InvitedBy:    inv.InvitedBy.String(),
		ExpiresAt:    inv.ExpiresAt,
		AcceptedAt:   inv.AcceptedAt,
		CancelledAt:  inv.CancelledAt,
		CancelReason: inv.CancelReason,
		ResendCount:  inv.ResendCount,
		CreatedAt:    inv.CreatedAt,
	}
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func normalizeRole(raw string) (string, error) {
	role := strings.ToLower(strings.TrimSpace(raw))
	if role == "" {
		return orgdomain.RoleUser, nil
	}
	if !orgdomain.ValidRole(role) {
		return "", domain.ErrInvalidRole
	}
	return role, nil
}

func defaultDisplayName(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		return strings.TrimSpace(parts[0])
	}
	return email
}
