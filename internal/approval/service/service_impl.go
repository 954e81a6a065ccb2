package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/approval/domain"
	"github.com/smallbiznis/atrium/internal/audit"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/fault"
	"github.com/smallbiznis/atrium/internal/identity"
	"github.com/smallbiznis/atrium/internal/notification"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	userdomain "github.com/smallbiznis/atrium/internal/user/domain"
	"github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errDecisionLost signals a lost conditional update inside the decide
// transaction; the caller reloads the row to classify what won.
var errDecisionLost = errors.New("approval decision lost")

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Users    userdomain.Repository
	Recorder *audit.Recorder
	Dispatch *notification.Dispatcher
	Metrics  *obsmetrics.Metrics
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clk      clock.Clock
	repo     domain.Repository
	users    userdomain.Repository
	recorder *audit.Recorder
	dispatch *notification.Dispatcher
	metrics  *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("approval.service"),
		genID:    p.GenID,
		clk:      p.Clock,
		repo:     p.Repo,
		users:    p.Users,
		recorder: p.Recorder,
		dispatch: p.Dispatch,
		metrics:  p.Metrics,
	}
}

func (s *service) Submit(ctx context.Context, orgID snowflake.ID, actor identity.Actor, req domain.SubmitRequest) (*domain.ApprovalResponse, error) {
	changes, err := normalizeChanges(req.Changes)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindPendingByUser(ctx, actor.UserID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, domain.ErrPendingExists
	}

	now := s.clk.Now()
	request := &domain.ApprovalRequest{
		ID:               s.genID.Generate(),
		OrgID:            orgID,
		UserID:           actor.UserID,
		RequestedChanges: datatypes.JSONMap(changes),
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, request); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrPendingExists
		}
		return nil, err
	}

	s.metrics.RecordApprovalSubmitted(ctx, orgID.String())
	s.recordAudit(ctx, actor, orgID, "approval_submitted", request.ID, map[string]any{
		"user_id": request.UserID.String(),
		"fields":  fieldNames(changes),
	})

	return s.view(request), nil
}

func (s *service) Decide(ctx context.Context, orgID snowflake.ID, actor identity.Actor, id snowflake.ID, req domain.DecideRequest) (*domain.ApprovalResponse, error) {
	action, reason, err := normalizeDecision(req.Action, req.Reason)
	if err != nil {
		return nil, err
	}

	request, err := s.decideOne(ctx, orgID, actor, id, action, reason)
	if err != nil {
		return nil, err
	}
	return s.view(request), nil
}

// decideOne settles a single pending request. Approval applies the requested
// changes to the user profile and flips the status in one transaction, so a
// reader never observes one without the other. Rejection records the reason
// and touches no profile.
func (s *service) decideOne(ctx context.Context, orgID snowflake.ID, actor identity.Actor, id snowflake.ID, action domain.Action, reason string) (*domain.ApprovalRequest, error) {
	request, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if request.Status != domain.StatusPending {
		return nil, domain.ErrAlreadyDecided
	}
	now := s.clk.Now()

	switch action {
	case domain.ActionApprove:
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ok, err := s.repo.WithTx(tx).MarkApproved(ctx, request.ID, actor.UserID, now)
			if err != nil {
				return err
			}
			if !ok {
				return errDecisionLost
			}
			return s.users.WithTx(tx).ApplyProfileFields(ctx, request.UserID, request.RequestedChanges)
		})
		if err != nil {
			if errors.Is(err, errDecisionLost) {
				return nil, s.classifyLostDecision(ctx, orgID, id)
			}
			if errors.Is(err, userdomain.ErrUnknownProfileField) {
				// The stored request predates a whitelist change; the
				// rollback leaves it pending for rejection.
				return nil, fault.New(fault.KindValidation, "requested changes contain a field that is no longer mutable")
			}
			return nil, err
		}
		request.Status = domain.StatusApproved

	case domain.ActionReject:
		ok, err := s.repo.MarkRejected(ctx, request.ID, actor.UserID, now, reason)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, s.classifyLostDecision(ctx, orgID, id)
		}
		request.Status = domain.StatusRejected
		request.RejectionReason = &reason
	}

	reviewer := actor.UserID
	request.ReviewedBy = &reviewer
	request.ReviewedAt = &now
	request.UpdatedAt = now

	s.metrics.RecordApprovalDecision(ctx, orgID.String(), string(action))
	meta := map[string]any{"user_id": request.UserID.String()}
	if action == domain.ActionApprove {
		meta["fields"] = fieldNames(request.RequestedChanges)
		s.recordAudit(ctx, actor, orgID, "approval_approved", request.ID, meta)
	} else {
		meta["reason"] = reason
		s.recordAudit(ctx, actor, orgID, "approval_rejected", request.ID, meta)
	}
	s.sendDecisionEmail(ctx, request, action, reason, now)

	return request, nil
}

func (s *service) Get(ctx context.Context, orgID, id snowflake.ID) (*domain.ApprovalResponse, error) {
	request, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return s.view(request), nil
}

func (s *service) List(ctx context.Context, orgID snowflake.ID, req domain.ListRequest) (*domain.ListResponse, error) {
	filter := domain.ListFilter{OrgID: orgID}

	if status := strings.TrimSpace(req.Status); status != "" {
		st := domain.Status(status)
		switch st {
		case domain.StatusPending, domain.StatusApproved, domain.StatusRejected:
			filter.Status = &st
		default:
			return nil, fault.Newf(fault.KindValidation, "unknown status %q", status)
		}
	}
	if raw := strings.TrimSpace(req.UserID); raw != "" {
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			return nil, fault.Newf(fault.KindValidation, "invalid user_id %q", raw)
		}
		filter.UserID = &userID
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

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.ApprovalRequest) string {
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
		Approvals: make([]domain.ApprovalResponse, 0, len(items)),
		PageInfo:  *pageInfo,
	}
	for _, item := range items {
		resp.Approvals = append(resp.Approvals, *s.view(item))
	}
	return resp, nil
}

// classifyLostDecision reloads a request after a conditional update wrote
// zero rows. A lost write means another reviewer got there first, unless the
// row is gone entirely.
func (s *service) classifyLostDecision(ctx context.Context, orgID, id snowflake.ID) error {
	if _, err := s.repo.GetByID(ctx, orgID, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	return domain.ErrAlreadyDecided
}

func (s *service) sendDecisionEmail(ctx context.Context, request *domain.ApprovalRequest, action domain.Action, reason string, decidedAt time.Time) {
	subject, err := s.users.GetByID(ctx, request.UserID)
	if err != nil {
		s.log.Warn("decision email skipped, user lookup failed",
			zap.String("request_id", request.ID.String()),
			zap.Error(err),
		)
		return
	}

	decision := "approved"
	if action == domain.ActionReject {
		decision = "rejected"
	}
	s.dispatch.SendTemplate([]string{subject.Email}, "approval_decided", map[string]any{
		"subject":    "Your profile change request was " + decision,
		"decision":   decision,
		"reason":     reason,
		"request_id": request.ID.String(),
		"decided_at": decidedAt.Format("Jan 2, 2006"),
	})
}

func (s *service) recordAudit(ctx context.Context, actor identity.Actor, orgID snowflake.ID, action string, requestID snowflake.ID, metadata map[string]any) {
	actorID := actor.UserID.String()
	targetID := requestID.String()
	s.recorder.Record(ctx, &orgID, string(auditdomain.ActorTypeUser), &actorID,
		action, "approval_request", &targetID, metadata)
}

func (s *service) view(request *domain.ApprovalRequest) *domain.ApprovalResponse {
	resp := &domain.ApprovalResponse{
		ID:               request.ID.String(),
		OrgID:            request.OrgID.String(),
		UserID:           request.UserID.String(),
		RequestedChanges: request.RequestedChanges,
		Status:           string(request.Status),
		ReviewedAt:       request.ReviewedAt,
		RejectionReason:  request.RejectionReason,
		RequestedAt:      request.CreatedAt,
	}
	if request.ReviewedBy != nil {
		reviewer := request.ReviewedBy.String()
		resp.ReviewedBy = &reviewer
	}
	return resp
}

// normalizeChanges validates a proposed profile change against the mutable
// field whitelist. Values must be strings; display_name cannot be blanked.
func normalizeChanges(raw map[string]any) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, domain.ErrEmptyChanges
	}

	changes := make(map[string]any, len(raw))
	for name, value := range raw {
		if _, ok := userdomain.ProfileColumns[name]; !ok {
			return nil, fault.Newf(fault.KindValidation, "unknown profile field %q", name)
		}
		text, ok := value.(string)
		if !ok {
			return nil, fault.Newf(fault.KindValidation, "field %q must be a string", name)
		}
		text = strings.TrimSpace(text)
		if name == "display_name" && text == "" {
			return nil, fault.New(fault.KindValidation, "display_name cannot be empty")
		}
		changes[name] = text
	}
	return changes, nil
}

func normalizeDecision(action domain.Action, reason string) (domain.Action, string, error) {
	action = domain.Action(strings.ToLower(strings.TrimSpace(string(action))))
	reason = strings.TrimSpace(reason)

	switch action {
	case domain.ActionApprove, domain.ActionReject:
	default:
		return "", "", domain.ErrInvalidAction
	}
	if action == domain.ActionReject && reason == "" {
		return "", "", domain.ErrReasonRequired
	}
	return action, reason, nil
}

func fieldNames(changes map[string]any) []string {
	names := make([]string, 0, len(changes))
	for _, name := range userdomain.ProfileFieldOrder {
		if _, ok := changes[name]; ok {
			names = append(names, name)
		}
	}
	return names
}
