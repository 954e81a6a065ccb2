package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/bulkop"
	"github.com/smallbiznis/atrium/internal/fault"
	"github.com/smallbiznis/atrium/internal/identity"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

var (
	ErrNotFound         = fault.New(fault.KindNotFound, "invitation not found")
	ErrExpired          = fault.New(fault.KindExpired, "invitation has expired")
	ErrAlreadyAccepted  = fault.New(fault.KindInvalidState, "invitation was already accepted")
	ErrAlreadyCancelled = fault.New(fault.KindInvalidState, "invitation was already cancelled")
	ErrNotPending       = fault.New(fault.KindInvalidState, "invitation is not pending")
	ErrPendingExists    = fault.New(fault.KindConflict, "a pending invitation already exists for this email")
	ErrAlreadyMember    = fault.New(fault.KindConflict, "user is already a member of this organization")
	ErrDuplicateInBatch = fault.New(fault.KindConflict, "duplicate identifier in request")
	ErrDuplicateEmail   = fault.New(fault.KindConflict, "duplicate email in request")
	ErrInvalidEmail     = fault.New(fault.KindValidation, "invalid email address")
	ErrInvalidRole      = fault.New(fault.KindValidation, "invalid role")
	ErrInvalidID        = fault.New(fault.KindValidation, "invalid invitation id")
	ErrEmptyBatch       = fault.New(fault.KindValidation, "at least one item is required")
	ErrInvalidPageToken = fault.New(fault.KindValidation, "invalid page token")
	ErrQuotaExceeded    = fault.New(fault.KindRateLimited, "daily invitation limit reached")
)

type CreateRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type ListRequest struct {
	Status    string `form:"status"`
	Email     string `form:"email"`
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// InvitationResponse is the read model returned to clients. Expired is
// computed against the clock at render time so listings stay truthful even
// when the stored status lags the deadline.
type InvitationResponse struct {
	ID           string     `json:"id"`
	OrgID        string     `json:"org_id"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	Expired      bool       `json:"expired"`
	InvitedBy    string     `json:"invited_by"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason *string    `json:"cancellation_reason,omitempty"`
	ResendCount  int        `json:"resend_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

type ListResponse struct {
	Invitations []InvitationResponse `json:"invitations"`
	PageInfo    pagination.PageInfo  `json:"page_info"`
}

type AcceptResponse struct {
	OrgID   string `json:"org_id"`
	OrgName string `json:"org_name"`
	Role    string `json:"role"`
}

type Service interface {
	Create(ctx context.Context, orgID snowflake.ID, actor identity.Actor, req CreateRequest) (*InvitationResponse, error)
	Resend(ctx context.Context, orgID snowflake.ID, actor identity.Actor, id snowflake.ID) (*InvitationResponse, error)
	Cancel(ctx context.Context, orgID snowflake.ID, actor identity.Actor, id snowflake.ID, reason string) (*InvitationResponse, error)
	Accept(ctx context.Context, code string, userID snowflake.ID) (*AcceptResponse, error)
	Get(ctx context.Context, orgID, id snowflake.ID) (*InvitationResponse, error)
	List(ctx context.Context, orgID snowflake.ID, req ListRequest) (*ListResponse, error)

	CreateMany(ctx context.Context, orgID snowflake.ID, actor identity.Actor, reqs []CreateRequest) (*bulkop.Result, error)
	ResendMany(ctx context.Context, orgID snowflake.ID, actor identity.Actor, ids []string) (*bulkop.Result, error)
	CancelMany(ctx context.Context, orgID snowflake.ID, actor identity.Actor, ids []string) (*bulkop.Result, error)
}
