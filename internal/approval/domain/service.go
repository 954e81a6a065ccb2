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
	ErrNotFound       = fault.New(fault.KindNotFound, "approval request not found")
	ErrAlreadyDecided = fault.New(fault.KindConflict, "approval request was already decided")
	ErrPendingExists  = fault.New(fault.KindConflict, "a pending approval request already exists for this user")
	// ErrNotActionable is the up-front bulk exclusion for ids that are
	// unknown or no longer pending; they never reach the per-item decide.
	ErrNotActionable    = fault.New(fault.KindConflict, "not found or already processed")
	ErrInvalidAction    = fault.New(fault.KindValidation, "action must be approve or reject")
	ErrReasonRequired   = fault.New(fault.KindValidation, "a reason is required to reject")
	ErrEmptyChanges     = fault.New(fault.KindValidation, "at least one profile field is required")
	ErrInvalidID        = fault.New(fault.KindValidation, "invalid approval request id")
	ErrEmptyBatch       = fault.New(fault.KindValidation, "at least one item is required")
	ErrInvalidPageToken = fault.New(fault.KindValidation, "invalid page token")
	ErrAdminRequired    = fault.New(fault.KindAuthorization, "bulk decisions require the admin role")
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

type SubmitRequest struct {
	Changes map[string]any `json:"requested_changes"`
}

type DecideRequest struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

type BulkDecideRequest struct {
	IDs    []string `json:"ids"`
	Action Action   `json:"action"`
	Reason string   `json:"reason"`
}

type ListRequest struct {
	Status    string `form:"status"`
	UserID    string `form:"user_id"`
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type ApprovalResponse struct {
	ID               string         `json:"id"`
	OrgID            string         `json:"org_id"`
	UserID           string         `json:"user_id"`
	RequestedChanges map[string]any `json:"requested_changes"`
	Status           string         `json:"status"`
	ReviewedBy       *string        `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time     `json:"reviewed_at,omitempty"`
	RejectionReason  *string        `json:"rejection_reason,omitempty"`
	RequestedAt      time.Time      `json:"requested_at"`
}

type ListResponse struct {
	Approvals []ApprovalResponse  `json:"approval_requests"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Submit(ctx context.Context, orgID snowflake.ID, actor identity.Actor, req SubmitRequest) (*ApprovalResponse, error)
	Decide(ctx context.Context, orgID snowflake.ID, actor identity.Actor, id snowflake.ID, req DecideRequest) (*ApprovalResponse, error)
	Get(ctx context.Context, orgID, id snowflake.ID) (*ApprovalResponse, error)
	List(ctx context.Context, orgID snowflake.ID, req ListRequest) (*ListResponse, error)

	DecideMany(ctx context.Context, orgID snowflake.ID, actor identity.Actor, req BulkDecideRequest) (*bulkop.Result, error)
}
