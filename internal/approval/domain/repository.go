package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID  snowflake.ID
	Status *Status
	UserID *snowflake.ID
	Cursor *ListCursor
	Limit  int
}

// Repository persists approval requests. MarkApproved and MarkRejected are
// conditional updates guarded on pending status; they report whether a row
// was written so callers can tell a won transition from a lost race.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, req *ApprovalRequest) error
	GetByID(ctx context.Context, orgID, id snowflake.ID) (*ApprovalRequest, error)
	FindPendingByUser(ctx context.Context, userID snowflake.ID) (*ApprovalRequest, error)
	List(ctx context.Context, filter ListFilter) ([]*ApprovalRequest, error)
	PendingIDs(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) ([]snowflake.ID, error)
	MarkApproved(ctx context.Context, id, reviewer snowflake.ID, at time.Time) (bool, error)
	MarkRejected(ctx context.Context, id, reviewer snowflake.ID, at time.Time, reason string) (bool, error)
}
