package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ExpiredInvitation is one row flipped to expired by a sweep batch.
type ExpiredInvitation struct {
	ID    snowflake.ID
	OrgID snowflake.ID
	Email string
}

type ListCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID  snowflake.ID
	Status *Status
	Email  *string
	Cursor *ListCursor
	Limit  int
}

// Repository persists invitations. The Mark* methods are conditional
// updates guarded on the current status; they report whether a row was
// actually written so callers can distinguish a won transition from a lost
// race.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, inv *Invitation) error
	GetByID(ctx context.Context, orgID, id snowflake.ID) (*Invitation, error)
	GetByCode(ctx context.Context, code string) (*Invitation, error)
	FindPendingByEmail(ctx context.Context, orgID snowflake.ID, email string) (*Invitation, error)
	List(ctx context.Context, filter ListFilter) ([]*Invitation, error)
	MarkAccepted(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id snowflake.ID, at time.Time, reason *string) (bool, error)
	MarkExpired(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
	MarkResent(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
	ExpireBatch(ctx context.Context, cutoff time.Time, limit int) ([]ExpiredInvitation, error)
}
