// Package domain contains the invitation lifecycle types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TTL is the acceptance window measured from issue time. Resending an
// invitation re-delivers the email but never moves the deadline.
const TTL = 7 * 24 * time.Hour

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Invitation is an offer for an email address to join an organization under
// a given role. At most one pending invitation may exist per normalized
// email per organization, enforced by a partial unique index.
type Invitation struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID `gorm:"column:org_id;not null;index" json:"org_id"`
	Email        string       `gorm:"type:text;not null" json:"email"`
	Role         string       `gorm:"type:text;not null" json:"role"`
	Code         string       `gorm:"type:text;not null;uniqueIndex:ux_invitations_code" json:"-"`
	Status       Status       `gorm:"type:text;not null" json:"status"`
	InvitedBy    snowflake.ID `gorm:"column:invited_by;not null" json:"invited_by"`
	ExpiresAt    time.Time    `gorm:"column:expires_at;not null;index" json:"expires_at"`
	AcceptedAt   *time.Time   `gorm:"column:accepted_at" json:"accepted_at,omitempty"`
	CancelledAt  *time.Time   `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason *string      `gorm:"column:cancellation_reason;type:text" json:"cancellation_reason,omitempty"`
	ResendCount  int          `gorm:"column:resend_count;not null;default:0" json:"resend_count"`
	LastSentAt   time.Time    `gorm:"column:last_sent_at;not null" json:"last_sent_at"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invitation) TableName() string { return "invitations" }

// IsExpired reports whether the acceptance window has passed at now. The
// stored status is not authoritative for this: rows may sit at pending past
// their deadline until the next mutation or sweep touches them.
func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
