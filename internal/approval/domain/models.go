// Package domain contains the profile-change approval types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ApprovalRequest is a proposed profile change held until a reviewer decides.
// RequestedChanges is immutable after creation; pending is the only status a
// decision can move away from, and approved/rejected are terminal. At most
// one pending request may exist per user, enforced by a partial unique index.
type ApprovalRequest struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID      `gorm:"column:org_id;not null;index" json:"org_id"`
	UserID           snowflake.ID      `gorm:"column:user_id;not null;index" json:"user_id"`
	RequestedChanges datatypes.JSONMap `gorm:"column:requested_changes;type:jsonb;not null" json:"requested_changes"`
	Status           Status            `gorm:"type:text;not null" json:"status"`
	ReviewedBy       *snowflake.ID     `gorm:"column:reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time        `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	RejectionReason  *string           `gorm:"column:rejection_reason;type:text" json:"rejection_reason,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ApprovalRequest) TableName() string { return "approval_requests" }
