// Package domain contains core types for the user service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// User represents a system user account.
type User struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	Email       string            `gorm:"type:text;not null;uniqueIndex:ux_users_email" json:"email"`
	DisplayName string            `gorm:"column:display_name;type:text;not null" json:"display_name"`
	Phone       *string           `gorm:"type:text" json:"phone,omitempty"`
	Title       *string           `gorm:"type:text" json:"title,omitempty"`
	AvatarURL   *string           `gorm:"column:avatar_url;type:text" json:"avatar_url,omitempty"`
	IsDefault   bool              `gorm:"column:is_default" json:"-"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }
