package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrUnknownProfileField = errors.New("unknown_profile_field")

// ProfileColumns maps mutable profile field names to their storage columns.
// Approval decisions may only ever touch these.
var ProfileColumns = map[string]string{
	"display_name": "display_name",
	"phone":        "phone",
	"title":        "title",
	"avatar_url":   "avatar_url",
}

// ProfileFieldOrder fixes the SET clause order for profile updates.
var ProfileFieldOrder = []string{"display_name", "phone", "title", "avatar_url"}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, id snowflake.ID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ApplyProfileFields(ctx context.Context, userID snowflake.ID, fields map[string]any) error
}
