package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/user/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, user domain.User) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO users (id, email, display_name, phone, title, avatar_url, is_default, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.DisplayName,
		user.Phone,
		user.Title,
		user.AvatarURL,
		user.IsDefault,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repository) GetByID(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) ApplyProfileFields(ctx context.Context, userID snowflake.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for _, name := range domain.ProfileFieldOrder {
		value, ok := fields[name]
		if !ok {
			continue
		}
		sets = append(sets, domain.ProfileColumns[name]+" = ?")
		args = append(args, value)
	}
	if len(sets) != len(fields) {
		return domain.ErrUnknownProfileField
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), userID)

	return r.db.WithContext(ctx).Exec(
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?",
		args...,
	).Error
}
