package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/invitation/domain"
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

func (r *repository) Insert(ctx context.Context, inv *domain.Invitation) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO invitations (
			id, org_id, email, role, code, status, invited_by,
			expires_at, resend_count, last_sent_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.OrgID,
		inv.Email,
		inv.Role,
		inv.Code,
		inv.Status,
		inv.InvitedBy,
		inv.ExpiresAt,
		inv.ResendCount,
		inv.LastSentAt,
		inv.CreatedAt,
		inv.UpdatedAt,
	).Error
}

func (r *repository) GetByID(ctx context.Context, orgID, id snowflake.ID) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.WithContext(ctx).First(&inv, "org_id = ? AND id = ?", orgID, id).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) GetByCode(ctx context.Context, code string) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.WithContext(ctx).First(&inv, "code = ?", code).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) FindPendingByEmail(ctx context.Context, orgID snowflake.ID, email string) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.WithContext(ctx).
		First(&inv, "org_id = ? AND email = ? AND status = ?", orgID, email, domain.StatusPending).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

func (r *repository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Invitation, error) {
	var invs []*domain.Invitation
	stmt := r.db.WithContext(ctx).Model(&domain.Invitation{}).
		Where("org_id = ?", filter.OrgID)

	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.Email != nil {
		if email := strings.TrimSpace(*filter.Email); email != "" {
			stmt = stmt.Where("email = ?", email)
		}
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&invs).Error; err != nil {
		return nil, err
	}
	return invs, nil
}

func (r *repository) MarkAccepted(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invitations SET status = ?, accepted_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusAccepted, at, at, id, domain.StatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkCancelled(ctx context.Context, id snowflake.ID, at time.Time, reason *string) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invitations SET status = ?, cancelled_at = ?, cancellation_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusCancelled, at, reason, at, id, domain.StatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkExpired(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invitations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusExpired, at, id, domain.StatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkResent(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invitations SET resend_count = resend_count + 1, last_sent_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		at, at, id, domain.StatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) ExpireBatch(ctx context.Context, cutoff time.Time, limit int) ([]domain.ExpiredInvitation, error) {
	var rows []domain.ExpiredInvitation
	err := r.db.WithContext(ctx).Raw(
		`UPDATE invitations SET status = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM invitations
			WHERE status = ? AND expires_at <= ?
			ORDER BY expires_at ASC
			LIMIT ?
		 )
		 RETURNING id, org_id, email`,
		domain.StatusExpired,
		cutoff,
		domain.StatusPending,
		cutoff,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
