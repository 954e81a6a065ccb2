package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/approval/domain"
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

func (r *repository) Insert(ctx context.Context, req *domain.ApprovalRequest) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO approval_requests (
			id, org_id, user_id, requested_changes, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.OrgID,
		req.UserID,
		req.RequestedChanges,
		req.Status,
		req.CreatedAt,
		req.UpdatedAt,
	).Error
}

func (r *repository) GetByID(ctx context.Context, orgID, id snowflake.ID) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	err := r.db.WithContext(ctx).First(&req, "org_id = ? AND id = ?", orgID, id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) FindPendingByUser(ctx context.Context, userID snowflake.ID) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	err := r.db.WithContext(ctx).
		First(&req, "user_id = ? AND status = ?", userID, domain.StatusPending).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (r *repository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.ApprovalRequest, error) {
	var reqs []*domain.ApprovalRequest
	stmt := r.db.WithContext(ctx).Model(&domain.ApprovalRequest{}).
		Where("org_id = ?", filter.OrgID)

	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.UserID != nil {
		stmt = stmt.Where("user_id = ?", *filter.UserID)
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

	if err := stmt.Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (r *repository) PendingIDs(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) ([]snowflake.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var pending []snowflake.ID
	err := r.db.WithContext(ctx).Model(&domain.ApprovalRequest{}).
		Where("org_id = ? AND status = ? AND id IN ?", orgID, domain.StatusPending, ids).
		Pluck("id", &pending).Error
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (r *repository) MarkApproved(ctx context.Context, id, reviewer snowflake.ID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE approval_requests SET status = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusApproved, reviewer, at, at, id, domain.StatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkRejected(ctx context.Context, id, reviewer snowflake.ID, at time.Time, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE approval_requests SET status = ?, reviewed_by = ?, reviewed_at = ?, rejection_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusRejected, reviewer, at, reason, at, id, domain.StatusPending,
	)
	return res.RowsAffected > 0, res.Error
}
