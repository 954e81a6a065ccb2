package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/atrium/internal/audit"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/organization/domain"
	"gorm.io/gorm"
)

type service struct {
	db       *gorm.DB
	repo     domain.Repository
	genID    *snowflake.Node
	recorder *audit.Recorder
}

func NewService(db *gorm.DB, repo domain.Repository, genID *snowflake.Node, recorder *audit.Recorder) domain.Service {
	return &service{
		db:       db,
		repo:     repo,
		genID:    genID,
		recorder: recorder,
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	orgID := s.genID.Generate()
	org := domain.Organization{
		ID:        orgID,
		Name:      name,
		Slug:      slug.Make(name),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}

		member := domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			UserID:    userID,
			Role:      domain.RoleAdmin,
			CreatedAt: now,
		}

		return repo.AddMember(ctx, member)
	})
	if err != nil {
		return nil, err
	}

	actorID := userID.String()
	targetID := orgID.String()
	s.recorder.Record(ctx, &orgID, string(auditdomain.ActorTypeUser), &actorID,
		"organization_created", "organization", &targetID,
		map[string]any{"name": name, "slug": org.Slug})

	return &domain.OrganizationResponse{
		ID:        orgID.String(),
		Name:      name,
		Slug:      org.Slug,
		CreatedAt: now,
	}, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	raw := strings.TrimSpace(id)
	if raw == "" {
		return nil, domain.ErrInvalidOrganization
	}
	orgID, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, domain.ErrInvalidOrganization
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	return &domain.OrganizationResponse{
		ID:        org.ID.String(),
		Name:      org.Name,
		Slug:      org.Slug,
		CreatedAt: org.CreatedAt,
	}, nil
}

func (s *service) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}

	return resp, nil
}

func (s *service) MemberRole(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error) {
	if orgID == 0 {
		return "", domain.ErrInvalidOrganization
	}
	if userID == 0 {
		return "", domain.ErrInvalidUser
	}

	return s.repo.MemberRole(ctx, orgID, userID)
}
