package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/bulkop"
	"github.com/smallbiznis/atrium/internal/identity"
	"github.com/smallbiznis/atrium/internal/invitation/domain"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
)

func (s *service) CreateMany(ctx context.Context, orgID snowflake.ID, actor identity.Actor, reqs []domain.CreateRequest) (*bulkop.Result, error) {
	if len(reqs) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	identifiers := make([]string, len(reqs))
	emails := make([]string, len(reqs))
	roles := make([]string, len(reqs))
	preErrs := make([]error, len(reqs))
	seen := make(map[string]bool, len(reqs))

	for i, req := range reqs {
		identifiers[i] = strings.TrimSpace(req.Email)

		email, err := normalizeEmail(req.Email)
		if err != nil {
			preErrs[i] = domain.ErrInvalidEmail
			continue
		}
		identifiers[i] = email

		role, err := normalizeRole(req.Role)
		if err != nil {
			preErrs[i] = err
			continue
		}

		if seen[email] {
			preErrs[i] = domain.ErrDuplicateEmail
			continue
		}
		seen[email] = true

		emails[i] = email
		roles[i] = role
	}

	errs := bulkop.ForEach(ctx, len(reqs), func(ctx context.Context, i int) error {
		if preErrs[i] != nil {
			return preErrs[i]
		}
		_, err := s.createOne(ctx, org, actor, emails[i], roles[i])
		return err
	})

	result := bulkop.BuildResult(identifiers, errs)
	s.countBulk("invitation_create", result)
	return &result, nil
}

func (s *service) ResendMany(ctx context.Context, orgID snowflake.ID, actor identity.Actor, ids []string) (*bulkop.Result, error) {
	return s.bulkByID(ctx, orgID, ids, "invitation_resend", func(ctx context.Context, id snowflake.ID) error {
		_, err := s.resendOne(ctx, orgID, actor, id)
		return err
	})
}

func (s *service) CancelMany(ctx context.Context, orgID snowflake.ID, actor identity.Actor, ids []string) (*bulkop.Result, error) {
	return s.bulkByID(ctx, orgID, ids, "invitation_cancel", func(ctx context.Context, id snowflake.ID) error {
		_, err := s.cancelOne(ctx, orgID, actor, id, "")
		return err
	})
}

func (s *service) bulkByID(ctx context.Context, orgID snowflake.ID, ids []string, operation string, fn func(ctx context.Context, id snowflake.ID) error) (*bulkop.Result, error) {
	if len(ids) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	identifiers := make([]string, len(ids))
	parsed := make([]snowflake.ID, len(ids))
	preErrs := make([]error, len(ids))
	seen := make(map[snowflake.ID]bool, len(ids))

	for i, raw := range ids {
		identifiers[i] = strings.TrimSpace(raw)

		id, err := snowflake.ParseString(identifiers[i])
		if err != nil || id == 0 {
			preErrs[i] = domain.ErrInvalidID
			continue
		}
		if seen[id] {
			preErrs[i] = domain.ErrDuplicateInBatch
			continue
		}
		seen[id] = true
		parsed[i] = id
	}

	errs := bulkop.ForEach(ctx, len(ids), func(ctx context.Context, i int) error {
		if preErrs[i] != nil {
			return preErrs[i]
		}
		return fn(ctx, parsed[i])
	})

	result := bulkop.BuildResult(identifiers, errs)
	s.countBulk(operation, result)
	return &result, nil
}

func (s *service) countBulk(operation string, result bulkop.Result) {
	m := obsmetrics.Lifecycle()
	m.AddBulkItems(operation, obsmetrics.BulkOutcomeSucceeded, len(result.Successful))
	m.AddBulkItems(operation, obsmetrics.BulkOutcomeFailed, len(result.Failed))
}
