package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/approval/domain"
	"github.com/smallbiznis/atrium/internal/bulkop"
	"github.com/smallbiznis/atrium/internal/identity"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
)

// DecideMany settles many requests with one shared action. Repeated ids are
// collapsed to a single slot before counting. Unknown and already-decided ids
// are excluded before any mutation and reported as failures; the rest run
// through the same per-item decision as Decide, each succeeding or failing on
// its own.
func (s *service) DecideMany(ctx context.Context, orgID snowflake.ID, actor identity.Actor, req domain.BulkDecideRequest) (*bulkop.Result, error) {
	if actor.Role != orgdomain.RoleAdmin {
		return nil, domain.ErrAdminRequired
	}
	if len(req.IDs) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	action, reason, err := normalizeDecision(req.Action, req.Reason)
	if err != nil {
		return nil, err
	}

	identifiers := make([]string, 0, len(req.IDs))
	parsed := make([]snowflake.ID, 0, len(req.IDs))
	preErrs := make([]error, 0, len(req.IDs))
	seen := make(map[snowflake.ID]bool, len(req.IDs))
	unique := make([]snowflake.ID, 0, len(req.IDs))

	for _, raw := range req.IDs {
		trimmed := strings.TrimSpace(raw)

		id, err := snowflake.ParseString(trimmed)
		if err != nil || id == 0 {
			identifiers = append(identifiers, trimmed)
			parsed = append(parsed, 0)
			preErrs = append(preErrs, domain.ErrInvalidID)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		identifiers = append(identifiers, trimmed)
		parsed = append(parsed, id)
		preErrs = append(preErrs, nil)
		unique = append(unique, id)
	}

	pending, err := s.repo.PendingIDs(ctx, orgID, unique)
	if err != nil {
		return nil, err
	}
	actionable := make(map[snowflake.ID]bool, len(pending))
	for _, id := range pending {
		actionable[id] = true
	}
	for i := range identifiers {
		if preErrs[i] == nil && !actionable[parsed[i]] {
			preErrs[i] = domain.ErrNotActionable
		}
	}

	errs := bulkop.ForEach(ctx, len(identifiers), func(ctx context.Context, i int) error {
		if preErrs[i] != nil {
			return preErrs[i]
		}
		_, err := s.decideOne(ctx, orgID, actor, parsed[i], action, reason)
		return err
	})

	result := bulkop.BuildResult(identifiers, errs)
	m := obsmetrics.Lifecycle()
	m.AddBulkItems("approval_decide", obsmetrics.BulkOutcomeSucceeded, len(result.Successful))
	m.AddBulkItems("approval_decide", obsmetrics.BulkOutcomeFailed, len(result.Failed))
	return &result, nil
}
