// Package sweeper eagerly retires pending invitations that sat out their
// acceptance window. The lifecycle managers never depend on it: every
// mutating call re-checks expiry on its own. The sweep only exists so that
// listings converge on the stored status instead of carrying a stale
// "pending" label until the next mutation touches the row.
package sweeper

import (
	"context"
	"time"

	"github.com/smallbiznis/atrium/internal/audit"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/config"
	invitationdomain "github.com/smallbiznis/atrium/internal/invitation/domain"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	"github.com/smallbiznis/atrium/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobName = "invitation_expiry_sweep"

	// sweepTimeout bounds one full sweep and doubles as the cross-replica
	// lock TTL, so a crashed holder frees the sweep within one run budget.
	sweepTimeout = 30 * time.Second
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Repo     invitationdomain.Repository
	Holder   *config.LifecycleConfigHolder
	Recorder *audit.Recorder
	Limiter  *ratelimit.Limiter `optional:"true"`
}

type Sweeper struct {
	log      *zap.Logger
	clk      clock.Clock
	repo     invitationdomain.Repository
	holder   *config.LifecycleConfigHolder
	recorder *audit.Recorder
	limiter  *ratelimit.Limiter
}

func New(p Params) *Sweeper {
	return &Sweeper{
		log:      p.Log.Named("sweeper"),
		clk:      p.Clock,
		repo:     p.Repo,
		holder:   p.Holder,
		recorder: p.Recorder,
		limiter:  p.Limiter,
	}
}

// RunForever ticks until ctx is cancelled. Interval and enablement are
// re-read from the config holder every tick, so lifecycle.yml edits apply
// without a restart.
func (s *Sweeper) RunForever(ctx context.Context) {
	for {
		timer := time.NewTimer(s.holder.Get().Sweeper.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !s.holder.Get().Sweeper.Enabled {
			continue
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("invitation expiry sweep failed", zap.Error(err))
		}
	}
}

// RunOnce drains overdue pending invitations in batches until a short read
// or the deadline. Safe to run concurrently with user traffic and with other
// replicas: the batch update is status-guarded, so a row expires exactly
// once no matter who gets there first.
func (s *Sweeper) RunOnce(parent context.Context) error {
	cfg := s.holder.Get().Sweeper
	m := obsmetrics.Lifecycle()
	m.IncJobRun(jobName)
	start := s.clk.Now()

	ctx, cancel := context.WithTimeout(parent, sweepTimeout)
	defer cancel()

	if s.limiter.Enabled() {
		token, ok, err := s.limiter.TrySweepLock(ctx, sweepTimeout)
		switch {
		case err != nil:
			// The sweep is idempotent, so losing the lock service only
			// costs duplicate work, not correctness.
			s.log.Warn("sweep lock unavailable, proceeding", zap.Error(err))
		case !ok:
			return nil
		default:
			defer func() {
				if err := s.limiter.ReleaseSweepLock(context.WithoutCancel(ctx), token); err != nil {
					s.log.Warn("failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	total := 0
	for {
		rows, err := s.repo.ExpireBatch(ctx, s.clk.Now(), cfg.BatchSize)
		if err != nil {
			m.IncJobError(jobName, err)
			return err
		}
		if len(rows) == 0 {
			break
		}

		total += len(rows)
		m.AddInvitationTransitions(
			obsmetrics.InvitationStatusPending, obsmetrics.InvitationStatusExpired, len(rows))
		for _, row := range rows {
			orgID := row.OrgID
			targetID := row.ID.String()
			s.recorder.Record(ctx, &orgID, string(auditdomain.ActorTypeSystem), nil,
				"invitation_expired", "invitation", &targetID,
				map[string]any{"email": row.Email})
		}

		if len(rows) < cfg.BatchSize {
			break
		}
	}

	m.ObserveJobDuration(jobName, s.clk.Now().Sub(start))
	if total > 0 {
		s.log.Info("retired expired invitations", zap.Int("count", total))
	}
	return nil
}
