package audit

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	auditcontext "github.com/smallbiznis/atrium/internal/auditcontext"
	"github.com/smallbiznis/atrium/internal/config"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const recordTimeout = 5 * time.Second

// entry carries everything the worker needs. Context values are captured at
// enqueue time because the request context is gone by the time the worker
// runs.
type entry struct {
	orgID      *snowflake.ID
	actorType  string
	actorID    *string
	action     string
	targetType string
	targetID   *string
	metadata   map[string]any

	requestID string
	ipAddress string
	userAgent string
}

// Recorder writes audit entries asynchronously. Recording never blocks the
// caller: when the buffer is full the entry is dropped and counted.
type Recorder struct {
	svc   auditdomain.Service
	log   *zap.Logger
	queue chan entry
	done  chan struct{}
}

type RecorderParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Svc       auditdomain.Service
	Log       *zap.Logger
	Holder    *config.LifecycleConfigHolder
}

func NewRecorder(p RecorderParams) *Recorder {
	buffer := p.Holder.Get().Queues.AuditBuffer
	r := &Recorder{
		svc:   p.Svc,
		log:   p.Log.Named("audit.recorder"),
		queue: make(chan entry, buffer),
		done:  make(chan struct{}),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go r.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(r.queue)
			select {
			case <-r.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	return r
}

// Record enqueues an audit entry without blocking the caller.
func (r *Recorder) Record(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) {
	if r == nil {
		return
	}

	e := entry{
		orgID:      orgID,
		actorType:  actorType,
		actorID:    actorID,
		action:     action,
		targetType: targetType,
		targetID:   targetID,
		metadata:   metadata,
		requestID:  auditcontext.RequestIDFromContext(ctx),
		ipAddress:  auditcontext.IPAddressFromContext(ctx),
		userAgent:  auditcontext.UserAgentFromContext(ctx),
	}
	if e.actorType == "" {
		ctxType, ctxID := auditcontext.ActorFromContext(ctx)
		e.actorType = ctxType
		if e.actorID == nil && ctxID != "" {
			e.actorID = &ctxID
		}
	}

	select {
	case r.queue <- e:
	default:
		obsmetrics.Lifecycle().IncQueueDropped(obsmetrics.QueueAudit)
		r.log.Warn("audit queue full, entry dropped", zap.String("action", action))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	ctx = auditcontext.WithRequestID(ctx, e.requestID)
	ctx = auditcontext.WithIPAddress(ctx, e.ipAddress)
	ctx = auditcontext.WithUserAgent(ctx, e.userAgent)
	ctx = auditcontext.WithActor(ctx, e.actorType, stringValue(e.actorID))

	if err := r.svc.AuditLog(ctx, e.orgID, e.actorType, e.actorID, e.action, e.targetType, e.targetID, e.metadata); err != nil {
		r.log.Warn("failed to record audit entry",
			zap.String("action", e.action),
			zap.Error(err),
		)
	}
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
