// Package notification delivers outbound email without blocking the request
// path. Delivery is best effort: failures are logged and counted, never
// returned to the caller.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/atrium/internal/config"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	"github.com/smallbiznis/atrium/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

// Message is one outbound email. When Template is set the provider renders
// it with Data; otherwise Subject and Body are sent as-is.
type Message struct {
	ID       string
	To       []string
	Subject  string
	Body     string
	Template string
	Data     map[string]any
}

// Dispatcher queues messages for a background worker.
type Dispatcher struct {
	provider email.Provider
	log      *zap.Logger
	queue    chan Message
	done     chan struct{}
}

type DispatcherParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Provider  email.Provider
	Log       *zap.Logger
	Holder    *config.LifecycleConfigHolder
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	d := newDispatcher(p.Provider, p.Log, p.Holder.Get().Queues.NotificationBuffer)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go d.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(d.queue)
			select {
			case <-d.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	return d
}

func newDispatcher(provider email.Provider, log *zap.Logger, buffer int) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		log:      log.Named("notification.dispatcher"),
		queue:    make(chan Message, buffer),
		done:     make(chan struct{}),
	}
}

// Send enqueues a plain email without blocking the caller.
func (d *Dispatcher) Send(to []string, subject, body string) {
	if d == nil {
		return
	}
	d.enqueue(Message{To: to, Subject: subject, Body: body})
}

// SendTemplate enqueues a templated email without blocking the caller.
func (d *Dispatcher) SendTemplate(to []string, template string, data map[string]any) {
	if d == nil {
		return
	}
	d.enqueue(Message{To: to, Template: template, Data: data})
}

func (d *Dispatcher) enqueue(msg Message) {
	if len(msg.To) == 0 {
		return
	}
	msg.ID = uuid.NewString()

	select {
	case d.queue <- msg:
	default:
		obsmetrics.Lifecycle().IncQueueDropped(obsmetrics.QueueNotification)
		d.log.Warn("notification queue full, message dropped",
			zap.String("message_id", msg.ID),
			zap.String("template", msg.Template),
		)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var err error
	if msg.Template != "" {
		data := make(map[string]interface{}, len(msg.Data))
		for k, v := range msg.Data {
			data[k] = v
		}
		err = d.provider.SendTemplate(ctx, msg.To, msg.Template, data)
	} else {
		err = d.provider.Send(ctx, msg.To, msg.Subject, msg.Body)
	}
	if err != nil {
		d.log.Warn("failed to deliver notification",
			zap.String("message_id", msg.ID),
			zap.String("template", msg.Template),
			zap.Error(err),
		)
	}
}
