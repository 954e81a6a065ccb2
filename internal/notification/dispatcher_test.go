package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturingProvider struct {
	mu        sync.Mutex
	sent      []string
	templates []string
}

func (p *capturingProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, subject)
	return nil
}

func (p *capturingProvider) SendTemplate(ctx context.Context, to []string, templateName string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates = append(p.templates, templateName)
	return nil
}

func (p *capturingProvider) snapshot() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...), append([]string(nil), p.templates...)
}

func TestDispatcherDeliversQueuedMessages(t *testing.T) {
	provider := &capturingProvider{}
	d := newDispatcher(provider, zap.NewNop(), 8)
	go d.run()

	d.Send([]string{"a@example.com"}, "welcome", "<p>hi</p>")
	d.SendTemplate([]string{"b@example.com"}, "invitation_created", map[string]any{"org_name": "Acme"})

	close(d.queue)
	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not drain queue")
	}

	sent, templates := provider.snapshot()
	require.Equal(t, []string{"welcome"}, sent)
	require.Equal(t, []string{"invitation_created"}, templates)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	provider := &capturingProvider{}
	d := newDispatcher(provider, zap.NewNop(), 1)

	// Worker not started, so the second enqueue finds the buffer full and
	// must not block.
	d.Send([]string{"a@example.com"}, "first", "")
	done := make(chan struct{})
	go func() {
		d.Send([]string{"b@example.com"}, "second", "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on full queue")
	}
	require.Len(t, d.queue, 1)
}

func TestDispatcherIgnoresEmptyRecipients(t *testing.T) {
	provider := &capturingProvider{}
	d := newDispatcher(provider, zap.NewNop(), 1)

	d.Send(nil, "subject", "body")
	require.Len(t, d.queue, 0)
}
