package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// MessageHandlerFunc adapts a function to MessageHandler
type MessageHandlerFunc func(ctx context.Context, message *models.OutboxMessage) error

// HandleMessage calls f(ctx, message)
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	return f(ctx, message)
}

// registry resolves the handler for an event type, falling back to a default
type registry struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
	fallback MessageHandler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]MessageHandler)}
}

func (r *registry) register(eventType string, handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = handler
}

func (r *registry) setFallback(handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = handler
}

func (r *registry) lookup(eventType string) (MessageHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[eventType]; ok {
		return h, true
	}
	return r.fallback, r.fallback != nil
}

// poller calls tick every interval on its own goroutine until stopped
type poller struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context) error
	logger   logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newPoller(name string, interval time.Duration, tick func(ctx context.Context) error, logger logger.Logger) *poller {
	return &poller{name: name, interval: interval, tick: tick, logger: logger}
}

// start is a no-op when already running
func (p *poller) start(fields ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.tick(ctx); err != nil {
					p.logger.Error(p.name+" poll failed", "error", err)
				}
			}
		}
	}()

	p.logger.Info(p.name+" started", append([]interface{}{"interval", p.interval}, fields...)...)
}

// stop cancels the loop and waits for the tick in flight
func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}

	p.cancel()
	<-p.done
	p.cancel = nil
	p.logger.Info(p.name + " stopped")
}
