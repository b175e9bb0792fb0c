package ingest

import (
	"context"
	"sync"

	"github.com/venuehq/webhook-ingestion/internal/domain"
)

// Handler applies the business effect of one event type. A nil return marks
// the event completed; failures should be wrapped with Transient or
// Permanent to steer the retry decision.
type Handler func(ctx context.Context, env domain.Envelope) error

// Registry maps event types to their handlers. Registration happens at
// startup by the caller wiring the service; the coordinator only reads.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

func (r *Registry) Get(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}
