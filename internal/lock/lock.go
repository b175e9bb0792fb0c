package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/venuehq/webhook-ingestion/internal/domain"
)

// ErrAlreadyLocked means another worker currently holds the event's lock.
var ErrAlreadyLocked = errors.New("event is locked by another worker")

// DefaultTTL bounds how long a crashed worker can hold a lock. Processing
// that outlives the TTL loses the lock; the caller's deadline should stay
// well inside it.
const DefaultTTL = 30 * time.Second

// releaseScript deletes the key only when the stored token matches the
// handle's token. A lock that expired and was re-acquired by another worker
// holds a different token, so a late release cannot steal it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// Handle identifies one successful acquisition. Release is keyed on the
// token, which makes it idempotent.
type Handle struct {
	key   string
	token string
}

// Manager provides short-lived mutual exclusion per webhook event, shared
// across worker processes through Redis.
type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{client: client, ttl: ttl}
}

func key(source domain.Source, eventID string) string {
	return fmt.Sprintf("lock:webhook:%s:%s", source, eventID)
}

// Acquire takes the event's lock with the manager's TTL. It does not block:
// a held lock returns ErrAlreadyLocked immediately so racing deliveries can
// short-circuit instead of queueing.
func (m *Manager) Acquire(ctx context.Context, source domain.Source, eventID string) (*Handle, error) {
	h := &Handle{key: key(source, eventID), token: uuid.NewString()}

	ok, err := m.client.SetNX(ctx, h.key, h.token, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", h.key, err)
	}
	if !ok {
		return nil, ErrAlreadyLocked
	}
	return h, nil
}

// Release frees the lock if this handle still owns it. Releasing an expired
// or already-released lock is a no-op.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, m.client, []string{h.key}, h.token).Err(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", h.key, err)
	}
	return nil
}

// TTL returns the configured lock lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
