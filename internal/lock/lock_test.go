package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/venuehq/webhook-ingestion/internal/domain"
)

func setupTestLock(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewManager(client, 30*time.Second), mr
}

func TestAcquire_Release(t *testing.T) {
	m, mr := setupTestLock(t)
	ctx := context.Background()

	h, err := m.Acquire(ctx, domain.SourcePaymentConnect, "evt-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if !mr.Exists("lock:webhook:payment-connect:evt-1") {
		t.Error("lock key should exist while held")
	}

	if err := m.Release(ctx, h); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if mr.Exists("lock:webhook:payment-connect:evt-1") {
		t.Error("lock key should not exist after release")
	}
}

func TestAcquire_Contention(t *testing.T) {
	m, _ := setupTestLock(t)
	ctx := context.Background()

	h, err := m.Acquire(ctx, domain.SourcePaymentConnect, "evt-1")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	if _, err := m.Acquire(ctx, domain.SourcePaymentConnect, "evt-1"); !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("second Acquire() error = %v, want ErrAlreadyLocked", err)
	}

	// A different event is independent.
	if _, err := m.Acquire(ctx, domain.SourcePaymentConnect, "evt-2"); err != nil {
		t.Errorf("Acquire() on other event error = %v", err)
	}

	// Same event, different source, is independent too.
	if _, err := m.Acquire(ctx, domain.SourceBankingProvider, "evt-1"); err != nil {
		t.Errorf("Acquire() on other source error = %v", err)
	}

	if err := m.Release(ctx, h); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if _, err := m.Acquire(ctx, domain.SourcePaymentConnect, "evt-1"); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	m, _ := setupTestLock(t)
	ctx := context.Background()

	h, err := m.Acquire(ctx, domain.SourcePaymentConnect, "evt-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.Release(ctx, h); err != nil {
			t.Fatalf("Release() #%d error = %v", i+1, err)
		}
	}

	if err := m.Release(ctx, nil); err != nil {
		t.Errorf("Release(nil) error = %v", err)
	}
}

func TestRelease_DoesNotStealReacquiredLock(t *testing.T) {
	m, mr := setupTestLock(t)
	ctx := context.Background()

	stale, err := m.Acquire(ctx, domain.SourcePaymentConnect, "evt-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Simulate the TTL firing while the first worker is stalled.
	mr.FastForward(31 * time.Second)

	fresh, err := m.Acquire(ctx, domain.SourcePaymentConnect, "evt-1")
	if err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}

	// The stalled worker's release must not free the new holder's lock.
	if err := m.Release(ctx, stale); err != nil {
		t.Fatalf("stale Release() error = %v", err)
	}
	if !mr.Exists("lock:webhook:payment-connect:evt-1") {
		t.Error("fresh lock should survive a stale release")
	}

	if err := m.Release(ctx, fresh); err != nil {
		t.Fatalf("fresh Release() error = %v", err)
	}
	if mr.Exists("lock:webhook:payment-connect:evt-1") {
		t.Error("lock should be gone after the holder releases it")
	}
}

func TestLock_ExpiresByTTL(t *testing.T) {
	m, mr := setupTestLock(t)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, domain.SourcePaymentConnect, "evt-1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	mr.FastForward(31 * time.Second)

	if _, err := m.Acquire(ctx, domain.SourcePaymentConnect, "evt-1"); err != nil {
		t.Errorf("Acquire() after TTL expiry error = %v", err)
	}
}
