// Package sweeper hosts the background maintenance loop: retention deletes
// for terminal events, the crashed-worker signal, and the proactive retry
// sweep for providers that do not redeliver on their own.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/venuehq/webhook-ingestion/internal/domain"
	"github.com/venuehq/webhook-ingestion/internal/ingest"
)

const retryBatchSize = 100

// Store is the slice of the event store the sweeps read and prune.
type Store interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []domain.Status) (int64, error)
	StuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]domain.WebhookEvent, error)
	ListRetrying(ctx context.Context, limit int) ([]domain.WebhookEvent, error)
}

// Reprocessor re-drives a stored event through the lock-guarded pipeline.
type Reprocessor interface {
	Reprocess(ctx context.Context, source domain.Source, eventID string, force bool) (ingest.Outcome, error)
}

// Sweeper runs the maintenance sweeps on a fixed interval. It is safe to run
// concurrently with ingestion: retention only touches terminal rows, and the
// retry sweep goes through the same lock as live deliveries.
type Sweeper struct {
	store       Store
	reprocessor Reprocessor
	logger      *slog.Logger

	interval   time.Duration
	retention  time.Duration
	lockTTL    time.Duration
	retrySweep bool
}

func New(store Store, reprocessor Reprocessor, logger *slog.Logger, interval, retention, lockTTL time.Duration, retrySweep bool) *Sweeper {
	return &Sweeper{
		store:       store,
		reprocessor: reprocessor,
		logger:      logger,
		interval:    interval,
		retention:   retention,
		lockTTL:     lockTTL,
		retrySweep:  retrySweep,
	}
}

// Start begins the sweep loop. It runs until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("sweeper started",
		"interval", s.interval.String(),
		"retention", s.retention.String(),
		"retry_sweep", s.retrySweep,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepRetention(ctx)
	s.reportStuck(ctx)
	if s.retrySweep {
		s.sweepRetrying(ctx)
	}
}

// sweepRetention deletes terminal events past the retention window. The
// status filter keeps it disjoint from anything in flight.
func (s *Sweeper) sweepRetention(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff, []domain.Status{domain.StatusCompleted, domain.StatusFailed})
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("retention sweep removed expired events", "deleted", deleted, "cutoff", cutoff)
	}
}

// reportStuck flags processing rows older than the lock TTL. Such a row has
// no live lock, so its worker crashed; it needs an operator, not a state
// flip here.
func (s *Sweeper) reportStuck(ctx context.Context) {
	stuck, err := s.store.StuckProcessing(ctx, time.Now().Add(-s.lockTTL), retryBatchSize)
	if err != nil {
		s.logger.Error("stuck-row scan failed", "error", err)
		return
	}
	for _, ev := range stuck {
		s.logger.Warn("processing row outlived its lock; worker likely crashed",
			"source", ev.Source, "event_id", ev.EventID,
			"processing_started_at", ev.ProcessingStartedAt,
		)
	}
}

// sweepRetrying re-drives retrying rows whose cooldown has elapsed. The
// coordinator applies the retry policy, so rows still cooling down come back
// deferred and are skipped.
func (s *Sweeper) sweepRetrying(ctx context.Context) {
	rows, err := s.store.ListRetrying(ctx, retryBatchSize)
	if err != nil {
		s.logger.Error("retry sweep scan failed", "error", err)
		return
	}

	for _, ev := range rows {
		outcome, err := s.reprocessor.Reprocess(ctx, ev.Source, ev.EventID, false)
		if err != nil {
			s.logger.Error("retry sweep reprocess failed",
				"error", err, "source", ev.Source, "event_id", ev.EventID)
			continue
		}
		if outcome == ingest.OutcomeDeferred || outcome == ingest.OutcomeInFlight {
			continue
		}
		s.logger.Info("retry sweep reprocessed event",
			"source", ev.Source, "event_id", ev.EventID, "outcome", outcome)
	}
}
