package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/venuehq/webhook-ingestion/internal/domain"
)

// ErrEventNotFound is returned by status transitions on a missing row.
var ErrEventNotFound = errors.New("webhook event not found")

// NewEvent carries the fields of a first-sighted delivery.
type NewEvent struct {
	EventID     string
	Source      domain.Source
	EventType   string
	Payload     []byte
	HeadersHash string
	SourceIP    string
}

// InsertResult reports the outcome of the conditional insert. When Inserted
// is false the event already existed and ExistingStatus holds its status.
type InsertResult struct {
	Inserted       bool
	ExistingStatus domain.Status
}

const eventColumns = `
	event_id, source, event_type, tenant_id, payload, headers_hash, source_ip,
	status, retry_count, last_retry_at, processing_started_at,
	processing_completed_at, processed_at, error_message, created_at, updated_at`

// TryInsertPending inserts the event with status pending, or reports the
// existing row's status. The single conditional insert is the dedup gate:
// concurrent deliveries of the same (source, event_id) cannot race into two
// rows.
func (s *PostgresStore) TryInsertPending(ctx context.Context, ev NewEvent) (InsertResult, error) {
	// RETURNING yields a row only when the insert happened; a conflict
	// produces no rows.
	var one int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (event_id, source, event_type, payload, headers_hash, source_ip, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (source, event_id) DO NOTHING
		RETURNING 1
	`, ev.EventID, ev.Source, ev.EventType, ev.Payload, ev.HeadersHash, ev.SourceIP).Scan(&one)
	if err == nil {
		return InsertResult{Inserted: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return InsertResult{}, fmt.Errorf("inserting webhook event: %w", err)
	}

	var status domain.Status
	err = s.pool.QueryRow(ctx, `
		SELECT status FROM webhook_events WHERE source = $1 AND event_id = $2
	`, ev.Source, ev.EventID).Scan(&status)
	if err != nil {
		return InsertResult{}, fmt.Errorf("reading existing event status: %w", err)
	}
	return InsertResult{ExistingStatus: status}, nil
}

// MarkProcessing transitions the row to processing and stamps the start time.
func (s *PostgresStore) MarkProcessing(ctx context.Context, source domain.Source, eventID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'processing', processing_started_at = NOW(), updated_at = NOW()
		WHERE source = $1 AND event_id = $2
	`, source, eventID)
	if err != nil {
		return fmt.Errorf("marking event processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// SetTenant records the validated tenant on the row.
func (s *PostgresStore) SetTenant(ctx context.Context, source domain.Source, eventID, tenantID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET tenant_id = $3, updated_at = NOW()
		WHERE source = $1 AND event_id = $2
	`, source, eventID, tenantID)
	if err != nil {
		return fmt.Errorf("setting event tenant: %w", err)
	}
	return nil
}

// MarkCompleted transitions the row to the terminal completed state.
func (s *PostgresStore) MarkCompleted(ctx context.Context, source domain.Source, eventID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'completed', processing_completed_at = NOW(), processed_at = NOW(), updated_at = NOW()
		WHERE source = $1 AND event_id = $2
	`, source, eventID)
	if err != nil {
		return fmt.Errorf("marking event completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// MarkFailedOrRetrying increments the retry counter, records the error and
// sets the status to failed (terminal) or retrying.
func (s *PostgresStore) MarkFailedOrRetrying(ctx context.Context, source domain.Source, eventID, errMsg string, next domain.Status) error {
	if next != domain.StatusFailed && next != domain.StatusRetrying {
		return fmt.Errorf("invalid failure status %q", next)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = $3, retry_count = retry_count + 1, last_retry_at = NOW(),
		    error_message = $4, updated_at = NOW()
		WHERE source = $1 AND event_id = $2
	`, source, eventID, next, errMsg)
	if err != nil {
		return fmt.Errorf("marking event %s: %w", next, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Get returns the event or nil when it does not exist.
func (s *PostgresStore) Get(ctx context.Context, source domain.Source, eventID string) (*domain.WebhookEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM webhook_events WHERE source = $1 AND event_id = $2
	`, source, eventID)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying webhook event: %w", err)
	}
	return ev, nil
}

// ListEvents returns recent events, optionally filtered by source and status.
func (s *PostgresStore) ListEvents(ctx context.Context, source, status string, limit int) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events`
	args := []any{}
	argIdx := 1
	where := ""

	if source != "" {
		where += fmt.Sprintf(" WHERE source = $%d", argIdx)
		args = append(args, source)
		argIdx++
	}
	if status != "" {
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		where += fmt.Sprintf(" status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}

	query += where + " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	return s.queryEvents(ctx, query, args...)
}

// ListRetrying returns rows awaiting another attempt, oldest first. The
// caller applies the retry policy; the store does not know cooldowns.
func (s *PostgresStore) ListRetrying(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM webhook_events
		WHERE status = 'retrying'
		ORDER BY last_retry_at ASC
		LIMIT $1
	`, limit)
}

// StuckProcessing returns processing rows whose start time predates olderThan.
// A row here outlived the lock TTL, which means its worker crashed.
func (s *PostgresStore) StuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]domain.WebhookEvent, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM webhook_events
		WHERE status = 'processing' AND processing_started_at < $1
		ORDER BY processing_started_at ASC
		LIMIT $2
	`, olderThan, limit)
}

// DeleteOlderThan bulk-deletes terminal events past the retention cutoff.
// Non-terminal statuses are refused so the sweeper can never touch a row
// that is pending or in flight.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []domain.Status) (int64, error) {
	want := make([]string, 0, len(statuses))
	for _, st := range statuses {
		if !st.Terminal() {
			return 0, fmt.Errorf("refusing to delete non-terminal status %q", st)
		}
		want = append(want, string(st))
	}
	if len(want) == 0 {
		return 0, nil
	}

	// failed rows never get processed_at stamped; fall back to updated_at.
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM webhook_events
		WHERE status = ANY($2)
		  AND COALESCE(processed_at, updated_at) < $1
	`, cutoff, want)
	if err != nil {
		return 0, fmt.Errorf("deleting expired events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.WebhookEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying webhook events: %w", err)
	}
	defer rows.Close()

	events := []domain.WebhookEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	err := row.Scan(
		&ev.EventID, &ev.Source, &ev.EventType, &ev.TenantID, &ev.Payload,
		&ev.HeadersHash, &ev.SourceIP, &ev.Status, &ev.RetryCount,
		&ev.LastRetryAt, &ev.ProcessingStartedAt, &ev.ProcessingCompletedAt,
		&ev.ProcessedAt, &ev.ErrorMessage, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
