package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/venuehq/webhook-ingestion/internal/domain"
	"github.com/venuehq/webhook-ingestion/internal/ingest"
)

// Event types this deployment consumes. The business effect of each lives in
// the venue service; this binary forwards the validated event there.
var handledEventTypes = []string{
	"verification.completed",
	"verification.failed",
	"account.updated",
	"account.deauthorized",
	"bank_account.verified",
	"bank_account.rejected",
}

// registerHandlers registers a forwarding handler per event type. Responses
// classify the failure: 5xx and timeouts are transient (the venue service
// will recover), other 4xx are permanent (the event itself is unacceptable).
func registerHandlers(reg *ingest.Registry, venueServiceURL string, logger *slog.Logger) {
	client := &http.Client{Timeout: 15 * time.Second}

	for _, eventType := range handledEventTypes {
		reg.Register(eventType, forwardHandler(client, venueServiceURL, logger))
	}
}

func forwardHandler(client *http.Client, baseURL string, logger *slog.Logger) ingest.Handler {
	return func(ctx context.Context, env domain.Envelope) error {
		endpoint := fmt.Sprintf("%s/internal/webhook-effects/%s", baseURL, url.PathEscape(env.Type))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(env.Raw))
		if err != nil {
			return ingest.Permanent(fmt.Errorf("building effects request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-Id", env.TenantID)

		resp, err := client.Do(req)
		if err != nil {
			return ingest.Transient(fmt.Errorf("calling venue service: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return ingest.Transient(fmt.Errorf("venue service returned %d", resp.StatusCode))
		default:
			logger.Warn("venue service rejected event",
				"event_id", env.ID, "event_type", env.Type, "status", resp.StatusCode)
			return ingest.Permanent(fmt.Errorf("venue service rejected event with %d", resp.StatusCode))
		}
	}
}
