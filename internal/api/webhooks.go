package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/venuehq/webhook-ingestion/internal/domain"
	"github.com/venuehq/webhook-ingestion/internal/engine"
	"github.com/venuehq/webhook-ingestion/internal/ingest"
	"github.com/venuehq/webhook-ingestion/internal/verify"
)

// Providers rarely exceed a few KB; 1MB is generous headroom.
const maxBodyBytes = 1 << 20

// SignatureHeaderName carries the `t=<unix>,v1=<hex>` signature.
const SignatureHeaderName = "X-Webhook-Signature"

// Ingestor is the coordinator surface the webhook endpoint drives.
type Ingestor interface {
	Ingest(ctx context.Context, d ingest.Delivery) (ingest.Outcome, error)
	Reprocess(ctx context.Context, source domain.Source, eventID string, force bool) (ingest.Outcome, error)
}

// WebhookHandler terminates the inbound provider endpoints.
type WebhookHandler struct {
	ingestor  Ingestor
	limiter   *engine.RateLimiter
	rateLimit int
	logger    *slog.Logger
}

func NewWebhookHandler(ingestor Ingestor, limiter *engine.RateLimiter, rateLimit int, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingestor:  ingestor,
		limiter:   limiter,
		rateLimit: rateLimit,
		logger:    logger,
	}
}

type receiveResponse struct {
	Status string `json:"status"`
}

// Receive handles POST /webhooks/{source}. Once a delivery passes signature
// verification and dedup it is always acknowledged with a 200 — including
// no-op duplicates and recorded failures — so the provider's retry loop
// stops; retries past that point are internal.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	src := chi.URLParam(r, "source")
	if !domain.KnownSource(src) {
		respondError(w, http.StatusNotFound, "unknown webhook source")
		return
	}
	source := domain.Source(src)

	if h.limiter != nil && !h.limiter.Allow(r.Context(), source, h.rateLimit) {
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	// The raw bytes feed the HMAC; nothing may re-serialize them first.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxBodyBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	outcome, err := h.ingestor.Ingest(r.Context(), ingest.Delivery{
		Source:    source,
		Body:      body,
		Signature: r.Header.Get(SignatureHeaderName),
		SourceIP:  r.RemoteAddr,
		Headers:   r.Header,
	})
	if err != nil {
		switch {
		case errors.Is(err, verify.ErrMissingSignature),
			errors.Is(err, verify.ErrInvalidSignature),
			errors.Is(err, verify.ErrStaleTimestamp),
			errors.Is(err, verify.ErrUnknownSource):
			h.logger.Warn("webhook rejected", "source", source, "error", err)
			respondError(w, http.StatusBadRequest, "signature verification failed")
		case errors.Is(err, domain.ErrMissingEventID):
			respondError(w, http.StatusBadRequest, "payload has no event id")
		case errors.Is(err, domain.ErrMalformedPayload):
			respondError(w, http.StatusBadRequest, "payload is not valid JSON")
		default:
			// Infrastructure failure before the event was acknowledged;
			// the provider's own retry is the safety net.
			h.logger.Error("webhook ingestion failed", "source", source, "error", err)
			respondError(w, http.StatusInternalServerError, "ingestion failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, receiveResponse{Status: string(outcome)})
}
