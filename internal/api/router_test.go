package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/venuehq/webhook-ingestion/internal/domain"
	"github.com/venuehq/webhook-ingestion/internal/ingest"
	"github.com/venuehq/webhook-ingestion/internal/verify"
)

// fakeIngestor returns canned outcomes and records what it was given.
type fakeIngestor struct {
	outcome    ingest.Outcome
	err        error
	lastBody   []byte
	lastSig    string
	reprocess  []string
	forceFlags []bool
}

func (f *fakeIngestor) Ingest(_ context.Context, d ingest.Delivery) (ingest.Outcome, error) {
	f.lastBody = d.Body
	f.lastSig = d.Signature
	return f.outcome, f.err
}

func (f *fakeIngestor) Reprocess(_ context.Context, source domain.Source, eventID string, force bool) (ingest.Outcome, error) {
	f.reprocess = append(f.reprocess, string(source)+"/"+eventID)
	f.forceFlags = append(f.forceFlags, force)
	return f.outcome, f.err
}

type fakeReader struct {
	events []domain.WebhookEvent
}

func (f *fakeReader) ListEvents(context.Context, string, string, int) ([]domain.WebhookEvent, error) {
	return f.events, nil
}

func (f *fakeReader) Get(_ context.Context, source domain.Source, eventID string) (*domain.WebhookEvent, error) {
	for i := range f.events {
		if f.events[i].Source == source && f.events[i].EventID == eventID {
			return &f.events[i], nil
		}
	}
	return nil, nil
}

func setupRouter(t *testing.T, ing *fakeIngestor, reader *fakeReader) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	wh := NewWebhookHandler(ing, nil, 0, logger)
	eh := NewEventHandler(reader, ing)
	return NewRouter(wh, eh, "admin-key")
}

func TestReceive_AcknowledgesOutcome(t *testing.T) {
	ing := &fakeIngestor{outcome: ingest.OutcomeCompleted}
	router := setupRouter(t, ing, &fakeReader{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-connect", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set(SignatureHeaderName, "t=1,v1=abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp receiveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "completed" {
		t.Errorf("status = %q, want completed", resp.Status)
	}
	if string(ing.lastBody) != `{"id":"evt_1"}` {
		t.Errorf("coordinator got body %q, want the raw bytes", ing.lastBody)
	}
	if ing.lastSig != "t=1,v1=abc" {
		t.Errorf("coordinator got signature %q", ing.lastSig)
	}
}

func TestReceive_UnknownSource(t *testing.T) {
	router := setupRouter(t, &fakeIngestor{}, &fakeReader{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/not-a-provider", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestReceive_SignatureFailureIs400(t *testing.T) {
	for _, err := range []error{
		verify.ErrMissingSignature,
		verify.ErrInvalidSignature,
		verify.ErrStaleTimestamp,
	} {
		ing := &fakeIngestor{err: err}
		router := setupRouter(t, ing, &fakeReader{})

		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-connect", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status for %v = %d, want 400", err, rec.Code)
		}
	}
}

func TestReceive_DuplicateStillAcknowledged(t *testing.T) {
	// A replayed delivery must get a 200, not an error the sender retries on.
	ing := &fakeIngestor{outcome: ingest.OutcomeDuplicate}
	router := setupRouter(t, ing, &fakeReader{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-connect", strings.NewReader(`{"id":"evt_1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for duplicate", rec.Code)
	}
}

func TestAdmin_RequiresAPIKey(t *testing.T) {
	router := setupRouter(t, &fakeIngestor{}, &fakeReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events/", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events/", nil)
	req.Header.Set("X-API-Key", "admin-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("right key: status = %d, want 200", rec.Code)
	}
}

func TestAdmin_DisabledWithoutConfiguredKey(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	wh := NewWebhookHandler(&fakeIngestor{}, nil, 0, logger)
	eh := NewEventHandler(&fakeReader{}, &fakeIngestor{})
	router := NewRouter(wh, eh, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/", nil)
	req.Header.Set("X-API-Key", "anything")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 when no admin key is configured", rec.Code)
	}
}

func TestAdmin_GetEvent(t *testing.T) {
	reader := &fakeReader{events: []domain.WebhookEvent{
		{Source: domain.SourcePaymentConnect, EventID: "evt_1", Status: domain.StatusCompleted},
	}}
	router := setupRouter(t, &fakeIngestor{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/payment-connect/evt_1", nil)
	req.Header.Set("X-API-Key", "admin-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events/payment-connect/evt_missing", nil)
	req.Header.Set("X-API-Key", "admin-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for missing event", rec.Code)
	}
}

func TestAdmin_ReprocessPassesForce(t *testing.T) {
	ing := &fakeIngestor{outcome: ingest.OutcomeCompleted}
	router := setupRouter(t, ing, &fakeReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/payment-connect/evt_1/reprocess?force=true", nil)
	req.Header.Set("X-API-Key", "admin-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(ing.reprocess) != 1 || ing.reprocess[0] != "payment-connect/evt_1" {
		t.Errorf("reprocess calls = %v", ing.reprocess)
	}
	if len(ing.forceFlags) != 1 || !ing.forceFlags[0] {
		t.Errorf("force flags = %v, want [true]", ing.forceFlags)
	}
}

func TestHealth(t *testing.T) {
	router := setupRouter(t, &fakeIngestor{}, &fakeReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
