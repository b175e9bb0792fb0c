package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/venuehq/webhook-ingestion/internal/domain"
	"github.com/venuehq/webhook-ingestion/internal/ingest"
)

// EventReader is the read surface of the event store the admin API exposes.
type EventReader interface {
	ListEvents(ctx context.Context, source, status string, limit int) ([]domain.WebhookEvent, error)
	Get(ctx context.Context, source domain.Source, eventID string) (*domain.WebhookEvent, error)
}

// EventHandler serves the operator-facing view of stored webhook events.
type EventHandler struct {
	store    EventReader
	ingestor Ingestor
}

func NewEventHandler(store EventReader, ingestor Ingestor) *EventHandler {
	return &EventHandler{store: store, ingestor: ingestor}
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	status := r.URL.Query().Get("status")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.store.ListEvents(r.Context(), source, status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	id := chi.URLParam(r, "id")

	event, err := h.store.Get(r.Context(), domain.Source(source), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	respondJSON(w, http.StatusOK, event)
}

type reprocessResponse struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// Reprocess replays a stored event out of band. `?force=true` bypasses the
// retry policy so operators can re-drive exhausted or stuck events.
func (h *EventHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	id := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"

	outcome, err := h.ingestor.Reprocess(r.Context(), domain.Source(source), id, force)
	if err != nil {
		if errors.Is(err, ingest.ErrEventNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to reprocess event")
		return
	}

	respondJSON(w, http.StatusOK, reprocessResponse{EventID: id, Outcome: string(outcome)})
}
