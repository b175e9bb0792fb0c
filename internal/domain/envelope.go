package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingEventID means the payload carried no usable event identifier.
// Without one the event cannot be deduplicated, so it is rejected up front.
var ErrMissingEventID = errors.New("payload has no event id")

// ErrMalformedPayload means the body is not parseable JSON. Verification has
// already passed at that point, so the provider genuinely sent garbage.
var ErrMalformedPayload = errors.New("payload is not valid JSON")

// Envelope is the normalized view of an inbound payload the pipeline works
// with. Raw always holds the verbatim body bytes; Data is the provider's
// nested data block when present.
type Envelope struct {
	ID          string
	Type        string
	TenantID    string
	ResourceRef string
	Raw         json.RawMessage
	Data        json.RawMessage
}

// ParseEnvelope extracts the routing fields from a raw webhook body.
// Providers disagree on field names (id vs event_id, tenant at the top level
// vs inside data.object.metadata), so all known spellings are probed; the
// payload itself stays opaque beyond these fields.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var probe struct {
		ID        string `json:"id"`
		EventID   string `json:"event_id"`
		Type      string `json:"type"`
		EventType string `json:"event_type"`
		TenantID  string `json:"tenant_id"`
		Resource  string `json:"resource"`
		Data      struct {
			Object struct {
				ID       string `json:"id"`
				Metadata struct {
					TenantID string `json:"tenant_id"`
				} `json:"metadata"`
			} `json:"object"`
			Metadata struct {
				TenantID string `json:"tenant_id"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	env := Envelope{Raw: raw}

	var dataOnly struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &dataOnly); err == nil {
		env.Data = dataOnly.Data
	}

	env.ID = firstNonEmpty(probe.ID, probe.EventID)
	if env.ID == "" {
		return Envelope{}, ErrMissingEventID
	}

	env.Type = firstNonEmpty(probe.Type, probe.EventType)
	env.TenantID = firstNonEmpty(probe.TenantID, probe.Data.Metadata.TenantID, probe.Data.Object.Metadata.TenantID)
	env.ResourceRef = firstNonEmpty(probe.Resource, probe.Data.Object.ID)

	return env, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
