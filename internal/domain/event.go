package domain

import (
	"encoding/json"
	"time"
)

// Source identifies which external provider sent a webhook. It selects the
// signing secret and scopes event ID uniqueness.
type Source string

const (
	SourceIdentityProvider Source = "identity-provider"
	SourcePaymentConnect   Source = "payment-connect"
	SourceBankingProvider  Source = "banking-provider"
)

// KnownSource reports whether s is one of the configured provider sources.
func KnownSource(s string) bool {
	switch Source(s) {
	case SourceIdentityProvider, SourcePaymentConnect, SourceBankingProvider:
		return true
	}
	return false
}

// Status is the processing state of a webhook event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Terminal reports whether no further transitions can occur from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// WebhookEvent is the durable record of a single inbound webhook delivery.
// (Source, EventID) is the natural key and the dedup anchor.
type WebhookEvent struct {
	EventID               string          `json:"event_id"`
	Source                Source          `json:"source"`
	EventType             string          `json:"event_type"`
	TenantID              *string         `json:"tenant_id,omitempty"`
	Payload               json.RawMessage `json:"payload"`
	HeadersHash           string          `json:"headers_hash"`
	SourceIP              string          `json:"source_ip,omitempty"`
	Status                Status          `json:"status"`
	RetryCount            int             `json:"retry_count"`
	LastRetryAt           *time.Time      `json:"last_retry_at,omitempty"`
	ProcessingStartedAt   *time.Time      `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time      `json:"processing_completed_at,omitempty"`
	ProcessedAt           *time.Time      `json:"processed_at,omitempty"`
	ErrorMessage          *string         `json:"error_message,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}
