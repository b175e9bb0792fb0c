package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/venuehq/webhook-ingestion/internal/domain"
	"github.com/venuehq/webhook-ingestion/internal/lock"
	"github.com/venuehq/webhook-ingestion/internal/retry"
	"github.com/venuehq/webhook-ingestion/internal/store"
	"github.com/venuehq/webhook-ingestion/internal/tenant"
	"github.com/venuehq/webhook-ingestion/internal/verify"
)

// Outcome summarizes what happened to one delivery. Every outcome maps to an
// HTTP 200 for the sender; only errors returned alongside an empty outcome
// become 4xx/5xx.
type Outcome string

const (
	// OutcomeCompleted means the handler ran and succeeded.
	OutcomeCompleted Outcome = "completed"
	// OutcomeDuplicate means the event was already completed earlier.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeInFlight means another delivery of the same event is being
	// processed right now; this one short-circuited.
	OutcomeInFlight Outcome = "in_flight"
	// OutcomeDeferred means the retry cooldown has not elapsed yet.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeExhausted means the retry budget is spent; the event stays failed.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeTenantRejected means the ownership claim failed; recorded as a
	// terminal failure without invoking the handler.
	OutcomeTenantRejected Outcome = "tenant_rejected"
	// OutcomeRetrying means the handler failed transiently and another
	// attempt is allowed later.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeFailed means the handler failed permanently or used up the
	// last retry.
	OutcomeFailed Outcome = "failed"
)

// ErrEventNotFound is returned by Reprocess for an unknown event.
var ErrEventNotFound = errors.New("webhook event not found")

// EventStore is the slice of the persistent store the coordinator drives.
type EventStore interface {
	TryInsertPending(ctx context.Context, ev store.NewEvent) (store.InsertResult, error)
	Get(ctx context.Context, source domain.Source, eventID string) (*domain.WebhookEvent, error)
	SetTenant(ctx context.Context, source domain.Source, eventID, tenantID string) error
	MarkProcessing(ctx context.Context, source domain.Source, eventID string) error
	MarkCompleted(ctx context.Context, source domain.Source, eventID string) error
	MarkFailedOrRetrying(ctx context.Context, source domain.Source, eventID, errMsg string, next domain.Status) error
}

// Delivery is one inbound webhook request, body bytes verbatim.
type Delivery struct {
	Source    domain.Source
	Body      []byte
	Signature string
	SourceIP  string
	Headers   http.Header
}

// Coordinator runs the ingestion pipeline: verify, dedup, lock, validate
// tenant, invoke handler, record outcome. Rows change status only while the
// corresponding lock is held; the conditional insert is the single exception.
type Coordinator struct {
	store    EventStore
	locks    *lock.Manager
	verifier *verify.Verifier
	tenants  *tenant.Validator
	policy   *retry.Policy
	handlers *Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewCoordinator(
	store EventStore,
	locks *lock.Manager,
	verifier *verify.Verifier,
	tenants *tenant.Validator,
	policy *retry.Policy,
	handlers *Registry,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		store:    store,
		locks:    locks,
		verifier: verifier,
		tenants:  tenants,
		policy:   policy,
		handlers: handlers,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest processes one inbound delivery. A returned error with an empty
// outcome means the request itself was rejected (bad signature, unusable
// payload, or infrastructure failure) and nothing was acknowledged; any
// non-empty outcome is an acknowledged delivery.
func (c *Coordinator) Ingest(ctx context.Context, d Delivery) (Outcome, error) {
	if _, err := c.verifier.Verify(d.Source, d.Body, d.Signature, c.now()); err != nil {
		return "", err
	}

	env, err := domain.ParseEnvelope(d.Body)
	if err != nil {
		return "", err
	}

	res, err := c.store.TryInsertPending(ctx, store.NewEvent{
		EventID:     env.ID,
		Source:      d.Source,
		EventType:   env.Type,
		Payload:     d.Body,
		HeadersHash: HashHeaders(d.Headers),
		SourceIP:    d.SourceIP,
	})
	if err != nil {
		return "", err
	}

	if !res.Inserted {
		switch res.ExistingStatus {
		case domain.StatusCompleted:
			return OutcomeDuplicate, nil
		case domain.StatusProcessing:
			return OutcomeInFlight, nil
		case domain.StatusFailed:
			// Terminal. Recovery is manual (forced reprocess), never a
			// provider redelivery.
			return OutcomeExhausted, nil
		case domain.StatusRetrying:
			ev, err := c.store.Get(ctx, d.Source, env.ID)
			if err != nil {
				return "", err
			}
			if ev == nil {
				// Row deleted between the insert race and the read
				// (retention sweep); treat as already handled.
				return OutcomeDuplicate, nil
			}
			switch dec := c.policy.Decide(ev.RetryCount, ev.LastRetryAt, c.now()); dec.Verdict {
			case retry.Wait:
				return OutcomeDeferred, nil
			case retry.Exhausted:
				return OutcomeExhausted, nil
			}
			// Allow: fall through to the lock-guarded attempt.
		case domain.StatusPending:
			// Another delivery inserted the row but has not locked it
			// yet, or its worker died before locking. Race for the lock;
			// the loser short-circuits below.
		}
	}

	handle, err := c.locks.Acquire(ctx, d.Source, env.ID)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			return OutcomeInFlight, nil
		}
		return "", err
	}

	return c.process(ctx, d.Source, env, handle, false)
}

// Reprocess re-drives a stored event through the lock-guarded path. The
// retry sweep uses it for retrying rows past cooldown; operators use it
// (with force) to replay failed or stuck events out of band.
func (c *Coordinator) Reprocess(ctx context.Context, source domain.Source, eventID string, force bool) (Outcome, error) {
	ev, err := c.store.Get(ctx, source, eventID)
	if err != nil {
		return "", err
	}
	if ev == nil {
		return "", ErrEventNotFound
	}
	if ev.Status == domain.StatusCompleted {
		return OutcomeDuplicate, nil
	}

	if !force {
		if ev.Status == domain.StatusFailed {
			return OutcomeExhausted, nil
		}
		switch dec := c.policy.Decide(ev.RetryCount, ev.LastRetryAt, c.now()); dec.Verdict {
		case retry.Wait:
			return OutcomeDeferred, nil
		case retry.Exhausted:
			return OutcomeExhausted, nil
		}
	}

	env, err := domain.ParseEnvelope(ev.Payload)
	if err != nil {
		return "", fmt.Errorf("parsing stored payload: %w", err)
	}

	handle, err := c.locks.Acquire(ctx, source, eventID)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			return OutcomeInFlight, nil
		}
		return "", err
	}

	return c.process(ctx, source, env, handle, force)
}

// process runs the tenant check and the handler under the held lock. The
// lock is released on every exit path.
func (c *Coordinator) process(ctx context.Context, source domain.Source, env domain.Envelope, handle *lock.Handle, force bool) (outcome Outcome, err error) {
	defer func() {
		// Release must not depend on the request context still being alive.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := c.locks.Release(releaseCtx, handle); rerr != nil {
			c.logger.Error("failed to release lock",
				"error", rerr, "source", source, "event_id", env.ID)
		}
	}()

	// Re-read under the lock: a racing delivery may have finished the event
	// between the dedup check and the lock acquisition.
	ev, err := c.store.Get(ctx, source, env.ID)
	if err != nil {
		return "", err
	}
	if ev == nil {
		return "", ErrEventNotFound
	}
	if ev.Status == domain.StatusCompleted {
		return OutcomeDuplicate, nil
	}
	if ev.Status == domain.StatusFailed && !force {
		// A racing delivery spent the last retry after our pre-lock check.
		return OutcomeExhausted, nil
	}

	if verr := c.tenants.Validate(ctx, env); verr != nil {
		if !tenant.IsValidationError(verr) {
			// Resolver outage, not a bad claim. Leave the row as it is so
			// the sender's redelivery gets another attempt.
			return "", fmt.Errorf("validating tenant: %w", verr)
		}
		if merr := c.store.MarkFailedOrRetrying(ctx, source, env.ID, verr.Error(), domain.StatusFailed); merr != nil {
			return "", merr
		}
		c.logger.Warn("tenant validation rejected event",
			"source", source, "event_id", env.ID, "tenant_id", env.TenantID, "error", verr)
		return OutcomeTenantRejected, nil
	}
	if serr := c.store.SetTenant(ctx, source, env.ID, env.TenantID); serr != nil {
		return "", serr
	}

	if merr := c.store.MarkProcessing(ctx, source, env.ID); merr != nil {
		return "", merr
	}

	herr := c.invoke(ctx, env)
	if herr == nil {
		if merr := c.store.MarkCompleted(ctx, source, env.ID); merr != nil {
			return "", merr
		}
		c.logger.Info("webhook processed",
			"source", source, "event_id", env.ID, "event_type", env.Type,
			"tenant_id", env.TenantID, "attempt", ev.RetryCount+1)
		return OutcomeCompleted, nil
	}

	attempts := ev.RetryCount + 1
	next := domain.StatusRetrying
	outcome = OutcomeRetrying
	if IsPermanent(herr) || attempts >= c.policy.MaxRetries() {
		next = domain.StatusFailed
		outcome = OutcomeFailed
	}
	if merr := c.store.MarkFailedOrRetrying(ctx, source, env.ID, herr.Error(), next); merr != nil {
		return "", merr
	}

	c.logger.Warn("webhook handler failed",
		"source", source, "event_id", env.ID, "event_type", env.Type,
		"attempt", attempts, "status", next, "permanent", IsPermanent(herr),
		"error", herr)
	return outcome, nil
}

// invoke runs the registered handler, converting an unknown event type or a
// panic into a failure instead of crashing the worker.
func (c *Coordinator) invoke(ctx context.Context, env domain.Envelope) (err error) {
	handler, ok := c.handlers.Get(env.Type)
	if !ok {
		return Permanent(fmt.Errorf("no handler registered for event type %q", env.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panicked: %v", r))
		}
	}()
	return handler(ctx, env)
}

// HashHeaders fingerprints the forensically interesting request headers.
// Secondary dedup signal only; never the primary key.
func HashHeaders(headers http.Header) string {
	h := sha256.New()
	for _, name := range []string{"X-Webhook-Signature", "Content-Type", "User-Agent", "X-Request-Id"} {
		fmt.Fprintf(h, "%s=%s\n", name, headers.Get(name))
	}
	return hex.EncodeToString(h.Sum(nil))
}
