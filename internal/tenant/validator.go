// Package tenant checks that the tenant a webhook claims to belong to
// actually owns the resource the event references. A mismatch is a data
// problem, never a transient one.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/venuehq/webhook-ingestion/internal/domain"
)

var (
	ErrTenantMissing   = errors.New("event carries no tenant id")
	ErrResourceMissing = errors.New("event carries no resource reference")
	ErrTenantMismatch  = errors.New("claimed tenant does not own resource")
	ErrResourceUnknown = errors.New("referenced resource not found")
)

// ResourceResolver looks up the owning tenant of a referenced resource. The
// venue/account lookup itself lives outside this service.
type ResourceResolver interface {
	ResolveOwnerTenant(ctx context.Context, resourceRef string) (string, error)
}

// Validator verifies ownership claims embedded in event payloads.
type Validator struct {
	resolver ResourceResolver
}

func NewValidator(resolver ResourceResolver) *Validator {
	return &Validator{resolver: resolver}
}

// Validate confirms env's claimed tenant owns env's referenced resource.
// A resolver failure that is not a definite "resource does not exist" passes
// through as a plain error; use IsValidationError to tell the two apart.
func (v *Validator) Validate(ctx context.Context, env domain.Envelope) error {
	if env.TenantID == "" {
		return ErrTenantMissing
	}
	if env.ResourceRef == "" {
		return ErrResourceMissing
	}

	owner, err := v.resolver.ResolveOwnerTenant(ctx, env.ResourceRef)
	if err != nil {
		if errors.Is(err, ErrResourceUnknown) {
			return err
		}
		return fmt.Errorf("resolving owner of %s: %w", env.ResourceRef, err)
	}
	if owner != env.TenantID {
		return fmt.Errorf("%w: resource %s", ErrTenantMismatch, env.ResourceRef)
	}
	return nil
}

// IsValidationError reports whether err rejects the event's ownership claim.
// Only these errors are terminal for the event; anything else from Validate
// is a resolver outage and the event stays eligible for another attempt.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrTenantMissing) ||
		errors.Is(err, ErrResourceMissing) ||
		errors.Is(err, ErrTenantMismatch) ||
		errors.Is(err, ErrResourceUnknown)
}
