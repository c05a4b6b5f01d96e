package reconcile

import (
	"errors"

	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
)

var (
	// ErrInvalidEvent wraps validation failures of a normalized event.
	ErrInvalidEvent = errors.New("normalized event failed validation")
	// ErrInvalidPeriod rejects snapshots whose period start is not before its end.
	ErrInvalidPeriod = errors.New("subscription period start must be before period end")
	// ErrUnknownPurchaseOption means the cart references options the catalog does not have.
	ErrUnknownPurchaseOption = errors.New("unknown purchase option")
	// ErrConcurrentUpdate is returned after repeated version conflicts on one subscription.
	ErrConcurrentUpdate = errors.New("subscription was modified concurrently")
	// ErrVersionConflict is returned by Repository.UpsertSubscription on a lost compare-and-set.
	ErrVersionConflict = errors.New("subscription version conflict")
)

// IsTerminal reports whether retrying the same delivery cannot succeed.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrUnknownPurchaseOption) ||
		errors.Is(err, billing.ErrInvalidPayload)
}
