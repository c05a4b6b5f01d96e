package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"
)

// StripeVerifier authenticates Stripe webhook deliveries.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier creates a verifier for the given signing secret (whsec_...).
// An empty secret is accepted here and reported per request as ErrMisconfiguredSecret.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{
		secret:    strings.TrimSpace(secret),
		tolerance: webhook.DefaultTolerance,
	}
}

// Verify checks the Stripe-Signature header against the raw body and decodes the envelope.
// The payload is not trusted before the HMAC check passes.
func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (*VerifiedEvent, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, ErrMissingSignature
	}
	if v.secret == "" {
		return nil, ErrMisconfiguredSecret
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureFailure(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", ErrInvalidPayload, event.ID)
	}

	return &VerifiedEvent{
		Processor: ProcessorStripe,
		ID:        event.ID,
		Type:      string(event.Type),
		Created:   time.Unix(event.Created, 0).UTC(),
		Data:      event.Data.Raw,
	}, nil
}

func isSignatureFailure(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld) ||
		errors.Is(err, webhook.ErrInvalidHeader)
}
