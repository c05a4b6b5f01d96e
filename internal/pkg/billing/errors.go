package billing

import "errors"

var (
	ErrMissingSignature    = errors.New("webhook signature header is missing")
	ErrMisconfiguredSecret = errors.New("webhook secret is not configured")
	ErrInvalidSignature    = errors.New("webhook signature is invalid")

	// ErrInvalidPayload is returned when the event envelope or its object cannot be decoded.
	ErrInvalidPayload = errors.New("webhook payload is malformed")
)

// IsAuthError reports whether err came from signature verification.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMisconfiguredSecret)
}

// ErrLookupFailed marks a required processor lookup that failed. Unlike cosmetic
// lookups it cannot degrade, so the delivery must be retried.
var ErrLookupFailed = errors.New("processor lookup failed")
