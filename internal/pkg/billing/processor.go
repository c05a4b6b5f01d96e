package billing

import "context"

// Processor is one payment processor's webhook front end: it authenticates a delivery
// and normalizes it. Implementations never write state.
type Processor interface {
	Name() string
	SignatureHeader() string
	Verify(payload []byte, signatureHeader string) (*VerifiedEvent, error)
	Normalize(ctx context.Context, event *VerifiedEvent) (*NormalizedEvent, error)
}
