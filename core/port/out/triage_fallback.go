package out

import (
	"context"

	"triage_server/core/domain"
)

// FallbackResult is the validated response of the fallback classifier.
// Invalid responses never reach this type; the client rejects them as errors.
type FallbackResult struct {
	Category   domain.Category            `json:"category"`
	Confidence float64                    `json:"confidence"`
	Extracted  map[string]any             `json:"extracted"`
	Flags      domain.ClassificationFlags `json:"flags"`
}

// FallbackClassifier is the model-backed classifier invoked when the rule
// path is inconclusive.
type FallbackClassifier interface {
	// Classify sends the message text plus a fixed instruction document and
	// returns the strictly validated result. Any transport, parse, or
	// validation problem is a hard error, never a low-confidence result.
	Classify(ctx context.Context, text string) (*FallbackResult, error)

	// IsAvailable is a cheap probe, distinct from Classify, used to
	// short-circuit before a full classification call.
	IsAvailable(ctx context.Context) bool
}
