// Package vision adapts image bytes to an OpenAI-compatible chat
// completions endpoint for label detection and caption generation.
//
// The external service is treated as unreliable by contract: a missing
// credential, network failure, non-2xx status, or malformed response all
// degrade to empty results. Callers never see an analysis error, so an
// upload can always complete without the AI service.
package vision

import (
	"context"

	"github.com/kilupskalvis/picstash/internal/models"
)

// Analyzer is the contract the ingestion pipeline depends on.
// This interface enables stubbing the external service in tests.
type Analyzer interface {
	// DetectLabels returns AI-derived labels for the image, filtered to
	// confident candidates. Empty on any remote failure.
	DetectLabels(ctx context.Context, data []byte, contentType string) []models.Label

	// GenerateCaption returns a one-sentence description of the image,
	// or the empty string on any remote failure.
	GenerateCaption(ctx context.Context, data []byte, contentType string) string
}

// Verify that *Client implements Analyzer at compile time.
var _ Analyzer = (*Client)(nil)
