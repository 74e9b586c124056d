package model

import (
	"context"
	"fmt"

	"github.com/ljxpython/noteai/domain/reconcile"
)

// Simulated is a ModelClient that returns deterministic well-formed
// output without any network call. Used for development and tests.
type Simulated struct{}

// NewSimulated creates a simulated model client.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Generate returns a canned structured response for the operation.
func (s *Simulated) Generate(ctx context.Context, prompt string, op reconcile.Operation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if op == reconcile.OpClassify {
		return "```json\n" + `{
	"suggestions": [
		{"category_name": "notes", "confidence": 0.8, "reasoning": "simulated classification", "is_existing": false}
	],
	"detected_topics": ["general"],
	"key_phrases": ["note"],
	"content_type": "note",
	"summary": "simulated result"
}` + "\n```", nil
	}

	return "```json\n" + fmt.Sprintf(`{
	"optimized_text": %q,
	"suggestions": [],
	"confidence": 0.8,
	"summary": "simulated optimization"
}`, prompt) + "\n```", nil
}
