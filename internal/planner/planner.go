// Package planner turns user images and constraints into generation-ready
// prompts in three stages: style decoding produces a Constitution, product
// analysis produces a six-storyboard Analysis, and fusion combines the two
// into one FinalPrompt per storyboard.
//
// Every stage is a single model call through the gateway. Nothing here
// retries or touches credits.
package planner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fpang/ecom-image-studio/internal/gateway"
)

// StoryboardCount is the fixed number of beats in every plan.
const StoryboardCount = 6

// MaxProductImages bounds the images accepted by Analyze.
const MaxProductImages = 6

// Planner runs the three planning stages against a model gateway.
type Planner struct {
	gw gateway.Gateway
}

// New creates a Planner.
func New(gw gateway.Gateway) *Planner {
	return &Planner{gw: gw}
}

func modelOrDefault(model string) string {
	if model == "" {
		return gateway.DefaultAnalysisModel
	}
	return model
}

// asAnalysisFailed marks schema violations as analysis failures while
// keeping the gateway cause reachable through errors.Is.
func asAnalysisFailed(stage string, err error) error {
	if errors.Is(err, gateway.ErrSchemaViolation) {
		return fmt.Errorf("%s: %w: %w", stage, ErrAnalysisFailed, err)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// marshalUnescaped encodes v as compact JSON without HTML escaping so CJK
// text and punctuation reach the model as written.
func marshalUnescaped(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return string(bytes.TrimSpace(buf.Bytes()))
}
