package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/assets"
	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/jsonutil"
)

var constitutionSchema = gateway.StringProps(constitutionFields...)

// DecodeStyle extracts a Constitution from one reference image.
// A response that fails the schema or leaves any axis empty is reported as
// ErrAnalysisFailed. There is no retry.
func (p *Planner) DecodeStyle(ctx context.Context, reference gateway.Image, model, credential string) (*Constitution, error) {
	if len(reference.Data) == 0 {
		return nil, fmt.Errorf("decode style: %w: reference image is empty", ErrInvalidInput)
	}
	model = modelOrDefault(model)
	start := time.Now()

	log.Info().
		Str("model", model).
		Int("image_bytes", len(reference.Data)).
		Msg("Decoding visual style")

	res, err := p.gw.Invoke(ctx, gateway.Request{
		Operation:         "decode_style",
		Model:             model,
		Credential:        credential,
		SystemInstruction: assets.StyleSystemPrompt,
		Parts: []gateway.Part{
			reference.Part(),
			gateway.TextPart(assets.StyleUserPrompt),
		},
		Schema: constitutionSchema,
	})
	if err != nil {
		return nil, asAnalysisFailed("decode style", err)
	}

	c, err := jsonutil.ParseJSON[Constitution](res.Text)
	if err != nil {
		return nil, fmt.Errorf("decode style: %w: %w", ErrAnalysisFailed, err)
	}
	c.Style = strings.TrimSpace(c.Style)
	c.Lighting = strings.TrimSpace(c.Lighting)
	c.Color = strings.TrimSpace(c.Color)
	c.Composition = strings.TrimSpace(c.Composition)
	c.Texture = strings.TrimSpace(c.Texture)
	c.PromptPrefix = strings.TrimSpace(c.PromptPrefix)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("decode style: %w: %w", ErrAnalysisFailed, err)
	}

	log.Info().
		Str("model", model).
		Str("style", c.Style).
		Dur("duration", time.Since(start)).
		Msg("Visual style decoded")
	return &c, nil
}
