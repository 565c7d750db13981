package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/ecom-image-studio/internal/assets"
	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/jsonutil"
)

var fusionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"results": {
			Type: genai.TypeArray,
			Items: gateway.StringProps(
				"id", "title", "concept", "prompt", "copy", "font_size", "placement", "prominence",
			),
		},
	},
	Required: []string{"results"},
}

type fusionResponse struct {
	Results []FinalPrompt `json:"results"`
}

// noneLabel stands in for an empty prohibited-elements list in prompts.
const noneLabel = "无"

func prohibitedOrNone(a *Analysis) string {
	if strings.TrimSpace(a.ProhibitedElements) == "" {
		return noneLabel
	}
	return a.ProhibitedElements
}

// Fuse combines the constitution and analysis into one FinalPrompt per
// storyboard. Results are restricted to the input storyboard ids and
// returned in storyboard order. Ids the model skipped are simply absent;
// callers treat them as not yet generated.
//
// Marketing fields (title, copy, placement, font size, prominence) are
// taken from the storyboard so user edits survive fusion; the model
// contributes the prompt and, when present, a refined concept.
func (p *Planner) Fuse(ctx context.Context, c *Constitution, a *Analysis, model, credential string) ([]FinalPrompt, error) {
	if c == nil || a == nil || len(a.Storyboards) == 0 {
		return nil, fmt.Errorf("fuse: %w: constitution and analysis are required", ErrInvalidInput)
	}
	model = modelOrDefault(model)
	start := time.Now()

	user := assets.RenderFusionPrompt(assets.FusionData{
		Mode:        a.Strategy.Label(),
		Style:       c.Style,
		Lighting:    c.Lighting,
		Color:       c.Color,
		Composition: c.Composition,
		Texture:     c.Texture,
		Prefix:      c.PromptPrefix,
		Prohibited:  prohibitedOrNone(a),
		Storyboards: marshalUnescaped(a.Storyboards),
	})

	res, err := p.gw.Invoke(ctx, gateway.Request{
		Operation:         "fuse_prompts",
		Model:             model,
		Credential:        credential,
		SystemInstruction: assets.FusionSystemPrompt,
		Parts:             []gateway.Part{gateway.TextPart(user)},
		Schema:            fusionSchema,
	})
	if err != nil {
		return nil, asAnalysisFailed("fuse", err)
	}

	parsed, err := jsonutil.ParseJSON[fusionResponse](res.Text)
	if err != nil {
		return nil, fmt.Errorf("fuse: %w: %w", ErrAnalysisFailed, err)
	}

	byID := make(map[string]FinalPrompt, len(parsed.Results))
	for _, r := range parsed.Results {
		id := strings.TrimSpace(r.ID)
		if _, dup := byID[id]; dup {
			continue
		}
		if _, known := a.Storyboard(id); !known {
			log.Warn().Str("id", id).Msg("Fusion returned unknown storyboard id, dropping")
			continue
		}
		byID[id] = r
	}

	prompts := make([]FinalPrompt, 0, len(a.Storyboards))
	for _, sb := range a.Storyboards {
		r, ok := byID[sb.ID]
		if !ok {
			log.Info().Str("id", sb.ID).Msg("No fused prompt for storyboard")
			continue
		}
		concept := strings.TrimSpace(r.Concept)
		if concept == "" {
			concept = sb.Concept
		}
		prompts = append(prompts, FinalPrompt{
			ID:         sb.ID,
			Title:      sb.Title,
			Concept:    concept,
			Prompt:     strings.TrimSpace(r.Prompt),
			Copy:       sb.Copy,
			FontSize:   sb.FontSize,
			Placement:  sb.Placement,
			Prominence: sb.Prominence,
		})
	}

	log.Info().
		Str("model", model).
		Int("storyboards", len(a.Storyboards)).
		Int("prompts", len(prompts)).
		Dur("duration", time.Since(start)).
		Msg("Prompt fusion complete")
	return prompts, nil
}

// RegenerateOne asks for a fresh prompt for one storyboard, keeping its
// copy and placement intent. The caller decides what to do on failure;
// it must not clear the previous prompt.
func (p *Planner) RegenerateOne(ctx context.Context, c *Constitution, sb Storyboard, a *Analysis, model, credential string) (string, error) {
	if c == nil || a == nil {
		return "", fmt.Errorf("regenerate: %w: constitution and analysis are required", ErrInvalidInput)
	}
	model = modelOrDefault(model)

	user := assets.RenderRegeneratePrompt(assets.RegenerateData{
		Mode:             a.Strategy.Label(),
		Style:            c.Style,
		Prefix:           c.PromptPrefix,
		Prohibited:       prohibitedOrNone(a),
		PhysicalFeatures: a.PhysicalFeatures,
		Storyboard:       marshalUnescaped(sb),
	})

	res, err := p.gw.Invoke(ctx, gateway.Request{
		Operation:         "regenerate_prompt",
		Model:             model,
		Credential:        credential,
		SystemInstruction: assets.RegenerateSystemPrompt,
		Parts:             []gateway.Part{gateway.TextPart(user)},
	})
	if err != nil {
		return "", asAnalysisFailed("regenerate", err)
	}

	text := strings.TrimSpace(jsonutil.StripMarkdownFences(res.Text))
	if text == "" {
		return "", fmt.Errorf("regenerate: %w: empty prompt", ErrAnalysisFailed)
	}

	log.Info().Str("id", sb.ID).Int("prompt_chars", len([]rune(text))).Msg("Prompt regenerated")
	return text, nil
}
