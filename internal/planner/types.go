package planner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAnalysisFailed means the model answered but its output could not be
	// turned into the expected structure.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrInvalidInput rejects requests before any model call is made.
	ErrInvalidInput = errors.New("invalid input")
)

// Constitution is the visual style extracted from a reference image. It
// constrains every prompt and render in a project.
type Constitution struct {
	Style        string `json:"style"`
	Lighting     string `json:"lighting"`
	Color        string `json:"color"`
	Composition  string `json:"composition"`
	Texture      string `json:"texture"`
	PromptPrefix string `json:"prompt_prefix"`
}

// constitutionFields are the JSON names of the six required axes, in schema order.
var constitutionFields = []string{"style", "lighting", "color", "composition", "texture", "prompt_prefix"}

// Validate requires every axis to be a non-empty string.
func (c *Constitution) Validate() error {
	var empty []string
	for i, v := range []string{c.Style, c.Lighting, c.Color, c.Composition, c.Texture, c.PromptPrefix} {
		if strings.TrimSpace(v) == "" {
			empty = append(empty, constitutionFields[i])
		}
	}
	if len(empty) > 0 {
		return fmt.Errorf("constitution has empty fields: %s", strings.Join(empty, ", "))
	}
	return nil
}

// Strategy selects the analysis and fusion templates.
type Strategy string

const (
	StrategyDetail    Strategy = "detail"
	StrategyMainImage Strategy = "main_image"
)

// ParseStrategy accepts "detail" and "main_image" (case-insensitive).
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyDetail:
		return StrategyDetail, nil
	case StrategyMainImage, "main":
		return StrategyMainImage, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, s)
}

// Label is the mode name shown to the model in fusion prompts.
func (s Strategy) Label() string {
	if s == StrategyDetail {
		return "详情页"
	}
	return "营销主图"
}

// RenderLabel is the mode name used in the final render instruction.
func (s Strategy) RenderLabel() string {
	if s == StrategyDetail {
		return "详情呈现"
	}
	return "高点击率营销主图"
}

// PlanLabel names the plan in exported summaries.
func (s Strategy) PlanLabel() string {
	if s == StrategyDetail {
		return "详情分镜"
	}
	return "主图方案"
}

// Storyboard is one marketing beat of an analysis.
type Storyboard struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Concept           string `json:"concept"`
	VisualDescription string `json:"visual_description"`
	MarketingAngle    string `json:"marketing_angle"`
	Copy              string `json:"copy"`
	FontSize          string `json:"font_size"`
	Placement         string `json:"placement"`
	Prominence        string `json:"prominence"`
}

// Constraints are the merchant's free-text instructions for a product.
type Constraints struct {
	SellingPoints string `json:"selling_points"`
	Allowed       string `json:"allowed_elements"`
	Prohibited    string `json:"prohibited_elements"`
}

// FreeText renders the constraints the way the analyzer prompt expects.
func (c Constraints) FreeText() string {
	return fmt.Sprintf("卖点:%s, 允许:%s, 禁止:%s", c.SellingPoints, c.Allowed, c.Prohibited)
}

// Analysis is the product plan: physical features, font candidates and
// exactly StoryboardCount storyboards in presentation order.
type Analysis struct {
	Strategy           Strategy     `json:"strategy_type"`
	PhysicalFeatures   string       `json:"physical_features"`
	FontOptions        []string     `json:"global_font_options"`
	Storyboards        []Storyboard `json:"storyboards"`
	SellingPoints      string       `json:"selling_points,omitempty"`
	AllowedElements    string       `json:"allowed_elements,omitempty"`
	ProhibitedElements string       `json:"prohibited_elements,omitempty"`
}

// Storyboard returns the storyboard with the given id.
func (a *Analysis) Storyboard(id string) (*Storyboard, bool) {
	for i := range a.Storyboards {
		if a.Storyboards[i].ID == id {
			return &a.Storyboards[i], true
		}
	}
	return nil, false
}

// IDs returns storyboard ids in presentation order.
func (a *Analysis) IDs() []string {
	ids := make([]string, len(a.Storyboards))
	for i, sb := range a.Storyboards {
		ids[i] = sb.ID
	}
	return ids
}

// DefaultFont returns the first suggested font.
func (a *Analysis) DefaultFont() string {
	if len(a.FontOptions) == 0 {
		return FallbackFont
	}
	return a.FontOptions[0]
}

// Outcome tags how an analysis was produced.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
)

// AnalysisResult is Ok(analysis) or Degraded(analysis, warnings). The
// failed case is reported as an error wrapping ErrAnalysisFailed.
type AnalysisResult struct {
	Analysis *Analysis `json:"analysis"`
	Outcome  Outcome   `json:"outcome"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Degraded reports whether fallback defaults were substituted.
func (r *AnalysisResult) Degraded() bool {
	return r.Outcome == OutcomeDegraded
}

// FinalPrompt is a storyboard enriched with a generation-ready instruction.
// ID equals the storyboard id.
type FinalPrompt struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Concept    string `json:"concept"`
	Prompt     string `json:"prompt"`
	Copy       string `json:"copy"`
	FontSize   string `json:"font_size"`
	Placement  string `json:"placement"`
	Prominence string `json:"prominence"`
}
