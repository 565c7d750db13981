package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/ecom-image-studio/internal/assets"
	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/jsonutil"
)

// Fallback values substituted when the model omits a field.
const (
	FallbackFeatures = "未提取到明显特征"
	FallbackFont     = "系统默认字体"
)

// detailBeats is the fixed detail-page progression, used to label
// placeholder storyboards when the model returns fewer than six.
var detailBeats = [StoryboardCount]struct{ title, concept string }{
	{"首屏海报", "视觉暴击，第一眼建立产品印象"},
	{"信任背书", "实验室与权威背书，建立信任"},
	{"细节展示", "精密构造与用料细节"},
	{"痛点展示", "对比隐喻，直击使用痛点"},
	{"同行对比", "与同类产品对比，突出优势"},
	{"场景展示", "生活化场景，营造向往感"},
}

var storyboardFields = []string{
	"id", "title", "concept", "visual_description", "marketing_angle",
	"copy", "font_size", "placement", "prominence",
}

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"physical_features": {Type: genai.TypeString},
		"global_font_options": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
		"storyboards": {
			Type:  genai.TypeArray,
			Items: gateway.StringProps(storyboardFields...),
		},
	},
	Required: []string{"physical_features", "global_font_options", "storyboards"},
}

// AnalyzeRequest carries the inputs of one product analysis run.
type AnalyzeRequest struct {
	Images      []gateway.Image
	Constraints Constraints
	Strategy    Strategy
	Model       string
	Credential  string

	// CompositionReference, when set for the main-image strategy, constrains
	// only the composition of the generated plans.
	CompositionReference *gateway.Image
}

// Analyze produces a six-storyboard plan for the product images.
//
// Partial output degrades instead of failing: missing features or fonts
// get fallbacks, more than six storyboards are truncated, fewer are padded
// with placeholders, and the result is tagged OutcomeDegraded with the
// reasons. Only a response with no recoverable JSON fails.
func (p *Planner) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisResult, error) {
	if len(req.Images) == 0 || len(req.Images) > MaxProductImages {
		return nil, fmt.Errorf("analyze: %w: need 1 to %d product images, got %d", ErrInvalidInput, MaxProductImages, len(req.Images))
	}
	if req.Strategy != StrategyDetail && req.Strategy != StrategyMainImage {
		return nil, fmt.Errorf("analyze: %w: unknown strategy %q", ErrInvalidInput, req.Strategy)
	}
	model := modelOrDefault(req.Model)
	start := time.Now()

	parts := make([]gateway.Part, 0, len(req.Images)+2)
	for _, img := range req.Images {
		parts = append(parts, img.Part())
	}

	system := assets.AnalysisDetailSystemPrompt
	hasRef := false
	if req.Strategy == StrategyMainImage {
		system = assets.AnalysisMainSystemPrompt
		if req.CompositionReference != nil && len(req.CompositionReference.Data) > 0 {
			parts = append(parts, req.CompositionReference.Part())
			hasRef = true
		}
	} else if req.CompositionReference != nil {
		log.Warn().Msg("Composition reference ignored for detail strategy")
	}
	parts = append(parts, gateway.TextPart(assets.RenderAnalysisPrompt(assets.AnalysisData{
		Detail:                  req.Strategy == StrategyDetail,
		HasCompositionReference: hasRef,
		Constraints:             req.Constraints.FreeText(),
	})))

	log.Info().
		Str("model", model).
		Str("strategy", string(req.Strategy)).
		Int("images", len(req.Images)).
		Bool("composition_reference", hasRef).
		Msg("Analyzing product")

	var warnings []string
	raw := ""
	res, err := p.gw.Invoke(ctx, gateway.Request{
		Operation:         "analyze_product",
		Model:             model,
		Credential:        req.Credential,
		SystemInstruction: system,
		Parts:             parts,
		Schema:            analysisSchema,
	})
	switch {
	case err == nil:
		raw = res.Text
	case errors.Is(err, gateway.ErrSchemaViolation):
		raw = gateway.RawBody(err)
		warnings = append(warnings, "模型输出未通过结构校验，已尽量恢复")
		log.Warn().Err(err).Msg("Analysis response failed schema validation, attempting recovery")
	default:
		return nil, fmt.Errorf("analyze: %w", err)
	}

	obj, perr := jsonutil.ParseObject(raw)
	if perr != nil {
		if err != nil {
			return nil, fmt.Errorf("analyze: %w: %w", ErrAnalysisFailed, err)
		}
		return nil, fmt.Errorf("analyze: %w: %w", ErrAnalysisFailed, perr)
	}

	analysis, more := normalizeAnalysis(obj, req.Strategy)
	warnings = append(warnings, more...)
	analysis.SellingPoints = req.Constraints.SellingPoints
	analysis.AllowedElements = req.Constraints.Allowed
	analysis.ProhibitedElements = req.Constraints.Prohibited

	result := &AnalysisResult{Analysis: analysis, Outcome: OutcomeOK}
	if len(warnings) > 0 {
		result.Outcome = OutcomeDegraded
		result.Warnings = warnings
	}

	log.Info().
		Str("model", model).
		Str("outcome", string(result.Outcome)).
		Int("fonts", len(analysis.FontOptions)).
		Int("warnings", len(warnings)).
		Dur("duration", time.Since(start)).
		Msg("Product analysis complete")
	return result, nil
}

// normalizeAnalysis builds an Analysis from a loosely typed JSON object,
// substituting defaults and returning a warning for each substitution.
func normalizeAnalysis(obj map[string]any, strategy Strategy) (*Analysis, []string) {
	var warnings []string
	a := &Analysis{Strategy: strategy}

	a.PhysicalFeatures = stringField(obj, "physical_features")
	if a.PhysicalFeatures == "" {
		a.PhysicalFeatures = FallbackFeatures
		warnings = append(warnings, "未返回产品物理特征，已使用默认描述")
	}

	a.FontOptions = stringList(obj["global_font_options"])
	if len(a.FontOptions) == 0 {
		a.FontOptions = []string{FallbackFont}
		warnings = append(warnings, "未返回字体建议，已使用系统默认字体")
	}

	var boards []Storyboard
	if items, ok := obj["storyboards"].([]any); ok {
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				boards = append(boards, storyboardFromMap(m))
			}
		}
	}
	if len(boards) > StoryboardCount {
		log.Warn().Int("returned", len(boards)).Msg("Model returned extra storyboards, truncating")
		boards = boards[:StoryboardCount]
	}

	seen := make(map[string]bool, StoryboardCount)
	renamed := 0
	for i := range boards {
		if boards[i].ID == "" || seen[boards[i].ID] {
			boards[i].ID = uniqueID(seen, i)
			renamed++
		}
		seen[boards[i].ID] = true
	}
	if renamed > 0 {
		warnings = append(warnings, fmt.Sprintf("%d 个分镜缺少唯一 ID，已自动编号", renamed))
	}

	if missing := StoryboardCount - len(boards); missing > 0 {
		for i := len(boards); i < StoryboardCount; i++ {
			sb := placeholderStoryboard(strategy, i)
			if seen[sb.ID] {
				sb.ID = uniqueID(seen, i)
			}
			seen[sb.ID] = true
			boards = append(boards, sb)
		}
		warnings = append(warnings, fmt.Sprintf("模型仅返回 %d 个分镜，已补齐 %d 个占位分镜", StoryboardCount-missing, missing))
	}

	a.Storyboards = boards
	return a, warnings
}

func uniqueID(seen map[string]bool, i int) string {
	id := fmt.Sprintf("sb%d", i+1)
	for n := 2; seen[id]; n++ {
		id = fmt.Sprintf("sb%d-%d", i+1, n)
	}
	return id
}

func placeholderStoryboard(strategy Strategy, i int) Storyboard {
	sb := Storyboard{
		ID:         fmt.Sprintf("sb%d", i+1),
		FontSize:   "中字号",
		Placement:  "居中",
		Prominence: "中",
	}
	if strategy == StrategyDetail {
		sb.Title = detailBeats[i].title
		sb.Concept = detailBeats[i].concept
	} else {
		sb.Title = fmt.Sprintf("构图方案 %d", i+1)
		sb.Concept = "产品完整展示的创意构图"
	}
	sb.VisualDescription = sb.Concept
	sb.MarketingAngle = sb.Title
	return sb
}

func storyboardFromMap(m map[string]any) Storyboard {
	return Storyboard{
		ID:                stringField(m, "id"),
		Title:             stringField(m, "title"),
		Concept:           stringField(m, "concept"),
		VisualDescription: stringField(m, "visual_description"),
		MarketingAngle:    stringField(m, "marketing_angle"),
		Copy:              stringField(m, "copy"),
		FontSize:          stringField(m, "font_size"),
		Placement:         stringField(m, "placement"),
		Prominence:        stringField(m, "prominence"),
	}
}

// stringField reads a scalar as trimmed text; numbers and booleans are
// formatted, anything else is treated as absent.
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64, bool:
		return fmt.Sprint(v)
	}
	return ""
}

// stringList accepts a JSON array of strings or a single comma-separated string.
func stringList(v any) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == '，' || r == '、' }) {
			add(s)
		}
	}
	return out
}
