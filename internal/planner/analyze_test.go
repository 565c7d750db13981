package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ecom-image-studio/internal/gateway"
)

func storyboardJSON(n int) []map[string]string {
	out := make([]map[string]string, n)
	for i := range out {
		out[i] = map[string]string{
			"id":                 fmt.Sprintf("sb%d", i+1),
			"title":              fmt.Sprintf("分镜%d", i+1),
			"concept":            "概念",
			"visual_description": "画面",
			"marketing_angle":    "角度",
			"copy":               "文案",
			"font_size":          "大字号",
			"placement":          "顶部居中",
			"prominence":         "高",
		}
	}
	return out
}

func analysisBody(t *testing.T, features string, fonts []string, boards []map[string]string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"physical_features":   features,
		"global_font_options": fonts,
		"storyboards":         boards,
	})
	require.NoError(t, err)
	return string(b)
}

func analyzeRequest(strategy Strategy) AnalyzeRequest {
	return AnalyzeRequest{
		Images:      []gateway.Image{productImage()},
		Constraints: Constraints{SellingPoints: "静音", Allowed: "木纹", Prohibited: "塑料"},
		Strategy:    strategy,
		Credential:  "key",
	}
}

func TestAnalyzeOK(t *testing.T) {
	gw := &fakeGateway{body: analysisBody(t, "白色圆柱", []string{"思源黑体", "站酷高端黑"}, storyboardJSON(6))}

	res, err := New(gw).Analyze(context.Background(), analyzeRequest(StrategyDetail))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Empty(t, res.Warnings)

	a := res.Analysis
	assert.Equal(t, StrategyDetail, a.Strategy)
	assert.Equal(t, "白色圆柱", a.PhysicalFeatures)
	assert.Equal(t, "思源黑体", a.DefaultFont())
	assert.Equal(t, []string{"sb1", "sb2", "sb3", "sb4", "sb5", "sb6"}, a.IDs())
	assert.Equal(t, "塑料", a.ProhibitedElements)

	call := gw.lastCall()
	assert.Equal(t, "analyze_product", call.Operation)
	last := call.Parts[len(call.Parts)-1]
	assert.Contains(t, last.Text, "卖点:静音, 允许:木纹, 禁止:塑料")
}

// Missing fields degrade to defaults instead of failing.
func TestAnalyzeDegradesOnPartialOutput(t *testing.T) {
	body := `{"storyboards":[{"id":"a","title":"t","copy":"c"},{"id":"b"}]}`
	gw := &fakeGateway{body: body}

	res, err := New(gw).Analyze(context.Background(), analyzeRequest(StrategyDetail))
	require.NoError(t, err)
	assert.True(t, res.Degraded())
	assert.NotEmpty(t, res.Warnings)

	a := res.Analysis
	assert.Equal(t, FallbackFeatures, a.PhysicalFeatures)
	assert.Equal(t, []string{FallbackFont}, a.FontOptions)
	require.Len(t, a.Storyboards, StoryboardCount)
	assert.Equal(t, "a", a.Storyboards[0].ID)
	assert.Equal(t, "b", a.Storyboards[1].ID)
	assert.Equal(t, detailBeats[2].title, a.Storyboards[2].Title)
}

func TestAnalyzeTruncatesExtraStoryboards(t *testing.T) {
	gw := &fakeGateway{body: analysisBody(t, "f", []string{"黑体"}, storyboardJSON(8))}

	res, err := New(gw).Analyze(context.Background(), analyzeRequest(StrategyMainImage))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Len(t, res.Analysis.Storyboards, StoryboardCount)
	assert.Equal(t, "sb6", res.Analysis.Storyboards[5].ID)
}

func TestAnalyzeRenamesDuplicateIDs(t *testing.T) {
	boards := storyboardJSON(6)
	boards[3]["id"] = "sb1"
	boards[4]["id"] = ""
	gw := &fakeGateway{body: analysisBody(t, "f", []string{"黑体"}, boards)}

	res, err := New(gw).Analyze(context.Background(), analyzeRequest(StrategyDetail))
	require.NoError(t, err)
	assert.True(t, res.Degraded())

	seen := map[string]bool{}
	for _, id := range res.Analysis.IDs() {
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestAnalyzeFontsAsString(t *testing.T) {
	body := `{"physical_features":"f","global_font_options":"思源黑体，站酷高端黑","storyboards":[]}`
	gw := &fakeGateway{body: body}

	res, err := New(gw).Analyze(context.Background(), analyzeRequest(StrategyDetail))
	require.NoError(t, err)
	assert.Equal(t, []string{"思源黑体", "站酷高端黑"}, res.Analysis.FontOptions)
}

func TestAnalyzeFailsWithoutJSON(t *testing.T) {
	gw := &fakeGateway{body: "I could not see the product."}

	_, err := New(gw).Analyze(context.Background(), analyzeRequest(StrategyDetail))
	assert.ErrorIs(t, err, ErrAnalysisFailed)
	assert.ErrorIs(t, err, gateway.ErrSchemaViolation)
}

func TestAnalyzePropagatesGatewayErrors(t *testing.T) {
	gw := &fakeGateway{err: &gateway.Error{Kind: gateway.KindUnavailable, Message: "503"}}

	_, err := New(gw).Analyze(context.Background(), analyzeRequest(StrategyDetail))
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
	assert.NotErrorIs(t, err, ErrAnalysisFailed)
}

func TestAnalyzeValidatesInput(t *testing.T) {
	gw := &fakeGateway{}
	p := New(gw)

	req := analyzeRequest(StrategyDetail)
	req.Images = nil
	_, err := p.Analyze(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidInput)

	req = analyzeRequest(StrategyDetail)
	req.Images = make([]gateway.Image, MaxProductImages+1)
	_, err = p.Analyze(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidInput)

	req = analyzeRequest("poster")
	_, err = p.Analyze(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, gw.calls)
}

func TestAnalyzeCompositionReference(t *testing.T) {
	ref := &gateway.Image{Data: []byte("ref"), MIMEType: "image/png"}

	t.Run("main image sends reference", func(t *testing.T) {
		gw := &fakeGateway{body: analysisBody(t, "f", []string{"黑体"}, storyboardJSON(6))}
		req := analyzeRequest(StrategyMainImage)
		req.CompositionReference = ref
		_, err := New(gw).Analyze(context.Background(), req)
		require.NoError(t, err)
		// product image, reference, instruction
		assert.Len(t, gw.lastCall().Parts, 3)
	})

	t.Run("detail ignores reference", func(t *testing.T) {
		gw := &fakeGateway{body: analysisBody(t, "f", []string{"黑体"}, storyboardJSON(6))}
		req := analyzeRequest(StrategyDetail)
		req.CompositionReference = ref
		_, err := New(gw).Analyze(context.Background(), req)
		require.NoError(t, err)
		assert.Len(t, gw.lastCall().Parts, 2)
	})
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Detail ")
	require.NoError(t, err)
	assert.Equal(t, StrategyDetail, s)

	s, err = ParseStrategy("main_image")
	require.NoError(t, err)
	assert.Equal(t, StrategyMainImage, s)

	_, err = ParseStrategy("banner")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
