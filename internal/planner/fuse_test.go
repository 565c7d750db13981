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

func testConstitution() *Constitution {
	return &Constitution{
		Style: "极简", Lighting: "柔光", Color: "暖白",
		Composition: "居中", Texture: "磨砂", PromptPrefix: "minimal studio",
	}
}

func testAnalysis() *Analysis {
	a := &Analysis{
		Strategy:           StrategyDetail,
		PhysicalFeatures:   "白色圆柱",
		FontOptions:        []string{"思源黑体"},
		ProhibitedElements: "塑料",
	}
	for i := 1; i <= StoryboardCount; i++ {
		a.Storyboards = append(a.Storyboards, Storyboard{
			ID:         fmt.Sprintf("sb%d", i),
			Title:      fmt.Sprintf("分镜%d", i),
			Concept:    "原始概念",
			Copy:       fmt.Sprintf("文案%d", i),
			FontSize:   "大字号",
			Placement:  "顶部居中",
			Prominence: "高",
		})
	}
	return a
}

func fusionBody(t *testing.T, ids ...string) string {
	t.Helper()
	results := make([]map[string]string, len(ids))
	for i, id := range ids {
		results[i] = map[string]string{
			"id": id, "title": "模型标题", "concept": "融合概念", "prompt": "prompt for " + id,
			"copy": "模型文案", "font_size": "小", "placement": "底部", "prominence": "低",
		}
	}
	b, err := json.Marshal(map[string]any{"results": results})
	require.NoError(t, err)
	return string(b)
}

// Every fused prompt id belongs to the analysis and order follows the storyboards.
func TestFuseRestrictsToStoryboardIDs(t *testing.T) {
	gw := &fakeGateway{body: fusionBody(t, "sb3", "ghost", "sb1", "sb2", "sb1")}
	a := testAnalysis()

	prompts, err := New(gw).Fuse(context.Background(), testConstitution(), a, "", "key")
	require.NoError(t, err)
	require.Len(t, prompts, 3)
	assert.Equal(t, "sb1", prompts[0].ID)
	assert.Equal(t, "sb2", prompts[1].ID)
	assert.Equal(t, "sb3", prompts[2].ID)

	for _, fp := range prompts {
		sb, ok := a.Storyboard(fp.ID)
		require.True(t, ok)
		assert.Equal(t, sb.Copy, fp.Copy, "storyboard copy wins")
		assert.Equal(t, sb.Placement, fp.Placement)
		assert.Equal(t, "融合概念", fp.Concept)
		assert.Equal(t, "prompt for "+fp.ID, fp.Prompt)
	}
}

func TestFuseSendsContext(t *testing.T) {
	gw := &fakeGateway{body: fusionBody(t, "sb1")}
	_, err := New(gw).Fuse(context.Background(), testConstitution(), testAnalysis(), "gemini-3-pro-preview", "key")
	require.NoError(t, err)

	call := gw.lastCall()
	assert.Equal(t, "gemini-3-pro-preview", call.Model)
	require.Len(t, call.Parts, 1)
	text := call.Parts[0].Text
	assert.Contains(t, text, "minimal studio")
	assert.Contains(t, text, "塑料")
	assert.Contains(t, text, `"id":"sb6"`)
}

func TestFuseProhibitedDefaultsToNone(t *testing.T) {
	gw := &fakeGateway{body: fusionBody(t, "sb1")}
	a := testAnalysis()
	a.ProhibitedElements = "  "

	_, err := New(gw).Fuse(context.Background(), testConstitution(), a, "", "key")
	require.NoError(t, err)
	assert.Contains(t, gw.lastCall().Parts[0].Text, noneLabel)
}

func TestFuseFailures(t *testing.T) {
	_, err := New(&fakeGateway{body: `{"items":[]}`}).Fuse(context.Background(), testConstitution(), testAnalysis(), "", "key")
	assert.ErrorIs(t, err, ErrAnalysisFailed)

	_, err = New(&fakeGateway{}).Fuse(context.Background(), nil, testAnalysis(), "", "key")
	assert.ErrorIs(t, err, ErrInvalidInput)

	unauthorized := &fakeGateway{err: &gateway.Error{Kind: gateway.KindUnauthorized, Message: "no key"}}
	_, err = New(unauthorized).Fuse(context.Background(), testConstitution(), testAnalysis(), "", "")
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
}

func TestRegenerateOne(t *testing.T) {
	gw := &fakeGateway{body: "```\n  a fresh prompt  \n```"}
	a := testAnalysis()
	sb, _ := a.Storyboard("sb2")

	prompt, err := New(gw).RegenerateOne(context.Background(), testConstitution(), *sb, a, "", "key")
	require.NoError(t, err)
	assert.Equal(t, "a fresh prompt", prompt)

	call := gw.lastCall()
	assert.Nil(t, call.Schema)
	assert.Equal(t, gateway.ModeText, call.Mode())
	assert.Contains(t, call.Parts[0].Text, `"id":"sb2"`)
}

func TestRegenerateOneEmpty(t *testing.T) {
	gw := &fakeGateway{body: "   "}
	a := testAnalysis()

	_, err := New(gw).RegenerateOne(context.Background(), testConstitution(), a.Storyboards[0], a, "", "key")
	assert.ErrorIs(t, err, ErrAnalysisFailed)
}
