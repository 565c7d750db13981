package assets

import (
	"strings"
	"testing"
)

func TestStaticPromptsEmbedded(t *testing.T) {
	for name, p := range map[string]string{
		"style-system":    StyleSystemPrompt,
		"style-user":      StyleUserPrompt,
		"analysis-detail": AnalysisDetailSystemPrompt,
		"analysis-main":   AnalysisMainSystemPrompt,
		"fusion":          FusionSystemPrompt,
		"regenerate":      RegenerateSystemPrompt,
	} {
		if strings.TrimSpace(p) == "" {
			t.Errorf("%s prompt is empty", name)
		}
	}
}

func TestRenderAnalysisPrompt(t *testing.T) {
	constraints := "卖点:轻薄, 允许:木纹, 禁止:水印"

	detail := RenderAnalysisPrompt(AnalysisData{Detail: true, Constraints: constraints})
	if !strings.HasPrefix(detail, "分析这些产品图，为详情页策划6个分镜") || !strings.HasSuffix(detail, constraints) {
		t.Errorf("detail prompt = %q", detail)
	}

	withRef := RenderAnalysisPrompt(AnalysisData{HasCompositionReference: true, Constraints: constraints})
	if !strings.HasPrefix(withRef, "这是构图参考图") || !strings.Contains(withRef, constraints) {
		t.Errorf("composition prompt = %q", withRef)
	}

	plain := RenderAnalysisPrompt(AnalysisData{Constraints: constraints})
	if !strings.HasPrefix(plain, "请为这些产品图") {
		t.Errorf("main prompt = %q", plain)
	}
}

func TestRenderInstructionFieldOrder(t *testing.T) {
	out := RenderInstruction(RenderData{
		Mode:             "高点击率营销主图",
		Copy:             "轻盈一整天",
		Font:             "现代无衬线体",
		Prefix:           "极简主义",
		Style:            "高级感",
		Lighting:         "柔和漫射光",
		Avoidance:        "保持画面专业极简，视觉纯净。",
		Placement:        "右上角",
		PhysicalFeatures: "铝合金机身",
		Scene:            "清晨的书桌",
	})

	order := []string{"模式：高点击率营销主图", `"轻盈一整天"`, "现代无衬线体", "极简主义", "保持画面专业极简", "【右上角】", "铝合金机身", "清晨的书桌"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		if idx < 0 {
			t.Fatalf("instruction missing %q:\n%s", marker, out)
		}
		if idx < last {
			t.Errorf("%q appears out of order", marker)
		}
		last = idx
	}
	if strings.HasSuffix(out, "\n") {
		t.Error("instruction should be trimmed")
	}
}
