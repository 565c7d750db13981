package render

import (
	"fmt"
	"strings"

	"github.com/fpang/ecom-image-studio/internal/assets"
	"github.com/fpang/ecom-image-studio/internal/planner"
)

const cleanlinessClause = "保持画面专业极简，视觉纯净。"

// avoidanceClause is the prohibited-elements directive, or a generic
// cleanliness clause when nothing is prohibited.
func avoidanceClause(prohibited string) string {
	prohibited = strings.TrimSpace(prohibited)
	if prohibited == "" {
		return cleanlinessClause
	}
	return fmt.Sprintf("【绝对禁止项】：严禁在画面中出现“%s”。确保画面呈现极致无缝、平滑的工业质感。", prohibited)
}

// BuildInstruction assembles the final image instruction for one card.
// The output depends only on its inputs. Field order is fixed: strategy
// framing, the verbatim copy as the only permitted text, font style,
// visual protocol, avoidance, placement, then product features and the
// card's own scene prompt.
func BuildInstruction(c planner.Constitution, a *planner.Analysis, fp planner.FinalPrompt, font string) string {
	if font == "" {
		font = a.DefaultFont()
	}
	return assets.RenderInstruction(assets.RenderData{
		Mode:             a.Strategy.RenderLabel(),
		Copy:             fp.Copy,
		Font:             font,
		Prefix:           c.PromptPrefix,
		Style:            c.Style,
		Lighting:         c.Lighting,
		Avoidance:        avoidanceClause(a.ProhibitedElements),
		Placement:        fp.Placement,
		PhysicalFeatures: a.PhysicalFeatures,
		Scene:            fp.Prompt,
	})
}
