// Package export renders a finished plan as text and bundles it with the
// generated images into a ZIP archive.
package export

import (
	"fmt"
	"strings"

	"github.com/fpang/ecom-image-studio/internal/planner"
)

const rule = "------------------------------------------------"

// CardDetail is the full description of one card.
func CardDetail(fp planner.FinalPrompt, strategy planner.Strategy, font string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "【视觉架构方案详情 - %s】\n", fp.Title)
	fmt.Fprintf(&sb, "模式：%s\n", strategy.PlanLabel())
	fmt.Fprintf(&sb, "策划构思：%s\n", fp.Concept)
	fmt.Fprintf(&sb, "核心文案：%s\n", fp.Copy)
	fmt.Fprintf(&sb, "排版布局：%s (建议字号: %s)\n", fp.Placement, fp.FontSize)
	fmt.Fprintf(&sb, "全局字体：%s\n", font)
	fmt.Fprintf(&sb, "生图提示词 (PROMPT)：\n%s", fp.Prompt)
	return sb.String()
}

// PlanSummary lists every card of the plan in order.
func PlanSummary(prompts []planner.FinalPrompt, strategy planner.Strategy, font string, c *planner.Constitution) string {
	prefix := "默认"
	if c != nil && strings.TrimSpace(c.PromptPrefix) != "" {
		prefix = c.PromptPrefix
	}
	kind := "主图全案"
	if strategy == planner.StrategyDetail {
		kind = "详情全案"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "【电商视觉架构 - %s方案汇总】\n", kind)
	fmt.Fprintf(&sb, "项目全局选定字体：%s\n", font)
	fmt.Fprintf(&sb, "视觉前缀协议：%s\n", prefix)
	sb.WriteString(rule + "\n\n")

	for i, fp := range prompts {
		fmt.Fprintf(&sb, "[方案 %02d: %s]\n", i+1, fp.Title)
		fmt.Fprintf(&sb, "● 营销构想：%s\n", fp.Concept)
		fmt.Fprintf(&sb, "● 核心文案：%s\n", fp.Copy)
		fmt.Fprintf(&sb, "● 排版建议：%s (%s)\n", fp.Placement, fp.FontSize)
		fmt.Fprintf(&sb, "● 生图指令：%s\n\n", fp.Prompt)
	}
	sb.WriteString(rule + "\n")
	return sb.String()
}

// FileName turns a card title into a safe file name stem. Characters that
// are invalid on common file systems become underscores; an empty result
// falls back to "image-<id>".
func FileName(title, id string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		return "image-" + id
	}
	if runes := []rune(name); len(runes) > 60 {
		name = string(runes[:60])
	}
	return name
}
