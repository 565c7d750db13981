package export

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/render"
)

func samplePrompts() []planner.FinalPrompt {
	return []planner.FinalPrompt{
		{ID: "sb1", Title: "开箱/首屏", Concept: "第一印象", Copy: "轻盈随行", Placement: "顶部居中", FontSize: "大", Prompt: "hero shot"},
		{ID: "sb2", Title: "细节", Concept: "材质", Copy: "磨砂质感", Placement: "左下", FontSize: "中", Prompt: "macro"},
	}
}

func TestCardDetail(t *testing.T) {
	got := CardDetail(samplePrompts()[0], planner.StrategyDetail, "思源黑体")
	assert.Contains(t, got, "【视觉架构方案详情 - 开箱/首屏】")
	assert.Contains(t, got, "模式：详情分镜")
	assert.Contains(t, got, "排版布局：顶部居中 (建议字号: 大)")
	assert.Contains(t, got, "全局字体：思源黑体")
	assert.True(t, strings.HasSuffix(got, "hero shot"))
}

func TestPlanSummary(t *testing.T) {
	got := PlanSummary(samplePrompts(), planner.StrategyMainImage, "站酷高端黑", nil)
	assert.Contains(t, got, "主图全案方案汇总")
	assert.Contains(t, got, "视觉前缀协议：默认")
	assert.Contains(t, got, "[方案 01: 开箱/首屏]")
	assert.Contains(t, got, "[方案 02: 细节]")
	assert.Less(t, strings.Index(got, "方案 01"), strings.Index(got, "方案 02"))

	got = PlanSummary(nil, planner.StrategyDetail, "", &planner.Constitution{PromptPrefix: "minimal studio"})
	assert.Contains(t, got, "详情全案")
	assert.Contains(t, got, "视觉前缀协议：minimal studio")
}

func TestFileName(t *testing.T) {
	tests := []struct{ title, id, want string }{
		{"开箱/首屏", "sb1", "开箱_首屏"},
		{`a:b*c?"d<e>f|g\h`, "sb1", "a_b_c__d_e_f_g_h"},
		{"   ", "sb3", "image-sb3"},
		{"tab\there", "sb1", "tabhere"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileName(tt.title, tt.id), tt.title)
	}
}

func readBundle(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	zr.RegisterDecompressor(MethodZstd, zstd.ZipDecompressor())

	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = body
	}
	return files
}

func TestBundleWriteTo(t *testing.T) {
	b := Bundle{
		Summary: "summary",
		Entries: []Entry{
			{ID: "sb1", Title: "同名", Image: gateway.Image{Data: []byte{1, 2}, MIMEType: "image/png"}},
			{ID: "sb2", Title: "同名", Image: gateway.Image{Data: []byte{3}, MIMEType: "image/jpeg"}},
		},
	}
	var buf bytes.Buffer
	n, err := b.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	files := readBundle(t, buf.Bytes())
	assert.Equal(t, []byte("summary"), files[SummaryFile])
	assert.Equal(t, []byte{1, 2}, files["同名.png"])
	assert.Equal(t, []byte{3}, files["同名-2.jpg"])
}

func TestFromProjectIncludesOnlyDoneCards(t *testing.T) {
	p := render.NewProject("ws-1", "u1", "alice", render.Settings{Font: "思源黑体"})
	p.SetConstitution(&planner.Constitution{PromptPrefix: "minimal"})
	p.SetAnalysis(&planner.Analysis{
		Strategy:    planner.StrategyDetail,
		FontOptions: []string{"思源黑体"},
		Storyboards: []planner.Storyboard{{ID: "sb1", Title: "开箱/首屏"}, {ID: "sb2", Title: "细节"}},
	})
	p.SetPrompts(samplePrompts())

	board := p.Board()
	require.NoError(t, board.Begin("sb2"))
	board.Succeed("sb2", &gateway.Image{Data: []byte{5}, MIMEType: "image/png"})
	require.NoError(t, board.Begin("sb1"))

	b := FromProject(p)
	require.Len(t, b.Entries, 1)
	assert.Equal(t, "sb2", b.Entries[0].ID)
	assert.Contains(t, b.Summary, "详情全案")
	assert.Contains(t, b.Summary, "思源黑体")
}
