package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/metrics"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/store"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeGateway returns a PNG-tagged image unless InvokeFunc says otherwise.
type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.Request
	calls    atomic.Int32

	InvokeFunc func(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

func (f *fakeGateway) Invoke(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.InvokeFunc != nil {
		return f.InvokeFunc(ctx, req)
	}
	return imageResult("img"), nil
}

func (f *fakeGateway) lastRequest() gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func imageResult(data string) *gateway.Result {
	return &gateway.Result{Image: &gateway.Image{Data: []byte(data), MIMEType: "image/png"}}
}

// fakeLedger wraps a MemoryStore with failure injection.
type fakeLedger struct {
	*store.MemoryStore

	historyErr error
	setErr     error

	// beforeSet runs before each conditional balance write.
	beforeSet func()
}

func (l *fakeLedger) SetBalanceIf(ctx context.Context, userID string, prev, next int) error {
	if l.setErr != nil {
		return l.setErr
	}
	if l.beforeSet != nil {
		l.beforeSet()
	}
	return l.MemoryStore.SetBalanceIf(ctx, userID, prev, next)
}

func (l *fakeLedger) AppendHistory(ctx context.Context, entry *store.HistoryEntry) error {
	if l.historyErr != nil {
		return l.historyErr
	}
	return l.MemoryStore.AppendHistory(ctx, entry)
}

func newLedger(t *testing.T, userID string, balance int) *fakeLedger {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	if _, err := s.EnsureUser(ctx, store.NewUser(userID, userID, store.RoleUser)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBalance(ctx, userID, balance); err != nil {
		t.Fatal(err)
	}
	return &fakeLedger{MemoryStore: s}
}

func balanceOf(t *testing.T, l Ledger, userID string) int {
	t.Helper()
	b, err := l.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func generationsOf(t *testing.T, l *fakeLedger, userID string) int {
	t.Helper()
	logs, err := l.ListGenerations(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	return len(logs)
}

func historyOf(t *testing.T, l *fakeLedger, userID string) []store.HistoryEntry {
	t.Helper()
	h, err := l.ListHistory(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// newTestProject returns a project with a constitution, a six-card detail
// analysis and fused prompts for every card.
func newTestProject(userID string) *Project {
	p := NewProject("proj-1", userID, userID, Settings{
		AnalysisModel: gateway.DefaultAnalysisModel,
		ImageModel:    gateway.ImageModelStandard,
		AspectRatio:   gateway.AspectSquare,
	})
	p.SetConstitution(&planner.Constitution{
		Style: "极简", Lighting: "柔光", Color: "暖白",
		Composition: "居中", Texture: "磨砂", PromptPrefix: "minimal studio",
	})

	a := &planner.Analysis{
		Strategy:           planner.StrategyDetail,
		PhysicalFeatures:   "白色圆柱机身",
		FontOptions:        []string{"思源黑体", "站酷高端黑"},
		ProhibitedElements: "塑料",
	}
	var prompts []planner.FinalPrompt
	for i := 1; i <= planner.StoryboardCount; i++ {
		id := fmt.Sprintf("sb%d", i)
		a.Storyboards = append(a.Storyboards, planner.Storyboard{
			ID: id, Title: fmt.Sprintf("分镜%d", i), Copy: fmt.Sprintf("文案%d", i), Placement: "顶部居中",
		})
		prompts = append(prompts, planner.FinalPrompt{
			ID: id, Title: fmt.Sprintf("分镜%d", i), Copy: fmt.Sprintf("文案%d", i),
			Placement: "顶部居中", Prompt: "scene " + id,
		})
	}
	p.SetAnalysis(a)
	p.SetPrompts(prompts)
	return p
}

var errBoom = errors.New("boom")
