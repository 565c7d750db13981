package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/metrics"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/render"
)

type fakeSource struct {
	mu       sync.Mutex
	pending  []*Job
	statuses []Status
	finished []string
}

func (f *fakeSource) Dequeue(ctx context.Context, _ time.Duration) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, ctx.Err()
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	return job, nil
}

func (f *fakeSource) SetStatus(_ context.Context, st *Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *st
	f.statuses = append(f.statuses, cp)
	return nil
}

func (f *fakeSource) Finish(_ context.Context, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, jobID)
}

type fakeRenderer struct {
	credential string
	ids        []string
	override   *gateway.Image
	fail       map[string]bool
}

func (f *fakeRenderer) RenderBulk(_ context.Context, p *render.Project, ids []string, override *gateway.Image) []render.Outcome {
	f.credential = p.Settings().Credential
	f.ids = ids
	f.override = override
	out := make([]render.Outcome, len(ids))
	for i, id := range ids {
		out[i] = render.Outcome{ID: id, Image: &gateway.Image{Data: []byte(id), MIMEType: "image/png"}}
		if f.fail[id] {
			out[i] = render.Outcome{ID: id, Err: errors.New("boom")}
		}
	}
	return out
}

func workerJob() *Job {
	return &Job{
		ID:     "render-abc",
		UserID: "u1",
		Project: render.Portable{
			ID:     "ws-1",
			UserID: "u1",
			Prompts: []planner.FinalPrompt{
				{ID: "sb1", Prompt: "a"},
				{ID: "sb2", Prompt: "b"},
			},
		},
		Credential: "user-key",
		Override:   &render.PortableImage{MIMEType: "image/png", Data: []byte("ref")},
	}
}

func TestWorkerProcess(t *testing.T) {
	metrics.SetOutput(io.Discard)
	src := &fakeSource{}
	r := &fakeRenderer{}
	w := &Worker{jobs: src, renderer: r, pollTimeout: time.Millisecond}

	st := w.Process(context.Background(), workerJob())

	assert.Equal(t, "user-key", r.credential)
	assert.Equal(t, []string{"sb1", "sb2"}, r.ids)
	require.NotNil(t, r.override)
	assert.Equal(t, []byte("ref"), r.override.Data)

	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, render.StatusDone, st.Cards["sb1"].Status)
	require.NotNil(t, st.Cards["sb1"].Image)
	assert.Equal(t, []byte("sb1"), st.Cards["sb1"].Image.Data, "rendered bytes travel back in the status")
	require.Len(t, src.statuses, 2)
	assert.Equal(t, StateRunning, src.statuses[0].State)
	assert.Equal(t, StateDone, src.statuses[1].State)
	assert.Equal(t, []string{"render-abc"}, src.finished)
}

func TestWorkerProcessAllFailed(t *testing.T) {
	metrics.SetOutput(io.Discard)
	src := &fakeSource{}
	r := &fakeRenderer{fail: map[string]bool{"sb1": true, "sb2": true}}
	w := &Worker{jobs: src, renderer: r, pollTimeout: time.Millisecond}

	st := w.Process(context.Background(), workerJob())
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "internal", st.Cards["sb2"].ErrorCode)
	assert.Equal(t, []string{"render-abc"}, src.finished)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	metrics.SetOutput(io.Discard)
	src := &fakeSource{pending: []*Job{workerJob()}}
	w := &Worker{jobs: src, renderer: &fakeRenderer{}, pollTimeout: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.finished) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
