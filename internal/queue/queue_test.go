package queue

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/render"
)

func testJob() *Job {
	var prompts []planner.FinalPrompt
	for i := 1; i <= 3; i++ {
		prompts = append(prompts, planner.FinalPrompt{ID: fmt.Sprintf("sb%d", i)})
	}
	return &Job{
		ID:         "render-abc",
		UserID:     "u1",
		Project:    render.Portable{ID: "ws-1", UserID: "u1", Prompts: prompts},
		Credential: "key",
	}
}

func TestTargets(t *testing.T) {
	job := testJob()
	assert.Equal(t, []string{"sb1", "sb2", "sb3"}, job.Targets())

	job.IDs = []string{"sb2"}
	assert.Equal(t, []string{"sb2"}, job.Targets())
}

func TestNewStatus(t *testing.T) {
	st := newStatus(testJob())
	assert.Equal(t, StateQueued, st.State)
	assert.False(t, st.Settled())
	assert.Equal(t, "ws-1", st.SessionID)
	assert.Len(t, st.Cards, 3)
	assert.Equal(t, render.StatusIdle, st.Cards["sb1"].Status)
}

func TestApply(t *testing.T) {
	st := newStatus(testJob())
	st.Apply([]render.Outcome{
		{ID: "sb1", Image: &gateway.Image{Data: []byte("png"), MIMEType: "image/png"}},
		{ID: "sb2", Err: fmt.Errorf("render sb2: %w", render.ErrInsufficientCredit)},
		{ID: "sb3"},
	})

	assert.Equal(t, StateDone, st.State)
	assert.True(t, st.Settled())
	assert.Equal(t, render.StatusDone, st.Cards["sb1"].Status)
	assert.Equal(t, render.StatusError, st.Cards["sb2"].Status)
	assert.Equal(t, "insufficient_credit", st.Cards["sb2"].ErrorCode)

	card := st.Cards["sb1"].CardState()
	require.NotNil(t, card.Image)
	assert.Equal(t, []byte("png"), card.Image.Data)

	bare := st.WithoutImages()
	assert.Nil(t, bare.Cards["sb1"].Image)
	assert.NotNil(t, st.Cards["sb1"].Image, "original keeps its images")
}

func TestDecodeJob(t *testing.T) {
	raw, err := json.Marshal(testJob())
	require.NoError(t, err)

	job, err := decodeJob(raw)
	require.NoError(t, err)
	assert.Equal(t, "render-abc", job.ID)
	assert.Equal(t, "key", job.Credential)
	assert.Len(t, job.Project.Prompts, 3)

	_, err = decodeJob([]byte(`{"userId":"u1"}`))
	assert.Error(t, err, "missing id")

	_, err = decodeJob([]byte(`not json`))
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "studio:job:render-abc", payloadKey("render-abc"))
	assert.Equal(t, "studio:job:render-abc:status", statusKey("render-abc"))
}
