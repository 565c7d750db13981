package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/queue"
	"github.com/fpang/ecom-image-studio/internal/render"
)

// pendingJob is a queued render holding cards of a workspace in loading.
type pendingJob struct {
	sessionID string
	attempts  []render.Attempt
}

// jobTracker links queued renders to the workspace boards they settle.
type jobTracker struct {
	mu   sync.Mutex
	jobs map[string]*pendingJob
}

func newJobTracker() *jobTracker {
	return &jobTracker{jobs: make(map[string]*pendingJob)}
}

func (t *jobTracker) add(jobID string, j *pendingJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[jobID] = j
}

// take removes and returns the job, or nil when it is not tracked.
func (t *jobTracker) take(jobID string) *pendingJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := t.jobs[jobID]
	delete(t.jobs, jobID)
	return j
}

func (t *jobTracker) forSession(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id, j := range t.jobs {
		if j.sessionID == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}

// startJob moves every target card of p to loading for a queued render,
// all or nothing. An empty ids targets every prompt.
func startJob(p *render.Project, ids []string) ([]render.Attempt, error) {
	if len(ids) == 0 {
		ids = p.PromptIDs()
	}
	attempts := make([]render.Attempt, 0, len(ids))
	for _, id := range ids {
		if _, ok := p.Prompt(id); !ok {
			releaseAll(attempts)
			return nil, fmt.Errorf("render %s: %w", id, render.ErrUnknownPrompt)
		}
		a, err := p.Board().Start(id)
		if err != nil {
			releaseAll(attempts)
			return nil, fmt.Errorf("render %s: %w", id, err)
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

func releaseAll(attempts []render.Attempt) {
	for _, a := range attempts {
		a.Release()
	}
}

// settleJobs applies every finished queued render of a workspace to its
// board. Jobs still queued or running are left pending.
func (s *Server) settleJobs(ctx context.Context, sessionID, userID string) {
	if s.queue == nil {
		return
	}
	for _, jobID := range s.pending.forSession(sessionID) {
		st, err := s.queue.GetStatus(ctx, jobID, userID)
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			s.applyJob(jobID, nil)
		case err != nil:
			log.Warn().Err(err).Str("job_id", jobID).Str("session_id", sessionID).Msg("Failed to read render job status")
		case st.Settled():
			s.applyJob(jobID, st)
		}
	}
}

// applyJob settles the cards a job holds from its final status. A nil
// status means the job expired and every card fails.
func (s *Server) applyJob(jobID string, st *queue.Status) {
	job := s.pending.take(jobID)
	if job == nil {
		return
	}
	applied := 0
	for _, a := range job.attempts {
		cs := render.CardState{Status: render.StatusError, Error: "render job expired", ErrorCode: "internal"}
		if st != nil {
			cs = jobCardState(st, a.ID())
		}
		if a.Apply(cs) {
			applied++
		}
	}
	log.Info().
		Str("job_id", jobID).
		Str("session_id", job.sessionID).
		Int("cards", len(job.attempts)).
		Int("applied", applied).
		Msg("Render job applied to workspace")
}

func jobCardState(st *queue.Status, id string) render.CardState {
	cr, ok := st.Cards[id]
	if !ok {
		return render.CardState{Status: render.StatusError, Error: "render job returned no result", ErrorCode: "internal"}
	}
	cs := cr.CardState()
	switch {
	case cs.Status == render.StatusDone && cs.Image == nil:
		return render.CardState{Status: render.StatusError, Error: "render job returned no image", ErrorCode: "internal"}
	case cs.Status != render.StatusDone && cs.Status != render.StatusError:
		return render.CardState{Status: render.StatusError, Error: "render job ended before this card ran", ErrorCode: "internal"}
	}
	return cs
}
