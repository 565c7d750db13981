package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/metrics"
	"github.com/fpang/ecom-image-studio/internal/render"
)

// DefaultPollTimeout bounds each blocking dequeue so shutdown is noticed.
const DefaultPollTimeout = 5 * time.Second

type jobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	SetStatus(ctx context.Context, st *Status) error
	Finish(ctx context.Context, jobID string)
}

// BulkRenderer renders the cards of a project.
type BulkRenderer interface {
	RenderBulk(ctx context.Context, p *render.Project, ids []string, override *gateway.Image) []render.Outcome
}

// Worker drains the render queue.
type Worker struct {
	jobs        jobSource
	renderer    BulkRenderer
	pollTimeout time.Duration
}

// NewWorker returns a worker reading from q.
func NewWorker(q *Queue, renderer BulkRenderer) *Worker {
	return &Worker{jobs: q, renderer: renderer, pollTimeout: DefaultPollTimeout}
}

// Run processes jobs until ctx is cancelled. Dequeue errors are logged and
// retried after a pause.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Dur("poll_timeout", w.pollTimeout).Msg("Render worker started")
	for {
		if err := ctx.Err(); err != nil {
			log.Info().Msg("Render worker stopping")
			return nil
		}
		job, err := w.jobs.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			log.Error().Err(err).Msg("Dequeue failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.Process(ctx, job)
	}
}

// Process runs one job to completion and records its status. The payload
// is dropped afterwards whatever the outcome.
func (w *Worker) Process(ctx context.Context, job *Job) *Status {
	start := time.Now()
	logger := log.With().Str("job_id", job.ID).Str("user_id", job.UserID).Str("session_id", job.Project.ID).Logger()
	defer w.jobs.Finish(ctx, job.ID)

	st := newStatus(job)
	st.State = StateRunning
	if err := w.jobs.SetStatus(ctx, st); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark job running")
	}

	p := render.FromPortable(job.Project, job.Credential)
	outcomes := w.renderer.RenderBulk(ctx, p, job.Targets(), job.Override.Image())
	st.Apply(outcomes)

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed == len(outcomes) && len(outcomes) > 0 {
		st.State = StateFailed
		st.Error = "every card failed"
	}
	if err := w.jobs.SetStatus(ctx, st); err != nil {
		logger.Error().Err(err).Msg("Failed to store job status")
	}

	elapsed := time.Since(start)
	logger.Info().
		Int("cards", len(outcomes)).
		Int("failed", failed).
		Str("state", st.State).
		Dur("elapsed", elapsed).
		Msg("Render job finished")

	metrics.New(metrics.Namespace).
		Dimension("Operation", "render_job").
		Metric("RenderJobMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("RenderJobCards", float64(len(outcomes)), metrics.UnitCount).
		Metric("RenderJobFailures", float64(failed), metrics.UnitCount).
		Property("jobId", job.ID).
		Flush()
	return st
}
