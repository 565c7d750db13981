// Package queue hands bulk renders to a separate worker process through
// Redis. A job payload and its status live under their own keys; the job
// id travels through a list consumed with BRPOP.
package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/config"
	"github.com/fpang/ecom-image-studio/internal/jobs"
	"github.com/fpang/ecom-image-studio/internal/render"
)

const (
	listKey   = "studio:jobs:render"
	jobTTL    = 24 * time.Hour
	keyPrefix = "studio:job:"
)

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("render job not found")

// Job states.
const (
	StateQueued  = "queued"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Job is a queued bulk render.
type Job struct {
	ID         string                `json:"id"`
	UserID     string                `json:"userId"`
	IDs        []string              `json:"ids,omitempty"`
	Project    render.Portable       `json:"project"`
	Credential string                `json:"credential,omitempty"`
	Override   *render.PortableImage `json:"override,omitempty"`
	EnqueuedAt int64                 `json:"enqueuedAt"`
}

// CardResult is the outcome of one card of a job. Image carries the
// rendered bytes back to the API process that owns the workspace.
type CardResult struct {
	Status    render.Status         `json:"status"`
	Error     string                `json:"error,omitempty"`
	ErrorCode string                `json:"errorCode,omitempty"`
	Image     *render.PortableImage `json:"image,omitempty"`
}

// CardState converts the result for a workspace board.
func (cr CardResult) CardState() render.CardState {
	return render.CardState{
		Status:    cr.Status,
		Error:     cr.Error,
		ErrorCode: cr.ErrorCode,
		Image:     cr.Image.Image(),
	}
}

// Settled reports whether the job has stopped running.
func (st *Status) Settled() bool {
	return st.State == StateDone || st.State == StateFailed
}

// WithoutImages returns a copy of st whose card results drop their image
// bytes, for clients that read images from the workspace instead.
func (st *Status) WithoutImages() *Status {
	out := *st
	out.Cards = make(map[string]CardResult, len(st.Cards))
	for id, cr := range st.Cards {
		cr.Image = nil
		out.Cards[id] = cr
	}
	return &out
}

// Status is the progress of a job, readable by the API.
type Status struct {
	JobID     string                `json:"jobId"`
	UserID    string                `json:"userId"`
	SessionID string                `json:"sessionId"`
	State     string                `json:"state"`
	Cards     map[string]CardResult `json:"cards,omitempty"`
	Error     string                `json:"error,omitempty"`
	UpdatedAt int64                 `json:"updatedAt"`
}

// Connect opens a Redis client for c and verifies it with PING.
func Connect(ctx context.Context, c *config.Config) (*redis.Client, error) {
	var tlsConfig *tls.Config
	if c.RedisUseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         c.RedisAddr(),
		Username:     c.RedisUsername,
		Password:     c.RedisPassword,
		TLSConfig:    tlsConfig,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", c.RedisAddr(), err)
	}
	log.Info().Str("addr", c.RedisAddr()).Msg("Redis connected")
	return rdb, nil
}

// Queue enqueues and dequeues render jobs.
type Queue struct {
	rdb *redis.Client
}

// New wraps a connected client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func payloadKey(id string) string { return keyPrefix + id }
func statusKey(id string) string  { return keyPrefix + id + ":status" }

// Enqueue stores the job, marks it queued and pushes its id. The job id is
// assigned when empty.
func (q *Queue) Enqueue(ctx context.Context, job *Job) (*Status, error) {
	if job.ID == "" {
		job.ID = jobs.GenerateID(jobs.RenderPrefix)
	}
	job.EnqueuedAt = time.Now().UnixMilli()

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	st := newStatus(job)
	statusJSON, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode status %s: %w", job.ID, err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, payloadKey(job.ID), payload, jobTTL)
		pipe.Set(ctx, statusKey(job.ID), statusJSON, jobTTL)
		pipe.LPush(ctx, listKey, job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	log.Info().Str("job_id", job.ID).Str("session_id", job.Project.ID).Int("cards", len(st.Cards)).Msg("Render job queued")
	return st, nil
}

// Dequeue blocks up to timeout for the next job. It returns nil, nil when
// the wait times out, and skips ids whose payload has expired.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.rdb.BRPop(ctx, timeout, listKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BRPOP %s: %w", listKey, err)
	}
	// result[0] is the list name, result[1] the job id.
	id := result[1]

	raw, err := q.rdb.Get(ctx, payloadKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		log.Warn().Str("job_id", id).Msg("Job payload expired before processing")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return decodeJob(raw)
}

// SetStatus overwrites the job status.
func (q *Queue) SetStatus(ctx context.Context, st *Status) error {
	st.UpdatedAt = time.Now().UnixMilli()
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode status %s: %w", st.JobID, err)
	}
	if err := q.rdb.Set(ctx, statusKey(st.JobID), raw, jobTTL).Err(); err != nil {
		return fmt.Errorf("store status %s: %w", st.JobID, err)
	}
	return nil
}

// GetStatus reads a job status. Jobs of other users read as not found.
func (q *Queue) GetStatus(ctx context.Context, jobID, userID string) (*Status, error) {
	raw, err := q.rdb.Get(ctx, statusKey(jobs.Normalize(jobID, jobs.RenderPrefix))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load status %s: %w", jobID, err)
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", jobID, err)
	}
	if st.UserID != userID {
		return nil, ErrJobNotFound
	}
	return &st, nil
}

// Finish drops the payload, which holds the credential and images, once
// the job has run.
func (q *Queue) Finish(ctx context.Context, jobID string) {
	if err := q.rdb.Del(ctx, payloadKey(jobID)).Err(); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to delete job payload")
	}
}

func decodeJob(raw []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("decode job: missing id")
	}
	return &job, nil
}

// Targets returns the card ids a job renders: its explicit ids, or every
// prompt of the project.
func (j *Job) Targets() []string {
	if len(j.IDs) > 0 {
		return j.IDs
	}
	ids := make([]string, len(j.Project.Prompts))
	for i, fp := range j.Project.Prompts {
		ids[i] = fp.ID
	}
	return ids
}

func newStatus(job *Job) *Status {
	st := &Status{
		JobID:     job.ID,
		UserID:    job.UserID,
		SessionID: job.Project.ID,
		State:     StateQueued,
		Cards:     make(map[string]CardResult),
		UpdatedAt: job.EnqueuedAt,
	}
	for _, id := range job.Targets() {
		st.Cards[id] = CardResult{Status: render.StatusIdle}
	}
	return st
}

// Apply records bulk outcomes onto the status and marks the job done.
func (st *Status) Apply(outcomes []render.Outcome) {
	if st.Cards == nil {
		st.Cards = make(map[string]CardResult)
	}
	for _, o := range outcomes {
		if o.Err != nil {
			st.Cards[o.ID] = CardResult{Status: render.StatusError, Error: o.Err.Error(), ErrorCode: render.ErrorCode(o.Err)}
			continue
		}
		st.Cards[o.ID] = CardResult{Status: render.StatusDone, Image: render.NewPortableImage(o.Image)}
	}
	st.State = StateDone
}
