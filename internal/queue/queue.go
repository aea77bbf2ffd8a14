// Package queue implements the in-memory refresh job queue. One job exists
// per source identity at any time: bursts of edits to the same item collapse
// into the single pending job, whose target hash is simply replaced.
package queue

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tripmesh/contextengine/pkg/models"
)

// Job is one pending re-embed for a source identity. LatestContentHash is the
// hash of the projection current at enqueue time; workers recompute from the
// live source anyway, so a stale hash only costs a skipped provider call.
type Job struct {
	Ref               models.SourceRef
	LatestContentHash string
	Attempts          int
	NotBefore         time.Time
	EnqueuedAt        time.Time
}

// Config tunes retry behavior.
type Config struct {
	MaxAttempts int           // retry ceiling, inclusive (default 3)
	BaseBackoff time.Duration // first retry delay (default 1s)
	MaxBackoff  time.Duration // backoff cap (default 60s)
}

// Stats is a point-in-time snapshot for the operational surface.
type Stats struct {
	Pending         int   `json:"pending"`
	InFlight        int   `json:"in_flight"`
	PermanentFailed int64 `json:"permanent_failed"`
}

// Queue is the dedup queue. A single mutex guards all state; every operation
// is a short map update, so contention is not a concern at this scale.
type Queue struct {
	mu       sync.Mutex
	pending  map[models.SourceRef]*Job
	order    []models.SourceRef // FIFO over identities, not over edits
	inflight map[models.SourceRef]*Job
	// requeued remembers hashes that arrived while the identity was
	// in-flight, so the edit is not lost when the worker completes.
	requeued map[models.SourceRef]string

	permanentFailed int64

	cfg Config
	now func() time.Time
	log zerolog.Logger
}

// New creates a queue. Zero config fields get defaults.
func New(cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Queue{
		pending:  make(map[models.SourceRef]*Job),
		inflight: make(map[models.SourceRef]*Job),
		requeued: make(map[models.SourceRef]string),
		cfg:      cfg,
		now:      time.Now,
		log:      log.With().Str("component", "queue").Logger(),
	}
}

// Enqueue registers a re-embed for the identity. If a job is already pending
// its hash is replaced in place and its queue position preserved. If the
// identity is in-flight the hash is remembered and re-enqueued on completion.
func (q *Queue) Enqueue(ref models.SourceRef, contentHash string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, busy := q.inflight[ref]; busy {
		q.requeued[ref] = contentHash
		return
	}
	if job, ok := q.pending[ref]; ok {
		job.LatestContentHash = contentHash
		return
	}
	q.pending[ref] = &Job{
		Ref:               ref,
		LatestContentHash: contentHash,
		EnqueuedAt:        q.now(),
	}
	q.order = append(q.order, ref)
}

// Remove drops any pending or remembered work for the identity. Used by the
// delete fast path: a deletion supersedes every queued re-embed.
func (q *Queue) Remove(ref models.SourceRef) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, ref)
	delete(q.requeued, ref)
}

// DrainBatch hands out up to max ready jobs and marks them in-flight. A job
// is ready when its backoff deadline has passed. No two callers ever receive
// the same identity.
func (q *Queue) DrainBatch(max int) []Job {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var batch []Job
	remaining := q.order[:0]
	for _, ref := range q.order {
		job, ok := q.pending[ref]
		if !ok {
			continue // removed while queued
		}
		if len(batch) >= max || job.NotBefore.After(now) {
			remaining = append(remaining, ref)
			continue
		}
		delete(q.pending, ref)
		q.inflight[ref] = job
		batch = append(batch, *job)
	}
	q.order = remaining
	return batch
}

// Complete releases an in-flight identity. If an edit arrived while the job
// was in flight, the identity is re-enqueued with the newer hash and a fresh
// attempt counter.
func (q *Queue) Complete(ref models.SourceRef) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, ref)
	if hash, ok := q.requeued[ref]; ok {
		delete(q.requeued, ref)
		q.pending[ref] = &Job{
			Ref:               ref,
			LatestContentHash: hash,
			EnqueuedAt:        q.now(),
		}
		q.order = append(q.order, ref)
	}
}

// Fail re-enqueues an in-flight identity with exponential backoff and jitter.
// Past the retry ceiling the job is dropped and counted as permanently
// failed; the record stays stale until the next sweep retries it.
func (q *Queue) Fail(ref models.SourceRef, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.inflight[ref]
	if !ok {
		return
	}
	delete(q.inflight, ref)

	// An edit during the failed attempt supersedes the old hash.
	if hash, edited := q.requeued[ref]; edited {
		delete(q.requeued, ref)
		job.LatestContentHash = hash
	}

	job.Attempts++
	if job.Attempts >= q.cfg.MaxAttempts {
		q.permanentFailed++
		q.log.Error().
			Err(cause).
			Str("ref", ref.String()).
			Int("attempts", job.Attempts).
			Msg("Job permanently failed, dropping until next sweep")
		return
	}

	job.NotBefore = q.now().Add(q.backoff(job.Attempts))
	q.pending[ref] = job
	q.order = append(q.order, ref)

	q.log.Warn().
		Err(cause).
		Str("ref", ref.String()).
		Int("attempts", job.Attempts).
		Time("not_before", job.NotBefore).
		Msg("Job failed, re-enqueued with backoff")
}

// backoff is base * 2^(attempts-1) with up to 25% positive jitter, capped.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BaseBackoff
	for i := 1; i < attempts && d < q.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > q.cfg.MaxBackoff {
		d = q.cfg.MaxBackoff
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// Depth returns the number of pending jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns a snapshot of queue state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:         len(q.pending),
		InFlight:        len(q.inflight),
		PermanentFailed: q.permanentFailed,
	}
}
