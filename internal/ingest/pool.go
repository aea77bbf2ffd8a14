// Package ingest runs the batch worker pool that turns queued refresh jobs
// into embedded records. Workers re-read the live source before embedding, so
// a job always reflects the newest edit no matter how stale its queue entry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tripmesh/contextengine/internal/embedding"
	"github.com/tripmesh/contextengine/internal/metrics"
	"github.com/tripmesh/contextengine/internal/queue"
	"github.com/tripmesh/contextengine/internal/source"
	"github.com/tripmesh/contextengine/internal/vector"
)

// Config tunes the pool.
type Config struct {
	Workers       int           // concurrent workers (default 4)
	BatchSize     int           // max jobs embedded per provider call (default 100)
	DrainInterval time.Duration // idle poll interval (default 250ms)
}

// Pool drains the queue and embeds batches.
type Pool struct {
	queue    *queue.Queue
	store    vector.Store
	reader   source.Reader
	embedder *embedding.Service
	metrics  *metrics.Metrics

	cfg    Config
	stopCh chan struct{}
	log    zerolog.Logger
}

// New creates a worker pool. Zero config fields get defaults.
func New(q *queue.Queue, store vector.Store, reader source.Reader, embedder *embedding.Service, m *metrics.Metrics, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 250 * time.Millisecond
	}
	return &Pool{
		queue:    q,
		store:    store,
		reader:   reader,
		embedder: embedder,
		metrics:  m,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

// Run starts the workers and blocks until Stop or ctx cancellation.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.log.Debug().Int("worker", worker).Msg("Worker started")
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-p.stopCh:
					return nil
				default:
				}
				if !p.DrainOnce(ctx) {
					select {
					case <-ctx.Done():
						return nil
					case <-p.stopCh:
						return nil
					case <-time.After(p.cfg.DrainInterval):
					}
				}
			}
		})
	}
	return g.Wait()
}

// Stop signals all workers to exit after their current batch.
func (p *Pool) Stop() { close(p.stopCh) }

// DrainOnce drains and processes one batch. It reports whether any work was
// found, so idle workers can back off.
func (p *Pool) DrainOnce(ctx context.Context) bool {
	batch := p.queue.DrainBatch(p.cfg.BatchSize)
	if len(batch) == 0 {
		return false
	}
	p.ProcessBatch(ctx, batch)
	return true
}

// pendingJob is a job that survived the pre-embed checks.
type pendingJob struct {
	job       queue.Job
	text      string
	hash      string
	metadata  map[string]string
	updatedAt time.Time
}

// ProcessBatch handles one drained batch: resolve each job against the live
// source, skip already-current records, then embed the remainder in one
// provider call.
func (p *Pool) ProcessBatch(ctx context.Context, batch []queue.Job) {
	pending := make([]pendingJob, 0, len(batch))

	for _, job := range batch {
		item, err := p.reader.Get(ctx, job.Ref)
		if errors.Is(err, source.ErrNotFound) {
			p.deleteAndComplete(ctx, job)
			continue
		}
		if err != nil {
			p.queue.Fail(job.Ref, fmt.Errorf("read source: %w", err))
			p.metrics.RecordJobs(ctx, metrics.ResultFailed, 1)
			continue
		}

		projection := source.Project(item)
		if projection.Text == "" {
			p.deleteAndComplete(ctx, job)
			continue
		}

		// The versioned hash makes a model upgrade look like a content
		// change, so stale-model records re-embed here too.
		hash := p.embedder.ContentHash(projection.Text)
		stored, ok, err := p.store.HashBySource(ctx, job.Ref)
		if err != nil {
			p.queue.Fail(job.Ref, fmt.Errorf("hash lookup: %w", err))
			p.metrics.RecordJobs(ctx, metrics.ResultFailed, 1)
			continue
		}
		if ok && stored.ContentHash == hash {
			p.queue.Complete(job.Ref)
			p.metrics.RecordJobs(ctx, metrics.ResultSkipped, 1)
			continue
		}

		pending = append(pending, pendingJob{
			job:       job,
			text:      projection.Text,
			hash:      hash,
			metadata:  projection.Metadata,
			updatedAt: item.UpdatedAt,
		})
	}

	if len(pending) > 0 {
		p.embedAndStore(ctx, pending)
	}
	p.metrics.RecordBatch(ctx, metrics.ResultOK)
}

func (p *Pool) deleteAndComplete(ctx context.Context, job queue.Job) {
	if err := p.store.DeleteBySource(ctx, job.Ref); err != nil {
		p.queue.Fail(job.Ref, fmt.Errorf("delete record: %w", err))
		p.metrics.RecordJobs(ctx, metrics.ResultFailed, 1)
		return
	}
	p.queue.Complete(job.Ref)
	p.metrics.RecordJobs(ctx, metrics.ResultDeleted, 1)
}

// embedAndStore embeds a group of jobs in one provider call and upserts the
// results. Retryable failures re-queue the whole group with backoff; a
// non-retryable failure on a group of more than one splits it in half to
// isolate the offending item before single jobs burn their retry ceiling.
func (p *Pool) embedAndStore(ctx context.Context, pending []pendingJob) {
	texts := make([]string, len(pending))
	for i, pj := range pending {
		texts[i] = pj.text
	}

	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if embedding.IsRetryable(err) {
			p.metrics.RecordProviderCall(ctx, metrics.ResultRetried)
			p.failAll(ctx, pending, err)
			return
		}
		p.metrics.RecordProviderCall(ctx, metrics.ResultFailed)
		if len(pending) > 1 {
			mid := len(pending) / 2
			p.log.Warn().Err(err).Int("batch", len(pending)).Msg("Batch rejected, splitting to isolate bad item")
			p.embedAndStore(ctx, pending[:mid])
			p.embedAndStore(ctx, pending[mid:])
			return
		}
		p.failAll(ctx, pending, err)
		return
	}
	p.metrics.RecordProviderCall(ctx, metrics.ResultOK)

	records := make([]vector.Record, len(pending))
	for i, pj := range pending {
		records[i] = vector.Record{
			Ref:          pj.job.Ref,
			ContentHash:  pj.hash,
			Vector:       vecs[i],
			Text:         pj.text,
			Metadata:     pj.metadata,
			ModelVersion: p.embedder.Version(),
			UpdatedAt:    pj.updatedAt,
		}
	}
	if err := p.store.Upsert(ctx, records); err != nil {
		p.failAll(ctx, pending, fmt.Errorf("upsert records: %w", err))
		return
	}

	for _, pj := range pending {
		p.queue.Complete(pj.job.Ref)
	}
	p.metrics.RecordJobs(ctx, metrics.ResultOK, len(pending))
	p.log.Debug().Int("count", len(pending)).Msg("Embedded and stored batch")
}

func (p *Pool) failAll(ctx context.Context, pending []pendingJob, cause error) {
	for _, pj := range pending {
		p.queue.Fail(pj.job.Ref, cause)
	}
	p.metrics.RecordJobs(ctx, metrics.ResultFailed, len(pending))
}
