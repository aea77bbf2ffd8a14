// Package sweep reconciles the vector store against the source of truth.
// Capture can miss events (crashes, dropped deliveries, out-of-band writes);
// the sweep is the repair path that bounds how long any drift survives.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tripmesh/contextengine/internal/capture"
	"github.com/tripmesh/contextengine/internal/embedding"
	"github.com/tripmesh/contextengine/internal/metrics"
	"github.com/tripmesh/contextengine/internal/source"
	"github.com/tripmesh/contextengine/internal/vector"
	"github.com/tripmesh/contextengine/pkg/models"
)

// Repair operation labels for metrics.
const (
	opUpsert = "upsert"
	opDelete = "delete"
)

// Report summarizes one sweep cycle.
type Report struct {
	Tenants  int `json:"tenants"`
	Upserts  int `json:"upserts"`
	Deletes  int `json:"deletes"`
	InSync   int `json:"in_sync"`
	Failures int `json:"failures"`
}

// Sweeper runs periodic reconciliation.
type Sweeper struct {
	reader   source.Reader
	store    vector.Store
	capturer *capture.Capturer
	embedder *embedding.Service
	metrics  *metrics.Metrics
	interval time.Duration

	// coverage holds the last observed per-tenant embedded fraction.
	coverage   map[string]float64
	coverageMu sync.RWMutex

	stopCh chan struct{}
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// New creates a sweeper.
func New(reader source.Reader, store vector.Store, capturer *capture.Capturer, embedder *embedding.Service, m *metrics.Metrics, interval time.Duration) *Sweeper {
	return &Sweeper{
		reader:   reader,
		store:    store,
		capturer: capturer,
		embedder: embedder,
		metrics:  m,
		interval: interval,
		coverage: make(map[string]float64),
		stopCh:   make(chan struct{}),
		log:      log.With().Str("component", "sweep").Logger(),
	}
}

// Start runs the sweep loop until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.log.Error().Err(err).Msg("Sweep cycle failed")
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for the in-progress cycle.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Coverage returns the per-tenant embedded fraction observed by the last
// sweep. Wired to the tenant.coverage gauge.
func (s *Sweeper) Coverage(context.Context) map[string]float64 {
	s.coverageMu.RLock()
	defer s.coverageMu.RUnlock()
	out := make(map[string]float64, len(s.coverage))
	for k, v := range s.coverage {
		out[k] = v
	}
	return out
}

// RunOnce sweeps every tenant: diff the projected hash of each live item
// against the stored hash, emit upsert intents for missing or stale records
// and delete intents for orphans. The versioned hash makes a model upgrade
// mismatch everything, so RunOnce also drives model migrations.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	started := time.Now()
	var report Report

	tenants, err := s.reader.ListTenants(ctx)
	if err != nil {
		return report, fmt.Errorf("list tenants: %w", err)
	}
	report.Tenants = len(tenants)

	for _, tenant := range tenants {
		if err := s.sweepTenant(ctx, tenant, &report); err != nil {
			report.Failures++
			s.log.Error().Err(err).Str("tenant", tenant).Msg("Tenant sweep failed")
		}
	}

	s.log.Info().
		Int("tenants", report.Tenants).
		Int("upserts", report.Upserts).
		Int("deletes", report.Deletes).
		Int("in_sync", report.InSync).
		Int("failures", report.Failures).
		Dur("took", time.Since(started)).
		Msg("Sweep complete")
	return report, nil
}

func (s *Sweeper) sweepTenant(ctx context.Context, tenant string, report *Report) error {
	refs, err := s.reader.ListRefs(ctx, tenant)
	if err != nil {
		return fmt.Errorf("list refs: %w", err)
	}
	stored, err := s.store.HashesForTenant(ctx, tenant)
	if err != nil {
		return fmt.Errorf("list stored hashes: %w", err)
	}

	live := make(map[models.SourceRef]bool, len(refs))
	inSync := 0
	for _, ref := range refs {
		live[ref] = true

		item, err := s.reader.Get(ctx, ref)
		if err != nil {
			// Deleted between list and get; the orphan pass below covers it.
			continue
		}
		projection := source.Project(item)
		if projection.Text == "" {
			if _, exists := stored[ref]; exists {
				if err := s.repair(ctx, ref, models.OpDelete, report); err != nil {
					return err
				}
			}
			continue
		}

		want := s.embedder.ContentHash(projection.Text)
		if info, exists := stored[ref]; exists && info.ContentHash == want {
			inSync++
			continue
		}
		if err := s.repair(ctx, ref, models.OpUpsert, report); err != nil {
			return err
		}
	}

	// Stored records whose source item no longer exists.
	for ref := range stored {
		if !live[ref] {
			if err := s.repair(ctx, ref, models.OpDelete, report); err != nil {
				return err
			}
		}
	}

	report.InSync += inSync
	s.setCoverage(tenant, inSync, len(refs))
	return nil
}

func (s *Sweeper) repair(ctx context.Context, ref models.SourceRef, op models.IntentOp, report *Report) error {
	if err := s.capturer.Submit(ctx, capture.NewIntent(ref, op)); err != nil {
		return fmt.Errorf("repair %s %s: %w", op, ref, err)
	}
	if op == models.OpDelete {
		report.Deletes++
		s.metrics.RecordSweepRepair(ctx, opDelete)
	} else {
		report.Upserts++
		s.metrics.RecordSweepRepair(ctx, opUpsert)
	}
	return nil
}

func (s *Sweeper) setCoverage(tenant string, inSync, total int) {
	value := 1.0
	if total > 0 {
		value = float64(inSync) / float64(total)
	}
	s.coverageMu.Lock()
	s.coverage[tenant] = value
	s.coverageMu.Unlock()
}
