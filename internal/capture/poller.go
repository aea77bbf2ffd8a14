package capture

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tripmesh/contextengine/internal/source"
	"github.com/tripmesh/contextengine/pkg/models"
)

// Poller adapts datastores without change notification: it polls
// ChangedSince on a fixed interval and submits one intent per change.
// Delivery is at-least-once; the capture path is idempotent.
type Poller struct {
	reader   source.Reader
	capturer *Capturer
	interval time.Duration

	cursorMs int64

	stopCh chan struct{}
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewPoller creates a poller starting from the given cursor (0 replays
// everything, which the queue dedups and the hash check cheapens).
func NewPoller(reader source.Reader, capturer *Capturer, interval time.Duration, cursorMs int64) *Poller {
	return &Poller{
		reader:   reader,
		capturer: capturer,
		interval: interval,
		cursorMs: cursorMs,
		stopCh:   make(chan struct{}),
		log:      log.With().Str("component", "poller").Logger(),
	}
}

// Start runs the poll loop until Stop or ctx cancellation.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.Poll(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and waits for the in-progress tick.
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Poll runs one poll cycle. Exposed so tests and the initial startup
// replay can drive it directly.
func (p *Poller) Poll(ctx context.Context) {
	changes, newCursor, err := p.reader.ChangedSince(ctx, p.cursorMs)
	if err != nil {
		p.log.Error().Err(err).Msg("Change poll failed")
		return
	}

	for _, change := range changes {
		op := models.OpUpsert
		if change.Deleted {
			op = models.OpDelete
		}
		if err := p.capturer.Submit(ctx, NewIntent(change.Ref, op)); err != nil {
			// Leave the cursor behind this change so the next poll retries it.
			p.log.Error().Err(err).Str("ref", change.Ref.String()).Msg("Intent submit failed")
			return
		}
	}
	p.cursorMs = newCursor

	if len(changes) > 0 {
		p.log.Debug().Int("changes", len(changes)).Int64("cursor", newCursor).Msg("Captured changes")
	}
}
