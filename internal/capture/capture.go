// Package capture turns source mutations into refresh work. Upserts flow
// through the dedup queue; deletes bypass it and hit the vector store
// directly so a removed item can never resurface while a batch is pending.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tripmesh/contextengine/internal/embedding"
	"github.com/tripmesh/contextengine/internal/queue"
	"github.com/tripmesh/contextengine/internal/source"
	"github.com/tripmesh/contextengine/internal/vector"
	"github.com/tripmesh/contextengine/pkg/models"
)

// Capturer routes refresh intents to the queue or the store.
type Capturer struct {
	queue    *queue.Queue
	store    vector.Store
	reader   source.Reader
	embedder *embedding.Service
	log      zerolog.Logger
}

// New creates a capturer.
func New(q *queue.Queue, store vector.Store, reader source.Reader, embedder *embedding.Service) *Capturer {
	return &Capturer{
		queue:    q,
		store:    store,
		reader:   reader,
		embedder: embedder,
		log:      log.With().Str("component", "capture").Logger(),
	}
}

// NewIntent builds a refresh intent with a fresh id.
func NewIntent(ref models.SourceRef, op models.IntentOp) models.RefreshIntent {
	return models.RefreshIntent{ID: uuid.NewString(), Ref: ref, Op: op}
}

// Submit processes one refresh intent.
//
// Deletes cancel any queued work for the identity and remove the record
// immediately. Upserts read the live item, hash its projection and enqueue;
// an item that vanished (or projects to nothing) degrades into a delete.
func (c *Capturer) Submit(ctx context.Context, intent models.RefreshIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}

	if intent.Op == models.OpDelete {
		return c.deleteNow(ctx, intent.Ref)
	}

	item, err := c.reader.Get(ctx, intent.Ref)
	if errors.Is(err, source.ErrNotFound) {
		return c.deleteNow(ctx, intent.Ref)
	}
	if err != nil {
		return fmt.Errorf("read source for %s: %w", intent.Ref, err)
	}

	projection := source.Project(item)
	if projection.Text == "" {
		// Nothing embeddable; a stored record for it would only add noise.
		return c.deleteNow(ctx, intent.Ref)
	}

	c.queue.Enqueue(intent.Ref, c.embedder.ContentHash(projection.Text))
	c.log.Debug().
		Str("intent_id", intent.ID).
		Str("ref", intent.Ref.String()).
		Msg("Enqueued refresh")
	return nil
}

func (c *Capturer) deleteNow(ctx context.Context, ref models.SourceRef) error {
	c.queue.Remove(ref)
	if err := c.store.DeleteBySource(ctx, ref); err != nil {
		return fmt.Errorf("delete record for %s: %w", ref, err)
	}
	c.log.Debug().Str("ref", ref.String()).Msg("Deleted record")
	return nil
}
