package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripmesh/contextengine/internal/embedding"
	"github.com/tripmesh/contextengine/internal/embedding/embeddingtest"
	"github.com/tripmesh/contextengine/internal/metrics"
	"github.com/tripmesh/contextengine/internal/queue"
	"github.com/tripmesh/contextengine/internal/source/sqlite"
	"github.com/tripmesh/contextengine/internal/vector/chromem"
	"github.com/tripmesh/contextengine/pkg/models"
)

type fixture struct {
	queue  *queue.Queue
	store  *chromem.Store
	reader *sqlite.Store
	model  *embeddingtest.Model
	pool   *Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reader, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	store, err := chromem.NewStore(chromem.Config{})
	require.NoError(t, err)

	model := embeddingtest.New(8)
	embedder, err := embedding.NewService(model)
	require.NoError(t, err)

	q := queue.New(queue.Config{MaxAttempts: 3})
	return &fixture{
		queue:  q,
		store:  store,
		reader: reader,
		model:  model,
		pool:   New(q, store, reader, embedder, metrics.Nop(), Config{BatchSize: 10}),
	}
}

func chatRef(id string) models.SourceRef {
	return models.SourceRef{TenantID: "trip-1", Kind: models.KindChatMessage, SourceID: id}
}

func (f *fixture) putChat(t *testing.T, id, text string) {
	t.Helper()
	require.NoError(t, f.reader.Put(context.Background(), &models.SourceItem{
		Ref:       chatRef(id),
		Fields:    map[string]string{"text": text},
		UpdatedAt: time.Now(),
	}))
}

// enqueueLive enqueues a ref with the hash of its current projection, the way
// the capturer does.
func (f *fixture) enqueueLive(t *testing.T, id string) {
	t.Helper()
	item, err := f.reader.Get(context.Background(), chatRef(id))
	require.NoError(t, err)
	f.queue.Enqueue(chatRef(id), embedding.VersionedHash(embeddingtest.Version, item.Field("text")))
}

func TestPool_EmbedsAndStoresBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putChat(t, "m1", "jet ski rental at the marina")
	f.putChat(t, "m2", "dinner at the tapas place")
	f.enqueueLive(t, "m1")
	f.enqueueLive(t, "m2")

	require.True(t, f.pool.DrainOnce(ctx))

	count, err := f.store.CountForTenant(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(1), f.model.BatchCalls(), "one batch means one provider call")
	assert.Equal(t, 0, f.queue.Stats().InFlight)
}

func TestPool_IdempotentReembedSkipsProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putChat(t, "m1", "jet ski rental at the marina")
	f.enqueueLive(t, "m1")
	require.True(t, f.pool.DrainOnce(ctx))
	callsAfterFirst := f.model.Calls()

	// Same content captured again: hash matches the stored record, so the
	// provider must not be called a second time.
	f.enqueueLive(t, "m1")
	require.True(t, f.pool.DrainOnce(ctx))
	assert.Equal(t, callsAfterFirst, f.model.Calls())

	count, err := f.store.CountForTenant(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPool_VanishedSourceDeletesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putChat(t, "m1", "jet ski rental at the marina")
	f.enqueueLive(t, "m1")
	require.True(t, f.pool.DrainOnce(ctx))

	// Item deleted between capture and processing.
	require.NoError(t, f.reader.MarkDeleted(ctx, chatRef("m1"), time.Now()))
	f.queue.Enqueue(chatRef("m1"), "whatever")
	require.True(t, f.pool.DrainOnce(ctx))

	count, err := f.store.CountForTenant(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, 0, f.queue.Depth())
}

func TestPool_EditDuringFlightReembeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putChat(t, "m1", "old text about the ferry")
	f.enqueueLive(t, "m1")
	batch := f.queue.DrainBatch(10)
	require.Len(t, batch, 1)

	// Edit lands while the job is in flight.
	f.putChat(t, "m1", "new text about the catamaran")
	f.enqueueLive(t, "m1")

	f.pool.ProcessBatch(ctx, batch)

	// The requeued edit is processed on the next drain.
	require.True(t, f.pool.DrainOnce(ctx))
	info, ok, err := f.store.HashBySource(ctx, chatRef("m1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, embedding.VersionedHash(embeddingtest.Version, "new text about the catamaran"), info.ContentHash)
}

func TestPool_RetryableFailureRequeuesWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putChat(t, "m1", "surf lesson booking")
	f.enqueueLive(t, "m1")

	f.model.FailWith = func(string) error {
		return &embedding.ProviderError{Status: 429, Message: "rate limited", Retryable: true}
	}
	require.True(t, f.pool.DrainOnce(ctx))

	stats := f.queue.Stats()
	assert.Equal(t, 1, stats.Pending, "retryable failure must re-queue the job")
	assert.Equal(t, int64(0), stats.PermanentFailed)

	count, err := f.store.CountForTenant(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestPool_NonRetryableFailureSplitsBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putChat(t, "good-1", "kayak trip on sunday")
	f.putChat(t, "bad", "THIS ONE IS MALFORMED")
	f.putChat(t, "good-2", "brunch before the flight")
	for _, id := range []string{"good-1", "bad", "good-2"} {
		f.enqueueLive(t, id)
	}

	f.model.FailWith = func(text string) error {
		if text == "THIS ONE IS MALFORMED" {
			return &embedding.ProviderError{Status: 400, Message: "invalid input", Retryable: false}
		}
		return nil
	}
	require.True(t, f.pool.DrainOnce(ctx))

	// The two good items must land despite sharing a batch with the bad one.
	count, err := f.store.CountForTenant(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, ok, err := f.store.HashBySource(ctx, chatRef("bad"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPool_RunDrainsUntilStopped(t *testing.T) {
	f := newFixture(t)

	f.putChat(t, "m1", "pack the snorkeling gear")
	f.enqueueLive(t, "m1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		count, err := f.store.CountForTenant(context.Background(), "trip-1")
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.pool.Stop()
	require.NoError(t, <-done)
}
