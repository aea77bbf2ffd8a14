package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripmesh/contextengine/pkg/models"
)

func ref(id string) models.SourceRef {
	return models.SourceRef{TenantID: "trip-1", Kind: models.KindChatMessage, SourceID: id}
}

// fixedClock lets tests advance queue time deterministically.
type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testQueue(cfg Config) (*Queue, *fixedClock) {
	q := New(cfg)
	clock := &fixedClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	q.now = clock.now
	return q, clock
}

func TestQueue_DedupBurstCollapsesToLatestHash(t *testing.T) {
	q, _ := testQueue(Config{})

	q.Enqueue(ref("a"), "h1")
	q.Enqueue(ref("a"), "h2")
	q.Enqueue(ref("a"), "h3")

	assert.Equal(t, 1, q.Depth())
	batch := q.DrainBatch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, "h3", batch[0].LatestContentHash)
}

func TestQueue_DedupPreservesQueuePosition(t *testing.T) {
	q, _ := testQueue(Config{})

	q.Enqueue(ref("a"), "h1")
	q.Enqueue(ref("b"), "h1")
	q.Enqueue(ref("a"), "h2") // must not move "a" behind "b"

	batch := q.DrainBatch(1)
	require.Len(t, batch, 1)
	assert.Equal(t, "a", batch[0].Ref.SourceID)
}

func TestQueue_SingleOwnership(t *testing.T) {
	q, _ := testQueue(Config{})

	q.Enqueue(ref("a"), "h1")
	first := q.DrainBatch(10)
	require.Len(t, first, 1)

	// The identity is in-flight; a second drain must not hand it out again.
	assert.Empty(t, q.DrainBatch(10))
}

func TestQueue_EditWhileInFlightRequeues(t *testing.T) {
	q, _ := testQueue(Config{})

	q.Enqueue(ref("a"), "h1")
	require.Len(t, q.DrainBatch(10), 1)

	// Concurrent edit while the worker holds the job.
	q.Enqueue(ref("a"), "h2")
	assert.Equal(t, 0, q.Depth(), "edit during flight must not create a second concurrent job")

	q.Complete(ref("a"))
	batch := q.DrainBatch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, "h2", batch[0].LatestContentHash)
	assert.Equal(t, 0, batch[0].Attempts, "requeue after completion starts a fresh attempt count")
}

func TestQueue_FailBacksOffThenDrops(t *testing.T) {
	q, clock := testQueue(Config{MaxAttempts: 2, BaseBackoff: time.Second, MaxBackoff: time.Minute})
	cause := errors.New("provider unavailable")

	q.Enqueue(ref("a"), "h1")
	require.Len(t, q.DrainBatch(10), 1)
	q.Fail(ref("a"), cause)

	// Backoff not yet elapsed.
	assert.Empty(t, q.DrainBatch(10))

	clock.advance(2 * time.Second)
	batch := q.DrainBatch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].Attempts)

	// Second failure hits the ceiling: job dropped and counted.
	q.Fail(ref("a"), cause)
	clock.advance(time.Minute)
	assert.Empty(t, q.DrainBatch(10))
	assert.Equal(t, int64(1), q.Stats().PermanentFailed)
}

func TestQueue_RemoveDropsPendingWork(t *testing.T) {
	q, _ := testQueue(Config{})

	q.Enqueue(ref("a"), "h1")
	q.Remove(ref("a"))
	assert.Empty(t, q.DrainBatch(10))

	// Remove also cancels a remembered requeue.
	q.Enqueue(ref("b"), "h1")
	require.Len(t, q.DrainBatch(10), 1)
	q.Enqueue(ref("b"), "h2")
	q.Remove(ref("b"))
	q.Complete(ref("b"))
	assert.Empty(t, q.DrainBatch(10))
}

func TestQueue_DrainRespectsMax(t *testing.T) {
	q, _ := testQueue(Config{})
	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(ref(id), "h")
	}

	batch := q.DrainBatch(2)
	assert.Len(t, batch, 2)
	assert.Equal(t, 1, q.Depth())
}

func TestQueue_Stats(t *testing.T) {
	q, _ := testQueue(Config{})
	q.Enqueue(ref("a"), "h1")
	q.Enqueue(ref("b"), "h1")
	require.Len(t, q.DrainBatch(1), 1)

	stats := q.Stats()
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.InFlight)
}
