package worker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripmesh/contextengine/internal/capture"
	"github.com/tripmesh/contextengine/internal/embedding"
	"github.com/tripmesh/contextengine/internal/embedding/embeddingtest"
	"github.com/tripmesh/contextengine/internal/ingest"
	"github.com/tripmesh/contextengine/internal/metrics"
	"github.com/tripmesh/contextengine/internal/queue"
	"github.com/tripmesh/contextengine/internal/search"
	"github.com/tripmesh/contextengine/internal/source/sqlite"
	"github.com/tripmesh/contextengine/internal/sweep"
	"github.com/tripmesh/contextengine/internal/vector/chromem"
	"github.com/tripmesh/contextengine/pkg/models"
)

type fixture struct {
	svc    *Service
	queue  *queue.Queue
	reader *sqlite.Store
	pool   *ingest.Pool
	store  *chromem.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reader, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	store, err := chromem.NewStore(chromem.Config{})
	require.NoError(t, err)

	embedder, err := embedding.NewService(embeddingtest.New(64))
	require.NoError(t, err)

	q := queue.New(queue.Config{})
	capturer := capture.New(q, store, reader, embedder)
	resolver, err := search.New(store, embedder, search.Config{MinSimilarity: 0.2})
	require.NoError(t, err)
	sweeper := sweep.New(reader, store, capturer, embedder, metrics.Nop(), time.Hour)
	pool := ingest.New(q, store, reader, embedder, metrics.Nop(), ingest.Config{BatchSize: 100})

	svc := NewService(Config{
		Capturer: capturer,
		Resolver: resolver,
		Sweeper:  sweeper,
		Queue:    q,
		Store:    store,
		Version:  "test",
	})
	return &fixture{svc: svc, queue: q, reader: reader, pool: pool, store: store}
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.svc.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.svc.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) putChat(t *testing.T, tenant, id, text string) {
	t.Helper()
	require.NoError(t, f.reader.Put(context.Background(), &models.SourceItem{
		Ref:       models.SourceRef{TenantID: tenant, Kind: models.KindChatMessage, SourceID: id},
		Fields:    map[string]string{"text": text},
		UpdatedAt: time.Now(),
	}))
}

func (f *fixture) drain(ctx context.Context) {
	for f.pool.DrainOnce(ctx) {
	}
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleIntent_AcceptsAndQueues(t *testing.T) {
	f := newFixture(t)
	f.putChat(t, "trip-1", "m1", "jet ski rental at the marina")

	rec := f.post(t, "/api/intents", map[string]string{
		"tenant_id": "trip-1",
		"kind":      "chat-message",
		"source_id": "m1",
		"op":        "upsert",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, f.queue.Depth())
}

func TestHandleIntent_MissingTenantIsRejectedLoudly(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/api/intents", map[string]string{
		"kind":      "chat-message",
		"source_id": "m1",
		"op":        "upsert",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant")
}

func TestHandleIntent_InvalidOp(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/api/intents", map[string]string{
		"tenant_id": "trip-1",
		"kind":      "chat-message",
		"source_id": "m1",
		"op":        "refresh",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleContext_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putChat(t, "trip-1", "m1", "jet ski rental at the marina")
	rec := f.post(t, "/api/intents", map[string]string{
		"tenant_id": "trip-1", "kind": "chat-message", "source_id": "m1", "op": "upsert",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.drain(ctx)

	rec = f.post(t, "/api/context", map[string]any{
		"tenant_id": "trip-1",
		"query":     "jet ski rental",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var bundle models.ContextBundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "m1", bundle.Items[0].Ref.SourceID)
	assert.Equal(t, "trip-1", bundle.TenantID)
}

func TestHandleContext_MissingTenant(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/api/context", map[string]string{"query": "anything"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSweep_ReturnsReport(t *testing.T) {
	f := newFixture(t)
	f.putChat(t, "trip-1", "m1", "jet ski rental at the marina")

	rec := f.post(t, "/api/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report sweep.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Upserts)
}

func TestHandleStats(t *testing.T) {
	f := newFixture(t)
	f.queue.Enqueue(models.SourceRef{TenantID: "trip-1", Kind: models.KindTask, SourceID: "t1"}, "h1")

	rec := f.get(t, "/api/stats?tenant_id=trip-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	queueStats := stats["queue"].(map[string]any)
	assert.EqualValues(t, 1, queueStats["pending"])
	assert.EqualValues(t, 0, stats["tenant_records"])
}
