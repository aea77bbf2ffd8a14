// Package chromem provides an embedded chromem-go vector store backend.
//
// Each tenant gets its own collection, which makes cross-tenant leakage
// structurally impossible: a query can only ever touch one collection. The
// backend is pure Go with no external process, so it serves single-node
// deployments and the test suite.
package chromem

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	chromemgo "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/tripmesh/contextengine/internal/vector"
	"github.com/tripmesh/contextengine/pkg/models"
)

// Metadata keys stored with every document.
const (
	metaKind         = "kind"
	metaSourceID     = "source_id"
	metaContentHash  = "content_hash"
	metaModelVersion = "model_version"
	metaUpdatedAtMs  = "updated_at_ms"
	userMetaPrefix   = "meta_"
)

// Config holds configuration for the chromem store.
type Config struct {
	// Path of the persistent database directory; empty means in-memory.
	Path string
	// Compress enables gzip compression of persisted collections.
	Compress bool
}

// Store implements vector.Store on chromem-go.
type Store struct {
	db *chromemgo.DB

	// hashes indexes stored content hashes by tenant and ref so staleness
	// checks never touch the vector index. Rebuilt lazily: after a restart
	// of a persistent store the index starts empty and the next
	// reconciliation sweep repopulates the records it repairs.
	hashes map[string]map[models.SourceRef]vector.HashInfo
	mu     sync.RWMutex
}

var _ vector.Store = (*Store)(nil)

// NewStore creates a chromem-backed vector store.
func NewStore(cfg Config) (*Store, error) {
	var db *chromemgo.DB
	if cfg.Path == "" {
		db = chromemgo.NewDB()
	} else {
		var err error
		db, err = chromemgo.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	return &Store{
		db:     db,
		hashes: make(map[string]map[models.SourceRef]vector.HashInfo),
	}, nil
}

// collectionName maps a tenant to its dedicated collection.
func collectionName(tenantID string) string {
	return "tenant-" + tenantID
}

// docID is the document key within a tenant collection.
func docID(ref models.SourceRef) string {
	return string(ref.Kind) + "/" + ref.SourceID
}

// noEmbed is installed as the collection embedding func. The engine always
// supplies vectors explicitly; reaching this func means a caller forgot one.
func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem store: implicit embedding is disabled, supply vectors explicitly")
}

func (s *Store) collection(tenantID string, create bool) (*chromemgo.Collection, error) {
	name := collectionName(tenantID)
	if create {
		col, err := s.db.GetOrCreateCollection(name, nil, noEmbed)
		if err != nil {
			return nil, fmt.Errorf("get/create collection %s: %w", name, err)
		}
		return col, nil
	}
	return s.db.GetCollection(name, noEmbed), nil
}

// Upsert writes records into their tenants' collections. chromem replaces a
// document wholesale when its id already exists, so vector and hash always
// move together.
func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	for _, rec := range records {
		if err := rec.Ref.Validate(); err != nil {
			return err
		}
		if rec.Ref.TenantID == "" {
			return vector.ErrTenantRequired
		}

		col, err := s.collection(rec.Ref.TenantID, true)
		if err != nil {
			return err
		}

		meta := map[string]string{
			metaKind:         string(rec.Ref.Kind),
			metaSourceID:     rec.Ref.SourceID,
			metaContentHash:  rec.ContentHash,
			metaModelVersion: rec.ModelVersion,
			metaUpdatedAtMs:  strconv.FormatInt(rec.UpdatedAt.UnixMilli(), 10),
		}
		for k, v := range rec.Metadata {
			meta[userMetaPrefix+k] = v
		}

		doc := chromemgo.Document{
			ID:        docID(rec.Ref),
			Content:   rec.Text,
			Metadata:  meta,
			Embedding: rec.Vector,
		}
		if err := col.AddDocuments(ctx, []chromemgo.Document{doc}, 1); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.Ref, err)
		}

		s.mu.Lock()
		tenant := s.hashes[rec.Ref.TenantID]
		if tenant == nil {
			tenant = make(map[models.SourceRef]vector.HashInfo)
			s.hashes[rec.Ref.TenantID] = tenant
		}
		tenant[rec.Ref] = vector.HashInfo{ContentHash: rec.ContentHash, ModelVersion: rec.ModelVersion}
		s.mu.Unlock()
	}

	log.Debug().Int("count", len(records)).Msg("Upserted records into chromem")
	return nil
}

// DeleteBySource removes the record for one source identity.
func (s *Store) DeleteBySource(ctx context.Context, ref models.SourceRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	col, err := s.collection(ref.TenantID, false)
	if err != nil {
		return err
	}
	if col != nil {
		if err := col.Delete(ctx, nil, nil, docID(ref)); err != nil {
			return fmt.Errorf("delete %s: %w", ref, err)
		}
	}

	s.mu.Lock()
	if tenant := s.hashes[ref.TenantID]; tenant != nil {
		delete(tenant, ref)
	}
	s.mu.Unlock()
	return nil
}

// NearestNeighbors performs a cosine similarity search scoped to one tenant.
func (s *Store) NearestNeighbors(ctx context.Context, tenantID string, queryVec []float32, opts vector.SearchOptions) ([]vector.SearchResult, error) {
	if tenantID == "" {
		return nil, vector.ErrTenantRequired
	}
	if opts.K <= 0 {
		opts.K = 10
	}

	col, err := s.collection(tenantID, false)
	if err != nil {
		return nil, err
	}
	if col == nil || col.Count() == 0 {
		return nil, nil
	}

	var results []vector.SearchResult
	if len(opts.Kinds) == 0 {
		results, err = s.queryCollection(ctx, col, queryVec, opts.K, nil)
	} else {
		// chromem where-filters are single-value equality, so a multi-kind
		// search fans out one query per kind and merges.
		for _, kind := range opts.Kinds {
			kindResults, kerr := s.queryCollection(ctx, col, queryVec, opts.K,
				map[string]string{metaKind: string(kind)})
			if kerr != nil {
				return nil, kerr
			}
			results = append(results, kindResults...)
		}
	}
	if err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Ref.TenantID = tenantID
	}
	vector.SortResults(results)
	return vector.FilterByThreshold(results, opts.MinSimilarity, opts.K), nil
}

func (s *Store) queryCollection(ctx context.Context, col *chromemgo.Collection, queryVec []float32, k int, where map[string]string) ([]vector.SearchResult, error) {
	n := k
	if count := col.Count(); n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	hits, err := col.QueryEmbedding(ctx, queryVec, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query chromem: %w", err)
	}

	results := make([]vector.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, resultFromHit(h))
	}
	return results, nil
}

func resultFromHit(h chromemgo.Result) vector.SearchResult {
	updatedMs, _ := strconv.ParseInt(h.Metadata[metaUpdatedAtMs], 10, 64)

	userMeta := make(map[string]string)
	for k, v := range h.Metadata {
		if len(k) > len(userMetaPrefix) && k[:len(userMetaPrefix)] == userMetaPrefix {
			userMeta[k[len(userMetaPrefix):]] = v
		}
	}

	return vector.SearchResult{
		Ref: models.SourceRef{
			Kind:     models.SourceKind(h.Metadata[metaKind]),
			SourceID: h.Metadata[metaSourceID],
		},
		Similarity:  float64(h.Similarity),
		Text:        h.Content,
		Metadata:    userMeta,
		ContentHash: h.Metadata[metaContentHash],
		UpdatedAt:   time.UnixMilli(updatedMs).UTC(),
	}
}

// HashBySource returns the stored hash info for one source identity.
func (s *Store) HashBySource(ctx context.Context, ref models.SourceRef) (vector.HashInfo, bool, error) {
	if ref.TenantID == "" {
		return vector.HashInfo{}, false, vector.ErrTenantRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant := s.hashes[ref.TenantID]
	if tenant == nil {
		return vector.HashInfo{}, false, nil
	}
	info, ok := tenant[ref]
	return info, ok, nil
}

// HashesForTenant returns hash info for every record of a tenant.
func (s *Store) HashesForTenant(ctx context.Context, tenantID string) (map[models.SourceRef]vector.HashInfo, error) {
	if tenantID == "" {
		return nil, vector.ErrTenantRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.SourceRef]vector.HashInfo, len(s.hashes[tenantID]))
	for ref, info := range s.hashes[tenantID] {
		out[ref] = info
	}
	return out, nil
}

// CountForTenant returns the number of records stored for a tenant.
func (s *Store) CountForTenant(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, vector.ErrTenantRequired
	}
	col, err := s.collection(tenantID, false)
	if err != nil || col == nil {
		return 0, err
	}
	return int64(col.Count()), nil
}

// Close is a no-op; chromem persists on write.
func (s *Store) Close() error { return nil }
