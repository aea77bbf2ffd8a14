// Package search resolves assistant queries into context bundles: embed the
// query, search the tenant's records, assemble provenance-carrying items.
// Retrieval is strictly best-effort; the assistant path never sees an error
// for a degraded answer, only a smaller (possibly empty) bundle.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/sync/singleflight"

	"github.com/tripmesh/contextengine/internal/embedding"
	"github.com/tripmesh/contextengine/internal/vector"
	"github.com/tripmesh/contextengine/pkg/models"
)

// Request is one context resolution request.
type Request struct {
	TenantID      string              `json:"tenant_id"`
	Query         string              `json:"query"`
	TopK          int                 `json:"top_k,omitempty"`
	Kinds         []models.SourceKind `json:"kinds,omitempty"`
	MinSimilarity float64             `json:"min_similarity,omitempty"`
}

// Config tunes the resolver.
type Config struct {
	TopK            int           // default result cap (default 12)
	MinSimilarity   float64       // default similarity floor (default 0.6)
	QueryTimeout    time.Duration // hard deadline on query embedding (default 5s)
	MaxBundleTokens int           // token budget for the bundle, 0 disables trimming
}

// Resolver assembles context bundles.
type Resolver struct {
	store    vector.Store
	embedder *embedding.Service
	cfg      Config

	codec  tokenizer.Codec
	flight singleflight.Group
	log    zerolog.Logger
}

// New creates a resolver. Zero config fields get defaults.
func New(store vector.Store, embedder *embedding.Service, cfg Config) (*Resolver, error) {
	if cfg.TopK <= 0 {
		cfg.TopK = 12
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.6
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}

	var codec tokenizer.Codec
	if cfg.MaxBundleTokens > 0 {
		var err error
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("load cl100k tokenizer: %w", err)
		}
	}

	return &Resolver{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		codec:    codec,
		log:      log.With().Str("component", "resolver").Logger(),
	}, nil
}

// Resolve answers one context request. An empty bundle is a normal outcome:
// timeouts, missing tenants and no-match queries all land there. The only
// errors returned are caller mistakes (empty tenant or query).
func (r *Resolver) Resolve(ctx context.Context, req Request) (*models.ContextBundle, error) {
	if req.TenantID == "" {
		return nil, vector.ErrTenantRequired
	}
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	minSim := req.MinSimilarity
	if minSim <= 0 {
		minSim = r.cfg.MinSimilarity
	}

	started := time.Now()
	bundle := &models.ContextBundle{
		TenantID:     req.TenantID,
		Query:        req.Query,
		ModelVersion: r.embedder.Version(),
	}

	queryVec, ok := r.embedQuery(ctx, req.Query)
	if !ok {
		bundle.TookMs = time.Since(started).Milliseconds()
		return bundle, nil
	}

	results, err := r.store.NearestNeighbors(ctx, req.TenantID, queryVec, vector.SearchOptions{
		K:             topK,
		MinSimilarity: minSim,
		Kinds:         req.Kinds,
	})
	if err != nil {
		// Degrade, not fail: the assistant gets an empty bundle.
		r.log.Error().Err(err).Str("tenant", req.TenantID).Msg("Vector search failed")
		bundle.TookMs = time.Since(started).Milliseconds()
		return bundle, nil
	}

	items := make([]models.ContextItem, 0, len(results))
	for _, res := range results {
		items = append(items, models.ContextItem{
			Ref:        res.Ref,
			Similarity: res.Similarity,
			Text:       res.Text,
			Metadata:   res.Metadata,
			UpdatedAt:  res.UpdatedAt,
		})
	}
	bundle.Items = r.trimToBudget(items)
	bundle.TookMs = time.Since(started).Milliseconds()

	r.log.Debug().
		Str("tenant", req.TenantID).
		Int("items", len(bundle.Items)).
		Int64("took_ms", bundle.TookMs).
		Msg("Resolved context")
	return bundle, nil
}

// embedQuery embeds the query under a hard deadline, coalescing identical
// in-flight queries. A timeout or provider failure yields (nil, false);
// there is no retry on the interactive path.
func (r *Resolver) embedQuery(ctx context.Context, query string) ([]float32, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	v, err, _ := r.flight.Do(query, func() (any, error) {
		return r.embedder.Embed(ctx, query)
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("Query embedding unavailable, returning empty bundle")
		return nil, false
	}
	return v.([]float32), true
}

// trimToBudget drops trailing items once the cumulative token count exceeds
// the bundle budget. Items arrive ranked, so the least relevant go first.
func (r *Resolver) trimToBudget(items []models.ContextItem) []models.ContextItem {
	if r.codec == nil || r.cfg.MaxBundleTokens <= 0 {
		return items
	}

	total := 0
	for i, item := range items {
		ids, _, err := r.codec.Encode(item.Text)
		if err != nil {
			continue
		}
		total += len(ids)
		if total > r.cfg.MaxBundleTokens && i > 0 {
			return items[:i]
		}
	}
	return items
}
