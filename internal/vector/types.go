// Package vector defines the engine's vector store boundary: the record the
// engine owns, the search contract, and the store interface every backend
// implements. Tenant scoping is enforced inside each backend, not by caller
// discipline.
package vector

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/tripmesh/contextengine/pkg/models"
)

// ErrTenantRequired is returned when a store operation is attempted without a
// tenant id. Tenant isolation is the engine's most important correctness
// property; an unscoped call is a precondition failure, never tolerated.
var ErrTenantRequired = errors.New("vector store: tenant id is required")

// Record is the engine's sole owned entity: one embedded source item. The
// content hash always equals the hash of the text that produced Vector; the
// two are written atomically as a unit.
type Record struct {
	Ref          models.SourceRef
	ContentHash  string
	Vector       []float32
	Text         string
	Metadata     map[string]string
	ModelVersion string
	UpdatedAt    time.Time
}

// HashInfo is the staleness-check view of a stored record.
type HashInfo struct {
	ContentHash  string
	ModelVersion string
}

// SearchOptions controls a nearest-neighbor query.
type SearchOptions struct {
	// K is the maximum number of results.
	K int
	// MinSimilarity excludes candidates below it entirely (not just
	// down-ranks them).
	MinSimilarity float64
	// Kinds restricts the search to the given source kinds; empty means all.
	Kinds []models.SourceKind
}

// SearchResult is one nearest-neighbor hit, with the denormalized payload so
// the context assembler never re-fetches the source item.
type SearchResult struct {
	Ref         models.SourceRef
	Similarity  float64
	Text        string
	Metadata    map[string]string
	ContentHash string
	UpdatedAt   time.Time
}

// Store is the persistence boundary for embedding records.
type Store interface {
	// Upsert writes records keyed by their source refs. Each record is a
	// single atomic write: concurrent readers never observe a vector whose
	// hash disagrees with it.
	Upsert(ctx context.Context, records []Record) error

	// DeleteBySource removes the record for one source identity. Missing
	// records are not an error (deletes are at-least-once).
	DeleteBySource(ctx context.Context, ref models.SourceRef) error

	// NearestNeighbors returns the stored records most similar to queryVec
	// within one tenant, ordered by descending cosine similarity with ties
	// broken by most recent update.
	NearestNeighbors(ctx context.Context, tenantID string, queryVec []float32, opts SearchOptions) ([]SearchResult, error)

	// HashBySource returns the stored hash info for one source identity.
	HashBySource(ctx context.Context, ref models.SourceRef) (HashInfo, bool, error)

	// HashesForTenant returns hash info for every record of a tenant.
	// The reconciliation sweep diffs this against live source items.
	HashesForTenant(ctx context.Context, tenantID string) (map[models.SourceRef]HashInfo, error)

	// CountForTenant returns the number of records stored for a tenant.
	CountForTenant(ctx context.Context, tenantID string) (int64, error)

	// Close releases backend resources.
	Close() error
}

// SortResults orders results by similarity descending, breaking ties by most
// recent UpdatedAt. Backends call this after retrieval so ordering is uniform
// regardless of how the underlying index breaks ties.
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].UpdatedAt.After(results[j].UpdatedAt)
	})
}

// FilterByThreshold drops results below the similarity threshold and caps the
// result count. Exclusion is total: a best-available candidate below the
// threshold is still excluded.
func FilterByThreshold(results []SearchResult, threshold float64, maxResults int) []SearchResult {
	filtered := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		filtered = append(filtered, r)
		if maxResults > 0 && len(filtered) >= maxResults {
			break
		}
	}
	return filtered
}

// KindAllowed reports whether kind passes the (possibly empty) filter.
func KindAllowed(kind models.SourceKind, kinds []models.SourceKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
