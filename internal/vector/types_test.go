package vector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tripmesh/contextengine/pkg/models"
)

func result(sim float64, updated time.Time) SearchResult {
	return SearchResult{Similarity: sim, UpdatedAt: updated}
}

func TestSortResults_TieBrokenByRecency(t *testing.T) {
	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	results := []SearchResult{
		result(0.7, older),
		result(0.9, older),
		result(0.7, newer),
	}
	SortResults(results)

	assert.InDelta(t, 0.9, results[0].Similarity, 1e-9)
	assert.Equal(t, newer, results[1].UpdatedAt)
	assert.Equal(t, older, results[2].UpdatedAt)
}

func TestFilterByThreshold_ExcludesBestCandidateBelowThreshold(t *testing.T) {
	results := []SearchResult{result(0.55, time.Now())}
	filtered := FilterByThreshold(results, 0.6, 10)
	assert.Empty(t, filtered)
}

func TestFilterByThreshold_CapsResults(t *testing.T) {
	now := time.Now()
	results := []SearchResult{
		result(0.9, now), result(0.8, now), result(0.7, now),
	}
	filtered := FilterByThreshold(results, 0.6, 2)
	assert.Len(t, filtered, 2)
	assert.InDelta(t, 0.8, filtered[1].Similarity, 1e-9)
}

func TestKindAllowed(t *testing.T) {
	assert.True(t, KindAllowed(models.KindTask, nil))
	assert.True(t, KindAllowed(models.KindTask, []models.SourceKind{models.KindPoll, models.KindTask}))
	assert.False(t, KindAllowed(models.KindTask, []models.SourceKind{models.KindPoll}))
}
