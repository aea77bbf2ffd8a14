// Package embeddingtest provides a deterministic in-process embedding model
// for tests: no network, no external provider, stable vectors. Texts sharing
// word stems land close together in cosine space, so semantic-shaped
// assertions (a jet-ski message matching a jet-ski question) hold without a
// real model.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"unicode"
)

// Version is the stub model's version tag.
const Version = "stub-v1"

// Model is a deterministic embedding model for tests.
type Model struct {
	// Dim is the vector dimension.
	Dim int
	// FailWith, when non-nil, is consulted per text; a non-nil error fails
	// the whole call. Used to simulate provider failures.
	FailWith func(text string) error
	// Block, when non-nil, makes calls wait for the channel (or ctx) before
	// answering. Used to simulate slow providers and timeouts.
	Block chan struct{}

	calls   atomic.Int64
	embeds  atomic.Int64
	batches atomic.Int64
}

// New creates a stub model with the given dimension.
func New(dim int) *Model {
	return &Model{Dim: dim}
}

func (m *Model) Name() string    { return "stub" }
func (m *Model) Version() string { return Version }
func (m *Model) Dimensions() int { return m.Dim }
func (m *Model) Close() error    { return nil }

// Calls returns the total number of provider calls (single + batch).
func (m *Model) Calls() int64 { return m.calls.Load() }

// BatchCalls returns the number of EmbedBatch calls.
func (m *Model) BatchCalls() int64 { return m.batches.Load() }

func (m *Model) wait(ctx context.Context) error {
	if m.Block == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.Block:
		return nil
	}
}

func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	m.embeds.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.FailWith != nil {
		if err := m.FailWith(text); err != nil {
			return nil, err
		}
	}
	return m.vector(text), nil
}

func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	m.batches.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if m.FailWith != nil {
			if err := m.FailWith(t); err != nil {
				return nil, err
			}
		}
		out[i] = m.vector(t)
	}
	return out, nil
}

// vector builds a normalized bag-of-stems vector: words are lowercased,
// truncated to their first three letters (a crude stem, enough for
// "ski"/"skiing" to agree) and hashed into dimension buckets.
func (m *Model) vector(text string) []float32 {
	vec := make([]float32, m.Dim)
	for _, word := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%m.Dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	stems := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if len(f) > 3 {
			f = f[:3]
		}
		stems = append(stems, f)
	}
	return stems
}
