// Package embedding provides access to the external text-embedding provider:
// a swappable model interface, an OpenAI-compatible client, and the content
// hashing used for staleness detection.
package embedding

import "context"

// Model represents a text embedding model.
type Model interface {
	// Name returns the human-readable model name (e.g. "text-embedding-3-small").
	Name() string

	// Version returns a short version tag stored alongside every vector.
	// Vectors from different versions are not comparable; a version change
	// makes every stored embedding stale.
	Version() string

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	// Callers are responsible for staying within the provider batch limit.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases model resources.
	Close() error
}
