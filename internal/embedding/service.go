package embedding

import (
	"context"
	"fmt"
)

// Service wraps a Model with dimension validation and content hashing. All
// content and query embeddings in one process go through the same service, so
// every vector in the store is guaranteed to come from one model version.
type Service struct {
	model Model
}

// NewService creates a new embedding service around the given model.
func NewService(model Model) (*Service, error) {
	if model == nil {
		return nil, fmt.Errorf("embedding model required")
	}
	return &Service{model: model}, nil
}

// Name returns the human-readable model name.
func (s *Service) Name() string { return s.model.Name() }

// Version returns the model version tag stored with every vector.
func (s *Service) Version() string { return s.model.Version() }

// Dimensions returns the embedding vector size.
func (s *Service) Dimensions() int { return s.model.Dimensions() }

// ContentHash returns the versioned fingerprint for an embeddable text.
func (s *Service) ContentHash(text string) string {
	return VersionedHash(s.model.Version(), text)
}

// Embed generates a single embedding, validating the returned dimension.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.model.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != s.model.Dimensions() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.model.Dimensions())
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, in input order,
// validating every returned dimension.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := s.model.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		if len(v) != s.model.Dimensions() {
			return nil, fmt.Errorf("%w: result %d has %d dims, want %d",
				ErrDimensionMismatch, i, len(v), s.model.Dimensions())
		}
	}
	return vecs, nil
}

// Close releases model resources.
func (s *Service) Close() error { return s.model.Close() }
