// Package embedder provides interfaces for text embedding providers.
//
// The engine treats embedding as an opaque external collaborator: text in,
// fixed-length vector out. Providers may fail or time out; callers that can
// degrade (retrieval) skip the semantic signal instead of failing, callers
// that cannot (writes) surface the error.
package embedder

import "context"

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple texts into embeddings in one request.
	// The result order matches the input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of vectors produced by this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
