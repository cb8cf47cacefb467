// Package embed adapts external embedding providers into the narrow
// interface the rest of forest depends on (spec §4.B). Providers are
// swappable by configuration: local (Ollama HTTP), openai (REST), mock
// (deterministic, for tests), and none (embeddings disabled).
package embed

import "context"

// Provider produces vector embeddings for canonical note text.
type Provider interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per input text, in order. An error
	// at index i must not silently drop outputs for earlier indices; callers
	// get either a full batch or an error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// ModelID identifies the model/version producing embeddings, stored on
	// each note so dimension or model drift can be detected later.
	ModelID() string
	// Dimension returns the embedding vector length this provider produces.
	Dimension() int
}
