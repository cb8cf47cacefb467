package embed

import (
	"context"

	"github.com/bwl/forest/internal/domain"
)

// None disables embeddings entirely (spec §6 embed_provider=none). Every
// call returns domain.ErrEmbeddingUnavailable so callers degrade to
// lexical-only scoring rather than crash.
type None struct{}

func NewNone() *None { return &None{} }

func (n *None) ModelID() string { return "none" }
func (n *None) Dimension() int  { return 0 }

func (n *None) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, domain.NewError(domain.KindEmbeddingUnavailable, "embedding provider disabled")
}

func (n *None) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return nil, domain.NewError(domain.KindEmbeddingUnavailable, "embedding provider disabled")
}
