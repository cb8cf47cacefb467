package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// Mock is a deterministic embedding provider for tests and the default
// configuration (spec §6 embed_provider=mock). It hashes text into a
// unit-length vector, so identical text always yields identical embeddings
// and distinct text yields (with overwhelming probability) distinct ones.
type Mock struct {
	dimension int
	model     string
}

// NewMock creates a mock provider producing vectors of the given dimension.
func NewMock(dimension int) *Mock {
	if dimension <= 0 {
		dimension = 384
	}
	return &Mock{dimension: dimension, model: "mock-v1"}
}

func (m *Mock) ModelID() string { return m.model }
func (m *Mock) Dimension() int  { return m.dimension }

func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	return hashEmbed(text, m.dimension), nil
}

func (m *Mock) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t, m.dimension)
	}
	return out, nil
}

// hashEmbed derives a unit-length vector from text via a seeded FNV hash
// walk, so the same text always reproduces the same vector.
func hashEmbed(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	state := seed
	var norm float64
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		v := float64(int64(state>>11)) / float64(1<<52)
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
