package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/pkg/resilience"
)

func TestMockDeterministic(t *testing.T) {
	m := NewMock(16)
	a, err := m.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := m.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical embeddings for identical text, diverged at %d", i)
		}
	}
	c, err := m.Embed(context.Background(), "something else")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected different embeddings for different text")
	}
}

func TestMockBatchMatchesSingle(t *testing.T) {
	m := NewMock(8)
	texts := []string{"one", "two", "three"}
	batch, err := m.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	for i, text := range texts {
		single, _ := m.Embed(context.Background(), text)
		for j := range single {
			if single[j] != batch[i][j] {
				t.Fatalf("batch[%d] diverges from single embed at %d", i, j)
			}
		}
	}
}

func TestNoneReturnsEmbeddingUnavailable(t *testing.T) {
	n := NewNone()
	_, err := n.Embed(context.Background(), "text")
	if domain.KindOf(err) != domain.KindEmbeddingUnavailable {
		t.Fatalf("expected embedding_unavailable, got %v", domain.KindOf(err))
	}
}

type flakyProvider struct {
	calls   int
	failFor int
}

func (f *flakyProvider) ModelID() string { return "flaky" }
func (f *flakyProvider) Dimension() int  { return 4 }
func (f *flakyProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failFor {
		return nil, errors.New("transient failure")
	}
	return []float32{1, 2, 3, 4}, nil
}
func (f *flakyProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestCachedEmbedderRetriesTransientFailures(t *testing.T) {
	inner := &flakyProvider{failFor: 2}
	opts := DefaultCachedEmbedderOpts()
	opts.BaseDelay = time.Millisecond
	opts.BreakerOpts = resilience.BreakerOpts{FailThreshold: 10, Timeout: time.Second, HalfOpenMax: 1}
	c := NewCachedEmbedder(inner, opts)

	vec, err := c.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("expected 4-dim vector, got %d", len(vec))
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls (2 failures + 1 success), got %d", inner.calls)
	}
}

func TestCachedEmbedderExhaustsRetries(t *testing.T) {
	inner := &flakyProvider{failFor: 100}
	opts := DefaultCachedEmbedderOpts()
	opts.BaseDelay = time.Millisecond
	opts.MaxRetries = 2
	opts.BreakerOpts = resilience.BreakerOpts{FailThreshold: 10, Timeout: time.Second, HalfOpenMax: 1}
	c := NewCachedEmbedder(inner, opts)

	_, err := c.Embed(context.Background(), "text")
	if domain.KindOf(err) != domain.KindProviderRateLimited {
		t.Fatalf("expected provider_rate_limited after exhausting retries, got %v", domain.KindOf(err))
	}
}

func TestCachedEmbedderOpenCircuitFailsFast(t *testing.T) {
	inner := &flakyProvider{failFor: 100}
	opts := DefaultCachedEmbedderOpts()
	opts.BaseDelay = time.Millisecond
	opts.MaxRetries = 0
	opts.BreakerOpts = resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Hour, HalfOpenMax: 1}
	c := NewCachedEmbedder(inner, opts)

	_, _ = c.Embed(context.Background(), "text")
	_, err := c.Embed(context.Background(), "text")
	if domain.KindOf(err) != domain.KindEmbeddingUnavailable {
		t.Fatalf("expected embedding_unavailable once circuit opens, got %v", domain.KindOf(err))
	}
}
