package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Local talks to an Ollama-compatible local embedding server over HTTP.
// Grounded on pkg/ollama/embed.go's EmbedClient, generalized to forest's
// Provider interface and stripped of the gRPC/protobuf wrapper (the
// ml/proto package it wrapped is not part of this module).
type Local struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewLocal creates an Ollama-backed embedding provider. dimension is the
// expected output width, used only to satisfy the Provider interface;
// mismatches against what the server actually returns surface as
// domain.ErrDimensionMismatch at the call site, not here.
func NewLocal(baseURL, model string, dimension int) *Local {
	return &Local{
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Local) ModelID() string { return c.model }
func (c *Local) Dimension() int  { return c.dimension }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (c *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local embed: status %d", resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("local embed decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch issues one request per text; Ollama's HTTP API has no native
// batch endpoint, matching the teacher's sequential EmbedBatch loop.
func (c *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := c.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("local embed batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
