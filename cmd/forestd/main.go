// Package main implements the forest daemon: an HTTP surface over the note
// graph, wired to Neo4j, Qdrant, and an embedded NATS event bus. Grounded on
// cmd/api/main.go's Config/loadConfig/run composition.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/bwl/forest/internal/admin"
	"github.com/bwl/forest/internal/document"
	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/embed"
	"github.com/bwl/forest/internal/events"
	"github.com/bwl/forest/internal/ingest"
	"github.com/bwl/forest/internal/linking"
	"github.com/bwl/forest/internal/normalize"
	"github.com/bwl/forest/internal/search"
	"github.com/bwl/forest/internal/store"
	"github.com/bwl/forest/internal/temporal"
	"github.com/bwl/forest/internal/topology"
	"github.com/bwl/forest/pkg/mid"
)

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	Neo4jURL      string
	Neo4jUser     string
	Neo4jPass     string
	QdrantAddr    string
	Collection    string
	CORSOrigin    string
	EmbedProvider string
	EmbedModel    string
	EmbedDim      int
	OllamaURL     string
	OpenAIURL     string
	OpenAIKey     string
}

func loadConfig() Config {
	return Config{
		Port:          envOr("PORT", "8090"),
		Neo4jURL:      envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:     envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:     envOr("NEO4J_PASS", "password"),
		QdrantAddr:    envOr("QDRANT_ADDR", "localhost:6334"),
		Collection:    envOr("QDRANT_COLLECTION", "forest"),
		CORSOrigin:    envOr("CORS_ORIGIN", "*"),
		EmbedProvider: envOr("EMBED_PROVIDER", "mock"),
		EmbedModel:    envOr("EMBED_MODEL", "mock-v1"),
		EmbedDim:      envOrInt("EMBED_DIMENSION", 384),
		OllamaURL:     envOr("OLLAMA_URL", "http://localhost:11434"),
		OpenAIURL:     envOr("OPENAI_URL", ""),
		OpenAIKey:     envOr("OPENAI_API_KEY", ""),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// heuristicTagger adapts normalize.HeuristicTagSuggester's title/body
// interface to admin.TagProvider's canonical-text-plus-cost shape. The
// heuristic suggester never calls an external API, so its cost is always 0.
type heuristicTagger struct {
	inner *normalize.HeuristicTagSuggester
}

func (t heuristicTagger) SuggestTags(ctx context.Context, canonicalText string) ([]string, float64, error) {
	tags, err := t.inner.SuggestTags(ctx, canonicalText, "")
	return tags, 0, err
}

func buildProvider(cfg Config, domainCfg domain.Config) embed.Provider {
	var inner embed.Provider
	switch domain.EmbedProvider(cfg.EmbedProvider) {
	case domain.EmbedProviderOpenAI:
		inner = embed.NewOpenAI(cfg.OpenAIURL, cfg.OpenAIKey, cfg.EmbedModel, cfg.EmbedDim)
	case domain.EmbedProviderNone:
		return embed.NewNone()
	case domain.EmbedProviderMock:
		inner = embed.NewMock(cfg.EmbedDim)
	default:
		inner = embed.NewLocal(cfg.OllamaURL, cfg.EmbedModel, cfg.EmbedDim)
	}
	return embed.NewCachedEmbedder(inner, embed.DefaultCachedEmbedderOpts())
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	domainCfg := domain.DefaultConfig()
	domainCfg.EmbedProvider = domain.EmbedProvider(cfg.EmbedProvider)
	domainCfg.EmbedModel = cfg.EmbedModel
	domainCfg.EmbedDimension = cfg.EmbedDim
	if err := domainCfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// --- Connect to Neo4j ---
	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)

	graphStore := store.NewGraphStore(neo4jDriver)

	// --- Connect to Qdrant ---
	vectorStore, err := store.NewVectorIndex(cfg.QdrantAddr, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}

	dataStore := store.New(graphStore, vectorStore)

	// --- Start the embedded event bus ---
	bus, err := events.NewBus()
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer bus.Close()

	embedder := buildProvider(cfg, domainCfg)

	linker := linking.New(graphStore, vectorStore, bus, domainCfg, ingest.NewID)

	notes := &ingest.Service{
		Graph:    graphStore,
		Vectors:  vectorStore,
		Embedder: embedder,
		Linker:   linker,
		Bus:      bus,
		Config:   domainCfg,
	}

	// The document pipeline captures chunks through its own ingest service
	// with no Linker, so linking runs once every chunk and structural edge
	// exists rather than per chunk.
	docNotes := &ingest.Service{
		Graph:    graphStore,
		Vectors:  vectorStore,
		Embedder: embedder,
		Bus:      bus,
		Config:   domainCfg,
	}

	docs := &document.Service{
		Graph:  graphStore,
		Notes:  docNotes,
		Linker: linker,
		Bus:    bus,
		Config: domainCfg,
	}

	searchSvc := &search.Service{
		Graph:    graphStore,
		Vectors:  vectorStore,
		Embedder: embedder,
	}

	topo := &topology.Service{
		Graph:    graphStore,
		Search:   searchSvc,
		HubCount: topology.DefaultHubCount,
	}

	tempo := &temporal.Service{
		Graph:  graphStore,
		Bus:    bus,
		Config: domainCfg,
	}

	adminSvc := &admin.Service{
		Graph:     graphStore,
		Vectors:   vectorStore,
		Embedder:  embedder,
		Linker:    linker,
		Tagger:    heuristicTagger{inner: normalize.NewHeuristicTagSuggester(5)},
		Documents: docs,
		Bus:       bus,
	}

	deps := serverDeps{
		store:    dataStore,
		notes:    notes,
		docs:     docs,
		search:   searchSvc,
		topology: topo,
		temporal: tempo,
		admin:    adminSvc,
		logger:   logger,
	}

	mux := newMux(deps)
	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("forestd starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
