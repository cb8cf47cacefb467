package domain

import "fmt"

// EmbedProvider selects the embedding adapter implementation (spec §6).
type EmbedProvider string

const (
	EmbedProviderLocal  EmbedProvider = "local"
	EmbedProviderOpenAI EmbedProvider = "openai"
	EmbedProviderMock   EmbedProvider = "mock"
	EmbedProviderNone   EmbedProvider = "none"
)

// ScoreWeights are the scorer's aggregation weights (spec §4.E / §9).
type ScoreWeights struct {
	Embedding    float64 `yaml:"embedding"`
	Token        float64 `yaml:"token"`
	Title        float64 `yaml:"title"`
	SemanticVsTag float64 `yaml:"semantic_vs_tag"`
}

// DefaultScoreWeights resolves the §9 open question on score aggregation.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Embedding:     0.6,
		Token:         0.25,
		Title:         0.15,
		SemanticVsTag: 0.7,
	}
}

// Validate checks the sum-to-one constraints from spec §4.E.
func (w ScoreWeights) Validate() error {
	const eps = 1e-6
	sum := w.Embedding + w.Token + w.Title
	if sum < 1-eps || sum > 1+eps {
		return NewFieldError(KindValidationFailed, "score_weights", fmt.Sprintf("embedding+token+title must sum to 1, got %f", sum))
	}
	if w.SemanticVsTag < 0 || w.SemanticVsTag > 1 {
		return NewFieldError(KindValidationFailed, "score_weights.semantic_vs_tag", "must be in [0,1]")
	}
	return nil
}

// AutoSnapshotPolicy configures automatic snapshot cadence (spec §4.J).
type AutoSnapshotPolicy struct {
	IntervalSeconds   int64 `yaml:"interval_seconds"`
	MutationThreshold int   `yaml:"mutation_threshold"`
	RetentionDays     int   `yaml:"retention_days"`
}

// Config is the immutable record every component receives at construction
// (spec §9 "Global configuration" design note).
type Config struct {
	EmbedProvider    EmbedProvider      `yaml:"embed_provider"`
	EmbedModel       string             `yaml:"embed_model"`
	EmbedDimension   int                `yaml:"embed_dimension"`
	ScoreWeights     ScoreWeights       `yaml:"score_weights"`
	AcceptThreshold  float64            `yaml:"accept_threshold"`
	SuggestThreshold float64            `yaml:"suggest_threshold"`
	BridgeTagPattern string             `yaml:"bridge_tag_pattern"`
	AutoSnapshot     AutoSnapshotPolicy `yaml:"auto_snapshot"`
	DBPath           string             `yaml:"db_path"`

	// LinkCandidateK bounds the incremental linking candidate set (spec §4.F).
	LinkCandidateK int `yaml:"link_candidate_k"`
}

// DefaultConfig returns sensible defaults, mirroring the teacher's envOr-based
// Config construction in cmd/api.
func DefaultConfig() Config {
	return Config{
		EmbedProvider:    EmbedProviderMock,
		EmbedModel:       "mock-v1",
		EmbedDimension:   384,
		ScoreWeights:     DefaultScoreWeights(),
		AcceptThreshold:  0.6,
		SuggestThreshold: 0.35,
		BridgeTagPattern: "link/*",
		AutoSnapshot: AutoSnapshotPolicy{
			IntervalSeconds:   3600,
			MutationThreshold: 200,
			RetentionDays:     90,
		},
		DBPath:         "./forest-data",
		LinkCandidateK: 50,
	}
}

// Validate checks invariants that must hold before the config is used to
// construct any component (§4.F: acceptThreshold >= suggestThreshold >= 0).
func (c Config) Validate() error {
	if c.AcceptThreshold < c.SuggestThreshold {
		return NewFieldError(KindValidationFailed, "accept_threshold", "must be >= suggest_threshold")
	}
	if c.SuggestThreshold < 0 || c.AcceptThreshold > 1 {
		return NewFieldError(KindValidationFailed, "thresholds", "must be within [0,1]")
	}
	if c.EmbedDimension <= 0 {
		return NewFieldError(KindValidationFailed, "embed_dimension", "must be positive")
	}
	return c.ScoreWeights.Validate()
}
