// Package domain defines the core Forest entities, configuration, and the
// validation gate that every mutation passes through before it reaches the
// store.
package domain

import "time"

// Origin classifies how a Note came into existence.
type Origin string

const (
	OriginCapture    Origin = "capture"
	OriginWrite      Origin = "write"
	OriginSynthesize Origin = "synthesize"
	OriginImport     Origin = "import"
	OriginAPI        Origin = "api"
)

// CreatedBy classifies who (or what) authored a Note.
type CreatedBy string

const (
	CreatedByUser  CreatedBy = "user"
	CreatedByAI    CreatedBy = "ai"
	CreatedByAgent CreatedBy = "agent" // specific agent name carried in NoteMetadata.AgentName
)

// NoteMetadata carries provenance for a Note.
type NoteMetadata struct {
	Origin           Origin    `json:"origin"`
	CreatedBy        CreatedBy `json:"created_by"`
	AgentName        string    `json:"agent_name,omitempty"`
	Model            string    `json:"model,omitempty"`
	SourceNodeIDs    []string  `json:"source_node_ids,omitempty"`
	ParentDocumentID string    `json:"parent_document_id,omitempty"`
	ChunkOrder       *int      `json:"chunk_order,omitempty"`
	IsChunk          bool      `json:"is_chunk,omitempty"`
}

// Note is the graph's vertex: a titled markdown document with tags, lexical
// token counts, and an optional embedding.
type Note struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	Tags           []string       `json:"tags"`
	TokenCounts    map[string]int `json:"token_counts"`
	Embedding      []float32      `json:"embedding,omitempty"`
	EmbeddingModel string         `json:"embedding_model,omitempty"`
	Metadata       NoteMetadata   `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasEmbedding reports whether the note carries a usable embedding.
func (n Note) HasEmbedding() bool {
	return len(n.Embedding) > 0 && n.EmbeddingModel != ""
}

// EdgeType classifies the nature of an Edge.
type EdgeType string

const (
	EdgeSemantic            EdgeType = "semantic"
	EdgeStructuralParent    EdgeType = "structural-parent"
	EdgeStructuralSequential EdgeType = "structural-sequential"
	EdgeBridgeTag           EdgeType = "bridge-tag"
	EdgeManual              EdgeType = "manual"
)

// IsStructural reports whether the edge type is exempt from threshold pruning.
func (t EdgeType) IsStructural() bool {
	return t == EdgeStructuralParent || t == EdgeStructuralSequential
}

// ScoreComponents is the breakdown a Scorer produces for a pair of notes.
type ScoreComponents struct {
	EmbeddingSimilarity float64  `json:"embedding_similarity"`
	TokenSimilarity     float64  `json:"token_similarity"`
	TitleSimilarity     float64  `json:"title_similarity"`
	TagOverlap          float64  `json:"tag_overlap"`
	SharedTags          []string `json:"shared_tags"`
	BridgeTag           string   `json:"bridge_tag,omitempty"`
}

// EdgeMetadata is the persisted audit trail for an Edge.
type EdgeMetadata struct {
	Components ScoreComponents `json:"components"`
	Reason     string          `json:"reason,omitempty"` // e.g. "structural-parent" or "manual"
}

// Edge is an undirected, weighted link between two notes. SourceID is always
// lexicographically less than TargetID; this is the canonical orientation
// that makes the pair unique.
type Edge struct {
	ID             string       `json:"id"`
	SourceID       string       `json:"source_id"`
	TargetID       string       `json:"target_id"`
	SemanticScore  float64      `json:"semantic_score"`
	TagScore       float64      `json:"tag_score"`
	Score          float64      `json:"score"`
	EdgeType       EdgeType     `json:"edge_type"`
	Metadata       EdgeMetadata `json:"metadata"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Endpoints returns the pair in canonical (lexicographic) order.
func Endpoints(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// ChunkStrategy selects how Document import splits a markdown body.
type ChunkStrategy string

const (
	ChunkByHeaders ChunkStrategy = "headers"
	ChunkBySize    ChunkStrategy = "size"
	ChunkHybrid    ChunkStrategy = "hybrid"
)

// DocumentMetadata configures a Document's chunking and linking behavior.
type DocumentMetadata struct {
	Strategy   ChunkStrategy `json:"strategy"`
	ChunkSize  int           `json:"chunk_size,omitempty"`  // tokens, for size/hybrid
	Overlap    int           `json:"overlap,omitempty"`     // tokens, for size/hybrid
	AutoLink   bool          `json:"auto_link"`
	SourceFile string        `json:"source_file,omitempty"`
	TemplateID string        `json:"template_id,omitempty"`
}

// Document is the canonical markdown source behind a set of ordered chunk
// notes.
type Document struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Body       string           `json:"body"` // canonical markdown
	Metadata   DocumentMetadata `json:"metadata"`
	Version    int              `json:"version"`
	RootNodeID string           `json:"root_node_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// ChunkSeparator joins chunk bodies into a Document's canonical body.
const ChunkSeparator = "\n\n"

// DocumentChunk locates one chunk note's body within a Document's canonical
// body.
type DocumentChunk struct {
	DocumentID string `json:"document_id"`
	SegmentID  string `json:"segment_id"` // stable across edits
	NodeID     string `json:"node_id"`
	Offset     int    `json:"offset"`
	Length     int    `json:"length"`
	ChunkOrder int    `json:"chunk_order"`
	Checksum   string `json:"checksum"`
}

// SnapshotType classifies how a Snapshot was taken.
type SnapshotType string

const (
	SnapshotManual SnapshotType = "manual"
	SnapshotAuto   SnapshotType = "auto"
)

// Snapshot is an immutable record of graph counts and digests at a point in
// time, used as a diff/growth baseline.
type Snapshot struct {
	ID            string       `json:"id"`
	TakenAt       time.Time    `json:"taken_at"`
	SnapshotType  SnapshotType `json:"snapshot_type"`
	NodeCount     int          `json:"node_count"`
	EdgeCount     int          `json:"edge_count"`
	TagCount      int          `json:"tag_count"`
	NodesDigest   string       `json:"nodes_digest"`
	EdgesDigest   string       `json:"edges_digest"`
	TagsDigest    string       `json:"tags_digest"`
	ReplayCursor  int64        `json:"replay_cursor"` // event log sequence at capture time
}

// EventKind names a domain event.
type EventKind string

const (
	EventNodeCreated       EventKind = "node.created"
	EventNodeUpdated       EventKind = "node.updated"
	EventNodeDeleted       EventKind = "node.deleted"
	EventEdgeCreated       EventKind = "edge.created"
	EventEdgeUpdated       EventKind = "edge.updated"
	EventEdgeDeleted       EventKind = "edge.deleted"
	EventDocumentImported  EventKind = "document.imported"
	EventDocumentUpdated   EventKind = "document.updated"
	EventSnapshotTaken     EventKind = "snapshot.taken"
)

// Event is an append-only log entry sufficient for diff replay.
type Event struct {
	Sequence  int64          `json:"sequence"`
	Kind      EventKind      `json:"kind"`
	EntityID  string         `json:"entity_id"`
	Before    map[string]any `json:"before,omitempty"`
	After     map[string]any `json:"after,omitempty"`
	Tags      []string       `json:"tags,omitempty"` // involved-note tags, for subscriber filtering
	At        time.Time      `json:"at"`
}
