// Package search implements semantic search, metadata search, and
// neighborhood expansion (spec §4.H). Grounded on engine/rag.Service's
// embed-then-search narrow-interface pipeline, adapted from chat-answer
// retrieval to ranked note lookup.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/embed"
	"github.com/bwl/forest/internal/normalize"
	"github.com/bwl/forest/internal/scorer"
	"github.com/bwl/forest/internal/store"
)

// noteGraph abstracts the store.GraphStore operations this package needs.
type noteGraph interface {
	GetNote(ctx context.Context, id string) (domain.Note, error)
	ListNotes(ctx context.Context, offset, limit int) ([]domain.Note, error)
	Neighbors(ctx context.Context, noteID string) ([]domain.Edge, error)
}

// vectorSearcher abstracts store.VectorIndex's tag-filtered k-NN search.
type vectorSearcher interface {
	SearchFiltered(ctx context.Context, embedding []float32, topK int, requireTags []string) ([]store.VectorMatch, error)
}

// Service answers search and neighborhood queries against the note graph.
// Grounded on engine/rag.Service, whose SemanticSearcher field plays the
// same embed-then-search role vectorSearcher plays here.
type Service struct {
	Graph    noteGraph
	Vectors  vectorSearcher
	Embedder embed.Provider

	// InlineScanThreshold is not read by SemanticSearch: it queries the
	// Vectors ANN index whenever Vectors is set, whatever the corpus size,
	// and computes cosine similarity directly over every note only when
	// Vectors is nil.
	InlineScanThreshold int
}

// SemanticQuery is semanticSearch's input.
type SemanticQuery struct {
	QueryText string
	Limit     int
	Offset    int
	MinScore  float64
	Tags      []string
}

// SemanticHit is one ranked result.
type SemanticHit struct {
	NoteID     string
	Similarity float64
}

// SemanticResult is semanticSearch's paginated output.
type SemanticResult struct {
	Hits  []SemanticHit
	Total int
}

// SemanticSearch embeds queryText and ranks notes by cosine similarity
// (spec §4.H). If no embedder is configured or the query embeds to nothing
// usable, it falls back to a metadata term search scoped by the query text.
func (s *Service) SemanticSearch(ctx context.Context, q SemanticQuery) (SemanticResult, error) {
	if s.Embedder == nil {
		return s.fallbackToMetadata(ctx, q)
	}
	queryVec, err := s.Embedder.Embed(ctx, q.QueryText)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindEmbeddingUnavailable, domain.KindProviderRateLimited:
			return s.fallbackToMetadata(ctx, q)
		default:
			return SemanticResult{}, err
		}
	}
	if len(queryVec) == 0 {
		return s.fallbackToMetadata(ctx, q)
	}

	var hits []SemanticHit
	var err2 error
	if s.Vectors != nil {
		hits, err2 = s.annScan(ctx, queryVec, q)
	} else {
		hits, err2 = s.inlineScan(ctx, queryVec, q)
	}
	if err2 != nil {
		return SemanticResult{}, err2
	}

	filtered := hits[:0]
	for _, h := range hits {
		if h.Similarity >= q.MinScore {
			filtered = append(filtered, h)
		}
	}
	hits = filtered

	return paginateSemantic(hits, q.Offset, q.Limit), nil
}

func (s *Service) fallbackToMetadata(ctx context.Context, q SemanticQuery) (SemanticResult, error) {
	notes, total, err := s.MetadataSearch(ctx, Filters{
		Term:      q.QueryText,
		TagsAll:   q.Tags,
		Sort:      SortRecent,
		Limit:     q.Offset + q.Limit,
		Offset:    0,
		ShowChunks: true,
	})
	if err != nil {
		return SemanticResult{}, err
	}
	hits := make([]SemanticHit, 0, len(notes))
	for _, n := range notes {
		hits = append(hits, SemanticHit{NoteID: n.ID, Similarity: 1})
	}
	return paginateSemantic(hits, q.Offset, total-q.Offset), nil
}

// annScan delegates to the vector index's k-NN search, mapping Qdrant's
// cosine-distance score into the [0,1] convention scorer.CosineSimilarity
// uses, so minScore behaves identically on both paths.
func (s *Service) annScan(ctx context.Context, queryVec []float32, q SemanticQuery) ([]SemanticHit, error) {
	topK := q.Offset + q.Limit
	if topK <= 0 {
		topK = 20
	}
	// Over-fetch since tag filtering and score thresholding happen after.
	matches, err := s.Vectors.SearchFiltered(ctx, queryVec, topK*4+50, q.Tags)
	if err != nil {
		return nil, err
	}
	hits := make([]SemanticHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, SemanticHit{NoteID: m.NoteID, Similarity: (m.Score + 1) / 2})
	}
	return s.sortBySimilarityThenRecency(ctx, hits)
}

// inlineScan computes cosine similarity against every note's stored
// embedding directly, used when no vector index is configured (small
// corpora, or the in-memory test fakes).
func (s *Service) inlineScan(ctx context.Context, queryVec []float32, q SemanticQuery) ([]SemanticHit, error) {
	const pageSize = 200
	offset := 0
	var hits []SemanticHit
	for {
		notes, err := s.Graph.ListNotes(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}
		if len(notes) == 0 {
			break
		}
		for _, n := range notes {
			if !n.HasEmbedding() {
				continue
			}
			if len(q.Tags) > 0 && !hasAllTags(n.Tags, q.Tags) {
				continue
			}
			sim := scorer.CosineSimilarity(queryVec, n.Embedding)
			hits = append(hits, SemanticHit{NoteID: n.ID, Similarity: sim})
		}
		offset += len(notes)
	}
	return s.sortBySimilarityThenRecency(ctx, hits)
}

// sortBySimilarityThenRecency resolves updatedAt/id tie-breaks, which
// requires hydrating each hit's note (spec §4.H step 5).
func (s *Service) sortBySimilarityThenRecency(ctx context.Context, hits []SemanticHit) ([]SemanticHit, error) {
	type ranked struct {
		hit       SemanticHit
		updatedAt time.Time
	}
	rs := make([]ranked, 0, len(hits))
	for _, h := range hits {
		n, err := s.Graph.GetNote(ctx, h.NoteID)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				continue
			}
			return nil, err
		}
		rs = append(rs, ranked{hit: h, updatedAt: n.UpdatedAt})
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].hit.Similarity != rs[j].hit.Similarity {
			return rs[i].hit.Similarity > rs[j].hit.Similarity
		}
		if !rs[i].updatedAt.Equal(rs[j].updatedAt) {
			return rs[i].updatedAt.After(rs[j].updatedAt)
		}
		return rs[i].hit.NoteID < rs[j].hit.NoteID
	})
	out := make([]SemanticHit, len(rs))
	for i, r := range rs {
		out[i] = r.hit
	}
	return out, nil
}

func paginateSemantic(hits []SemanticHit, offset, limit int) SemanticResult {
	total := len(hits)
	if offset >= total || limit <= 0 {
		return SemanticResult{Hits: nil, Total: total}
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := append([]SemanticHit(nil), hits[offset:end]...)
	return SemanticResult{Hits: out, Total: total}
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// SortOrder selects metadataSearch's result ordering.
type SortOrder string

const (
	SortScore  SortOrder = "score"
	SortRecent SortOrder = "recent"
	SortDegree SortOrder = "degree"
)

// Filters is metadataSearch's input (spec §4.H).
type Filters struct {
	ID         string
	Title      string
	Term       string
	TagsAll    []string
	TagsAny    []string
	Since      *time.Time
	Until      *time.Time
	Sort       SortOrder
	Origin     domain.Origin
	CreatedBy  domain.CreatedBy
	ShowChunks bool
	Limit      int
	Offset     int
}

// MetadataSearch returns notes satisfying every provided filter, sorted per
// Sort, paginated, with total the count before pagination.
func (s *Service) MetadataSearch(ctx context.Context, f Filters) ([]domain.Note, int, error) {
	if f.ID != "" {
		n, err := s.Graph.GetNote(ctx, f.ID)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				return nil, 0, nil
			}
			return nil, 0, err
		}
		if !matches(n, f) {
			return nil, 0, nil
		}
		return []domain.Note{n}, 1, nil
	}

	const pageSize = 200
	offset := 0
	var matched []domain.Note
	for {
		notes, err := s.Graph.ListNotes(ctx, offset, pageSize)
		if err != nil {
			return nil, 0, err
		}
		if len(notes) == 0 {
			break
		}
		for _, n := range notes {
			if matches(n, f) {
				matched = append(matched, n)
			}
		}
		offset += len(notes)
	}

	switch f.Sort {
	case SortRecent:
		sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })
	case SortDegree:
		degree := make(map[string]int, len(matched))
		for _, n := range matched {
			edges, err := s.Graph.Neighbors(ctx, n.ID)
			if err != nil {
				return nil, 0, err
			}
			degree[n.ID] = len(edges)
		}
		sort.Slice(matched, func(i, j int) bool {
			if degree[matched[i].ID] != degree[matched[j].ID] {
				return degree[matched[i].ID] > degree[matched[j].ID]
			}
			return matched[i].ID < matched[j].ID
		})
	default: // SortScore and unset: title relevance to Term, falling back to recency
		sort.Slice(matched, func(i, j int) bool {
			si, sj := termRelevance(matched[i], f.Term), termRelevance(matched[j], f.Term)
			if si != sj {
				return si > sj
			}
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		})
	}

	total := len(matched)
	if f.Limit <= 0 {
		return matched, total, nil
	}
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func matches(n domain.Note, f Filters) bool {
	if !f.ShowChunks && n.Metadata.IsChunk {
		return false
	}
	if f.Title != "" && !strings.EqualFold(n.Title, f.Title) {
		return false
	}
	if f.Term != "" && !containsTerm(n, f.Term) {
		return false
	}
	if len(f.TagsAll) > 0 && !hasAllTags(n.Tags, f.TagsAll) {
		return false
	}
	if len(f.TagsAny) > 0 && !hasAnyTag(n.Tags, f.TagsAny) {
		return false
	}
	if f.Since != nil && n.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && n.CreatedAt.After(*f.Until) {
		return false
	}
	if f.Origin != "" && n.Metadata.Origin != f.Origin {
		return false
	}
	if f.CreatedBy != "" && n.Metadata.CreatedBy != f.CreatedBy {
		return false
	}
	return true
}

// containsTerm is a case-insensitive substring match across title, tags,
// and body (spec §4.H "term is a substring match").
func containsTerm(n domain.Note, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(n.Title), term) {
		return true
	}
	if strings.Contains(strings.ToLower(n.Body), term) {
		return true
	}
	for _, t := range n.Tags {
		if strings.Contains(strings.ToLower(t), term) {
			return true
		}
	}
	return false
}

// termRelevance counts query-token overlap with a note's title tokens, used
// as SortScore's relevance proxy when no embedding-based score applies.
func termRelevance(n domain.Note, term string) int {
	if term == "" {
		return 0
	}
	queryTokens := normalize.Tokens(term)
	titleTokens := toSet(normalize.Tokens(n.Title))
	count := 0
	for _, t := range queryTokens {
		if titleTokens[t] {
			count++
		}
	}
	return count
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}

// NeighborhoodResult is neighborhood's output.
type NeighborhoodResult struct {
	NoteIDs []string
	Edges   []domain.Edge
}

// Neighborhood runs a breadth-first search from centerId up to depth hops,
// breaking ties by edge score descending, then trims to limit nodes total:
// farthest-first nodes are dropped, and the center is always kept (spec
// §4.H). Grounded on engine/graph.GraphStore.Neighbors' depth-bounded
// traversal, reimplemented as an explicit Go-side BFS so score-ordered
// tie-breaking and limit-trimming (not expressible as a single Cypher
// traversal) apply uniformly regardless of backend.
func (s *Service) Neighborhood(ctx context.Context, centerID string, depth, limit int) (NeighborhoodResult, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 2 {
		depth = 2
	}

	type visited struct {
		distance int
	}
	order := []string{centerID}
	dist := map[string]visited{centerID: {distance: 0}}
	var edges []domain.Edge
	edgeSeen := make(map[[2]string]bool)

	frontier := []string{centerID}
	for d := 0; d < depth; d++ {
		var next []string
		for _, id := range frontier {
			neighborEdges, err := s.Graph.Neighbors(ctx, id)
			if err != nil {
				return NeighborhoodResult{}, err
			}
			sort.Slice(neighborEdges, func(i, j int) bool { return neighborEdges[i].Score > neighborEdges[j].Score })
			for _, e := range neighborEdges {
				other := e.SourceID
				if other == id {
					other = e.TargetID
				}
				key := edgeKey(e.SourceID, e.TargetID)
				if !edgeSeen[key] {
					edgeSeen[key] = true
					edges = append(edges, e)
				}
				if _, ok := dist[other]; !ok {
					dist[other] = visited{distance: d + 1}
					order = append(order, other)
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	if limit > 0 && len(order) > limit {
		// Keep the center, then fill by increasing distance (farthest
		// dropped first); edges referencing a dropped node are pruned.
		sort.SliceStable(order, func(i, j int) bool {
			if order[i] == centerID {
				return true
			}
			if order[j] == centerID {
				return false
			}
			return dist[order[i]].distance < dist[order[j]].distance
		})
		order = order[:limit]
		kept := toSet(order)
		var prunedEdges []domain.Edge
		for _, e := range edges {
			if kept[e.SourceID] && kept[e.TargetID] {
				prunedEdges = append(prunedEdges, e)
			}
		}
		edges = prunedEdges
	}

	return NeighborhoodResult{NoteIDs: order, Edges: edges}, nil
}

func edgeKey(a, b string) [2]string {
	x, y := domain.Endpoints(a, b)
	return [2]string{x, y}
}
