// Package topology builds a budgeted context summary for agent consumption:
// seed a subgraph from a tag and/or semantic query, expand one hop, classify
// nodes into hubs/bridges/periphery, and emit a truncated summary (spec
// §4.I). Grounded on intelligencedev-manifold's KnowledgeMap shape
// (CentralNodes/Communities/Bridges), generalized from a Postgres pgRouting
// query into an in-process classification over internal/search's results.
package topology

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/search"
)

// noteGraph abstracts the store.GraphStore operations this package needs.
type noteGraph interface {
	GetNote(ctx context.Context, id string) (domain.Note, error)
	Neighbors(ctx context.Context, noteID string) ([]domain.Edge, error)
	NotesSharingTags(ctx context.Context, tags []string, excludeID string) ([]string, error)
}

// semanticSearcher abstracts internal/search.Service's embedding-ranked query.
type semanticSearcher interface {
	SemanticSearch(ctx context.Context, q search.SemanticQuery) (search.SemanticResult, error)
}

// Service builds context() views over the note graph.
type Service struct {
	Graph  noteGraph
	Search semanticSearcher

	// SeedTopK bounds how many semantic-search hits seed the context when a
	// query is given. Zero means the package default (20).
	SeedTopK int
	// HubCount bounds how many top-degree nodes are classified as hubs.
	// Zero explicitly disables hub classification (every node falls
	// through to bridge/periphery instead); composition roots wanting the
	// package default should set this to DefaultHubCount.
	HubCount int
}

// DefaultHubCount is the hub-classification width a composition root
// should pass when it wants the package's sensible default rather than
// disabling hub classification outright.
const DefaultHubCount = 5

func (s *Service) seedTopK() int {
	if s.SeedTopK > 0 {
		return s.SeedTopK
	}
	return 20
}

func (s *Service) hubCount() int {
	return s.HubCount
}

// ContextQuery is context()'s input. At least one of Tag or Query must be
// set (spec §4.I step 1).
type ContextQuery struct {
	Tag    string
	Query  string
	Budget int // token budget for the emitted text
}

// NodeSummary is one emitted node in the budgeted view.
type NodeSummary struct {
	NoteID string
	Title  string
	Degree int
	Text   string
}

// ContextResult is context()'s structured topology summary.
type ContextResult struct {
	Hubs       []NodeSummary
	Bridges    []NodeSummary
	Periphery  []NodeSummary
	TokensUsed int
	Truncated  bool
}

// Context seeds a subgraph, expands it one hop, classifies nodes into
// hubs/bridges/periphery, and emits a budgeted, truncated text view (spec
// §4.I).
func (s *Service) Context(ctx context.Context, q ContextQuery) (ContextResult, error) {
	if strings.TrimSpace(q.Tag) == "" && strings.TrimSpace(q.Query) == "" {
		return ContextResult{}, domain.NewFieldError(domain.KindValidationFailed, "tag_or_query", "at least one of tag or query must be provided")
	}

	seedIDs, err := s.seedSet(ctx, q)
	if err != nil {
		return ContextResult{}, err
	}
	if len(seedIDs) == 0 {
		return ContextResult{}, nil
	}

	expansion, edgesByNode, err := s.expandOneHop(ctx, seedIDs)
	if err != nil {
		return ContextResult{}, err
	}

	hubs, bridges, periphery, err := s.classify(ctx, expansion, edgesByNode)
	if err != nil {
		return ContextResult{}, err
	}

	return budget(hubs, bridges, periphery, q.Budget), nil
}

// seedSet unions notes carrying Tag with the top-SeedTopK semantic-search
// hits for Query.
func (s *Service) seedSet(ctx context.Context, q ContextQuery) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if q.Tag != "" {
		tagged, err := s.Graph.NotesSharingTags(ctx, []string{q.Tag}, "")
		if err != nil {
			return nil, err
		}
		for _, id := range tagged {
			add(id)
		}
	}
	if q.Query != "" && s.Search != nil {
		result, err := s.Search.SemanticSearch(ctx, search.SemanticQuery{QueryText: q.Query, Limit: s.seedTopK()})
		if err != nil {
			return nil, err
		}
		for _, h := range result.Hits {
			add(h.NoteID)
		}
	}
	return ids, nil
}

// expandOneHop unions the seed set with every direct neighbor, and returns
// the adjacency (within the expansion) used for degree and articulation
// computation.
func (s *Service) expandOneHop(ctx context.Context, seedIDs []string) ([]string, map[string][]domain.Edge, error) {
	inExpansion := map[string]bool{}
	var expansion []string
	add := func(id string) {
		if !inExpansion[id] {
			inExpansion[id] = true
			expansion = append(expansion, id)
		}
	}
	for _, id := range seedIDs {
		add(id)
	}

	edgesByNode := make(map[string][]domain.Edge, len(seedIDs))
	for _, id := range seedIDs {
		edges, err := s.Graph.Neighbors(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		edgesByNode[id] = edges
		for _, e := range edges {
			other := e.SourceID
			if other == id {
				other = e.TargetID
			}
			add(other)
		}
	}
	// Fetch neighbor edges for newly-added non-seed nodes too, so the
	// induced subgraph (used for degree/articulation) reflects every edge
	// between any two expansion members, not only seed-incident ones.
	for _, id := range expansion {
		if _, ok := edgesByNode[id]; ok {
			continue
		}
		edges, err := s.Graph.Neighbors(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		edgesByNode[id] = edges
	}

	return expansion, edgesByNode, nil
}

// classify splits the expansion into hubs (top-degree), bridges
// (articulation points, or nodes with an incident bridge-tag edge), and
// periphery (everything else) — spec §4.I step 3.
func (s *Service) classify(ctx context.Context, expansion []string, edgesByNode map[string][]domain.Edge) (hubs, bridges, periphery []NodeSummary, err error) {
	inExpansion := make(map[string]bool, len(expansion))
	for _, id := range expansion {
		inExpansion[id] = true
	}

	adj := make(map[string][]string, len(expansion))
	degree := make(map[string]int, len(expansion))
	hasBridgeTagEdge := make(map[string]bool, len(expansion))
	for _, id := range expansion {
		for _, e := range edgesByNode[id] {
			other := e.SourceID
			if other == id {
				other = e.TargetID
			}
			if !inExpansion[other] {
				continue
			}
			adj[id] = append(adj[id], other)
			degree[id]++
			if e.EdgeType == domain.EdgeBridgeTag {
				hasBridgeTagEdge[id] = true
			}
		}
	}

	aps := articulationPoints(expansion, adj)

	sorted := append([]string(nil), expansion...)
	sort.Slice(sorted, func(i, j int) bool {
		if degree[sorted[i]] != degree[sorted[j]] {
			return degree[sorted[i]] > degree[sorted[j]]
		}
		return sorted[i] < sorted[j]
	})
	hubSet := make(map[string]bool, s.hubCount())
	for i, id := range sorted {
		if i >= s.hubCount() {
			break
		}
		if degree[id] == 0 {
			break
		}
		hubSet[id] = true
	}

	for _, id := range expansion {
		note, err := s.Graph.GetNote(ctx, id)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				continue
			}
			return nil, nil, nil, err
		}
		summary := NodeSummary{NoteID: id, Title: note.Title, Degree: degree[id], Text: summaryText(note, degree[id])}
		switch {
		case hubSet[id]:
			hubs = append(hubs, summary)
		case aps[id] || hasBridgeTagEdge[id]:
			bridges = append(bridges, summary)
		default:
			periphery = append(periphery, summary)
		}
	}
	return hubs, bridges, periphery, nil
}

func summaryText(n domain.Note, degree int) string {
	snippet := n.Body
	if len(snippet) > 160 {
		snippet = snippet[:160]
	}
	return fmt.Sprintf("%s (degree %d): %s", n.Title, degree, strings.TrimSpace(snippet))
}

// budget emits hubs, then bridges, then periphery, truncating once the
// cumulative word count (the emitted text's token proxy, not the notes'
// own size) would exceed budgetTokens (spec §4.I step 4).
func budget(hubs, bridges, periphery []NodeSummary, budgetTokens int) ContextResult {
	if budgetTokens <= 0 {
		return ContextResult{Hubs: hubs, Bridges: bridges, Periphery: periphery, TokensUsed: totalTokens(hubs, bridges, periphery)}
	}

	result := ContextResult{}
	used := 0
	truncated := false
	classes := []*[]NodeSummary{&result.Hubs, &result.Bridges, &result.Periphery}
	sources := [][]NodeSummary{hubs, bridges, periphery}
	for ci, src := range sources {
		for _, n := range src {
			cost := len(strings.Fields(n.Text))
			if used+cost > budgetTokens {
				truncated = true
				break
			}
			*classes[ci] = append(*classes[ci], n)
			used += cost
		}
		// A class hitting its cap doesn't stop the next, smaller class
		// from still fitting in whatever budget remains.
	}
	result.TokensUsed = used
	result.Truncated = truncated
	return result
}

func totalTokens(classes ...[]NodeSummary) int {
	n := 0
	for _, c := range classes {
		for _, s := range c {
			n += len(strings.Fields(s.Text))
		}
	}
	return n
}

// articulationPoints finds cut vertices of the undirected graph described
// by adj (classic Tarjan low-link DFS; no third-party graph library in the
// corpus implements this, so it is hand-rolled stdlib algorithm rather than
// an adapted one).
func articulationPoints(nodeIDs []string, adj map[string][]string) map[string]bool {
	f := &apFinder{
		adj:     adj,
		visited: make(map[string]bool, len(nodeIDs)),
		disc:    make(map[string]int, len(nodeIDs)),
		low:     make(map[string]int, len(nodeIDs)),
		ap:      make(map[string]bool),
	}
	for _, id := range nodeIDs {
		if !f.visited[id] {
			f.dfs(id, "", true)
		}
	}
	return f.ap
}

type apFinder struct {
	adj     map[string][]string
	visited map[string]bool
	disc    map[string]int
	low     map[string]int
	ap      map[string]bool
	timer   int
}

func (f *apFinder) dfs(u, parent string, isRoot bool) {
	f.visited[u] = true
	f.disc[u] = f.timer
	f.low[u] = f.timer
	f.timer++

	children := 0
	for _, v := range f.adj[u] {
		if v == parent {
			continue
		}
		if !f.visited[v] {
			children++
			f.dfs(v, u, false)
			if f.low[v] < f.low[u] {
				f.low[u] = f.low[v]
			}
			if !isRoot && f.low[v] >= f.disc[u] {
				f.ap[u] = true
			}
		} else if f.disc[v] < f.low[u] {
			f.low[u] = f.disc[v]
		}
	}
	if isRoot && children > 1 {
		f.ap[u] = true
	}
}
