package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bwl/forest/internal/admin"
	"github.com/bwl/forest/internal/document"
	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/ingest"
	"github.com/bwl/forest/internal/search"
	"github.com/bwl/forest/internal/store"
	"github.com/bwl/forest/internal/temporal"
	"github.com/bwl/forest/internal/topology"
)

// serverDeps is the composition root's handler-construction bundle.
type serverDeps struct {
	store    *store.Store
	notes    *ingest.Service
	docs     *document.Service
	search   *search.Service
	topology *topology.Service
	temporal *temporal.Service
	admin    *admin.Service
	logger   *slog.Logger
}

func newMux(d serverDeps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", d.handleHealth)
	mux.Handle("GET /metrics", reg.Handler())

	mux.HandleFunc("POST /api/v1/notes", instrumentRoute("capture_note", d.handleCaptureNote))
	mux.HandleFunc("GET /api/v1/notes/{id}", instrumentRoute("get_note", d.handleGetNote))
	mux.HandleFunc("PATCH /api/v1/notes/{id}", instrumentRoute("update_note", d.handleUpdateNote))
	mux.HandleFunc("DELETE /api/v1/notes/{id}", instrumentRoute("delete_note", d.handleDeleteNote))

	mux.HandleFunc("GET /api/v1/search/semantic", instrumentRoute("semantic_search", d.handleSemanticSearch))
	mux.HandleFunc("GET /api/v1/search/metadata", instrumentRoute("metadata_search", d.handleMetadataSearch))
	mux.HandleFunc("GET /api/v1/notes/{id}/neighborhood", instrumentRoute("neighborhood", d.handleNeighborhood))

	mux.HandleFunc("POST /api/v1/documents", instrumentRoute("import_document", d.handleImportDocument))
	mux.HandleFunc("DELETE /api/v1/documents/{id}", instrumentRoute("delete_document", d.handleDeleteDocument))

	mux.HandleFunc("GET /api/v1/context", instrumentRoute("context", d.handleContext))

	mux.HandleFunc("POST /api/v1/snapshots", instrumentRoute("create_snapshot", d.handleCreateSnapshot))
	mux.HandleFunc("GET /api/v1/snapshots", instrumentRoute("list_snapshots", d.handleListSnapshots))
	mux.HandleFunc("GET /api/v1/diff", instrumentRoute("diff", d.handleDiff))
	mux.HandleFunc("GET /api/v1/growth", instrumentRoute("growth", d.handleGrowth))

	mux.HandleFunc("POST /api/v1/admin/recompute-embeddings", instrumentRoute("admin_recompute_embeddings", d.handleRecomputeEmbeddings))
	mux.HandleFunc("POST /api/v1/admin/retag", instrumentRoute("admin_retag", d.handleRetagAll))
	mux.HandleFunc("POST /api/v1/admin/rescore", instrumentRoute("admin_rescore", d.handleRescoreAll))
	mux.HandleFunc("POST /api/v1/admin/backfill-documents", instrumentRoute("admin_backfill_documents", d.handleBackfillDocuments))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindValidationFailed, domain.KindAmbiguousReference, domain.KindDimensionMismatch:
		status = http.StatusBadRequest
	case domain.KindConflictingState, domain.KindDocumentIntegrityViolation:
		status = http.StatusConflict
	case domain.KindProviderRateLimited:
		status = http.StatusTooManyRequests
	case domain.KindCancelled:
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (d serverDeps) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := d.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Notes ---

type captureRequest struct {
	Title    string              `json:"title"`
	Body     string              `json:"body"`
	Tags     []string            `json:"tags"`
	Metadata domain.NoteMetadata `json:"metadata"`
}

func (d serverDeps) handleCaptureNote(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	note, err := d.notes.CaptureNote(r.Context(), ingest.CaptureInput{
		Title: req.Title, Body: req.Body, Tags: req.Tags, Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (d serverDeps) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := d.store.Graph.GetNote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

type updateRequest struct {
	Title *string   `json:"title,omitempty"`
	Body  *string   `json:"body,omitempty"`
	Tags  *[]string `json:"tags,omitempty"`
}

func (d serverDeps) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	note, err := d.notes.UpdateNote(r.Context(), r.PathValue("id"), ingest.UpdateInput{
		Title: req.Title, Body: req.Body, Tags: req.Tags,
	})
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (d serverDeps) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := d.notes.DeleteNote(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, d.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Search ---

func (d serverDeps) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := d.search.SemanticSearch(r.Context(), search.SemanticQuery{
		QueryText: q.Get("q"),
		Limit:     queryInt(q, "limit", 20),
		Offset:    queryInt(q, "offset", 0),
		MinScore:  queryFloat(q, "min_score", 0),
		Tags:      q["tag"],
	})
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d serverDeps) handleMetadataSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	notes, total, err := d.search.MetadataSearch(r.Context(), search.Filters{
		Title:   q.Get("title"),
		Term:    q.Get("term"),
		TagsAll: q["tag_all"],
		TagsAny: q["tag_any"],
		Limit:   queryInt(q, "limit", 20),
	})
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes, "total": total})
}

func (d serverDeps) handleNeighborhood(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := d.search.Neighborhood(r.Context(), r.PathValue("id"), queryInt(q, "depth", 1), queryInt(q, "limit", 25))
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Documents ---

type importRequest struct {
	Title       string                  `json:"title"`
	Body        string                  `json:"body"`
	Metadata    domain.DocumentMetadata `json:"metadata"`
	IncludeRoot bool                    `json:"include_root"`
}

func (d serverDeps) handleImportDocument(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	result, err := d.docs.Import(r.Context(), req.Title, req.Body, req.Metadata, req.IncludeRoot)
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (d serverDeps) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := d.docs.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, d.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Topology ---

func (d serverDeps) handleContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := d.topology.Context(r.Context(), topology.ContextQuery{
		Tag:    q.Get("tag"),
		Query:  q.Get("q"),
		Budget: queryInt(q, "budget", 2000),
	})
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Temporal ---

func (d serverDeps) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshotType := domain.SnapshotManual
	if v := r.URL.Query().Get("type"); v != "" {
		snapshotType = domain.SnapshotType(v)
	}
	snap, err := d.temporal.CreateSnapshot(r.Context(), snapshotType)
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (d serverDeps) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snaps, err := d.temporal.ListSnapshots(r.Context(), temporal.ListQuery{
		SnapshotType: domain.SnapshotType(q.Get("type")),
		Limit:        queryInt(q, "limit", 50),
	})
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (d serverDeps) handleDiff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since := time.Now().Add(-24 * time.Hour)
	if v := q.Get("since"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			since = parsed
		}
	}
	result, err := d.temporal.Diff(r.Context(), temporal.DiffQuery{
		Since:      since,
		NodeLimit:  queryInt(q, "node_limit", 200),
		EdgeLimit:  queryInt(q, "edge_limit", 200),
		ScoreNoise: queryFloat(q, "score_noise", 0.02),
	})
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d serverDeps) handleGrowth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since := time.Now().Add(-30 * 24 * time.Hour)
	if v := q.Get("since"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			since = parsed
		}
	}
	points, err := d.temporal.Growth(r.Context(), temporal.GrowthQuery{
		Since: since,
		Limit: queryInt(q, "limit", 100),
	})
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// --- Admin batches ---

func (d serverDeps) handleRecomputeEmbeddings(w http.ResponseWriter, r *http.Request) {
	mBatchRun("recompute_embeddings").Inc()
	report, err := d.admin.RecomputeEmbeddings(r.Context(), admin.RecomputeOptions{
		Rescore: r.URL.Query().Get("rescore") == "true",
	}, nil)
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (d serverDeps) handleRetagAll(w http.ResponseWriter, r *http.Request) {
	mBatchRun("retag_all").Inc()
	q := r.URL.Query()
	report, err := d.admin.RetagAll(r.Context(), admin.RetagOptions{
		DryRun:        q.Get("dry_run") == "true",
		Limit:         queryInt(q, "limit", 0),
		SkipUnchanged: q.Get("skip_unchanged") == "true",
	}, nil)
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (d serverDeps) handleRescoreAll(w http.ResponseWriter, r *http.Request) {
	mBatchRun("rescore_all").Inc()
	report, err := d.admin.RescoreAll(r.Context(), nil)
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (d serverDeps) handleBackfillDocuments(w http.ResponseWriter, r *http.Request) {
	mBatchRun("backfill_documents").Inc()
	result, err := d.admin.BackfillCanonicalDocuments(r.Context())
	if err != nil {
		writeError(w, d.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Query helpers ---

func queryInt(q map[string][]string, key string, fallback int) int {
	v, ok := q[key]
	if !ok || len(v) == 0 || v[0] == "" {
		return fallback
	}
	n, err := strconv.Atoi(v[0])
	if err != nil {
		return fallback
	}
	return n
}

func queryFloat(q map[string][]string, key string, fallback float64) float64 {
	v, ok := q[key]
	if !ok || len(v) == 0 || v[0] == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v[0], 64)
	if err != nil {
		return fallback
	}
	return f
}
