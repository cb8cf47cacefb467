// Package admin implements the bulk batch operations an operator (or a
// scheduled job) runs against the whole note graph: recompute embeddings,
// retag, rescore, and backfill canonical documents (spec §4.K). Every batch
// processes one note per transaction, checks for cancellation between
// pages, and reports progress per-note, grounded on
// internal/linking.Engine.RescoreAll's paged-ctx.Done() loop and
// cmd/backfill's linked/skipped/errors progress-counter style.
package admin

import (
	"context"
	"time"

	"github.com/bwl/forest/internal/document"
	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/embed"
	"github.com/bwl/forest/internal/normalize"
	"github.com/bwl/forest/internal/store"
)

// noteGraph abstracts the store.GraphStore operations this package needs.
type noteGraph interface {
	GetNote(ctx context.Context, id string) (domain.Note, error)
	SaveNote(ctx context.Context, n domain.Note) error
	ListNotes(ctx context.Context, offset, limit int) ([]domain.Note, error)
	AppendEvent(ctx context.Context, e domain.Event) (int64, error)
}

// vectorStore abstracts store.VectorIndex's upsert path.
type vectorStore interface {
	Upsert(ctx context.Context, vectors []store.NoteVector) error
}

// linker abstracts internal/linking.Engine's per-note rescore path; admin
// re-paginates itself (rather than delegating to Engine.RescoreAll) so it
// can report per-note progress.
type linker interface {
	RescoreOne(ctx context.Context, noteID string) error
}

// TagProvider rederives a note's explicit tags from its canonical text,
// treated as an LLM call with a per-call cost (spec §4.K "retagAll":
// "possibly via an external tagging provider; treated as an LLM call with
// cost tracking"). Grounded on internal/embed.Provider's narrow adapter
// shape, generalized from vectors to tag suggestions plus a cost figure no
// corpus embedding adapter needs to report.
type TagProvider interface {
	SuggestTags(ctx context.Context, canonicalText string) (tags []string, cost float64, err error)
}

// documentBackfiller abstracts internal/document.Service.Backfill.
type documentBackfiller interface {
	Backfill(ctx context.Context) (document.BackfillResult, error)
}

// eventPublisher abstracts internal/events.Bus.Publish.
type eventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Service composes the admin batch operations. Tagger, Documents, Linker,
// Vectors, and Bus may be nil to disable the operations that need them;
// RetagAll requires Tagger, BackfillCanonicalDocuments requires Documents.
type Service struct {
	Graph     noteGraph
	Vectors   vectorStore
	Embedder  embed.Provider
	Linker    linker
	Tagger    TagProvider
	Documents documentBackfiller
	Bus       eventPublisher
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Outcome classifies what happened to one note within a batch.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ProgressEvent is reported once per note processed by a batch (spec §4.K
// "Progress is reported per-note").
type ProgressEvent struct {
	NoteID  string
	Outcome Outcome
	Err     error
}

// Report summarizes a batch run, including partial counts when cancelled
// (spec §5 "on cancel ... returns a partial-progress report").
type Report struct {
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
	Cancelled bool
	Cost      float64 // cumulative TagProvider cost, for RetagAll
}

const pageSize = 200

// cancelled checks ctx and, if done, marks the report cancelled and returns
// a KindCancelled error; callers should return immediately when ok is true.
func cancelled(ctx context.Context, report *Report) (err error, ok bool) {
	select {
	case <-ctx.Done():
		report.Cancelled = true
		return domain.NewError(domain.KindCancelled, "admin batch cancelled"), true
	default:
		return nil, false
	}
}

func report(progress func(ProgressEvent), r *Report, noteID string, outcome Outcome, err error) {
	r.Processed++
	switch outcome {
	case OutcomeSucceeded:
		r.Succeeded++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	if progress != nil {
		progress(ProgressEvent{NoteID: noteID, Outcome: outcome, Err: err})
	}
}

// RecomputeOptions configures recomputeEmbeddings.
type RecomputeOptions struct {
	// Rescore, if true, runs RescoreAll once every note's embedding has been
	// recomputed (spec §4.K "If rescore, follow with rescoreAll()").
	Rescore bool
}

// RecomputeEmbeddings re-embeds every note with the configured provider and
// persists the new embedding and embeddingModel (spec §4.K
// "recomputeEmbeddings"). Resumable: a note whose embeddingModel already
// equals the current provider's is skipped, so restarting after a partial
// run or a provider upgrade only touches what's left to do.
func (s *Service) RecomputeEmbeddings(ctx context.Context, opts RecomputeOptions, progress func(ProgressEvent)) (Report, error) {
	r := Report{}
	if s.Embedder == nil {
		return r, domain.NewError(domain.KindValidationFailed, "recomputeEmbeddings requires an embedding provider")
	}

	offset := 0
	for {
		if err, done := cancelled(ctx, &r); done {
			return r, err
		}
		notes, err := s.Graph.ListNotes(ctx, offset, pageSize)
		if err != nil {
			return r, err
		}
		if len(notes) == 0 {
			break
		}
		for _, n := range notes {
			if n.EmbeddingModel == s.Embedder.ModelID() {
				report(progress, &r, n.ID, OutcomeSkipped, nil)
				continue
			}
			if err := s.recomputeOne(ctx, n); err != nil {
				report(progress, &r, n.ID, OutcomeFailed, err)
				continue
			}
			report(progress, &r, n.ID, OutcomeSucceeded, nil)
		}
		offset += len(notes)
	}

	if opts.Rescore && s.Linker != nil {
		if _, err := s.RescoreAll(ctx, nil); err != nil {
			return r, err
		}
	}
	return r, nil
}

func (s *Service) recomputeOne(ctx context.Context, n domain.Note) error {
	canonical := normalize.Normalize(n.Title, n.Body, n.Tags).CanonicalText
	vec, err := s.Embedder.Embed(ctx, canonical)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindEmbeddingUnavailable, domain.KindProviderRateLimited:
			return err // leave embeddingModel as-is so a retry is attempted next run
		default:
			return err
		}
	}
	if err := domain.ValidateEmbeddingDimension(vec, s.Embedder.Dimension()); err != nil {
		return err
	}
	n.Embedding = vec
	n.EmbeddingModel = s.Embedder.ModelID()
	n.UpdatedAt = s.now()
	if err := s.Graph.SaveNote(ctx, n); err != nil {
		return err
	}
	if s.Vectors != nil {
		if err := s.Vectors.Upsert(ctx, []store.NoteVector{{
			NoteID:    n.ID,
			Embedding: n.Embedding,
			Tags:      n.Tags,
			Origin:    string(n.Metadata.Origin),
			CreatedBy: string(n.Metadata.CreatedBy),
		}}); err != nil {
			return err
		}
	}
	return nil
}

// RetagOptions configures retagAll (spec §4.K "retagAll").
type RetagOptions struct {
	DryRun        bool
	Limit         int // 0 means no limit
	Skip          int // number of notes to skip before processing begins
	SkipUnchanged bool
}

// RetagAll rederives each note's tags via Tagger, comparing against the
// current tags and writing on difference unless DryRun (spec §4.K
// "retagAll").
func (s *Service) RetagAll(ctx context.Context, opts RetagOptions, progress func(ProgressEvent)) (Report, error) {
	r := Report{}
	if s.Tagger == nil {
		return r, domain.NewError(domain.KindValidationFailed, "retagAll requires a tag provider")
	}

	offset := 0
	skipRemaining := opts.Skip
	processed := 0
	for {
		if err, done := cancelled(ctx, &r); done {
			return r, err
		}
		notes, err := s.Graph.ListNotes(ctx, offset, pageSize)
		if err != nil {
			return r, err
		}
		if len(notes) == 0 {
			break
		}
		offset += len(notes)

		for _, n := range notes {
			if skipRemaining > 0 {
				skipRemaining--
				continue
			}
			if opts.Limit > 0 && processed >= opts.Limit {
				return r, nil
			}
			processed++

			if err := s.retagOne(ctx, n, opts, progress, &r); err != nil {
				report(progress, &r, n.ID, OutcomeFailed, err)
			}
		}
	}
	return r, nil
}

func (s *Service) retagOne(ctx context.Context, n domain.Note, opts RetagOptions, progress func(ProgressEvent), r *Report) error {
	canonical := normalize.Normalize(n.Title, n.Body, n.Tags).CanonicalText
	suggested, cost, err := s.Tagger.SuggestTags(ctx, canonical)
	if err != nil {
		return err
	}
	r.Cost += cost

	newTags := normalize.Normalize(n.Title, n.Body, suggested).Tags
	if tagsEqual(n.Tags, newTags) {
		if opts.SkipUnchanged {
			report(progress, r, n.ID, OutcomeSkipped, nil)
			return nil
		}
	}
	if opts.DryRun {
		report(progress, r, n.ID, OutcomeSucceeded, nil)
		return nil
	}

	before := map[string]any{"tags": n.Tags}
	n.Tags = newTags
	n.UpdatedAt = s.now()
	if err := s.Graph.SaveNote(ctx, n); err != nil {
		return err
	}
	if s.Vectors != nil && n.HasEmbedding() {
		if err := s.Vectors.Upsert(ctx, []store.NoteVector{{
			NoteID:    n.ID,
			Embedding: n.Embedding,
			Tags:      n.Tags,
			Origin:    string(n.Metadata.Origin),
			CreatedBy: string(n.Metadata.CreatedBy),
		}}); err != nil {
			return err
		}
	}
	if err := s.emit(ctx, domain.EventNodeUpdated, n.ID, before, map[string]any{"tags": n.Tags}); err != nil {
		return err
	}
	report(progress, r, n.ID, OutcomeSucceeded, nil)
	return nil
}

func tagsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RescoreAll recomputes edges for every note, reporting progress per-note
// (spec §4.K "rescoreAll"). Re-paginates itself rather than delegating to
// internal/linking.Engine.RescoreAll so it can surface a Report; per-note
// events are internal/linking's responsibility (emitted from RescoreOne).
func (s *Service) RescoreAll(ctx context.Context, progress func(ProgressEvent)) (Report, error) {
	r := Report{}
	if s.Linker == nil {
		return r, domain.NewError(domain.KindValidationFailed, "rescoreAll requires a linking engine")
	}

	offset := 0
	for {
		if err, done := cancelled(ctx, &r); done {
			return r, err
		}
		notes, err := s.Graph.ListNotes(ctx, offset, pageSize)
		if err != nil {
			return r, err
		}
		if len(notes) == 0 {
			break
		}
		for _, n := range notes {
			if err := s.Linker.RescoreOne(ctx, n.ID); err != nil {
				report(progress, &r, n.ID, OutcomeFailed, err)
				continue
			}
			report(progress, &r, n.ID, OutcomeSucceeded, nil)
		}
		offset += len(notes)
	}
	return r, nil
}

// BackfillCanonicalDocuments scans chunk notes and seeds missing
// document/chunk rows; idempotent (spec §4.K "backfillCanonicalDocuments").
// A thin delegate: internal/document already owns the chunk/document
// relationship and its own paging.
func (s *Service) BackfillCanonicalDocuments(ctx context.Context) (document.BackfillResult, error) {
	if s.Documents == nil {
		return document.BackfillResult{}, domain.NewError(domain.KindValidationFailed, "backfillCanonicalDocuments requires a document service")
	}
	return s.Documents.Backfill(ctx)
}

func (s *Service) emit(ctx context.Context, kind domain.EventKind, entityID string, before, after map[string]any) error {
	ev := domain.Event{Kind: kind, EntityID: entityID, Before: before, After: after, At: s.now()}
	seq, err := s.Graph.AppendEvent(ctx, ev)
	if err != nil {
		return err
	}
	ev.Sequence = seq
	if s.Bus == nil {
		return nil
	}
	return s.Bus.Publish(ctx, ev)
}
