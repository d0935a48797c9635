// Package search serves hybrid keyword/semantic queries over one segment's
// enriched entries.
//
// The index is a read-derived, eventually-consistent projection of the entry
// store: it holds its own transcript-inclusive copy of every entry, hydrated
// lazily once per process, and is never serialized back.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/clipvault/distance"
	"github.com/hupe1980/clipvault/model"
	"github.com/hupe1980/clipvault/sidecar"
	"github.com/hupe1980/clipvault/store"
)

// MaxResults caps the result set of a single query.
const MaxResults = 25

// keywordScore is the fixed relevance assigned to keyword matches; keyword
// search ranks by recency only.
const keywordScore = 1.0

// Embedder produces an embedding vector for a query or description text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Query is a hybrid search request. VectorQuery takes precedence when
// semantic search is available; Keyword is the fallback path.
type Query struct {
	Keyword     string
	VectorQuery string
}

// Result pairs an entry with its relevance score.
type Result struct {
	Entry *model.VideoEntry
	Score float64
}

type indexed struct {
	entry      *model.VideoEntry
	transcript string
	vector     []float32
}

// Index is the in-memory hybrid index for one segment.
type Index struct {
	store    *store.Store
	embedder Embedder
	semantic bool
	logger   *slog.Logger

	mu       sync.Mutex
	hydrated bool
	entries  map[uuid.UUID]*indexed
}

// New creates an index over the given store. embedder may be nil; semantic
// search is then effectively disabled regardless of the flag.
func New(st *store.Store, embedder Embedder, semantic bool, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		store:    st,
		embedder: embedder,
		semantic: semantic,
		logger:   logger,
		entries:  make(map[uuid.UUID]*indexed),
	}
}

// Index upserts an entry. A missing transcript is hydrated from the sidecar
// store; a missing embedding is hydrated from the entry or generated and
// written back through the store when semantic search is enabled.
func (i *Index) Index(ctx context.Context, entry *model.VideoEntry, transcript string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.hydrateLocked(ctx); err != nil {
		i.logger.Warn("index hydration failed", "error", err)
	}
	i.indexLocked(ctx, entry, transcript)
}

func (i *Index) indexLocked(ctx context.Context, entry *model.VideoEntry, transcript string) {
	entry = entry.Clone()

	if transcript == "" {
		if text, ok, err := sidecar.ReadTranscript(i.store.MediaPath(entry)); err != nil {
			i.logger.Warn("transcript hydration failed", "entry", entry.ID, "error", err)
		} else if ok {
			transcript = text
		}
	}

	vector := entry.Embedding
	if i.semantic && vector == nil && i.embedder != nil && entry.Description != "" {
		generated, err := i.embedder.Embed(ctx, entry.Description)
		switch {
		case err != nil:
			i.logger.Warn("embedding generation failed", "entry", entry.ID, "error", err)
		case len(generated) > 0:
			vector = generated
			// Write back so the next hydration is a sidecar read.
			if err := i.store.UpdateDescriptionEmbedding(ctx, entry.ID, generated); err != nil {
				i.logger.Warn("embedding write-back failed", "entry", entry.ID, "error", err)
			}
		}
	}

	i.entries[entry.ID] = &indexed{
		entry:      entry,
		transcript: transcript,
		vector:     vector,
	}
}

// Remove evicts an entry from the in-memory projection. Backing files are
// untouched.
func (i *Index) Remove(id uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.entries, id)
}

// Len returns the number of indexed entries.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return len(i.entries)
}

// Search answers a hybrid query: the semantic path first when requested and
// available, with keyword search as the fallback.
func (i *Index) Search(ctx context.Context, q Query) ([]Result, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.hydrateLocked(ctx); err != nil {
		return nil, err
	}

	if q.VectorQuery != "" && i.semantic && i.embedder != nil {
		results := i.vectorSearchLocked(ctx, q.VectorQuery)
		if len(results) > 0 {
			return results, nil
		}
	}

	if q.Keyword == "" {
		return nil, nil
	}
	return i.keywordSearchLocked(q.Keyword), nil
}

func (i *Index) vectorSearchLocked(ctx context.Context, text string) []Result {
	queryVec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		i.logger.Warn("query embedding failed", "error", err)
		return nil
	}
	if len(queryVec) == 0 {
		return nil
	}

	var results []Result
	for _, item := range i.entries {
		if len(item.vector) == 0 {
			continue
		}
		score := distance.Cosine(queryVec, item.vector)
		if score <= 0 {
			continue
		}
		results = append(results, Result{Entry: item.entry.Clone(), Score: score})
	}

	sortResults(results)
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}
	return results
}

func (i *Index) keywordSearchLocked(keyword string) []Result {
	needle := strings.ToLower(keyword)

	var results []Result
	for _, item := range i.entries {
		haystack := strings.ToLower(item.entry.Title) + "\n" +
			strings.ToLower(item.entry.Description) + "\n" +
			strings.ToLower(item.transcript)
		if !strings.Contains(haystack, needle) {
			continue
		}
		results = append(results, Result{Entry: item.entry.Clone(), Score: keywordScore})
	}

	sortResults(results)
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}
	return results
}

// sortResults orders by score descending, breaking ties by newest first.
func sortResults(results []Result) {
	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Entry.CreatedAt.After(results[b].Entry.CreatedAt)
	})
}

// hydrateLocked fills the index from the store's full listing, once per
// process lifetime. Concurrent first-queries are serialized by the index
// mutex, so the listing is never loaded twice.
func (i *Index) hydrateLocked(ctx context.Context) error {
	if i.hydrated {
		return nil
	}

	entries, err := i.store.List(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		i.indexLocked(ctx, entry, "")
	}

	i.hydrated = true
	i.logger.Debug("search index hydrated", "segment", i.store.Segment(), "entries", len(entries))
	return nil
}
