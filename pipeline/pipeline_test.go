package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/clipvault/model"
	"github.com/hupe1980/clipvault/sidecar"
	"github.com/hupe1980/clipvault/store"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) GenerateTranscript(ctx context.Context, mediaPath, language string) (string, error) {
	return f.text, f.err
}

type fakeSummarizer struct {
	text string
	err  error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, entry *model.VideoEntry, transcript string) (string, error) {
	return f.text, f.err
}

type fakeTitler struct {
	text string
	err  error
}

func (f *fakeTitler) GenerateTitle(ctx context.Context, entry *model.VideoEntry, summary string) (string, error) {
	return f.text, f.err
}

type fakeTagSuggester struct {
	tags []string
	err  error
}

func (f *fakeTagSuggester) SuggestTags(ctx context.Context, description string, favorites, existing []string) ([]string, error) {
	return f.tags, f.err
}

type panickingTranscriber struct{}

func (panickingTranscriber) GenerateTranscript(ctx context.Context, mediaPath, language string) (string, error) {
	panic("transcriber exploded")
}

type singleStoreResolver struct {
	st *store.Store
}

func (r singleStoreResolver) Store(segment string) (*store.Store, error) { return r.st, nil }

type recordingIndexer struct {
	mu         sync.Mutex
	entry      *model.VideoEntry
	transcript string
}

func (r *recordingIndexer) Reindex(ctx context.Context, segment string, entry *model.VideoEntry, transcript string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry = entry
	r.transcript = transcript
}

func (r *recordingIndexer) last() (*model.VideoEntry, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry, r.transcript
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(t.TempDir(), "alice", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestPipeline(t *testing.T, st *store.Store, providers Providers, indexer Indexer) *Pipeline {
	t.Helper()
	p := New(providers, DefaultFeatures(), singleStoreResolver{st}, indexer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Start()
	t.Cleanup(p.Close)
	return p
}

func saveEntry(t *testing.T, st *store.Store, req store.SaveRequest) *model.VideoEntry {
	t.Helper()
	entry, err := st.Save(context.Background(), strings.NewReader("video"), "clip.webm", req)
	require.NoError(t, err)
	return entry
}

func waitTerminal(t *testing.T, st *store.Store, id uuid.UUID) *model.VideoEntry {
	t.Helper()
	var entry *model.VideoEntry
	require.Eventually(t, func() bool {
		var err error
		entry, err = st.Get(context.Background(), id)
		if err != nil {
			return false
		}
		return entry.Status == model.StatusCompleted || entry.Status == model.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	return entry
}

func TestFullEnrichment(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpdatePreferences(context.Background(), model.UserPreferences{
		FavoriteTags: []string{"travel", "nightlife"},
	}))

	idx := &recordingIndexer{}
	p := newTestPipeline(t, st, Providers{
		Transcriber:  &fakeTranscriber{text: "we walked across the old bridge at sunset"},
		Summarizer:   &fakeSummarizer{text: "An evening walk across the old bridge."},
		Titler:       &fakeTitler{text: "Bridge at Sunset"},
		TagSuggester: &fakeTagSuggester{tags: []string{"travel"}},
	}, idx)

	entry := saveEntry(t, st, store.SaveRequest{})
	require.NoError(t, p.Submit(context.Background(), model.ProcessingRequest{
		Segment: "alice", EntryID: entry.ID,
	}))

	got := waitTerminal(t, st, entry.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "Bridge at Sunset", got.Title)
	assert.Equal(t, "An evening walk across the old bridge.", got.Description)
	assert.Equal(t, []string{"travel"}, got.Tags)
	assert.NotNil(t, got.CompletedAt)

	// The transcript landed in the sidecar file, never on the entry.
	text, ok, err := sidecar.ReadTranscript(st.MediaPath(got))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "we walked across the old bridge at sunset", text)

	indexed, transcript := idx.last()
	require.NotNil(t, indexed)
	assert.Equal(t, entry.ID, indexed.ID)
	assert.Equal(t, "we walked across the old bridge at sunset", transcript)
}

func TestUserProvidedTitleIsNeverOverwritten(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, Providers{
		Transcriber: &fakeTranscriber{text: "some words"},
		Summarizer:  &fakeSummarizer{text: "A summary."},
		Titler:      &fakeTitler{text: "Machine Title"},
	}, nil)

	entry := saveEntry(t, st, store.SaveRequest{Title: "My Trip"})
	require.NoError(t, p.Submit(context.Background(), model.ProcessingRequest{
		Segment: "alice", EntryID: entry.ID, UserProvidedTitle: true,
	}))

	got := waitTerminal(t, st, entry.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "My Trip", got.Title)
	assert.Equal(t, "A summary.", got.Description)
}

func TestSuggestedTagsOutsideFavoritesAreDiscarded(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpdatePreferences(context.Background(), model.UserPreferences{
		FavoriteTags: []string{"travel", "nightlife"},
	}))

	p := newTestPipeline(t, st, Providers{
		Transcriber:  &fakeTranscriber{text: "words"},
		Summarizer:   &fakeSummarizer{text: "Out on the town."},
		TagSuggester: &fakeTagSuggester{tags: []string{"Nightlife", "party", "drinks"}},
	}, nil)

	entry := saveEntry(t, st, store.SaveRequest{})
	require.NoError(t, p.Submit(context.Background(), model.ProcessingRequest{
		Segment: "alice", EntryID: entry.ID,
	}))

	got := waitTerminal(t, st, entry.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, []string{"Nightlife"}, got.Tags)
}

func TestStageFailureDegradesGracefully(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, Providers{
		Transcriber: &fakeTranscriber{text: "words"},
		Summarizer:  &fakeSummarizer{err: errors.New("summarizer down")},
		Titler:      &fakeTitler{text: "Never Used"},
	}, nil)

	entry := saveEntry(t, st, store.SaveRequest{})
	require.NoError(t, p.Submit(context.Background(), model.ProcessingRequest{
		Segment: "alice", EntryID: entry.ID,
	}))

	// The summary stage failed, so there is no description and therefore no
	// title either, but the run still completes.
	got := waitTerminal(t, st, entry.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, model.DefaultTitle, got.Title)
	assert.Empty(t, got.Description)
}

func TestPanicMarksEntryFailed(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, Providers{
		Transcriber: panickingTranscriber{},
	}, nil)

	entry := saveEntry(t, st, store.SaveRequest{})
	require.NoError(t, p.Submit(context.Background(), model.ProcessingRequest{
		Segment: "alice", EntryID: entry.ID,
	}))

	got := waitTerminal(t, st, entry.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
}

func TestEntryDeletedWhileQueuedIsSkipped(t *testing.T) {
	st := newTestStore(t)

	// Not started yet: the request sits in the queue while we delete.
	p := New(Providers{
		Transcriber: &fakeTranscriber{text: "words"},
	}, DefaultFeatures(), singleStoreResolver{st}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	entry := saveEntry(t, st, store.SaveRequest{})
	require.NoError(t, p.Submit(context.Background(), model.ProcessingRequest{
		Segment: "alice", EntryID: entry.ID,
	}))

	ok, err := st.Delete(context.Background(), entry.ID)
	require.NoError(t, err)
	require.True(t, ok)

	p.Start()
	defer p.Close()

	require.Eventually(t, func() bool {
		return p.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRecoverReenqueuesInProgressEntries(t *testing.T) {
	st := newTestStore(t)

	stale := saveEntry(t, st, store.SaveRequest{})
	require.NoError(t, st.UpdateProcessingStatus(context.Background(), stale.ID, model.StatusInProgress))
	finished := saveEntry(t, st, store.SaveRequest{})
	require.NoError(t, st.UpdateProcessingStatus(context.Background(), finished.ID, model.StatusCompleted))

	p := newTestPipeline(t, st, Providers{
		Transcriber: &fakeTranscriber{text: "recovered words"},
		Summarizer:  &fakeSummarizer{text: "A recovered summary."},
		Titler:      &fakeTitler{text: "Recovered Title"},
	}, nil)

	require.NoError(t, p.Recover(context.Background(), []string{"alice"}))

	got := waitTerminal(t, st, stale.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "Recovered Title", got.Title)
}

func TestRecoverKeepsNonDefaultTitle(t *testing.T) {
	st := newTestStore(t)

	// The user-title flag is lost across restarts; a non-default title is
	// treated as user-provided.
	stale := saveEntry(t, st, store.SaveRequest{Title: "My Trip"})
	require.NoError(t, st.UpdateProcessingStatus(context.Background(), stale.ID, model.StatusInProgress))

	p := newTestPipeline(t, st, Providers{
		Transcriber: &fakeTranscriber{text: "words"},
		Summarizer:  &fakeSummarizer{text: "A summary."},
		Titler:      &fakeTitler{text: "Machine Title"},
	}, nil)

	require.NoError(t, p.Recover(context.Background(), []string{"alice"}))

	got := waitTerminal(t, st, stale.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "My Trip", got.Title)
}

func TestExistingTranscriptSidecarIsReused(t *testing.T) {
	st := newTestStore(t)

	entry := saveEntry(t, st, store.SaveRequest{Transcript: "already transcribed"})

	transcriber := &fakeTranscriber{text: "should not be used"}
	idx := &recordingIndexer{}
	p := newTestPipeline(t, st, Providers{
		Transcriber: transcriber,
		Summarizer:  &fakeSummarizer{text: "Summary from existing transcript."},
	}, idx)

	require.NoError(t, p.Submit(context.Background(), model.ProcessingRequest{
		Segment: "alice", EntryID: entry.ID,
	}))

	got := waitTerminal(t, st, entry.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "Summary from existing transcript.", got.Description)

	_, transcript := idx.last()
	assert.Equal(t, "already transcribed", transcript)
}

func TestNoProvidersStillCompletes(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, Providers{}, nil)

	entry := saveEntry(t, st, store.SaveRequest{Title: "Plain", Description: "kept as-is"})
	require.NoError(t, p.Submit(context.Background(), model.ProcessingRequest{
		Segment: "alice", EntryID: entry.ID, UserProvidedTitle: true,
	}))

	got := waitTerminal(t, st, entry.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "Plain", got.Title)
	assert.Equal(t, "kept as-is", got.Description)
}

func TestCloseIsIdempotent(t *testing.T) {
	p := New(Providers{}, DefaultFeatures(), singleStoreResolver{newTestStore(t)}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Start()
	p.Close()
	p.Close()
}
