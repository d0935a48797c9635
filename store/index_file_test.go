package store

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/clipvault/embedding"
	"github.com/hupe1980/clipvault/model"
	"github.com/hupe1980/clipvault/sidecar"
)

func writeIndex(t *testing.T, dir string, payload any) {
	t.Helper()
	data, err := json.MarshalIndent(payload, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName), data, 0o644))
}

func readIndexDocument(t *testing.T, dir string) indexDocument {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, IndexFileName))
	require.NoError(t, err)
	var doc indexDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestLoadMissingIndexStartsEmpty(t *testing.T) {
	s := New(t.TempDir(), "alice", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	prefs, err := s.Preferences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTranscriptLanguage, prefs.TranscriptLanguage)
}

func TestLoadBareArrayShapeIsMigrated(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id.String()+".webm"), []byte("v"), 0o644))

	writeIndex(t, dir, []*storedEntry{{
		VideoEntry: model.VideoEntry{
			ID:        id,
			Title:     "Old entry",
			VideoPath: id.String() + ".webm",
			CreatedAt: time.Now().UTC(),
		},
		InlineTranscript: "spoken inline",
		InlineEmbedding:  embedding.Encode([]float32{0.5, -2}),
	}})

	s := New(dir, "alice", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	entries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Old entry", entries[0].Title)
	assert.Equal(t, model.StatusNone, entries[0].Status)
	assert.Equal(t, []float32{0.5, -2}, entries[0].Embedding)

	// Inline artifacts moved into sidecar files.
	media := filepath.Join(dir, id.String()+".webm")
	text, ok, err := sidecar.ReadTranscript(media)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "spoken inline", text)

	vec, ok, err := sidecar.ReadEmbedding(media)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, -2}, vec)

	// The file was rewritten in the current shape with inline fields gone.
	doc := readIndexDocument(t, dir)
	assert.Equal(t, indexVersion, doc.Version)
	require.Len(t, doc.Entries, 1)
	assert.Empty(t, doc.Entries[0].InlineEmbedding)
	assert.Empty(t, doc.Entries[0].InlineTranscript)
}

func TestLoadLegacyDocumentKeepsPreferences(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	writeIndex(t, dir, legacyDocument{
		Entries: []*storedEntry{{
			VideoEntry: model.VideoEntry{
				ID:        id,
				Title:     "Legacy",
				VideoPath: id.String() + ".webm",
				CreatedAt: time.Now().UTC(),
				Status:    model.StatusCompleted,
			},
		}},
		Preferences: model.UserPreferences{
			TranscriptLanguage: "fr-FR",
			FavoriteTags:       []string{"travel"},
		},
	})

	s := New(dir, "alice", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	prefs, err := s.Preferences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fr-FR", prefs.TranscriptLanguage)
	assert.Equal(t, []string{"travel"}, prefs.FavoriteTags)

	doc := readIndexDocument(t, dir)
	assert.Equal(t, indexVersion, doc.Version)
	assert.Equal(t, "fr-FR", doc.Preferences.TranscriptLanguage)
}

func TestLoadAssignsMissingIDs(t *testing.T) {
	dir := t.TempDir()

	writeIndex(t, dir, []*storedEntry{{
		VideoEntry: model.VideoEntry{
			Title:     "No id",
			VideoPath: "no-id.webm",
			CreatedAt: time.Now().UTC(),
		},
	}})

	s := New(dir, "alice", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	entries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEqual(t, uuid.Nil, entries[0].ID)
}

func TestLoadNormalizesLegacyFields(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	writeIndex(t, dir, []*storedEntry{{
		VideoEntry: model.VideoEntry{
			ID:        id,
			Title:     "   ",
			Tags:      []string{"Trip", "trip", " "},
			VideoPath: id.String() + ".webm",
			CreatedAt: time.Now().UTC(),
		},
	}})

	s := New(dir, "alice", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	entry, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, entry.Title)
	assert.Equal(t, []string{"Trip"}, entry.Tags)
	assert.Equal(t, model.StatusNone, entry.Status)
}

func TestPersistLeavesNoTempFile(t *testing.T) {
	s := New(t.TempDir(), "alice", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, s.UpdatePreferences(context.Background(), model.UserPreferences{}))

	assert.FileExists(t, filepath.Join(s.Dir(), IndexFileName))
	assert.NoFileExists(t, filepath.Join(s.Dir(), IndexFileName+".tmp"))
}

func TestCorruptIndexStartsEmptyButRewrites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName), []byte("{not json"), 0o644))

	s := New(dir, "alice", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	entries, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	doc := readIndexDocument(t, dir)
	assert.Equal(t, indexVersion, doc.Version)
}
