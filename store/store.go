// Package store implements the durable per-segment entry store: media files,
// sidecar artifacts and a JSON index document, guarded by one mutex per
// segment.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/clipvault/model"
	"github.com/hupe1980/clipvault/sidecar"
)

// ErrNotFound is returned when an entry id is unknown to the segment.
var ErrNotFound = errors.New("entry not found")

// Embedder produces an embedding vector for a text, or no result (nil, nil)
// when the capability is unavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store owns one segment's entries, preferences, index file and media files.
//
// All mutation is serialized behind the store mutex; initialization is lazy
// and happens at most once per process lifetime behind the same mutex.
type Store struct {
	dir     string
	segment string
	embed   Embedder
	logger  *slog.Logger

	mu      sync.Mutex
	loaded  bool
	entries map[uuid.UUID]*model.VideoEntry
	prefs   model.UserPreferences
}

// New creates a store for one segment rooted at dir. embed may be nil; the
// store then defers embedding generation to the enrichment pipeline.
func New(dir, segment string, embed Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:     dir,
		segment: segment,
		embed:   embed,
		logger:  logger,
	}
}

// Dir returns the segment root directory.
func (s *Store) Dir() string { return s.dir }

// Segment returns the segment key this store is partitioned by.
func (s *Store) Segment() string { return s.segment }

// MediaPath resolves an entry's recorded video path against the segment root.
func (s *Store) MediaPath(entry *model.VideoEntry) string {
	return s.resolvePath(entry.VideoPath)
}

// SaveRequest carries caller-supplied metadata for a new entry.
type SaveRequest struct {
	Title       string
	Description string
	Tags        []string

	// Transcript and Embedding are optional pre-computed artifacts,
	// persisted as sidecars when present.
	Transcript string
	Embedding  []float32
}

// Save writes the media stream into the segment root, persists sidecars and
// inserts the entry into index and cache. Media or index write failures are
// fatal and roll the entry back; embedding generation failures are not.
func (s *Store) Save(ctx context.Context, media io.Reader, originalFileName string, req SaveRequest) (*model.VideoEntry, error) {
	return s.save(ctx, originalFileName, req, func(dst string) error {
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, media); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

// SaveFile moves an already-written file (an upload session's temp file) into
// the segment root instead of copying a stream.
func (s *Store) SaveFile(ctx context.Context, srcPath, originalFileName string, req SaveRequest) (*model.VideoEntry, error) {
	return s.save(ctx, originalFileName, req, func(dst string) error {
		if err := os.Rename(srcPath, dst); err == nil {
			return nil
		}
		// Rename can fail across devices; fall back to copy + remove.
		src, err := os.Open(srcPath)
		if err != nil {
			return err
		}
		defer src.Close()
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, src); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return os.Remove(srcPath)
	})
}

func (s *Store) save(ctx context.Context, originalFileName string, req SaveRequest, write func(dst string) error) (*model.VideoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create segment dir %q: %w", s.dir, err)
	}

	id := uuid.New()
	fileName := id.String() + strings.ToLower(filepath.Ext(originalFileName))
	mediaPath := filepath.Join(s.dir, fileName)

	if err := write(mediaPath); err != nil {
		_ = os.Remove(mediaPath)
		return nil, fmt.Errorf("store: write media for entry %s: %w", id, err)
	}

	entry := &model.VideoEntry{
		ID:          id,
		Title:       model.NormalizeTitle(req.Title),
		Description: strings.TrimSpace(req.Description),
		Tags:        model.NormalizeTags(req.Tags),
		VideoPath:   fileName,
		CreatedAt:   time.Now().UTC(),
		Status:      model.StatusNone,
	}

	if strings.TrimSpace(req.Transcript) != "" {
		if err := sidecar.WriteTranscript(mediaPath, req.Transcript); err != nil {
			s.logger.Warn("transcript sidecar write failed",
				"segment", s.segment, "entry", id, "error", err)
		}
	}

	switch {
	case len(req.Embedding) > 0:
		if err := sidecar.WriteEmbedding(mediaPath, req.Embedding); err != nil {
			s.logger.Warn("embedding sidecar write failed",
				"segment", s.segment, "entry", id, "error", err)
		} else {
			entry.Embedding = append([]float32(nil), req.Embedding...)
		}
	case entry.Description != "":
		entry.Embedding = s.computeEmbeddingLocked(ctx, entry.ID, mediaPath, entry.Description)
	}

	s.entries[id] = entry
	if err := s.persistLocked(); err != nil {
		delete(s.entries, id)
		_ = os.Remove(mediaPath)
		_ = sidecar.RemoveAll(mediaPath)
		return nil, err
	}

	s.logger.Info("entry saved", "segment", s.segment, "entry", id, "title", entry.Title)
	return entry.Clone(), nil
}

// computeEmbeddingLocked derives and persists a description embedding.
// Provider failures degrade to "no embedding" and are only logged.
func (s *Store) computeEmbeddingLocked(ctx context.Context, id uuid.UUID, mediaPath, description string) []float32 {
	if s.embed == nil {
		return nil
	}
	vector, err := s.embed.Embed(ctx, description)
	if err != nil {
		s.logger.Warn("embedding generation failed",
			"segment", s.segment, "entry", id, "error", err)
		return nil
	}
	if len(vector) == 0 {
		return nil
	}
	if err := sidecar.WriteEmbedding(mediaPath, vector); err != nil {
		s.logger.Warn("embedding sidecar write failed",
			"segment", s.segment, "entry", id, "error", err)
	}
	return vector
}

// List returns every entry of the segment ordered by creation time,
// descending, with embeddings hydrated from sidecar storage.
func (s *Store) List(ctx context.Context) ([]*model.VideoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	out := make([]*model.VideoEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		s.hydrateLocked(entry)
		out = append(out, entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns the entry or ErrNotFound, with its embedding hydrated.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.VideoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	entry, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("store: entry %s: %w", id, ErrNotFound)
	}
	s.hydrateLocked(entry)
	return entry.Clone(), nil
}

func (s *Store) hydrateLocked(entry *model.VideoEntry) {
	if entry.Embedding != nil {
		return
	}
	vector, ok, err := sidecar.ReadEmbedding(s.resolvePath(entry.VideoPath))
	if err != nil {
		s.logger.Warn("embedding hydration failed",
			"segment", s.segment, "entry", entry.ID, "error", err)
		return
	}
	if ok {
		entry.Embedding = vector
	}
}

// UpdateRequest mutates an entry. Nil pointer fields are left untouched; a
// nil Tags slice leaves the tag set unchanged.
type UpdateRequest struct {
	Title       *string
	Description *string
	Tags        []string
	CompletedAt *time.Time
}

// Update applies the request: the embedding is recomputed only when the
// description text actually changed, and a title change renames the backing
// file (plus sidecars) to "<timestamp> - <sanitized title>". Rename failures
// are non-fatal; the entry keeps its previous path.
func (s *Store) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*model.VideoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	entry, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("store: entry %s: %w", id, ErrNotFound)
	}

	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		if desc != entry.Description {
			entry.Description = desc
			mediaPath := s.resolvePath(entry.VideoPath)
			if desc == "" {
				entry.Embedding = nil
				if err := sidecar.WriteEmbedding(mediaPath, nil); err != nil {
					s.logger.Warn("embedding sidecar removal failed",
						"segment", s.segment, "entry", id, "error", err)
				}
			} else {
				entry.Embedding = s.computeEmbeddingLocked(ctx, id, mediaPath, desc)
			}
		}
	}

	if req.Tags != nil {
		entry.Tags = model.NormalizeTags(req.Tags)
	}

	if req.Title != nil {
		title := model.NormalizeTitle(*req.Title)
		if title != entry.Title {
			entry.Title = title
			s.renameMediaLocked(entry)
		}
	}

	if req.CompletedAt != nil {
		t := *req.CompletedAt
		entry.CompletedAt = &t
	}

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// renameMediaLocked renames the backing file after a title change. The record
// is only updated once the file exists at the new path; any failure keeps the
// old path intact.
func (s *Store) renameMediaLocked(entry *model.VideoEntry) {
	oldPath := s.resolvePath(entry.VideoPath)
	base := sanitizeFileName(fmt.Sprintf("%s - %s",
		entry.CreatedAt.Format("2006-01-02 15-04-05"), entry.Title))
	if base == "" {
		return
	}
	newName := base + filepath.Ext(entry.VideoPath)
	newPath := filepath.Join(s.dir, newName)
	if newPath == oldPath {
		return
	}

	if _, err := os.Stat(newPath); err == nil {
		s.logger.Warn("rename skipped, destination exists",
			"segment", s.segment, "entry", entry.ID, "dest", newName)
		return
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		s.logger.Warn("media rename failed",
			"segment", s.segment, "entry", entry.ID, "error", err)
		return
	}
	if err := sidecar.Rename(oldPath, newPath); err != nil {
		s.logger.Warn("sidecar rename failed",
			"segment", s.segment, "entry", entry.ID, "error", err)
	}

	entry.VideoPath = newName
}

// Delete physically removes the entry's media file and every sidecar
// ("deep delete"). It reports whether the entry existed.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return false, err
	}
	entry, ok := s.entries[id]
	if !ok {
		return false, nil
	}

	mediaPath := s.resolvePath(entry.VideoPath)
	if err := sidecar.Remove(mediaPath); err != nil {
		return false, fmt.Errorf("store: remove media for entry %s: %w", id, err)
	}
	if err := sidecar.RemoveAll(mediaPath); err != nil {
		return false, fmt.Errorf("store: remove sidecars for entry %s: %w", id, err)
	}

	delete(s.entries, id)
	if err := s.persistLocked(); err != nil {
		return false, err
	}

	s.logger.Info("entry deleted", "segment", s.segment, "entry", id)
	return true, nil
}

// SoftDelete removes the entry from the index but preserves its files,
// writing a serialized snapshot of the entry as a marker beside the media.
// Which tier applies is the caller's authorization decision.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return false, err
	}
	entry, ok := s.entries[id]
	if !ok {
		return false, nil
	}

	snapshot, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return false, fmt.Errorf("store: marshal delete marker for entry %s: %w", id, err)
	}
	mediaPath := s.resolvePath(entry.VideoPath)
	if err := os.WriteFile(sidecar.DeletedMarkerPath(mediaPath), snapshot, 0o644); err != nil {
		return false, fmt.Errorf("store: write delete marker for entry %s: %w", id, err)
	}

	delete(s.entries, id)
	if err := s.persistLocked(); err != nil {
		return false, err
	}

	s.logger.Info("entry soft-deleted", "segment", s.segment, "entry", id)
	return true, nil
}

// UpdateProcessingStatus is the pipeline's targeted status mutation.
func (s *Store) UpdateProcessingStatus(ctx context.Context, id uuid.UUID, status model.ProcessingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("store: entry %s: %w", id, ErrNotFound)
	}
	entry.Status = status
	if status == model.StatusCompleted && entry.CompletedAt == nil {
		now := time.Now().UTC()
		entry.CompletedAt = &now
	}
	return s.persistLocked()
}

// UpdateDescriptionEmbedding stores a freshly computed embedding (or removes
// it when vector is nil). Last write wins; embeddings derive solely from the
// description text.
func (s *Store) UpdateDescriptionEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("store: entry %s: %w", id, ErrNotFound)
	}

	if err := sidecar.WriteEmbedding(s.resolvePath(entry.VideoPath), vector); err != nil {
		return fmt.Errorf("store: write embedding for entry %s: %w", id, err)
	}
	if len(vector) == 0 {
		entry.Embedding = nil
	} else {
		entry.Embedding = append([]float32(nil), vector...)
	}
	return s.persistLocked()
}

// Preferences returns the segment's normalized preferences.
func (s *Store) Preferences(ctx context.Context) (model.UserPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return model.UserPreferences{}, err
	}
	return s.prefs, nil
}

// UpdatePreferences normalizes and persists the segment's preferences.
func (s *Store) UpdatePreferences(ctx context.Context, prefs model.UserPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	s.prefs = prefs.Normalize()
	return s.persistLocked()
}
