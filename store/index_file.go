package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/clipvault/embedding"
	"github.com/hupe1980/clipvault/model"
	"github.com/hupe1980/clipvault/sidecar"
)

const (
	// IndexFileName is the per-segment index file.
	IndexFileName = "entries.json"

	// indexVersion is the current index document shape. Older shapes are
	// accepted on read and rewritten in this shape once.
	indexVersion = 3
)

// storedEntry is the on-disk representation of an entry. The inline fields
// only ever appear in legacy documents; current documents keep transcripts
// and embeddings in sidecar files.
type storedEntry struct {
	model.VideoEntry

	InlineEmbedding  []byte `json:"embedding,omitempty"`
	InlineTranscript string `json:"transcript,omitempty"`
}

// indexDocument is the current index shape.
type indexDocument struct {
	Version     int                   `json:"version"`
	Entries     []*storedEntry        `json:"entries"`
	Preferences model.UserPreferences `json:"preferences"`
}

// legacyDocument is the prior "entries + preferences" shape (no version).
type legacyDocument struct {
	Entries     []*storedEntry        `json:"entries"`
	Preferences model.UserPreferences `json:"preferences"`
}

// loadLocked reads the index file, attempting the known shapes from newest
// to oldest, migrates legacy payloads into sidecars and rewrites the file in
// the current shape when anything changed. Caller holds s.mu.
func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}

	s.entries = make(map[uuid.UUID]*model.VideoEntry)
	s.prefs = model.UserPreferences{}.Normalize()

	data, err := os.ReadFile(filepath.Join(s.dir, IndexFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("store: read index for segment %q: %w", s.segment, err)
	}

	stored, prefs, current := decodeIndex(data)
	s.prefs = prefs.Normalize()

	migrated := !current
	for _, se := range stored {
		entry := se.VideoEntry
		entry.Title = model.NormalizeTitle(entry.Title)
		entry.Tags = model.NormalizeTags(entry.Tags)
		if entry.Status == "" {
			entry.Status = model.StatusNone
		}
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
			migrated = true
		}

		media := s.resolvePath(entry.VideoPath)

		if len(se.InlineEmbedding) > 0 {
			if vec, err := embedding.Decode(se.InlineEmbedding); err != nil {
				s.logger.Warn("dropping undecodable inline embedding",
					"segment", s.segment, "entry", entry.ID, "error", err)
			} else if _, ok, _ := sidecar.ReadEmbedding(media); !ok {
				if err := sidecar.WriteEmbedding(media, vec); err != nil {
					s.logger.Warn("inline embedding migration failed",
						"segment", s.segment, "entry", entry.ID, "error", err)
				}
			}
			migrated = true
		}

		if strings.TrimSpace(se.InlineTranscript) != "" {
			if _, ok, _ := sidecar.ReadTranscript(media); !ok {
				if err := sidecar.WriteTranscript(media, se.InlineTranscript); err != nil {
					s.logger.Warn("inline transcript migration failed",
						"segment", s.segment, "entry", entry.ID, "error", err)
				}
			}
			migrated = true
		}

		s.entries[entry.ID] = &entry
	}

	s.loaded = true

	if migrated {
		if err := s.persistLocked(); err != nil {
			return err
		}
		s.logger.Info("index migrated to current shape",
			"segment", s.segment, "entries", len(s.entries))
	}

	return nil
}

// decodeIndex attempts the three known index shapes in order: current
// versioned document, legacy entries+preferences document, bare entry array.
// Each failed attempt falls through silently; the last attempt is the most
// permissive. The boolean reports whether the current shape matched.
func decodeIndex(data []byte) ([]*storedEntry, model.UserPreferences, bool) {
	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err == nil && doc.Version > 0 {
		return doc.Entries, doc.Preferences, true
	}

	var legacy legacyDocument
	if err := json.Unmarshal(data, &legacy); err == nil && legacy.Entries != nil {
		return legacy.Entries, legacy.Preferences, false
	}

	var bare []*storedEntry
	if err := json.Unmarshal(data, &bare); err == nil {
		return bare, model.UserPreferences{}, false
	}

	return nil, model.UserPreferences{}, false
}

// persistLocked rewrites the index file atomically: marshal to a temp file in
// the same directory, then rename over the old index. A failed write never
// corrupts the previously valid index. Caller holds s.mu.
func (s *Store) persistLocked() error {
	stored := make([]*storedEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		stored = append(stored, &storedEntry{VideoEntry: *entry})
	}
	sort.Slice(stored, func(i, j int) bool {
		return stored[i].CreatedAt.Before(stored[j].CreatedAt)
	})

	doc := indexDocument{
		Version:     indexVersion,
		Entries:     stored,
		Preferences: s.prefs,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal index for segment %q: %w", s.segment, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: create segment dir %q: %w", s.dir, err)
	}

	target := filepath.Join(s.dir, IndexFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write index temp for segment %q: %w", s.segment, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: replace index for segment %q: %w", s.segment, err)
	}

	return nil
}
