// Package sidecar reads and writes the derived-artifact files stored next to
// a media file: transcript text, embedding vector, and the soft-delete marker.
//
// A sidecar shares the media file's base name with a different extension, so
// renaming a recording carries its artifacts along.
package sidecar

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/clipvault/embedding"
)

const (
	// TranscriptExt is the extension of transcript sidecar files.
	TranscriptExt = ".txt"
	// EmbeddingExt is the extension of embedding sidecar files.
	EmbeddingExt = ".embeddings"
	// DeletedExt is the extension of soft-delete marker files.
	DeletedExt = ".DELETED"
)

// Path derives the sidecar path for a media path by swapping the extension.
func Path(mediaPath, ext string) string {
	return strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath)) + ext
}

// TranscriptPath returns the transcript sidecar path for a media file.
func TranscriptPath(mediaPath string) string { return Path(mediaPath, TranscriptExt) }

// EmbeddingPath returns the embedding sidecar path for a media file.
func EmbeddingPath(mediaPath string) string { return Path(mediaPath, EmbeddingExt) }

// DeletedMarkerPath returns the soft-delete marker path for a media file.
func DeletedMarkerPath(mediaPath string) string { return Path(mediaPath, DeletedExt) }

// ReadTranscript returns the transcript next to mediaPath.
// Whitespace-only content is treated as absent.
func ReadTranscript(mediaPath string) (string, bool, error) {
	data, err := os.ReadFile(TranscriptPath(mediaPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", false, nil
	}
	return text, true, nil
}

// WriteTranscript stores the transcript next to mediaPath.
func WriteTranscript(mediaPath, text string) error {
	return os.WriteFile(TranscriptPath(mediaPath), []byte(text), 0o644)
}

// ReadEmbedding returns the embedding vector next to mediaPath, decoding
// legacy payload formats transparently.
func ReadEmbedding(mediaPath string) ([]float32, bool, error) {
	data, err := os.ReadFile(EmbeddingPath(mediaPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	vector, err := embedding.Decode(data)
	if err != nil {
		return nil, false, err
	}
	if len(vector) == 0 {
		return nil, false, nil
	}
	return vector, true, nil
}

// WriteEmbedding stores the vector next to mediaPath in the current format.
// A nil vector removes the sidecar.
func WriteEmbedding(mediaPath string, vector []float32) error {
	if len(vector) == 0 {
		return Remove(EmbeddingPath(mediaPath))
	}
	return os.WriteFile(EmbeddingPath(mediaPath), embedding.Encode(vector), 0o644)
}

// Remove deletes a single file, treating "already gone" as success.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveAll deletes every sidecar belonging to mediaPath.
func RemoveAll(mediaPath string) error {
	for _, ext := range []string{TranscriptExt, EmbeddingExt, DeletedExt} {
		if err := Remove(Path(mediaPath, ext)); err != nil {
			return err
		}
	}
	return nil
}

// Rename moves every existing sidecar from oldMedia to newMedia.
// Missing sidecars are skipped.
func Rename(oldMedia, newMedia string) error {
	for _, ext := range []string{TranscriptExt, EmbeddingExt, DeletedExt} {
		oldPath := Path(oldMedia, ext)
		if _, err := os.Stat(oldPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := os.Rename(oldPath, Path(newMedia, ext)); err != nil {
			return err
		}
	}
	return nil
}
