package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is assigned to entries whose title normalizes to empty.
const DefaultTitle = "Untitled"

// DefaultTranscriptLanguage is used when preferences carry no language.
const DefaultTranscriptLanguage = "en-US"

// ProcessingStatus tracks how far the enrichment pipeline got with an entry.
type ProcessingStatus string

const (
	// StatusNone means enrichment was never requested for the entry.
	StatusNone ProcessingStatus = "none"
	// StatusInProgress means the entry is enqueued or actively being processed.
	// Entries found in this state on startup are treated as crashed mid-run
	// and are re-enqueued.
	StatusInProgress ProcessingStatus = "inprogress"
	// StatusCompleted means the worker finished, whether or not any optional
	// stage produced output.
	StatusCompleted ProcessingStatus = "completed"
	// StatusFailed means the worker hit an unhandled error. The state is
	// terminal but retryable by resubmission.
	StatusFailed ProcessingStatus = "failed"
)

// VideoEntry is a single diary recording plus its derived attributes.
//
// The embedding is never serialized inline; it is materialized from the
// entry's sidecar file on read and carried only in memory.
type VideoEntry struct {
	ID          uuid.UUID        `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	VideoPath   string           `json:"videoPath"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Status      ProcessingStatus `json:"processingStatus"`

	// Embedding is the cached description embedding, hydrated on demand.
	Embedding []float32 `json:"-"`
}

// Clone returns a deep copy so callers can hold entries without racing
// against store mutations.
func (e *VideoEntry) Clone() *VideoEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	if e.Embedding != nil {
		c.Embedding = append([]float32(nil), e.Embedding...)
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ProcessingRequest is the unit of work handed to the enrichment pipeline.
type ProcessingRequest struct {
	Segment string
	EntryID uuid.UUID

	// UserProvidedTitle guards the title stage: auto-titling must never
	// overwrite a title the user typed themselves.
	UserProvidedTitle bool
}

// UserPreferences holds per-segment capture and enrichment preferences.
type UserPreferences struct {
	CameraID           string   `json:"cameraId,omitempty"`
	MicrophoneID       string   `json:"microphoneId,omitempty"`
	TranscriptLanguage string   `json:"transcriptLanguage,omitempty"`
	FavoriteTags       []string `json:"favoriteTags,omitempty"`
}

// Normalize trims every string field, dedups favorite tags case-insensitively
// and falls back to the default transcript language.
func (p UserPreferences) Normalize() UserPreferences {
	p.CameraID = strings.TrimSpace(p.CameraID)
	p.MicrophoneID = strings.TrimSpace(p.MicrophoneID)
	p.TranscriptLanguage = strings.TrimSpace(p.TranscriptLanguage)
	if p.TranscriptLanguage == "" {
		p.TranscriptLanguage = DefaultTranscriptLanguage
	}
	p.FavoriteTags = NormalizeTags(p.FavoriteTags)
	return p
}

// NormalizeTitle trims the title and substitutes DefaultTitle for blank input.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	return title
}

// NormalizeTags trims, drops empties and dedups case-insensitively while
// preserving order and the first-seen casing.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// MergeTags appends additions to existing with case-insensitive dedup.
// Existing casing wins over later duplicates.
func MergeTags(existing, additions []string) []string {
	return NormalizeTags(append(append([]string(nil), existing...), additions...))
}

// ContainsTagFold reports whether tags contains tag, ignoring case.
func ContainsTagFold(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
