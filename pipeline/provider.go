package pipeline

import (
	"context"

	"github.com/hupe1980/clipvault/model"
)

// The capability interfaces below wrap the external transcription/chat/
// embedding services. Every capability may return an empty result to signal
// "unavailable or not configured" without raising an error; the pipeline
// then skips the stage and continues.

// Transcriber produces a transcript from a media file.
type Transcriber interface {
	GenerateTranscript(ctx context.Context, mediaPath, language string) (string, error)
}

// Summarizer produces a description from an entry's transcript.
type Summarizer interface {
	Summarize(ctx context.Context, entry *model.VideoEntry, transcript string) (string, error)
}

// Titler produces a short title from an entry's summary.
type Titler interface {
	GenerateTitle(ctx context.Context, entry *model.VideoEntry, summary string) (string, error)
}

// TagSuggester proposes tags for a description, constrained to the user's
// favorite-tag vocabulary.
type TagSuggester interface {
	SuggestTags(ctx context.Context, description string, favorites, existing []string) ([]string, error)
}

// Embedder produces an embedding vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Providers bundles the enrichment capabilities. Any field may be nil; the
// corresponding stage is then skipped.
type Providers struct {
	Transcriber  Transcriber
	Summarizer   Summarizer
	Titler       Titler
	TagSuggester TagSuggester
	Embedder     Embedder
}

// Features toggles individual enrichment stages independently of provider
// availability.
type Features struct {
	Transcripts bool
	Summaries   bool
	Titles      bool
	Tags        bool
}

// DefaultFeatures enables every stage.
func DefaultFeatures() Features {
	return Features{Transcripts: true, Summaries: true, Titles: true, Tags: true}
}
