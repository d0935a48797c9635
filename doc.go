// Package clipvault provides a durable, per-user video diary store with
// asynchronous AI enrichment and hybrid search.
//
// Clipvault owns a directory tree partitioned by user segment. Each segment
// keeps a single JSON index of entry metadata plus sidecar files next to the
// media: .txt for transcripts, .embeddings for description vectors. Writes
// are atomic (temp file + rename) so a crash never leaves a torn index.
//
// Features:
//
//   - Durable entry store with atomic index persistence and legacy format
//     migration (inline transcripts/embeddings move to sidecars on load)
//   - Resumable chunked uploads with offset clamping and one-shot completion
//   - Asynchronous enrichment pipeline: transcript, summary, title and tag
//     suggestion stages, each independently skippable, with crash recovery
//     that re-enqueues entries left in progress
//   - Hybrid search: cosine similarity over description embeddings with a
//     substring keyword fallback across title, description and transcript
//   - Per-segment preferences (transcript language, favorite tags) that
//     steer the enrichment stages
//   - Backup of a segment's index, media and sidecars to an object store
//
// # Quick Start
//
// Open a vault, save an entry and search it:
//
//	ctx := context.Background()
//	vault, err := clipvault.Open(ctx, "./data", pipeline.Providers{
//	    Transcriber: provider,
//	    Summarizer:  provider,
//	    Titler:       provider,
//	    TagSuggester: provider,
//	    Embedder:     provider,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer vault.Close()
//
//	session := vault.Session("alice")
//	entry, err := session.Save(ctx, media, "clip.mp4", store.SaveRequest{
//	    Title: "Morning run",
//	})
//
//	results, err := session.Search(ctx, search.Query{
//	    Keyword:     "run",
//	    VectorQuery: "exercise outdoors",
//	})
//
// Enrichment runs in the background; the entry is listable and searchable by
// its user-provided fields immediately, and gains transcript, summary, title
// and tags as the stages complete.
//
// # Providers
//
// All AI capabilities are interfaces in the pipeline package. The bundled
// provider/openai package implements every capability against the OpenAI
// API; pass only the capabilities you want, the pipeline skips stages whose
// provider is nil.
package clipvault
