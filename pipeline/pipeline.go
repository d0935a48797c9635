// Package pipeline runs the asynchronous enrichment stages over newly
// created or recovered entries: transcript, summary, title and tags, in that
// order, followed by one store update and a search reindex.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/clipvault/model"
	"github.com/hupe1980/clipvault/sidecar"
	"github.com/hupe1980/clipvault/store"
)

// StoreResolver yields the entry store for a segment.
type StoreResolver interface {
	Store(segment string) (*store.Store, error)
}

// Indexer receives enriched entries for re-indexing. The transcript is a
// volatile enrichment carried for indexing only; it is never persisted on
// the entry itself.
type Indexer interface {
	Reindex(ctx context.Context, segment string, entry *model.VideoEntry, transcript string)
}

// Pipeline is the queue plus the single background worker draining it.
type Pipeline struct {
	providers Providers
	features  Features
	stores    StoreResolver
	indexer   Indexer
	logger    *slog.Logger

	queue *requestQueue

	// transcriptFlight dedups concurrent transcript generation per sidecar
	// path; completed flights are evicted automatically, so the key set
	// stays bounded.
	transcriptFlight singleflight.Group

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a pipeline. indexer may be nil.
func New(providers Providers, features Features, stores StoreResolver, indexer Indexer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		providers: providers,
		features:  features,
		stores:    stores,
		indexer:   indexer,
		logger:    logger,
		queue:     newRequestQueue(),
		done:      make(chan struct{}),
	}
}

// Start launches the worker goroutine. Safe to call once.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		go p.run(ctx)
	})
}

// Close signals the worker and waits for it to stop. In-flight entries stay
// InProgress and are recovered on the next start. Idempotent.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		if p.cancel == nil {
			close(p.done)
			return
		}
		p.cancel()
		<-p.done
	})
}

// Pending returns the number of queued requests, excluding the one the
// worker may be processing.
func (p *Pipeline) Pending() int { return p.queue.len() }

// Submit marks the entry InProgress and enqueues it. The enqueue itself
// never blocks.
func (p *Pipeline) Submit(ctx context.Context, req model.ProcessingRequest) error {
	st, err := p.stores.Store(req.Segment)
	if err != nil {
		return err
	}
	if err := st.UpdateProcessingStatus(ctx, req.EntryID, model.StatusInProgress); err != nil {
		return err
	}
	p.queue.push(req)
	return nil
}

// Recover re-enqueues every entry left InProgress by a previous process.
// A recovered entry's user-title flag is lost, so auto-titling is allowed
// only when the current title is still the default.
func (p *Pipeline) Recover(ctx context.Context, segments []string) error {
	for _, segment := range segments {
		st, err := p.stores.Store(segment)
		if err != nil {
			return err
		}
		entries, err := st.List(ctx)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Status != model.StatusInProgress {
				continue
			}
			p.queue.push(model.ProcessingRequest{
				Segment:           segment,
				EntryID:           entry.ID,
				UserProvidedTitle: entry.Title != model.DefaultTitle,
			})
			p.logger.Info("recovered in-progress entry",
				"segment", segment, "entry", entry.ID)
		}
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	for {
		req, ok := p.queue.pop(ctx)
		if !ok {
			return
		}
		p.handle(ctx, req)
	}
}

// handle executes one request, converting panics and errors into the Failed
// status. Cancellation during shutdown leaves the entry InProgress so the
// next startup recovers it.
func (p *Pipeline) handle(ctx context.Context, req model.ProcessingRequest) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					err = fmt.Errorf("pipeline: panic processing entry %s: %w", req.EntryID, e)
				} else {
					err = fmt.Errorf("pipeline: panic processing entry %s: %v", req.EntryID, r)
				}
			}
		}()
		return p.process(ctx, req)
	}()

	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}

	p.logger.Error("enrichment failed",
		"segment", req.Segment, "entry", req.EntryID, "error", err)

	st, serr := p.stores.Store(req.Segment)
	if serr != nil {
		return
	}
	// The worker context may already be gone; the status write must not be.
	if serr := st.UpdateProcessingStatus(context.WithoutCancel(ctx), req.EntryID, model.StatusFailed); serr != nil {
		p.logger.Error("failed-status write failed",
			"segment", req.Segment, "entry", req.EntryID, "error", serr)
	}
}

func (p *Pipeline) process(ctx context.Context, req model.ProcessingRequest) error {
	st, err := p.stores.Store(req.Segment)
	if err != nil {
		return err
	}

	entry, err := st.Get(ctx, req.EntryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted while queued.
			p.logger.Debug("skipping vanished entry", "segment", req.Segment, "entry", req.EntryID)
			return nil
		}
		return err
	}

	prefs, err := st.Preferences(ctx)
	if err != nil {
		return err
	}

	mediaPath := st.MediaPath(entry)

	transcript, transcriptGenerated, err := p.transcriptStage(ctx, entry, mediaPath, prefs)
	if err != nil {
		return err
	}

	description := entry.Description
	descriptionChanged := false
	if p.features.Summaries && p.providers.Summarizer != nil && description == "" && transcript != "" {
		summary, err := p.providers.Summarizer.Summarize(ctx, entry, transcript)
		if err != nil {
			if canceled(ctx, err) {
				return err
			}
			p.stageSkipped("summary", req, err)
		} else if strings.TrimSpace(summary) != "" {
			description = strings.TrimSpace(summary)
			descriptionChanged = true
		}
	}

	title := entry.Title
	titleChanged := false
	if p.features.Titles && p.providers.Titler != nil && !req.UserProvidedTitle && description != "" {
		generated, err := p.providers.Titler.GenerateTitle(ctx, entry, description)
		if err != nil {
			if canceled(ctx, err) {
				return err
			}
			p.stageSkipped("title", req, err)
		} else if t := model.NormalizeTitle(generated); t != model.DefaultTitle && t != title {
			title = t
			titleChanged = true
		}
	}

	tags := entry.Tags
	tagsChanged := false
	if p.features.Tags && p.providers.TagSuggester != nil && description != "" && len(prefs.FavoriteTags) > 0 {
		suggested, err := p.providers.TagSuggester.SuggestTags(ctx, description, prefs.FavoriteTags, entry.Tags)
		if err != nil {
			if canceled(ctx, err) {
				return err
			}
			p.stageSkipped("tags", req, err)
		} else {
			// Providers see transcript-derived text and can be steered by
			// it; anything outside the favorite vocabulary is discarded.
			var allowed []string
			for _, tag := range suggested {
				if model.ContainsTagFold(prefs.FavoriteTags, tag) {
					allowed = append(allowed, tag)
				}
			}
			if merged := model.MergeTags(entry.Tags, allowed); !slices.Equal(merged, entry.Tags) {
				tags = merged
				tagsChanged = true
			}
		}
	}

	if transcriptGenerated || descriptionChanged || titleChanged || tagsChanged {
		update := store.UpdateRequest{}
		if titleChanged {
			update.Title = &title
		}
		if descriptionChanged {
			update.Description = &description
		}
		if tagsChanged {
			update.Tags = tags
		}
		updated, err := st.Update(ctx, entry.ID, update)
		if err != nil {
			return err
		}
		entry = updated
	}

	if err := st.UpdateProcessingStatus(ctx, entry.ID, model.StatusCompleted); err != nil {
		return err
	}
	entry.Status = model.StatusCompleted
	now := time.Now().UTC()
	entry.CompletedAt = &now

	if p.indexer != nil {
		p.indexer.Reindex(ctx, req.Segment, entry, transcript)
	}

	p.logger.Info("enrichment completed",
		"segment", req.Segment, "entry", entry.ID,
		"transcript", transcriptGenerated, "summary", descriptionChanged,
		"title", titleChanged, "tags", tagsChanged)
	return nil
}

// transcriptStage returns the entry's transcript, generating and persisting
// one when the sidecar is missing. The second return reports whether a new
// transcript was produced. A non-nil error is only returned on cancellation.
func (p *Pipeline) transcriptStage(ctx context.Context, entry *model.VideoEntry, mediaPath string, prefs model.UserPreferences) (string, bool, error) {
	text, ok, err := sidecar.ReadTranscript(mediaPath)
	if err != nil {
		p.logger.Warn("transcript sidecar read failed", "entry", entry.ID, "error", err)
	}
	if ok {
		return text, false, nil
	}
	if !p.features.Transcripts || p.providers.Transcriber == nil {
		return "", false, nil
	}

	v, err, _ := p.transcriptFlight.Do(sidecar.TranscriptPath(mediaPath), func() (any, error) {
		// Another caller may have finished while we queued for the flight.
		if text, ok, _ := sidecar.ReadTranscript(mediaPath); ok {
			return text, nil
		}
		text, err := p.providers.Transcriber.GenerateTranscript(ctx, mediaPath, prefs.TranscriptLanguage)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", nil
		}
		if err := sidecar.WriteTranscript(mediaPath, text); err != nil {
			p.logger.Warn("transcript sidecar write failed", "entry", entry.ID, "error", err)
		}
		return text, nil
	})
	if err != nil {
		if canceled(ctx, err) {
			return "", false, err
		}
		p.logger.Warn("transcript generation failed", "entry", entry.ID, "error", err)
		return "", false, nil
	}

	text, _ = v.(string)
	return text, text != "", nil
}

// canceled reports whether err stems from the worker's own shutdown.
func canceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) && ctx.Err() != nil
}

// stageSkipped logs a non-fatal capability failure; the pipeline degrades
// gracefully and continues with the remaining stages.
func (p *Pipeline) stageSkipped(stage string, req model.ProcessingRequest, err error) {
	p.logger.Warn("enrichment stage skipped",
		"stage", stage, "segment", req.Segment, "entry", req.EntryID, "error", err)
}
