package clipvault

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/clipvault/blobstore"
	"github.com/hupe1980/clipvault/model"
	"github.com/hupe1980/clipvault/pipeline"
	"github.com/hupe1980/clipvault/search"
	"github.com/hupe1980/clipvault/store"
	"github.com/hupe1980/clipvault/upload"
)

// Vault is the root handle over a storage directory: it partitions entries,
// preferences and caches by user segment, runs the shared enrichment
// pipeline and serves hybrid search per segment.
type Vault struct {
	root      string
	opts      options
	logger    *Logger
	providers pipeline.Providers

	pipeline *pipeline.Pipeline
	uploads  *upload.Manager

	// Per-segment state is created lazily; the vault mutex only guards the
	// maps, each store serializes its own segment behind its own gate.
	mu      sync.Mutex
	stores  map[string]*store.Store
	indexes map[string]*search.Index
}

// Open creates a vault rooted at dir and starts the enrichment worker.
// Entries left InProgress by a previous process are re-enqueued unless
// WithoutRecovery is given.
func Open(ctx context.Context, dir string, providers pipeline.Providers, optFns ...Option) (*Vault, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	v := &Vault{
		root:      dir,
		opts:      opts,
		logger:    opts.logger,
		providers: providers,
		stores:    make(map[string]*store.Store),
		indexes:   make(map[string]*search.Index),
	}
	v.uploads = upload.NewManager(dir, opts.logger.Logger)
	v.pipeline = pipeline.New(providers, opts.features, v, v, opts.logger.Logger)
	v.pipeline.Start()

	if opts.recover {
		segments, err := v.segmentsOnDisk()
		if err != nil {
			v.pipeline.Close()
			return nil, err
		}
		if err := v.pipeline.Recover(ctx, segments); err != nil {
			v.pipeline.Close()
			return nil, err
		}
	}

	return v, nil
}

// Close stops the enrichment worker. In-flight entries stay InProgress and
// are recovered on the next Open.
func (v *Vault) Close() {
	v.pipeline.Close()
}

// Session returns the per-user view of the vault. The user id is sanitized
// into a segment key; an empty id maps to the anonymous segment.
func (v *Vault) Session(userID string) *Session {
	return &Session{
		vault:   v,
		segment: store.SanitizeSegment(userID),
	}
}

// Store implements pipeline.StoreResolver.
func (v *Vault) Store(segment string) (*store.Store, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	st, ok := v.stores[segment]
	if !ok {
		var embedder store.Embedder
		if v.opts.semantic && v.providers.Embedder != nil {
			embedder = v.providers.Embedder
		}
		st = store.New(filepath.Join(v.root, segment), segment, embedder, v.logger.Logger)
		v.stores[segment] = st
	}
	return st, nil
}

// Reindex implements pipeline.Indexer.
func (v *Vault) Reindex(ctx context.Context, segment string, entry *model.VideoEntry, transcript string) {
	idx, err := v.index(segment)
	if err != nil {
		v.logger.Warn("reindex failed", "segment", segment, "entry", entry.ID, "error", err)
		return
	}
	idx.Index(ctx, entry, transcript)
}

func (v *Vault) index(segment string) (*search.Index, error) {
	st, err := v.Store(segment)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	idx, ok := v.indexes[segment]
	if !ok {
		var embedder search.Embedder
		if v.providers.Embedder != nil {
			embedder = v.providers.Embedder
		}
		idx = search.New(st, embedder, v.opts.semantic, v.logger.Logger)
		v.indexes[segment] = idx
	}
	return idx, nil
}

// segmentsOnDisk lists every segment directory that already carries an
// index file.
func (v *Vault) segmentsOnDisk() ([]string, error) {
	dirEntries, err := os.ReadDir(v.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var segments []string
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(v.root, de.Name(), store.IndexFileName)); err == nil {
			segments = append(segments, de.Name())
		}
	}
	return segments, nil
}

// Session is a segment-scoped view of the vault. All operations are
// partitioned by the session's segment; no cross-segment visibility exists.
type Session struct {
	vault   *Vault
	segment string
}

// Segment returns the sanitized segment key of this session.
func (s *Session) Segment() string { return s.segment }

func (s *Session) store() (*store.Store, error) {
	return s.vault.Store(s.segment)
}

// Save persists a new entry from a media stream and enqueues enrichment.
// The entry is immediately visible and usable even if every enrichment
// stage later fails.
func (s *Session) Save(ctx context.Context, media io.Reader, originalFileName string, req store.SaveRequest) (*model.VideoEntry, error) {
	st, err := s.store()
	if err != nil {
		return nil, err
	}

	entry, err := st.Save(ctx, media, originalFileName, req)
	if err != nil {
		s.vault.logger.LogSave(ctx, s.segment, uuid.Nil, err)
		return nil, translateError(err)
	}
	s.vault.logger.LogSave(ctx, s.segment, entry.ID, nil)

	s.enqueue(ctx, entry, strings.TrimSpace(req.Title) != "")
	return entry, nil
}

func (s *Session) enqueue(ctx context.Context, entry *model.VideoEntry, userProvidedTitle bool) {
	err := s.vault.pipeline.Submit(ctx, model.ProcessingRequest{
		Segment:           s.segment,
		EntryID:           entry.ID,
		UserProvidedTitle: userProvidedTitle,
	})
	if err != nil {
		// The entry is saved and usable; enrichment just never ran.
		s.vault.logger.Warn("enrichment submit failed",
			"segment", s.segment, "entry", entry.ID, "error", err)
	}
}

// List returns all entries of the segment, newest first.
func (s *Session) List(ctx context.Context) ([]*model.VideoEntry, error) {
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	entries, err := st.List(ctx)
	return entries, translateError(err)
}

// Get returns one entry or ErrNotFound.
func (s *Session) Get(ctx context.Context, id uuid.UUID) (*model.VideoEntry, error) {
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	entry, err := st.Get(ctx, id)
	return entry, translateError(err)
}

// Update applies caller-side mutations and refreshes the search projection.
func (s *Session) Update(ctx context.Context, id uuid.UUID, req store.UpdateRequest) (*model.VideoEntry, error) {
	st, err := s.store()
	if err != nil {
		return nil, err
	}

	entry, err := st.Update(ctx, id, req)
	if err != nil {
		return nil, translateError(err)
	}

	if idx, ierr := s.vault.index(s.segment); ierr == nil {
		idx.Index(ctx, entry, "")
	}
	return entry, nil
}

// Delete physically removes the entry, its media file and all sidecars.
// Whether a caller may deep-delete is an authorization decision made
// outside the vault; see SoftDelete for the preserving tier.
func (s *Session) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	st, err := s.store()
	if err != nil {
		return false, err
	}

	ok, err := st.Delete(ctx, id)
	if err != nil {
		return false, translateError(err)
	}
	if ok {
		if idx, ierr := s.vault.index(s.segment); ierr == nil {
			idx.Remove(id)
		}
	}
	return ok, nil
}

// SoftDelete removes the entry from the index but keeps its files, leaving
// a serialized snapshot marker beside the media.
func (s *Session) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	st, err := s.store()
	if err != nil {
		return false, err
	}

	ok, err := st.SoftDelete(ctx, id)
	if err != nil {
		return false, translateError(err)
	}
	if ok {
		if idx, ierr := s.vault.index(s.segment); ierr == nil {
			idx.Remove(id)
		}
	}
	return ok, nil
}

// Resubmit re-enqueues a Failed (or never-processed) entry for enrichment.
func (s *Session) Resubmit(ctx context.Context, id uuid.UUID) error {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	s.enqueue(ctx, entry, entry.Title != model.DefaultTitle)
	return nil
}

// Search answers a hybrid keyword/semantic query over the segment.
func (s *Session) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	idx, err := s.vault.index(s.segment)
	if err != nil {
		return nil, err
	}

	results, err := idx.Search(ctx, q)
	s.vault.logger.LogSearch(ctx, s.segment, len(results), err)
	return results, translateError(err)
}

// Preferences returns the segment's preferences.
func (s *Session) Preferences(ctx context.Context) (model.UserPreferences, error) {
	st, err := s.store()
	if err != nil {
		return model.UserPreferences{}, err
	}
	prefs, err := st.Preferences(ctx)
	return prefs, translateError(err)
}

// UpdatePreferences normalizes and persists the segment's preferences.
func (s *Session) UpdatePreferences(ctx context.Context, prefs model.UserPreferences) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return translateError(st.UpdatePreferences(ctx, prefs))
}

// StartUpload begins a resumable chunked upload for this segment.
func (s *Session) StartUpload(fileName string, totalBytes int64) (upload.Session, error) {
	sess, err := s.vault.uploads.Start(s.segment, fileName, totalBytes)
	return sess, translateError(err)
}

// AppendChunk writes one chunk of a resumable upload.
func (s *Session) AppendChunk(id uuid.UUID, chunk io.Reader, offset, totalBytes int64) (int64, error) {
	n, err := s.vault.uploads.AppendChunk(s.segment, id, chunk, offset, totalBytes)
	return n, translateError(err)
}

// CancelUpload discards an upload session and its temp file.
func (s *Session) CancelUpload(id uuid.UUID) bool {
	return s.vault.uploads.Cancel(s.segment, id)
}

// CompleteUpload consumes the upload session, moves its assembled file into
// the entry store and enqueues enrichment.
func (s *Session) CompleteUpload(ctx context.Context, id uuid.UUID, req store.SaveRequest) (*model.VideoEntry, error) {
	sess, err := s.vault.uploads.Complete(s.segment, id)
	if err != nil {
		return nil, translateError(err)
	}

	st, err := s.store()
	if err != nil {
		return nil, err
	}

	entry, err := st.SaveFile(ctx, sess.TempPath, sess.FileName, req)
	if err != nil {
		return nil, translateError(err)
	}

	s.enqueue(ctx, entry, strings.TrimSpace(req.Title) != "")
	return entry, nil
}

// Backup uploads the segment's index, media files and sidecars to an object
// store.
func (s *Session) Backup(ctx context.Context, dst blobstore.ObjectStore) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return translateError(st.Backup(ctx, dst))
}
