package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/clipvault/blobstore"
	"github.com/hupe1980/clipvault/sidecar"
)

// backupConcurrency bounds parallel object uploads per backup run.
const backupConcurrency = 4

// Backup uploads the segment's index file, media files and sidecars to the
// object store under a "<segment>/" prefix. The store mutex is held for the
// duration, so the uploaded set is a consistent point-in-time view.
func (s *Store) Backup(ctx context.Context, dst blobstore.ObjectStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}

	paths := []string{filepath.Join(s.dir, IndexFileName)}
	for _, entry := range s.entries {
		media := s.resolvePath(entry.VideoPath)
		paths = append(paths, media)
		for _, ext := range []string{sidecar.TranscriptExt, sidecar.EmbeddingExt} {
			paths = append(paths, sidecar.Path(media, ext))
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(backupConcurrency)

	for _, p := range paths {
		p := p
		g.Go(func() error {
			f, err := os.Open(p)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil // optional sidecar, or index not yet written
				}
				return fmt.Errorf("store: open %q for backup: %w", p, err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("store: stat %q for backup: %w", p, err)
			}

			key := path.Join(s.segment, filepath.Base(p))
			if err := dst.Put(ctx, key, f, info.Size()); err != nil {
				return fmt.Errorf("store: upload %q: %w", key, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("segment backup completed", "segment", s.segment, "objects", len(paths))
	return nil
}
