package clipvault

import (
	"errors"
	"fmt"

	"github.com/hupe1980/clipvault/store"
	"github.com/hupe1980/clipvault/upload"
)

// ErrNotFound is the public not-found contract. Missing entries, missing
// upload sessions and ownership mismatches all surface as ErrNotFound so
// callers cannot probe for resources of other segments.
var ErrNotFound = errors.New("not found")

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, upload.ErrSessionNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return err
}
