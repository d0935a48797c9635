// Package upload tracks resumable chunked uploads. Sessions live only in
// memory; a process restart loses in-flight uploads and clients restart them.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown session ids. An ownership
// mismatch is reported identically so callers cannot probe for sessions of
// other segments.
var ErrSessionNotFound = errors.New("upload session not found")

// Session describes one resumable upload in progress.
type Session struct {
	ID         uuid.UUID
	Segment    string
	TempPath   string
	FileName   string
	TotalBytes int64
	Received   int64
	CreatedAt  time.Time
}

// Manager owns the live set of upload sessions across all segments.
type Manager struct {
	root   string
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

type session struct {
	Session

	// writeMu serializes chunk appends for one session; the manager mutex
	// only guards the session map.
	writeMu sync.Mutex
}

// NewManager creates a manager whose temp files live under root.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		root:     root,
		logger:   logger,
		sessions: make(map[uuid.UUID]*session),
	}
}

// Start allocates a new session and its temp file in the segment's upload
// directory.
func (m *Manager) Start(segment, fileName string, totalBytes int64) (Session, error) {
	dir := filepath.Join(m.root, segment, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Session{}, fmt.Errorf("upload: create upload dir: %w", err)
	}

	id := uuid.New()
	tempPath := filepath.Join(dir, id.String()+".upload")
	f, err := os.Create(tempPath)
	if err != nil {
		return Session{}, fmt.Errorf("upload: create temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return Session{}, fmt.Errorf("upload: close temp file: %w", err)
	}

	sess := &session{Session: Session{
		ID:         id,
		Segment:    segment,
		TempPath:   tempPath,
		FileName:   fileName,
		TotalBytes: totalBytes,
		CreatedAt:  time.Now().UTC(),
	}}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.logger.Info("upload session started",
		"segment", segment, "session", id, "file", fileName, "declared_bytes", totalBytes)
	return sess.Session, nil
}

// AppendChunk writes a chunk at the given offset and returns the new file
// length. An out-of-order offset is clamped to the current length with a
// warning. A larger declared total extends the session's total-bytes figure.
func (m *Manager) AppendChunk(segment string, id uuid.UUID, chunk io.Reader, offset, totalBytes int64) (int64, error) {
	sess, err := m.lookup(segment, id)
	if err != nil {
		return 0, err
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	f, err := os.OpenFile(sess.TempPath, os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("upload: open temp file for session %s: %w", id, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("upload: stat temp file for session %s: %w", id, err)
	}
	current := info.Size()

	if offset != current {
		m.logger.Warn("chunk offset out of order, clamping to current length",
			"segment", segment, "session", id, "offset", offset, "current", current)
		offset = current
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("upload: seek for session %s: %w", id, err)
	}
	written, err := io.Copy(f, chunk)
	if err != nil {
		return 0, fmt.Errorf("upload: write chunk for session %s: %w", id, err)
	}

	m.mu.Lock()
	sess.Received = offset + written
	if totalBytes > sess.TotalBytes {
		sess.TotalBytes = totalBytes
	}
	newLength := sess.Received
	m.mu.Unlock()

	return newLength, nil
}

// Get returns a snapshot of the session's metadata.
func (m *Manager) Get(segment string, id uuid.UUID) (Session, error) {
	sess, err := m.lookup(segment, id)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return sess.Session, nil
}

// Complete consumes the session exactly once and returns its metadata. The
// temp file is left in place for the caller to hand to the entry store.
func (m *Manager) Complete(segment string, id uuid.UUID) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || sess.Segment != segment {
		return Session{}, fmt.Errorf("upload: session %s: %w", id, ErrSessionNotFound)
	}
	delete(m.sessions, id)

	m.logger.Info("upload session completed",
		"segment", segment, "session", id, "received_bytes", sess.Received)
	return sess.Session, nil
}

// Cancel discards the session and deletes its temp file. It reports whether
// the session existed and was owned by the segment.
func (m *Manager) Cancel(segment string, id uuid.UUID) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.Segment != segment {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	if err := os.Remove(sess.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("temp file removal failed",
			"segment", segment, "session", id, "error", err)
	}

	m.logger.Info("upload session cancelled", "segment", segment, "session", id)
	return true
}

func (m *Manager) lookup(segment string, id uuid.UUID) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || sess.Segment != segment {
		return nil, fmt.Errorf("upload: session %s: %w", id, ErrSessionNotFound)
	}
	return sess, nil
}
