// Package archive writes the end-of-session record.
//
// Records land under a fixed root; the session identifier is sanitized
// before it touches a path, and any identifier that cannot be made
// safe fails the archive rather than being silently rewritten into a
// different session's name space. Writes are atomic: a record either
// exists complete or not at all.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/sanitize"
)

const instrumentationName = "github.com/fyrsmithlabs/gatekit/internal/archive"

// ErrUnsafeSessionID indicates a session identifier with nothing
// usable left after sanitization.
var ErrUnsafeSessionID = errors.New("session id unsafe for archival")

// lockTimeout bounds the wait for the archive root lock.
const lockTimeout = 5 * time.Second

// Record is the persisted session summary.
type Record struct {
	SessionID     string   `json:"session_id"`
	Timestamp     string   `json:"timestamp"`
	Summary       string   `json:"summary,omitempty"`
	ToolsUsed     []string `json:"tools_used,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	KeyDecisions  []string `json:"key_decisions,omitempty"`

	// Integrity is the hex sha256 of the summary text, letting later
	// readers detect truncated or tampered records.
	Integrity string `json:"integrity"`
}

// Archiver writes session records under Root.
type Archiver struct {
	root   string
	logger *zap.Logger
	clock  func() time.Time

	tracer        trace.Tracer
	meter         metric.Meter
	archivesTotal metric.Int64Counter
}

// NewArchiver creates an archiver rooted at root.
func NewArchiver(root string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Archiver{
		root:   root,
		logger: logger,
		clock:  time.Now,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	var err error
	a.archivesTotal, err = a.meter.Int64Counter(
		"gatekit.archive.records_total",
		metric.WithDescription("Total session records written"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		a.logger.Warn("failed to create archive counter", zap.Error(err))
	}
	return a
}

// Archive persists one session record and returns the path it wrote.
//
// The filename embeds the sanitized session id and a UTC timestamp;
// collisions within the same second get a numeric suffix. The root
// lock serializes concurrent archivers so two sessions never race on
// the same name.
func (a *Archiver) Archive(ctx context.Context, rec *Record) (string, error) {
	ctx, span := a.tracer.Start(ctx, "archive.write")
	defer span.End()

	safeID, ok := sanitize.SessionID(rec.SessionID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsafeSessionID, rec.SessionID)
	}
	span.SetAttributes(attribute.String("session.id", safeID))

	now := a.clock().UTC()
	out := *rec
	out.Timestamp = now.Format(time.RFC3339)
	sum := sha256.Sum256([]byte(out.Summary))
	out.Integrity = hex.EncodeToString(sum[:])

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	if err := os.MkdirAll(a.root, 0o700); err != nil {
		return "", fmt.Errorf("create archive root: %w", err)
	}

	lock := flock.New(filepath.Join(a.root, ".archive.lock"))
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 10*time.Millisecond)
	if err != nil || !locked {
		return "", fmt.Errorf("lock archive root: %w", err)
	}
	defer lock.Unlock()

	path, err := a.pickPath(safeID, now)
	if err != nil {
		return "", err
	}

	if err := writeAtomic(path, data); err != nil {
		return "", err
	}

	a.logger.Info("archived session",
		zap.String("session", safeID),
		zap.String("path", path),
		zap.Int("bytes", len(data)),
	)
	if a.archivesTotal != nil {
		a.archivesTotal.Add(ctx, 1)
	}
	return path, nil
}

// pickPath finds an unused filename for the record. Must hold the
// root lock.
func (a *Archiver) pickPath(safeID string, now time.Time) (string, error) {
	base := fmt.Sprintf("session_%s_%s", now.Format("20060102T150405"), safeID)

	for i := 1; ; i++ {
		name := base + ".json"
		if i > 1 {
			name = fmt.Sprintf("%s_%d.json", base, i)
		}

		path := filepath.Join(a.root, name)
		if err := containedIn(a.root, path); err != nil {
			return "", err
		}

		if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", fmt.Errorf("probe %s: %w", name, err)
		}
	}
}

// containedIn rejects any path that resolves outside root.
func containedIn(root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes archive root", path)
	}
	return nil
}

// writeAtomic lands data at path via a same-directory temp file, so a
// crash mid-write leaves no partial record under the final name.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync record: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}
