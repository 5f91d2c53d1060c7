// Package budget accounts token consumption per session and enforces
// the session budget at PreToolUse time.
//
// The ledger is a per-session JSON file under the state directory.
// Because the host may run tool calls in parallel, every check-and-
// update happens under an exclusive cross-process lock, and the file
// itself is replaced by atomic rename so a crashed writer never leaves
// a torn ledger behind.
package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/sanitize"
)

// lockRetryDelay is how often a blocked invocation retries the ledger
// lock. Invocations are short lived; contention resolves in one or two
// retries.
const lockRetryDelay = 10 * time.Millisecond

// Ledger is the durable per-session consumption record.
//
// Consumed is monotonically non-decreasing within a session: nothing
// in this package ever subtracts from it, and a denied check leaves
// the file untouched.
type Ledger struct {
	SessionID string               `json:"session_id"`
	Consumed  int64                `json:"consumed"`
	Calls     int                  `json:"calls"`
	Started   time.Time            `json:"started"`
	LastTool  string               `json:"last_tool,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
	Seen      map[string]time.Time `json:"seen,omitempty"`
}

// Store provides atomic read-modify-write access to session ledgers.
type Store interface {
	// Update runs fn over the session's ledger inside the critical
	// section. The modified ledger is persisted only when fn returns
	// nil; any error from fn aborts the write and is returned
	// unwrapped, so callers can use sentinels to mean "decide but do
	// not record". The returned ledger reflects fn's mutations
	// either way.
	Update(ctx context.Context, sessionID string, fn func(*Ledger) error) (*Ledger, error)

	// Get reads the session's ledger without mutating it. A session
	// with no ledger yet yields a zero ledger.
	Get(ctx context.Context, sessionID string) (*Ledger, error)
}

// FileStore implements Store on the local filesystem.
type FileStore struct {
	dir    string
	logger *zap.Logger
	clock  func() time.Time
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger, clock: time.Now}, nil
}

// path maps a host session ID onto its ledger file. Unsanitizable IDs
// share the fallback bucket rather than failing: losing per-session
// granularity beats refusing to account at all.
func (s *FileStore) path(sessionID string) string {
	id, ok := sanitize.SessionID(sessionID)
	if !ok {
		id = "default"
	}
	return filepath.Join(s.dir, "ledger_"+id+".json")
}

func (s *FileStore) Update(ctx context.Context, sessionID string, fn func(*Ledger) error) (*Ledger, error) {
	path := s.path(sessionID)

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquiring ledger lock: %w", err)
	}
	if !locked {
		return nil, errors.New("ledger lock unavailable")
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release ledger lock", zap.Error(err))
		}
	}()

	ledger, err := s.read(path, sessionID)
	if err != nil {
		return nil, err
	}

	if err := fn(ledger); err != nil {
		return ledger, err
	}

	ledger.UpdatedAt = s.clock()
	if err := s.write(path, ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

func (s *FileStore) Get(ctx context.Context, sessionID string) (*Ledger, error) {
	return s.read(s.path(sessionID), sessionID)
}

// read loads the ledger, tolerating absence. A corrupt ledger file is
// logged and restarted from zero: over-permitting one session beats
// permanently wedging every invocation in it.
func (s *FileStore) read(path, sessionID string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s.fresh(sessionID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		s.logger.Warn("corrupt ledger, starting fresh",
			zap.String("path", path),
			zap.Error(err),
		)
		return s.fresh(sessionID), nil
	}
	if l.Seen == nil {
		l.Seen = make(map[string]time.Time)
	}
	return &l, nil
}

func (s *FileStore) fresh(sessionID string) *Ledger {
	return &Ledger{
		SessionID: sessionID,
		Started:   s.clock(),
		Seen:      make(map[string]time.Time),
	}
}

// write persists via temp file, fsync, and atomic rename within the
// ledger directory.
func (s *FileStore) write(path string, l *Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp ledger: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("setting ledger permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publishing ledger: %w", err)
	}
	return nil
}
