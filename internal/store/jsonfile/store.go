// Package jsonfile implements domain.PositionStore on a single JSON document.
// Every mutation rewrites the whole document through a temp file and an atomic
// rename, so readers observe either the old or the new collection.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// Compile-time interface check.
var _ domain.PositionStore = (*Store)(nil)

// pathLocks holds one mutex per absolute document path so that every Store
// opened on the same file in this process shares a writer lock.
var pathLocks sync.Map // map[string]*sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Store is a file-backed position store.
type Store struct {
	path   string
	mu     *sync.Mutex
	logger *slog.Logger

	// rename replaces the document; swapped in tests to simulate a crash
	// between writing the temp file and publishing it.
	rename func(oldpath, newpath string) error
}

// Open returns a Store for the document at path, creating its directory when
// needed. The document itself is created on the first write.
func Open(path string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store/jsonfile: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("store/jsonfile: create dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   abs,
		mu:     lockFor(abs),
		logger: logger.With(slog.String("component", "position_store")),
		rename: os.Rename,
	}, nil
}

// Path returns the absolute document path.
func (s *Store) Path() string { return s.path }

// ---------------------------------------------------------------------------
// Reads (lock-free; rename is atomic)
// ---------------------------------------------------------------------------

// LoadAll returns every record. A missing or undecodable document reads as
// an empty collection.
func (s *Store) LoadAll(ctx context.Context) ([]domain.PositionRecord, error) {
	recs, _, err := s.read()
	return recs, err
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (domain.PositionRecord, error) {
	recs, _, err := s.read()
	if err != nil {
		return domain.PositionRecord{}, err
	}
	for _, r := range recs {
		if r.PositionID == id {
			return r, nil
		}
	}
	return domain.PositionRecord{}, fmt.Errorf("store/jsonfile: position %s: %w", id, domain.ErrNotFound)
}

// GetByMarket returns all records for a market, in insertion order.
func (s *Store) GetByMarket(ctx context.Context, marketID string) ([]domain.PositionRecord, error) {
	return s.filter(func(r domain.PositionRecord) bool { return r.MarketID == marketID })
}

// GetOpen returns records still in status open.
func (s *Store) GetOpen(ctx context.Context) ([]domain.PositionRecord, error) {
	return s.filter(func(r domain.PositionRecord) bool { return r.Status == domain.PositionStatusOpen })
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	recs, _, err := s.read()
	return len(recs), err
}

func (s *Store) filter(keep func(domain.PositionRecord) bool) ([]domain.PositionRecord, error) {
	recs, _, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]domain.PositionRecord, 0, len(recs))
	for _, r := range recs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Mutations (read-modify-write under the path lock)
// ---------------------------------------------------------------------------

// Add appends a validated record. Duplicate ids are rejected.
func (s *Store) Add(ctx context.Context, rec domain.PositionRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("store/jsonfile: add: %w", err)
	}
	return s.mutate(ctx, func(recs []domain.PositionRecord) ([]domain.PositionRecord, bool, error) {
		for _, r := range recs {
			if r.PositionID == rec.PositionID {
				return nil, false, fmt.Errorf("store/jsonfile: position %s: %w", rec.PositionID, domain.ErrAlreadyExists)
			}
		}
		return append(recs, rec), true, nil
	})
}

// UpdateStatus moves a record to status. Unknown ids return ErrNotFound and
// leave the document untouched; leaving a terminal status returns
// ErrInvalidTransition. Re-applying the current status is a no-op.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.PositionStatus) error {
	return s.mutate(ctx, func(recs []domain.PositionRecord) ([]domain.PositionRecord, bool, error) {
		i := indexOf(recs, id)
		if i < 0 {
			return nil, false, fmt.Errorf("store/jsonfile: position %s: %w", id, domain.ErrNotFound)
		}
		cur := recs[i].Status
		if !domain.CanTransition(cur, status) {
			return nil, false, fmt.Errorf("store/jsonfile: position %s %s -> %s: %w", id, cur, status, domain.ErrInvalidTransition)
		}
		if cur == status {
			return recs, false, nil
		}
		recs[i].Status = status
		return recs, true, nil
	})
}

// UpdateNotes replaces the free-text notes of a record.
func (s *Store) UpdateNotes(ctx context.Context, id, notes string) error {
	return s.mutate(ctx, func(recs []domain.PositionRecord) ([]domain.PositionRecord, bool, error) {
		i := indexOf(recs, id)
		if i < 0 {
			return nil, false, fmt.Errorf("store/jsonfile: position %s: %w", id, domain.ErrNotFound)
		}
		recs[i].Notes = domain.StringPtr(notes)
		return recs, true, nil
	})
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, func(recs []domain.PositionRecord) ([]domain.PositionRecord, bool, error) {
		i := indexOf(recs, id)
		if i < 0 {
			return nil, false, fmt.Errorf("store/jsonfile: position %s: %w", id, domain.ErrNotFound)
		}
		return append(recs[:i], recs[i+1:]...), true, nil
	})
}

func indexOf(recs []domain.PositionRecord, id string) int {
	for i, r := range recs {
		if r.PositionID == id {
			return i
		}
	}
	return -1
}

// mutate runs fn on the current collection while holding the path lock and
// publishes the result when fn reports a change.
func (s *Store) mutate(ctx context.Context, fn func([]domain.PositionRecord) ([]domain.PositionRecord, bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, corrupt, err := s.read()
	if err != nil {
		return err
	}
	next, changed, err := fn(recs)
	if err != nil || !changed {
		return err
	}
	if corrupt {
		s.quarantine()
	}
	return s.write(next)
}

// ---------------------------------------------------------------------------
// Document I/O
// ---------------------------------------------------------------------------

// read decodes the document. corrupt is true when a file exists but could not
// be decoded; the collection is then empty.
func (s *Store) read() (recs []domain.PositionRecord, corrupt bool, err error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.PositionRecord{}, false, nil
		}
		return nil, false, fmt.Errorf("store/jsonfile: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return []domain.PositionRecord{}, false, nil
	}
	if err := json.Unmarshal(b, &recs); err != nil {
		s.logger.Warn("positions document unreadable, treating as empty",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return []domain.PositionRecord{}, true, nil
	}
	if recs == nil {
		recs = []domain.PositionRecord{}
	}
	return recs, false, nil
}

// write publishes recs via temp file, fsync and rename in the same directory.
func (s *Store) write(recs []domain.PositionRecord) error {
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("store/jsonfile: encode: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store/jsonfile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	published := false
	defer func() {
		if !published {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("store/jsonfile: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store/jsonfile: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store/jsonfile: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("store/jsonfile: chmod temp: %w", err)
	}
	if err := s.rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store/jsonfile: publish: %w", err)
	}
	published = true
	return nil
}

// quarantine keeps a copy of an undecodable document next to it before the
// first write replaces it.
func (s *Store) quarantine() {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UTC().Unix())
	b, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	if err := os.WriteFile(dst, b, 0o600); err != nil {
		s.logger.Warn("could not keep corrupt positions document",
			slog.String("path", dst),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Warn("corrupt positions document copied aside", slog.String("path", dst))
}
