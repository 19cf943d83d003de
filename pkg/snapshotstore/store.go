// Package snapshotstore implements the transient-to-persisted snapshot
// state machine: an in-progress snapshot is a scratch directory under
// pending/ until it is atomically renamed into snapshots/ under a
// content-addressed, lexicographically-ordered name, or abandoned and
// deleted. See DESIGN.md for the Open Question resolution on when
// NewTransient refuses a candidate.
package snapshotstore

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const (
	pendingDirName   = "pending"
	snapshotsDirName = "snapshots"
)

// PersistedSnapshot is an immutable, checksummed snapshot directory visible
// under the store's snapshots/ directory.
type PersistedSnapshot struct {
	ID  ID
	Dir string
}

// Size reports the snapshot directory's total size on disk, recomputed on
// every call. Used for metrics reporting, not on any hot path.
func (p PersistedSnapshot) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(p.Dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// Store owns one partition's pending/ and snapshots/ directories.
type Store struct {
	root    string
	pending string
	persist string

	mu        sync.Mutex
	ordinal   uint64
	listeners []func(PersistedSnapshot)
}

// Open opens (creating if absent) the snapshot store rooted at root. Any
// partial pending directories left behind by a crash are deleted, and the
// ordinal counter is seeded past every persisted snapshot already on disk
// so freshly minted IDs always sort after them.
func Open(root string) (*Store, error) {
	s := &Store{
		root:    root,
		pending: filepath.Join(root, pendingDirName),
		persist: filepath.Join(root, snapshotsDirName),
	}

	if err := os.MkdirAll(s.pending, 0o755); err != nil {
		return nil, fmt.Errorf("snapshotstore: create pending dir: %w", err)
	}
	if err := os.MkdirAll(s.persist, 0o755); err != nil {
		return nil, fmt.Errorf("snapshotstore: create snapshots dir: %w", err)
	}

	if err := s.cleanStalePending(); err != nil {
		return nil, err
	}
	if err := s.seedOrdinal(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) cleanStalePending() error {
	entries, err := os.ReadDir(s.pending)
	if err != nil {
		return fmt.Errorf("snapshotstore: read pending dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.pending, e.Name())); err != nil {
			return fmt.Errorf("snapshotstore: clean stale pending dir %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *Store) seedOrdinal() error {
	entries, err := os.ReadDir(s.persist)
	if err != nil {
		return fmt.Errorf("snapshotstore: read snapshots dir: %w", err)
	}
	for _, e := range entries {
		id, err := parseID(e.Name())
		if err != nil {
			continue // ignore non-conforming entries rather than fail startup
		}
		if id.Ordinal >= s.ordinal {
			s.ordinal = id.Ordinal + 1
		}
	}
	return nil
}

// OnPersist registers a listener invoked synchronously, on the caller of
// Persist's goroutine, every time a new snapshot is persisted.
func (s *Store) OnPersist(fn func(PersistedSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Latest returns the largest (by name-sort, equivalently by tuple order)
// valid persisted snapshot. A directory whose checksum doesn't verify is
// skipped in favor of the next-largest valid one.
func (s *Store) Latest() (PersistedSnapshot, bool, error) {
	entries, err := os.ReadDir(s.persist)
	if err != nil {
		return PersistedSnapshot{}, false, fmt.Errorf("snapshotstore: read snapshots dir: %w", err)
	}

	var candidates []ID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := parseID(e.Name())
		if err != nil {
			continue
		}
		candidates = append(candidates, id)
	}

	for len(candidates) > 0 {
		largestIdx := 0
		for i, c := range candidates {
			if candidates[largestIdx].less(c) {
				largestIdx = i
			}
		}
		largest := candidates[largestIdx]
		dir := filepath.Join(s.persist, largest.String())
		if err := verifyChecksum(dir); err == nil {
			return PersistedSnapshot{ID: largest, Dir: dir}, true, nil
		}
		candidates = append(candidates[:largestIdx], candidates[largestIdx+1:]...)
	}

	return PersistedSnapshot{}, false, nil
}

// ValidSnapshotCount returns the number of persisted snapshots whose
// checksum verifies. Persist always prunes prior snapshots, so in normal
// operation this is 0 or 1; it can read 0 when the sole remaining snapshot
// is corrupt.
func (s *Store) ValidSnapshotCount() (int, error) {
	entries, err := os.ReadDir(s.persist)
	if err != nil {
		return 0, fmt.Errorf("snapshotstore: read snapshots dir: %w", err)
	}

	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := parseID(e.Name()); err != nil {
			continue
		}
		if verifyChecksum(filepath.Join(s.persist, e.Name())) == nil {
			count++
		}
	}
	return count, nil
}

// NewTransient reserves a pending directory for a candidate snapshot keyed
// by (index, term, processedPos, exportedPos) plus a freshly allocated
// ordinal. It returns ok=false without touching the filesystem when the
// candidate's compaction bound is lower than the current latest persisted
// snapshot's (see DESIGN.md); an equal bound is accepted.
func (s *Store) NewTransient(index, term uint64, processedPos, exportedPos int64) (*TransientSnapshot, bool, error) {
	latest, hasLatest, err := s.Latest()
	if err != nil {
		return nil, false, err
	}

	candidateBound := ID{ProcessedPosition: processedPos, ExportedPosition: exportedPos}.CompactionBound()
	if hasLatest && candidateBound < latest.ID.CompactionBound() {
		return nil, false, nil
	}

	s.mu.Lock()
	ordinal := s.ordinal
	s.ordinal++
	s.mu.Unlock()

	id := ID{
		ProcessedPosition: processedPos,
		ExportedPosition:  exportedPos,
		Index:             index,
		Term:              term,
		Ordinal:           ordinal,
	}

	dir := filepath.Join(s.pending, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("snapshotstore: create pending dir: %w", err)
	}

	return &TransientSnapshot{store: s, id: id, dir: dir}, true, nil
}

// Copy writes a byte-for-byte copy of snapshot's directory to dst, which
// must not already exist.
func (s *Store) Copy(snapshot PersistedSnapshot, dst string) error {
	return copyDir(snapshot.Dir, dst)
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("snapshotstore: create %s: %w", dst, err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("snapshotstore: read %s: %w", src, err)
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("snapshotstore: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("snapshotstore: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("snapshotstore: copy %s: %w", src, err)
	}
	return out.Close()
}
