// Package statecontroller owns a single partition's local key-value
// database and coordinates the handshake between that database and the
// snapshot store: constructing a transient snapshot from a running
// database, and recovering a database from the latest persisted snapshot.
// Every operation runs on the controller's own actor.Actor, so opens,
// closes, recoveries, and snapshot constructions for one partition never
// overlap each other.
package statecontroller

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cuemby/brokerd/pkg/actor"
	"github.com/cuemby/brokerd/pkg/brokererr"
	"github.com/cuemby/brokerd/pkg/kvstore"
	"github.com/cuemby/brokerd/pkg/log"
	"github.com/cuemby/brokerd/pkg/metrics"
	"github.com/cuemby/brokerd/pkg/snapshotstore"
	"github.com/rs/zerolog"
)

// IndexedEntry is the (index, term) pair the snapshot subsystem needs out
// of a log entry; the payload is irrelevant here.
type IndexedEntry struct {
	Index uint64
	Term  uint64
}

// EntrySupplier looks up the log entry at position, if the log still holds
// one, so take_transient_snapshot can name the snapshot after it.
type EntrySupplier func(position int64) (IndexedEntry, bool)

// ExporterPositionFunc reports the lowest position the exporter pipeline
// has externalized, given the currently open database.
type ExporterPositionFunc func(db kvstore.DB) int64

// Config supplies a Controller's collaborators.
type Config struct {
	PartitionID      string
	RuntimeDir       string
	DBFactory        kvstore.Factory
	Store            *snapshotstore.Store
	EntrySupplier    EntrySupplier
	ExporterPosition ExporterPositionFunc
	Scheduler        actor.Scheduler
}

// Controller owns one partition's {runtime_dir, db, snapshot_store,
// db_factory, entry_supplier, exporter_position_fn} state. db is non-nil
// iff the runtime directory currently holds a live database.
type Controller struct {
	partitionID      string
	runtimeDir       string
	dbFactory        kvstore.Factory
	store            *snapshotstore.Store
	entrySupplier    EntrySupplier
	exporterPosition ExporterPositionFunc

	act actor.Actor
	log zerolog.Logger

	mu sync.RWMutex
	db kvstore.DB

	snapshotInFlight atomic.Bool
}

// New creates a Controller for one partition. It does not open the
// database; call OpenDB or Recover.
func New(cfg Config) *Controller {
	return &Controller{
		partitionID:      cfg.PartitionID,
		runtimeDir:       cfg.RuntimeDir,
		dbFactory:        cfg.DBFactory,
		store:            cfg.Store,
		entrySupplier:    cfg.EntrySupplier,
		exporterPosition: cfg.ExporterPosition,
		act:              cfg.Scheduler.NewActor(fmt.Sprintf("state-controller-%s", cfg.PartitionID)),
		log:              log.WithPartition(cfg.PartitionID),
	}
}

func (c *Controller) setDB(db kvstore.DB) {
	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
}

// IsDBOpened reports whether the last successful operation was OpenDB or
// Recover with no subsequent CloseDB.
func (c *Controller) IsDBOpened() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db != nil
}

// ValidSnapshotCount passes through to the snapshot store; it needs no
// actor serialization since the store itself is safe for concurrent use.
func (c *Controller) ValidSnapshotCount() (int, error) {
	return c.store.ValidSnapshotCount()
}

// LatestSnapshot passes through to the snapshot store's most recently
// persisted snapshot, for metrics reporting. Same no-serialization
// rationale as ValidSnapshotCount.
func (c *Controller) LatestSnapshot() (snapshotstore.PersistedSnapshot, bool, error) {
	return c.store.Latest()
}

// OpenDB creates the database in the runtime directory if absent and sets
// the internal slot. Calling OpenDB while already open is a no-op that
// returns the existing handle.
func (c *Controller) OpenDB(ctx context.Context) *actor.Future {
	return c.act.Submit(func() (any, error) {
		c.mu.RLock()
		existing := c.db
		c.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		timer := metrics.NewTimer()
		db, err := c.dbFactory.Open(ctx, c.runtimeDir)
		timer.ObserveDurationVec(metrics.DBOpenDuration, c.partitionID)
		if err != nil {
			return nil, brokererr.TransientIOError("open_db", err)
		}

		c.setDB(db)
		c.log.Info().Msg("database opened")
		return db, nil
	})
}

// CloseDB closes the handle (if any), clears the slot, then best-effort
// deletes the runtime directory.
func (c *Controller) CloseDB(ctx context.Context) *actor.Future {
	return c.act.Submit(func() (any, error) {
		c.mu.RLock()
		db := c.db
		c.mu.RUnlock()

		if db != nil {
			if err := db.Close(); err != nil {
				c.log.Warn().Err(err).Msg("close_db: failed to close database handle")
			}
			c.setDB(nil)
		}

		if err := os.RemoveAll(c.runtimeDir); err != nil {
			c.log.Warn().Err(err).Msg("close_db: failed to remove runtime directory")
		}

		return nil, nil
	})
}

// Recover deletes the runtime directory, copies the latest persisted
// snapshot into it (if one exists), and opens the database. Copy failure
// is fatal (Unrecoverable); a corrupted snapshot surfaces as a subsequent
// OpenDB/Recover open failure, leaving the caller to decide whether to
// retry against an earlier snapshot.
func (c *Controller) Recover(ctx context.Context) *actor.Future {
	return c.act.Submit(func() (any, error) {
		timer := metrics.NewTimer()
		defer timer.ObserveDurationVec(metrics.RecoveryDuration, c.partitionID)

		if err := os.RemoveAll(c.runtimeDir); err != nil {
			return nil, brokererr.TransientIOError("recover", err)
		}

		latest, ok, err := c.store.Latest()
		if err != nil {
			return nil, brokererr.TransientIOError("recover", err)
		}

		if ok {
			if err := c.store.Copy(latest, c.runtimeDir); err != nil {
				return nil, brokererr.UnrecoverableError("recover", fmt.Errorf("copy latest snapshot: %w", err))
			}
		} else if err := os.MkdirAll(c.runtimeDir, 0o755); err != nil {
			return nil, brokererr.TransientIOError("recover", err)
		}

		db, err := c.dbFactory.Open(ctx, c.runtimeDir)
		if err != nil {
			return nil, brokererr.TransientIOError("recover", err)
		}

		c.setDB(db)
		c.log.Info().Bool("from_snapshot", ok).Msg("database recovered")
		return db, nil
	})
}

// TakeTransientSnapshot runs the five-step transient-snapshot construction
// flow on the controller's actor. At most one construction is in flight
// per partition: a concurrent call is rejected immediately with a benign
// (nil, nil) result rather than waiting behind the one in progress.
func (c *Controller) TakeTransientSnapshot(ctx context.Context, lowerBoundPosition int64) *actor.Future {
	if !c.snapshotInFlight.CompareAndSwap(false, true) {
		c.log.Trace().Msg("take_transient_snapshot rejected: a snapshot construction is already in flight")
		f := c.act.CreateFuture()
		f.Resolve(nil)
		return f
	}

	return c.act.Submit(func() (any, error) {
		defer c.snapshotInFlight.Store(false)
		return c.takeTransientSnapshot(lowerBoundPosition)
	})
}

func (c *Controller) takeTransientSnapshot(lowerBoundPosition int64) (any, error) {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()

	if db == nil {
		c.log.Warn().Msg("take_transient_snapshot: database is closed")
		return nil, nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SnapshotTakeDuration, c.partitionID)

	exporterPos := c.exporterPosition(db)
	snapshotPosition := lowerBoundPosition
	if exporterPos < snapshotPosition {
		snapshotPosition = exporterPos
	}

	entry, ok := c.entrySupplier(snapshotPosition)
	if !ok {
		return nil, brokererr.InvariantViolationError("take_transient_snapshot",
			fmt.Errorf("no log entry reconciles with position %d", snapshotPosition))
	}

	transient, ok, err := c.store.NewTransient(entry.Index, entry.Term, lowerBoundPosition, exporterPos)
	if err != nil {
		return nil, brokererr.TransientIOError("take_transient_snapshot", err)
	}
	if !ok {
		return nil, nil
	}

	taken, err := transient.Take(func(dir string) (bool, error) {
		return true, db.CreateSnapshot(dir)
	})
	if err != nil {
		return nil, brokererr.TransientIOError("take_transient_snapshot", err)
	}
	if !taken {
		return nil, nil
	}

	return transient, nil
}
