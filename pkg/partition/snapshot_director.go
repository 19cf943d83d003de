package partition

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cuemby/brokerd/pkg/actor"
	"github.com/cuemby/brokerd/pkg/log"
	"github.com/cuemby/brokerd/pkg/snapshotstore"
	"github.com/cuemby/brokerd/pkg/statecontroller"
	"github.com/rs/zerolog"
)

// DirectorMode distinguishes the two shapes a snapshot director takes,
// depending on which role installed it.
type DirectorMode int

const (
	// ModeProcessing is the leader's shape: it periodically drives
	// take_transient_snapshot and persists the result.
	ModeProcessing DirectorMode = iota

	// ModeReplay is the follower's shape: it exists so the partition has a
	// registered component for health reporting, but takes no snapshots of
	// its own — a follower replays the leader's committed entries, it
	// doesn't construct snapshots from them.
	ModeReplay
)

// snapshotDirector drives snapshot construction for one partition while it
// holds a given role. It runs its periodic work on an actor of its own,
// created from the partition's scheduler, so its ticks never overlap one
// another; it does not share the partition actor's queue.
type snapshotDirector struct {
	mode        DirectorMode
	partitionID string
	controller  *statecontroller.Controller
	act         actor.Actor
	period      time.Duration
	lowerBound  func() int64
	paused      *atomic.Bool
	log         zerolog.Logger

	cancel actor.CancelFunc
}

func newSnapshotDirector(mode DirectorMode, partitionID string, controller *statecontroller.Controller, scheduler actor.Scheduler, period time.Duration, lowerBound func() int64, paused *atomic.Bool) *snapshotDirector {
	return &snapshotDirector{
		mode:        mode,
		partitionID: partitionID,
		controller:  controller,
		act:         scheduler.NewActor("snapshot-director-" + partitionID),
		period:      period,
		lowerBound:  lowerBound,
		paused:      paused,
		log:         log.WithPartition(partitionID),
	}
}

// start begins the director's periodic work, if its mode has any. Replay
// mode installs no timer: a follower has nothing to snapshot.
func (d *snapshotDirector) start() {
	if d.mode != ModeProcessing {
		return
	}

	d.cancel = d.act.RunAtFixedRate(d.period, func() (any, error) {
		if d.paused != nil && d.paused.Load() {
			return nil, nil
		}

		value, err := d.controller.TakeTransientSnapshot(context.Background(), d.lowerBound()).Wait()
		if err != nil {
			d.log.Warn().Err(err).Msg("periodic take_transient_snapshot failed")
			return nil, nil
		}
		if value == nil {
			// Benign: db closed, no in-flight slot, or a candidate whose
			// compaction bound is lower than the latest persisted one.
			return nil, nil
		}

		transient, ok := value.(*snapshotstore.TransientSnapshot)
		if !ok {
			return nil, nil
		}

		if _, err := transient.Persist(); err != nil {
			d.log.Warn().Err(err).Msg("periodic snapshot persist failed")
		}
		return nil, nil
	})
}

// close stops the director's periodic work and its own actor.
func (d *snapshotDirector) close() {
	if d.cancel != nil {
		d.cancel()
	}
	d.act.Close()
}
