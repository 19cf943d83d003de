package partition

import (
	"sync/atomic"
	"time"

	"github.com/cuemby/brokerd/pkg/actor"
	"github.com/cuemby/brokerd/pkg/health"
	"github.com/cuemby/brokerd/pkg/raftpartition"
	"github.com/cuemby/brokerd/pkg/statecontroller"
)

// PauseFlags are admin-controlled switches the transition steps consult
// before doing role-specific work; they don't change a partition's Raft
// role, only whether it does local work while holding one.
type PauseFlags struct {
	// Processing, while true, tells the stream processor step to stop
	// recording applied positions off the committed-entry stream.
	Processing atomic.Bool

	// Exporting, while true, tells the canonical snapshot director to skip
	// its periodic take_transient_snapshot/persist round.
	Exporting atomic.Bool
}

// Context aggregates every collaborator a partition's role-specific
// services are built from. It is constructed once per partition and
// handed to every TransitionStep; only the partition's own Actor
// ever touches it, so nothing inside needs its own locking beyond what
// each collaborator already provides.
type Context struct {
	PartitionID string

	Raft       raftpartition.RaftPartition
	Controller *statecontroller.Controller
	Health     *health.Monitor
	Scheduler  actor.Scheduler

	// SnapshotPeriod governs how often a leader's snapshot director takes
	// and persists a transient snapshot.
	SnapshotPeriod time.Duration

	// LowerBoundPosition reports the lowest position this partition's log
	// still needs retained (e.g. the oldest position any consumer hasn't
	// acknowledged). The canonical snapshot director consults this on every
	// periodic take_transient_snapshot call.
	LowerBoundPosition func() int64

	Paused PauseFlags
}
