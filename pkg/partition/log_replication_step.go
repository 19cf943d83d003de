package partition

import (
	"context"
	"sync"
)

// logReplicationStep owns the partition's snapshot-replication-started and
// snapshot-replication-completed listener registrations, so the rest of
// the partition actor never calls into the Raft collaborator's
// OnSnapshotReplicationStarted/Completed directly. A leader never receives
// a replicated snapshot, so these listeners stay registered across every
// non-Leader role — including the partition's own Follower<->Inactive
// oscillation while a snapshot installs, which these same listeners
// drive — and are only torn down while Leader.
//
// OnStarted and OnCompleted are invoked on whatever goroutine the Raft
// collaborator calls the registered listener from (not the partition
// actor's own goroutine); callers are expected to forward them onto the
// actor via Submit, the same pattern the partition actor uses for
// role-change notifications.
type logReplicationStep struct {
	ctx         *Context
	onStarted   func()
	onCompleted func()

	mu                  sync.Mutex
	unregisterStarted   func()
	unregisterCompleted func()
}

func newLogReplicationStep(pc *Context, onStarted, onCompleted func()) *logReplicationStep {
	return &logReplicationStep{ctx: pc, onStarted: onStarted, onCompleted: onCompleted}
}

func (s *logReplicationStep) Prepare(ctx context.Context, term Term, target Role) error {
	if target != RoleLeader {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked()
	return nil
}

func (s *logReplicationStep) TransitionTo(ctx context.Context, term Term, target Role) error {
	if target == RoleLeader {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unregisterStarted != nil {
		// Already registered from a prior non-Leader role; leave it be so
		// an in-progress replication's Completed signal still fires.
		return nil
	}

	s.unregisterStarted = s.ctx.Raft.OnSnapshotReplicationStarted(s.onStarted)
	s.unregisterCompleted = s.ctx.Raft.OnSnapshotReplicationCompleted(s.onCompleted)
	return nil
}

func (s *logReplicationStep) unregisterLocked() {
	if s.unregisterStarted != nil {
		s.unregisterStarted()
		s.unregisterStarted = nil
	}
	if s.unregisterCompleted != nil {
		s.unregisterCompleted()
		s.unregisterCompleted = nil
	}
}
