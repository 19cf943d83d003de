package partition

import (
	"context"
	"sync"

	"github.com/cuemby/brokerd/pkg/metrics"
	"github.com/cuemby/brokerd/pkg/raftpartition"
)

// snapshotDirectorStep is the canonical TransitionStep: on Prepare it tears
// down whatever director the previous role installed (and, if one was
// registered, its committed-entry listener and health component); on
// TransitionTo it installs a fresh director in the shape the new role
// needs — processing mode for Leader, replay mode for everything else —
// and registers it as a committed-entry listener only when the new role is
// Leader, since only a leader's director drives new snapshot construction.
type snapshotDirectorStep struct {
	ctx *Context

	mu               sync.Mutex
	director         *snapshotDirector
	unregisterEntry  func()
	healthRegistered bool
}

func newSnapshotDirectorStep(pc *Context) *snapshotDirectorStep {
	return &snapshotDirectorStep{ctx: pc}
}

const snapshotDirectorHealthComponent = "snapshot_director"

func (s *snapshotDirectorStep) Prepare(ctx context.Context, term Term, target Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unregisterEntry != nil {
		s.unregisterEntry()
		s.unregisterEntry = nil
	}
	if s.healthRegistered && s.ctx.Health != nil {
		s.ctx.Health.Unregister(snapshotDirectorHealthComponent)
		s.healthRegistered = false
	}
	if s.director != nil {
		s.director.close()
		s.director = nil
	}

	return nil
}

func (s *snapshotDirectorStep) TransitionTo(ctx context.Context, term Term, target Role) error {
	if target == RoleInactive {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mode := ModeReplay
	if target == RoleLeader {
		mode = ModeProcessing
	}

	d := newSnapshotDirector(mode, s.ctx.PartitionID, s.ctx.Controller, s.ctx.Scheduler, s.ctx.SnapshotPeriod, s.ctx.LowerBoundPosition, &s.ctx.Paused.Exporting)
	d.start()
	s.director = d

	if s.ctx.Health != nil {
		s.ctx.Health.Register(snapshotDirectorHealthComponent, true, "")
		s.healthRegistered = true
	}

	if target == RoleLeader && s.ctx.Raft != nil {
		partitionID := s.ctx.PartitionID
		s.unregisterEntry = s.ctx.Raft.OnCommittedEntry(func(entry raftpartition.IndexedEntry) {
			metrics.RaftAppliedIndex.WithLabelValues(partitionID).Set(float64(entry.Index))
		})
	}

	return nil
}
