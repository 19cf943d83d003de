package partition

import (
	"context"
	"sync"

	"github.com/cuemby/brokerd/pkg/raftpartition"
)

// streamProcessorStep owns the committed-entry pump that feeds the state
// controller's recovery bookkeeping. Record application itself (decoding a
// committed entry into a workflow-execution command and mutating the local
// KV database) is out of scope here; what this step guarantees is that
// every committed entry, while this partition is Leader or Follower, is
// observed exactly once and its position is recorded, so the canonical
// snapshot director's lower-bound computation always reflects the latest
// applied position rather than a stale one left over from a prior role.
type streamProcessorStep struct {
	ctx *Context

	mu              sync.Mutex
	unregisterEntry func()
	lastApplied     int64
}

func newStreamProcessorStep(pc *Context) *streamProcessorStep {
	return &streamProcessorStep{ctx: pc}
}

func (s *streamProcessorStep) Prepare(ctx context.Context, term Term, target Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unregisterEntry != nil {
		s.unregisterEntry()
		s.unregisterEntry = nil
	}
	return nil
}

func (s *streamProcessorStep) TransitionTo(ctx context.Context, term Term, target Role) error {
	if target != RoleLeader && target != RoleFollower {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.unregisterEntry = s.ctx.Raft.OnCommittedEntry(func(entry raftpartition.IndexedEntry) {
		if s.ctx.Paused.Processing.Load() {
			return
		}
		s.mu.Lock()
		s.lastApplied = int64(entry.Index)
		s.mu.Unlock()
	})
	return nil
}

// AppliedPosition reports the position of the last committed entry this
// step has observed, so an exporter-position function can fall back to it
// when no exporter pipeline is registered.
func (s *streamProcessorStep) AppliedPosition() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastApplied
}
