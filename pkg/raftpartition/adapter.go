package raftpartition

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
)

// Adapter implements RaftPartition on top of a real *raft.Raft and the
// raft.LogStore backing it (raft-boltdb in production). It is grounded on
// the teacher's poc/raft single-node bootstrap (raft.NewRaft + a
// registered FSM) generalized with a raft.Observer for role-change
// notification, which the poc never needed.
type Adapter struct {
	raft     *raft.Raft
	logStore raft.LogStore
	serverID raft.ServerID
	fsm      *FSM
	log      zerolog.Logger

	mu            sync.Mutex
	nextID        int
	roleListeners map[int]RoleChangeListener

	observer     *raft.Observer
	observations chan raft.Observation
	stop         chan struct{}
}

// NewAdapter wraps r (already constructed with fsm and logStore) and
// begins observing its role transitions.
func NewAdapter(r *raft.Raft, logStore raft.LogStore, serverID raft.ServerID, fsm *FSM, logger zerolog.Logger) *Adapter {
	a := &Adapter{
		raft:          r,
		logStore:      logStore,
		serverID:      serverID,
		fsm:           fsm,
		log:           logger,
		roleListeners: make(map[int]RoleChangeListener),
		observations:  make(chan raft.Observation, 16),
		stop:          make(chan struct{}),
	}

	a.observer = raft.NewObserver(a.observations, false, func(o *raft.Observation) bool {
		_, ok := o.Data.(raft.RaftState)
		return ok
	})
	r.RegisterObserver(a.observer)

	go a.consumeObservations()
	return a
}

// Close stops observing role changes. It does not shut down the
// underlying *raft.Raft, which outlives a single Adapter's registration.
func (a *Adapter) Close() {
	a.raft.DeregisterObserver(a.observer)
	close(a.stop)
}

func (a *Adapter) consumeObservations() {
	for {
		select {
		case obs := <-a.observations:
			if state, ok := obs.Data.(raft.RaftState); ok {
				a.notifyRoleChange(mapRaftState(state))
			}
		case <-a.stop:
			return
		}
	}
}

func mapRaftState(s raft.RaftState) Role {
	switch s {
	case raft.Follower:
		return RoleFollower
	case raft.Candidate:
		return RoleCandidate
	case raft.Leader:
		return RoleLeader
	default: // raft.Shutdown
		return RoleInactive
	}
}

func (a *Adapter) notifyRoleChange(role Role) {
	term := a.CurrentTerm()

	a.mu.Lock()
	listeners := make([]RoleChangeListener, 0, len(a.roleListeners))
	for _, fn := range a.roleListeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(role, term)
	}
}

// CurrentTerm reads the current term out of raft's own stats snapshot;
// hashicorp/raft has no direct CurrentTerm accessor.
func (a *Adapter) CurrentTerm() Term {
	term, err := strconv.ParseUint(a.raft.Stats()["term"], 10, 64)
	if err != nil {
		return 0
	}
	return Term(term)
}

// EntryAtPosition looks up the log entry at position directly from the
// raft.LogStore backing this partition's log (raft-boltdb in
// production), treating Position as interchangeable with a raft index.
func (a *Adapter) EntryAtPosition(position Position) (IndexedEntry, bool) {
	var l raft.Log
	if err := a.logStore.GetLog(uint64(position), &l); err != nil {
		return IndexedEntry{}, false
	}
	return IndexedEntry{Index: l.Index, Term: Term(l.Term), Payload: l.Data}, true
}

func (a *Adapter) OnRoleChange(fn RoleChangeListener) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.roleListeners[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.roleListeners, id)
		a.mu.Unlock()
	}
}

func (a *Adapter) OnCommittedEntry(fn CommittedEntryListener) func() {
	return a.fsm.OnCommittedEntry(fn)
}

func (a *Adapter) OnSnapshotReplicationStarted(fn func()) func() {
	return a.fsm.OnSnapshotReplicationStarted(fn)
}

func (a *Adapter) OnSnapshotReplicationCompleted(fn func()) func() {
	return a.fsm.OnSnapshotReplicationCompleted(fn)
}

// StepDown gracefully relinquishes leadership. A no-op if this replica
// isn't currently leader.
func (a *Adapter) StepDown() error {
	if a.raft.State() != raft.Leader {
		return nil
	}
	future := a.raft.LeadershipTransfer()
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftpartition: step down: %w", err)
	}
	return nil
}

// GoInactive demotes this server to a non-voter, so it stops
// participating in the consensus group without the process exiting.
func (a *Adapter) GoInactive() error {
	future := a.raft.DemoteVoter(a.serverID, 0, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftpartition: go inactive: %w", err)
	}
	return nil
}
