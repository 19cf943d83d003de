package raftpartition

import (
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// FSM bridges hashicorp/raft's Apply/Restore calls into the narrow
// committed-entry and snapshot-replication-signal interfaces this
// repo consumes. It intentionally does not interpret log payloads or
// reconstruct database state from a raft-transported snapshot: the
// authoritative snapshot/recovery path is pkg/statecontroller and
// pkg/snapshotstore, not raft's own FSM snapshot machinery — replication
// is observed here, not implemented, per scope.
type FSM struct {
	mu                   sync.Mutex
	nextID               int
	entryListeners       map[int]CommittedEntryListener
	replicationStarted   map[int]func()
	replicationCompleted map[int]func()
}

// NewFSM returns an FSM with no listeners registered.
func NewFSM() *FSM {
	return &FSM{
		entryListeners:       make(map[int]CommittedEntryListener),
		replicationStarted:   make(map[int]func()),
		replicationCompleted: make(map[int]func()),
	}
}

// OnCommittedEntry registers fn to run, on raft's FSM-apply goroutine, for
// every entry raft commits. The returned func unregisters it.
func (f *FSM) OnCommittedEntry(fn CommittedEntryListener) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.entryListeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.entryListeners, id)
		f.mu.Unlock()
	}
}

// OnSnapshotReplicationStarted registers fn to run when this replica
// begins installing a leader-sent snapshot (raft.FSM.Restore entry).
func (f *FSM) OnSnapshotReplicationStarted(fn func()) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.replicationStarted[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.replicationStarted, id)
		f.mu.Unlock()
	}
}

// OnSnapshotReplicationCompleted registers fn to run when snapshot
// installation finishes (raft.FSM.Restore return, success or failure).
func (f *FSM) OnSnapshotReplicationCompleted(fn func()) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.replicationCompleted[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.replicationCompleted, id)
		f.mu.Unlock()
	}
}

// Apply implements raft.FSM by forwarding the committed entry to every
// registered CommittedEntryListener. It never interprets log.Data.
func (f *FSM) Apply(l *raft.Log) interface{} {
	entry := IndexedEntry{Index: l.Index, Term: Term(l.Term), Payload: l.Data}

	f.mu.Lock()
	listeners := make([]CommittedEntryListener, 0, len(f.entryListeners))
	for _, fn := range f.entryListeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(entry)
	}
	return nil
}

// Snapshot implements raft.FSM with an empty persisted snapshot: this
// repo's log compaction is driven by pkg/statecontroller against
// pkg/snapshotstore, not by raft's own snapshot/restore cycle.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return emptyFSMSnapshot{}, nil
}

// Restore implements raft.FSM. It fires the replication start/complete
// signals around discarding the incoming byte stream, since this repo's
// state controller is the authority on local database contents, not the
// bytes raft's InstallSnapshot RPC carries.
func (f *FSM) Restore(rc io.ReadCloser) error {
	f.fire(f.replicationStarted)
	defer rc.Close()

	_, err := io.Copy(io.Discard, rc)

	f.fire(f.replicationCompleted)
	return err
}

func (f *FSM) fire(listeners map[int]func()) {
	f.mu.Lock()
	fns := make([]func(), 0, len(listeners))
	for _, fn := range listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type emptyFSMSnapshot struct{}

func (emptyFSMSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (emptyFSMSnapshot) Release()                             {}
