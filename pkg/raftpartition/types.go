// Package raftpartition is the narrow boundary between the partition
// lifecycle core and the concrete Raft implementation: only role-change
// notifications, committed-entry delivery, and snapshot-replication
// start/complete signals cross it, per the scope note that the consensus
// protocol itself is out of bounds here.
package raftpartition

import "fmt"

// Role is a partition's Raft-derived role. The Adapter maps hashicorp/raft's
// native Follower/Candidate/Leader states onto the same-named roles and any
// other state (such as Shutdown) onto Inactive; Passive and Promotable are
// defined, but nothing in this module produces them.
type Role int

const (
	RoleInactive Role = iota
	RolePassive
	RolePromotable
	RoleCandidate
	RoleFollower
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleInactive:
		return "inactive"
	case RolePassive:
		return "passive"
	case RolePromotable:
		return "promotable"
	case RoleCandidate:
		return "candidate"
	case RoleFollower:
		return "follower"
	case RoleLeader:
		return "leader"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Term identifies a leadership epoch; monotonically non-decreasing.
type Term uint64

// Position is a 64-bit log-stream position; the snapshot subsystem treats
// it as interchangeable with a raft log index.
type Position int64

// IndexedEntry is a committed log entry as the snapshot subsystem sees it:
// only the (index, term) pair is load-bearing, the payload is opaque here
// (record/command schema is out of scope for this boundary).
type IndexedEntry struct {
	Index   uint64
	Term    Term
	Payload []byte
}

// RoleChangeListener is notified whenever the local Raft role changes.
type RoleChangeListener func(role Role, term Term)

// CommittedEntryListener is notified for every entry committed to the log.
type CommittedEntryListener func(entry IndexedEntry)

// RaftPartition is the collaborator interface the partition lifecycle
// core consumes. It never touches *raft.Raft directly; production code
// wires an *Adapter, tests wire a fake.
type RaftPartition interface {
	// CurrentTerm returns the partition's current Raft term.
	CurrentTerm() Term

	// EntryAtPosition looks up the committed entry at position, if the
	// local log still holds one (it may have been compacted away).
	EntryAtPosition(position Position) (IndexedEntry, bool)

	// OnRoleChange registers fn to run on every role change. The returned
	// func unregisters it.
	OnRoleChange(fn RoleChangeListener) (unregister func())

	// OnCommittedEntry registers fn to run on every committed log entry.
	OnCommittedEntry(fn CommittedEntryListener) (unregister func())

	// OnSnapshotReplicationStarted registers fn to run when this
	// (follower) partition begins installing a leader-sent snapshot.
	OnSnapshotReplicationStarted(fn func()) (unregister func())

	// OnSnapshotReplicationCompleted registers fn to run when snapshot
	// installation finishes, successfully or not.
	OnSnapshotReplicationCompleted(fn func()) (unregister func())

	// StepDown relinquishes leadership gracefully. A no-op if not leader.
	StepDown() error

	// GoInactive removes the partition from the voting configuration,
	// without tearing down the process, so it stops participating in the
	// consensus group while remaining reachable for administration.
	GoInactive() error
}
