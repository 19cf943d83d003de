/*
Package raftpartition is the only place in this repository that imports
github.com/hashicorp/raft. Everything above it — the partition transition
and partition actor — depends only on the RaftPartition interface, never
on *raft.Raft directly, so the consensus implementation can be swapped or
faked in tests without touching partition logic.

FSM bridges raft.FSM's Apply/Restore into CommittedEntryListener and
snapshot-replication-started/completed signals. Adapter wraps a
constructed *raft.Raft plus its raft.LogStore with a raft.Observer for
role-change notification, CurrentTerm via raft's stats snapshot, and
EntryAtPosition via a direct LogStore lookup.
*/
package raftpartition
