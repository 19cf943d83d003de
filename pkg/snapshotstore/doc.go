/*
Package snapshotstore implements the transient-to-persisted snapshot state
machine described in spec.md §4.3: a pending/ directory of in-progress
scratch snapshots and a snapshots/ directory of immutable, content-addressed
persisted ones.

A snapshot's identity is the tuple (processed_position, exported_position,
index, term, ordinal); ID.String renders it as
"<processed>-<exported>-<index>-<term>-<ordinal>", each field a fixed-width
19-digit zero-padded decimal, so that directory names sort lexicographically
in exactly tuple order and Latest is "the largest name".

TransientSnapshot is a linear, move-only handle (spec.md §9's "transient to
persisted handshake" design note): Take populates the scratch directory and
writes its CHECKSUM, then exactly one of Persist (atomic rename into
snapshots/, pruning every prior snapshot for the partition) or Abort
(delete the scratch directory) consumes it.

Crash safety: Open deletes any partial pending/ directories left behind by
a process that died mid-Take, and seeds the ordinal counter past every
persisted snapshot already on disk. A persisted snapshot whose CHECKSUM no
longer verifies is treated as absent by Latest, which falls through to the
next-largest valid one.
*/
package snapshotstore
