// Package kvstore adapts go.etcd.io/bbolt (the teacher's storage engine)
// behind the narrow DB/Factory interfaces the state controller needs:
// Get/Put/Delete/ForEach for ordinary reads and writes, and CreateSnapshot
// for the snapshot-construction flow. Unlike the teacher's storage.Store,
// this package has no per-domain-entity buckets - the partition's state
// machine payload has no schema of its own here, so all keys live in one
// bucket.
package kvstore
