/*
Package log wraps zerolog with brokerd's component-scoped logging
conventions.

Init configures the single global Logger once at process startup from
Config{Level, JSONOutput, Output}. WithComponent returns a child logger
whose lines carry a "component" field identifying the subsystem that
emitted them (used by startup and gateway); cmd/brokerd writes its own
process-level lines to Logger directly.

Partition-scoped code (the partition actor, state controller, snapshot
director, and Raft adapter) logs through WithPartition, a child of Logger
carrying a "partition_id" field, so a single partition's lifecycle can be
filtered out of a multi-partition node's combined log stream. WithTerm and
WithRole add a term or role field to any existing logger.

JSON output is the production format; console output (human-readable,
colorized) is for local development. Both timestamp every line.
*/
package log
