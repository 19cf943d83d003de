/*
Package partition owns a single partition's role lifecycle: the ordered,
two-phase Transition between Raft roles, and the Actor that decides when to
run one off Raft role-change, admin, and snapshot-replication signals.

Transition composes a fixed list of TransitionSteps — logReplicationStep,
streamProcessorStep, and the canonical snapshotDirectorStep — running every
step's Prepare before any step's TransitionTo, so a step can always assume
every other step has finished tearing down the previous role's services
before it starts installing the new one.

Actor is the only place that decides WHICH transition to run: every input
that could trigger one arrives through its own actor.Actor, so the actor's
FIFO ordering is what guarantees two transitions for the same partition
never overlap.
*/
package partition
