/*
Package health provides the node's aggregate health monitor.

A Monitor tracks the health of every component a node registers (one entry
per partition, plus the snapshot director and the disk-space checker) and
rolls them up into a single State: Healthy when every component is healthy,
Degraded when some but not all are unhealthy, Unhealthy when all are, and
Dead once MarkDead has been called - the terminal sink for an
UnrecoverableError per the broker's error-handling design.

Unlike a package-level global, a Monitor is constructed per node via
NewMonitor and passed explicitly to whatever needs to report or query
health. This keeps multiple independent nodes testable in the same process
and avoids hidden cross-test state.

Checker implementations (currently DiskSpaceChecker, backed by a statfs(2)
syscall) are registered against a Monitor through RunChecker, which applies
a Config's consecutive-failure retry threshold via Status before updating
the Monitor.
*/
package health
