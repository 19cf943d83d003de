/*
Package metrics defines and registers brokerd's Prometheus collectors.

Metrics fall into five groups: partition counts and role transitions,
per-partition Raft progress (term, applied index, apply latency),
state-controller/snapshot activity (count, size, compaction bound, take and
persist latency), startup/shutdown step duration (shared by process bring-up
and each partition actor's own bring-up), and gateway request counters.
All collectors are registered with the default Prometheus registry at
package init; Handler exposes them over HTTP for scraping.

Collector polls a Source (satisfied by the partition runtime) on a fixed
interval and republishes per-partition state onto the package's gauges.

Timer is a small helper for recording operation durations against a
histogram or histogram vector without each call site retyping
time.Since(start).Seconds().
*/
package metrics
