package metrics

import "time"

// PartitionSnapshot is the narrow view of a single partition's state the
// collector needs. pkg/partition.Actor supplies these through Source without
// metrics importing pkg/partition, keeping the dependency direction
// metrics-leaf.
type PartitionSnapshot struct {
	ID               string
	Role             string
	RaftTerm         uint64
	AppliedIndex     uint64
	SnapshotCount    int
	LatestSnapshotSz int64
	CompactionBound  uint64
}

// Source supplies the current snapshot of every partition this node hosts.
type Source interface {
	PartitionSnapshots() []PartitionSnapshot
}

// Collector polls a Source on an interval and republishes its state onto the
// package's Prometheus gauges. One Collector runs per node, independent of
// how many partitions that node hosts.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds, starting immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snapshots := c.source.PartitionSnapshots()

	roleCounts := make(map[string]int)
	for _, p := range snapshots {
		roleCounts[p.Role]++

		RaftTerm.WithLabelValues(p.ID).Set(float64(p.RaftTerm))
		RaftAppliedIndex.WithLabelValues(p.ID).Set(float64(p.AppliedIndex))
		SnapshotsTotal.WithLabelValues(p.ID).Set(float64(p.SnapshotCount))
		SnapshotBytes.WithLabelValues(p.ID).Set(float64(p.LatestSnapshotSz))
		SnapshotCompactionBound.WithLabelValues(p.ID).Set(float64(p.CompactionBound))
	}

	for role, count := range roleCounts {
		PartitionsTotal.WithLabelValues(role).Set(float64(count))
	}
}
