package health

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// DiskSpaceChecker reports unhealthy once the filesystem backing Path drops
// below WatermarkFree fraction of free space. The partition actor reacts to
// its reports by pausing exporting while space is short and resuming once
// it recovers; cmd/brokerd sets WatermarkFree to one minus
// disk_usage_replication_watermark from configuration.
type DiskSpaceChecker struct {
	// Path is the directory whose filesystem is statted (the snapshot store
	// or runtime DB directory).
	Path string

	// WatermarkFree is the minimum fraction (0..1) of free space required to
	// report healthy.
	WatermarkFree float64
}

// NewDiskSpaceChecker returns a checker for path with watermarkFree as the
// minimum healthy free-space fraction.
func NewDiskSpaceChecker(path string, watermarkFree float64) *DiskSpaceChecker {
	return &DiskSpaceChecker{Path: path, WatermarkFree: watermarkFree}
}

func (d *DiskSpaceChecker) Type() CheckType { return CheckTypeDisk }

// Check performs a statfs(2) call against Path and reports healthy if the
// free-space fraction meets WatermarkFree.
func (d *DiskSpaceChecker) Check(_ context.Context) Result {
	start := time.Now()

	var stat unix.Statfs_t
	if err := unix.Statfs(d.Path, &stat); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("statfs %s: %v", d.Path, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("statfs %s: zero total blocks", d.Path),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	freeFrac := float64(free) / float64(total)
	if freeFrac < d.WatermarkFree {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s: %.1f%% free, below watermark %.1f%%", d.Path, freeFrac*100, d.WatermarkFree*100),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{Healthy: true, CheckedAt: start, Duration: time.Since(start)}
}
