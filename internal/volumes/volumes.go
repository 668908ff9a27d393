// Package volumes lists the mounted volumes a scan can start from.
package volumes

import (
	"context"
	"fmt"
	"sort"

	"github.com/shirou/gopsutil/v3/disk"
)

// Volume is a mounted filesystem. Sizes are zero when usage could not be read.
type Volume struct {
	Device     string `json:"device"`
	Mountpoint string `json:"mountpoint"`
	FSType     string `json:"fstype"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	UsageKnown bool   `json:"usage_known"`
}

// Lister enumerates volumes. The partition and usage sources are swappable
// for tests.
type Lister struct {
	partitions func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// NewLister returns a lister backed by the host's partition table.
func NewLister() *Lister {
	return &Lister{
		partitions: disk.PartitionsWithContext,
		usage:      disk.UsageWithContext,
	}
}

// List returns physical partitions sorted by mountpoint. A partition whose
// usage query fails is still listed.
func (l *Lister) List(ctx context.Context) ([]Volume, error) {
	parts, err := l.partitions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	seen := make(map[string]bool, len(parts))
	vols := make([]Volume, 0, len(parts))
	for _, p := range parts {
		if p.Mountpoint == "" || seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true

		v := Volume{Device: p.Device, Mountpoint: p.Mountpoint, FSType: p.Fstype}
		if u, err := l.usage(ctx, p.Mountpoint); err == nil && u != nil {
			v.TotalBytes = u.Total
			v.FreeBytes = u.Free
			v.UsageKnown = true
		}
		vols = append(vols, v)
	}

	sort.Slice(vols, func(i, j int) bool { return vols[i].Mountpoint < vols[j].Mountpoint })
	return vols, nil
}

// Find returns the volume mounted at mountpoint.
func (l *Lister) Find(ctx context.Context, mountpoint string) (Volume, bool, error) {
	vols, err := l.List(ctx)
	if err != nil {
		return Volume{}, false, err
	}
	for _, v := range vols {
		if v.Mountpoint == mountpoint {
			return v, true, nil
		}
	}
	return Volume{}, false, nil
}
