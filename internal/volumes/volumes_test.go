package volumes

import (
	"context"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLister(parts []disk.PartitionStat, partErr error, usage map[string]*disk.UsageStat) *Lister {
	return &Lister{
		partitions: func(context.Context, bool) ([]disk.PartitionStat, error) {
			return parts, partErr
		},
		usage: func(_ context.Context, path string) (*disk.UsageStat, error) {
			if u, ok := usage[path]; ok {
				return u, nil
			}
			return nil, errors.New("permission denied")
		},
	}
}

func TestList(t *testing.T) {
	l := fakeLister([]disk.PartitionStat{
		{Device: "/dev/sdb1", Mountpoint: "/media/usb", Fstype: "vfat"},
		{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
		{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
		{Device: "none", Mountpoint: ""},
	}, nil, map[string]*disk.UsageStat{
		"/": {Total: 1000, Free: 400},
	})

	vols, err := l.List(context.Background())
	require.NoError(t, err)
	require.Len(t, vols, 2)

	assert.Equal(t, Volume{Device: "/dev/sda1", Mountpoint: "/", FSType: "ext4", TotalBytes: 1000, FreeBytes: 400, UsageKnown: true}, vols[0])
	// Usage failure keeps the volume with unknown sizes
	assert.Equal(t, Volume{Device: "/dev/sdb1", Mountpoint: "/media/usb", FSType: "vfat"}, vols[1])
}

func TestListError(t *testing.T) {
	l := fakeLister(nil, errors.New("boom"), nil)
	_, err := l.List(context.Background())
	assert.Error(t, err)
}

func TestFind(t *testing.T) {
	l := fakeLister([]disk.PartitionStat{{Device: "/dev/sdb1", Mountpoint: "/media/usb"}}, nil, nil)

	v, ok, err := l.Find(context.Background(), "/media/usb")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/dev/sdb1", v.Device)

	_, ok, err = l.Find(context.Background(), "/nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewListerHost(t *testing.T) {
	vols, err := NewLister().List(context.Background())
	if err != nil {
		t.Skipf("partition table unavailable: %v", err)
	}
	for _, v := range vols {
		assert.NotEmpty(t, v.Mountpoint)
	}
}
