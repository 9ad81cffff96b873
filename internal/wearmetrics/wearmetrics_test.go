package wearmetrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/soypat/flashfs"
	"github.com/soypat/flashfs/internal/wearmetrics"
	"github.com/stretchr/testify/require"
)

func TestCountsDeviceCalls(t *testing.T) {
	require := require.New(t)
	mem, err := flashfs.NewBytesBlocks(64, 8, flashfs.ErasedOnes)
	require.NoError(err)
	reg := prometheus.NewRegistry()
	dev, err := wearmetrics.New(mem, reg)
	require.NoError(err)

	var fs flashfs.FS
	require.NoError(fs.Mount(dev, flashfs.Config{}))
	var fp flashfs.File
	require.NoError(fs.OpenFile(&fp, "log", flashfs.ModeAppend))
	_, err = fp.Write(make([]byte, 100))
	require.NoError(err)
	require.NoError(fp.Close())
	require.NoError(fs.Remove("log"))

	families, err := reg.Gather()
	require.NoError(err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, name := range []string{
		"flashfs_device_reads_total",
		"flashfs_device_programs_total",
		"flashfs_device_erases_total",
		"flashfs_device_read_bytes_total",
		"flashfs_device_programmed_bytes_total",
		"flashfs_device_block_erases_total",
	} {
		require.True(names[name], name)
	}

	// Blank device is formatted on mount: one erase per block.
	// Removing the 2 block file erases 2 more.
	require.Equal(float64(8+2), gathered(t, reg, "flashfs_device_erases_total"))
	require.Equal(float64(8+2), gathered(t, reg, "flashfs_device_block_erases_total"))
	total := 0
	for b := 0; b < 8; b++ {
		total += mem.EraseCount(b)
	}
	require.Equal(10, total)
}

// gathered sums the values of every series of counter name.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	sum := 0.0
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

type failing struct{ flashfs.BlockDevice }

func (failing) EraseBlock(int) error { return errors.New("worn out") }

func TestCountsFailures(t *testing.T) {
	require := require.New(t)
	mem, err := flashfs.NewBytesBlocks(32, 2, flashfs.ErasedOnes)
	require.NoError(err)
	reg := prometheus.NewRegistry()
	dev, err := wearmetrics.New(failing{mem}, reg)
	require.NoError(err)
	require.Error(dev.EraseBlock(1))
	require.Equal(float64(1), gathered(t, reg, "flashfs_device_errors_total"))

	_, err = wearmetrics.New(mem, reg)
	require.Error(err, "duplicate registration")
}
