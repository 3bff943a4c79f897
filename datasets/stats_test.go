package datasets_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rangecast/rangecast/datasets"
	"github.com/rangecast/rangecast/internal/testutil"
	"github.com/rangecast/rangecast/npy"
)

func TestComputeMeanAndStd(t *testing.T) {
	root := t.TempDir()
	testutil.WriteSequence(t, root, 0, 3, 2, 2)

	cfg := testConfig(root, 2, 2, 2, 1, 0, 0)
	ds, err := datasets.NewWindowDataset(cfg, "train")
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())

	stats, err := datasets.ComputeMeanAndStd(context.Background(), ds, 2)
	require.NoError(t, err)
	require.Len(t, stats.Mean, 4)
	require.Len(t, stats.Std, 4)

	// The single sample covers scans 0,1 (past) and 2 (future), each
	// pixel of a scan holding the same value. Channel 0 sees 0,1,2.
	assert.InDelta(t, 1.0, stats.Mean[0], 1e-9)
	assert.InDelta(t, math.Sqrt(2.0/3.0), stats.Std[0], 1e-9)

	// Channel 1 is the x component: scan*100.
	assert.InDelta(t, 100.0, stats.Mean[1], 1e-9)
	assert.InDelta(t, math.Sqrt(20000.0/3.0), stats.Std[1], 1e-6)

	// 3 scans x 4 pixels each.
	assert.Equal(t, int64(12), stats.Count)
}

func TestComputeMeanAndStdEmptyDataset(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root, 2, 2, 2, 1, 0, 0)
	ds, err := datasets.NewWindowDataset(cfg, "train")
	require.NoError(t, err)
	require.Equal(t, 0, ds.Len())

	_, err = datasets.ComputeMeanAndStd(context.Background(), ds, 1)
	assert.Error(t, err)
}

func TestChannelStatsSave(t *testing.T) {
	dir := t.TempDir()
	stats := &datasets.ChannelStats{
		Mean: []float64{1, 2, 3, 4},
		Std:  []float64{0.5, 0.5, 0.5, 0.5},
	}
	require.NoError(t, stats.Save(dir))

	mean, err := npy.Load(dir + "/mean.npy")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, mean.Shape)
	assert.Equal(t, []float32{1, 2, 3, 4}, mean.Data)

	std, err := npy.Load(dir + "/std.npy")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, std.Data)
}
