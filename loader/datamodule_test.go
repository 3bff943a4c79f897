package loader_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rangecast/rangecast/config"
	"github.com/rangecast/rangecast/internal/testutil"
	"github.com/rangecast/rangecast/loader"
)

func intPtr(v int) *int { return &v }

func moduleConfig(root string) *config.Config {
	bounds := func(s, e int) []config.SplitBound {
		return []config.SplitBound{{Start: intPtr(s)}, {End: intPtr(e)}}
	}
	return &config.Config{
		DataConfig: config.DataConfig{
			ProcessedPath:     root,
			Height:            2,
			Width:             4,
			ComputeMeanAndStd: true,
			Dataloader:        config.DataloaderConfig{Shuffle: true, NumWorker: 2},
			Split: config.SplitConfig{
				Train: bounds(0, 0),
				Val:   bounds(1, 1),
				Test:  bounds(2, 2),
			},
		},
		Model: config.ModelConfig{NPastSteps: 2, NFutureSteps: 1},
		Train: config.TrainConfig{BatchSize: 2},
	}
}

func TestDataModuleSetup(t *testing.T) {
	root := t.TempDir()
	testutil.WriteSequence(t, root, 0, 5, 2, 4) // train: 3 samples
	testutil.WriteSequence(t, root, 1, 3, 2, 4) // val:   1 sample
	testutil.WriteSequence(t, root, 2, 4, 2, 4) // test:  2 samples

	cfg := moduleConfig(root)
	m := loader.NewDataModule(cfg, loader.WithSeed(1))
	defer m.Close()

	require.NoError(t, m.Prepare(context.Background()))
	require.NoError(t, m.Setup(context.Background()))

	require.NotNil(t, m.TrainLoader())
	assert.Equal(t, 3, m.TrainLoader().Len())
	assert.Equal(t, 1, m.ValLoader().Len())
	assert.Equal(t, 2, m.TestLoader().Len())

	// Accessors hand out stable loaders, and Setup stays a no-op once
	// the module is built.
	train := m.TrainLoader()
	require.NoError(t, m.Setup(context.Background()))
	assert.Same(t, train, m.TrainLoader())

	// One full validation batch should arrive.
	b, err := m.ValLoader().Next()
	require.NoError(t, err)
	assert.Equal(t, 1, b.Size)
	assert.Equal(t, []int{1, 2, 4, 2, 4}, b.PastShape)

	// The statistics pass persisted per-channel moments.
	_, err = os.Stat(filepath.Join(root, "mean.npy"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "std.npy"))
	assert.NoError(t, err)
}

func TestDataModulePrepare(t *testing.T) {
	root := t.TempDir()
	cfg := moduleConfig(root)
	cfg.DataConfig.GenerateFiles = true

	// GENERATE_FILES without a wired preparer is a configuration error.
	m := loader.NewDataModule(cfg)
	require.Error(t, m.Prepare(context.Background()))

	called := false
	m = loader.NewDataModule(cfg, loader.WithPreparer(
		loader.PreparerFunc(func(ctx context.Context, got *config.Config) error {
			called = true
			assert.Same(t, cfg, got)
			return nil
		})))
	require.NoError(t, m.Prepare(context.Background()))
	assert.True(t, called)

	// Disabled flag skips the preparer entirely.
	cfg.DataConfig.GenerateFiles = false
	called = false
	require.NoError(t, m.Prepare(context.Background()))
	assert.False(t, called)
}

func TestDataModuleSetupFailsOnCorruptSplit(t *testing.T) {
	root := t.TempDir()
	testutil.WriteSequence(t, root, 0, 5, 2, 4)
	testutil.WriteSequence(t, root, 1, 3, 2, 4)
	testutil.WriteSequence(t, root, 2, 4, 2, 4)
	// Corrupt the test split: remove one xyz file.
	require.NoError(t, os.Remove(filepath.Join(root, "002", "processed", "xyz", testutil.ScanName(3))))

	m := loader.NewDataModule(moduleConfig(root))
	defer m.Close()
	err := m.Setup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test split")
}
