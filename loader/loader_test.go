package loader

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rangecast/rangecast/datasets"
)

// fakeDataset serves synthetic in-memory samples; sample i carries i in
// its metadata and its buffers so tests can track batch contents.
type fakeDataset struct {
	n      int
	failAt int // index whose load fails; -1 disables
}

func newFakeDataset(n int) *fakeDataset { return &fakeDataset{n: n, failAt: -1} }

func (f *fakeDataset) Len() int { return f.n }

func (f *fakeDataset) Sample(i int) (*datasets.Sample, error) {
	if i < 0 || i >= f.n {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, f.n)
	}
	if i == f.failAt {
		return nil, fmt.Errorf("synthetic load failure at %d", i)
	}
	return &datasets.Sample{
		Past:      []float32{float32(i), float32(i)},
		Fut:       []float32{float32(i) + 0.5, float32(i) + 0.5},
		PastShape: []int{1, 1, 1, 2},
		FutShape:  []int{1, 1, 1, 2},
		Meta:      datasets.Meta{Seq: 0, ScanIdx: i},
	}, nil
}

func (f *fakeDataset) Batch(indices []int) ([]*datasets.Sample, error) {
	out := make([]*datasets.Sample, len(indices))
	for i, idx := range indices {
		s, err := f.Sample(idx)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// drainEpoch consumes the current epoch and returns every sample index
// seen, in arrival order.
func drainEpoch(t *testing.T, l *Loader) []int {
	t.Helper()
	var seen []int
	for {
		b, err := l.Next()
		if err == io.EOF {
			return seen
		}
		require.NoError(t, err)
		for _, m := range b.Meta {
			seen = append(seen, m.ScanIdx)
		}
	}
}

func TestEpochCoversEverySampleOnce(t *testing.T) {
	l, err := New(newFakeDataset(10), Options{BatchSize: 3, Shuffle: true, NumWorkers: 3, Seed: 7})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, 4, l.NumBatches())

	seen := drainEpoch(t, l)
	require.Len(t, seen, 10)
	counts := make(map[int]int)
	for _, idx := range seen {
		counts[idx]++
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, 1, counts[i], "sample %d", i)
	}
}

func TestFinalPartialBatchKept(t *testing.T) {
	l, err := New(newFakeDataset(7), Options{BatchSize: 3, NumWorkers: 1})
	require.NoError(t, err)
	defer l.Close()

	var sizes []int
	for {
		b, err := l.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, b.Size)
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func TestOrderPreservedWithoutShuffle(t *testing.T) {
	l, err := New(newFakeDataset(8), Options{BatchSize: 3, NumWorkers: 1})
	require.NoError(t, err)
	defer l.Close()

	seen := drainEpoch(t, l)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, seen)
}

func TestShuffleIsSeedDeterministic(t *testing.T) {
	order := func(seed int64) []int {
		l, err := New(newFakeDataset(16), Options{BatchSize: 4, Shuffle: true, NumWorkers: 1, Seed: seed})
		require.NoError(t, err)
		defer l.Close()
		return drainEpoch(t, l)
	}

	first := order(42)
	second := order(42)
	assert.Equal(t, first, second)
	assert.NotEqual(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, first)
}

func TestRestartServesNextEpoch(t *testing.T) {
	l, err := New(newFakeDataset(5), Options{BatchSize: 2, NumWorkers: 2})
	require.NoError(t, err)
	defer l.Close()

	require.Len(t, drainEpoch(t, l), 5)

	// Exhausted until restarted.
	_, err = l.Next()
	assert.Equal(t, io.EOF, err)

	require.NoError(t, l.Restart())
	require.Len(t, drainEpoch(t, l), 5)
}

func TestRestartMidEpochDropsStragglers(t *testing.T) {
	l, err := New(newFakeDataset(12), Options{BatchSize: 2, NumWorkers: 3})
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Next()
	require.NoError(t, err)

	require.NoError(t, l.Restart())
	assert.Len(t, drainEpoch(t, l), 12)
}

func TestLoadErrorPropagates(t *testing.T) {
	ds := newFakeDataset(6)
	ds.failAt = 4
	l, err := New(ds, Options{BatchSize: 2, NumWorkers: 1})
	require.NoError(t, err)
	defer l.Close()

	var sawErr error
	for {
		_, err := l.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			sawErr = err
			break
		}
	}
	require.Error(t, sawErr)
	assert.Contains(t, sawErr.Error(), "synthetic load failure")
}

func TestYield(t *testing.T) {
	l, err := New(newFakeDataset(4), Options{BatchSize: 4, NumWorkers: 1, Name: "train"})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "train", l.Name())

	spec, inputs, labels, err := l.Yield()
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.Len(t, labels, 1)
	require.NotNil(t, inputs[0])
	require.NotNil(t, labels[0])

	meta, ok := spec.([]datasets.Meta)
	require.True(t, ok)
	assert.Len(t, meta, 4)

	_, _, _, err = l.Yield()
	assert.Equal(t, io.EOF, err)
}

func TestRejectsBadBatchSize(t *testing.T) {
	_, err := New(newFakeDataset(4), Options{BatchSize: 0})
	assert.Error(t, err)
}
