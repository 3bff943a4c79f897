package datasets

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rangecast/rangecast/npy"
)

// ChannelStats holds per-channel moments of a dataset, computed over
// every pixel of every scan in both the past and future windows.
type ChannelStats struct {
	Mean  []float64
	Std   []float64
	Count int64
}

// channelAcc is one worker's running accumulator.
type channelAcc struct {
	n     float64
	sum   []float64
	sumSq []float64
}

func newChannelAcc(channels int) *channelAcc {
	return &channelAcc{sum: make([]float64, channels), sumSq: make([]float64, channels)}
}

func (a *channelAcc) add(buf []float32, shape []int) {
	t, c, hw := shape[0], shape[1], shape[2]*shape[3]
	idx := 0
	for range t {
		for ch := 0; ch < c; ch++ {
			s, sq := a.sum[ch], a.sumSq[ch]
			for p := 0; p < hw; p++ {
				v := float64(buf[idx])
				s += v
				sq += v * v
				idx++
			}
			a.sum[ch], a.sumSq[ch] = s, sq
		}
	}
	a.n += float64(t * hw)
}

func (a *channelAcc) merge(b *channelAcc) {
	a.n += b.n
	for i := range a.sum {
		a.sum[i] += b.sum[i]
		a.sumSq[i] += b.sumSq[i]
	}
}

// ComputeMeanAndStd streams over the whole dataset with the given
// number of parallel workers and returns per-channel mean and standard
// deviation. Workers keep private accumulators that are merged once at
// the end, so there is no contention on the hot path.
func ComputeMeanAndStd(ctx context.Context, ds Dataset, workers int) (*ChannelStats, error) {
	if ds.Len() == 0 {
		return nil, fmt.Errorf("cannot compute statistics of an empty dataset")
	}
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)

	indices := make(chan int)
	go func() {
		defer close(indices)
		for i := 0; i < ds.Len(); i++ {
			select {
			case indices <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		mu    sync.Mutex
		total *channelAcc
	)
	for range workers {
		g.Go(func() error {
			var acc *channelAcc
			for idx := range indices {
				if err := ctx.Err(); err != nil {
					return err
				}
				s, err := ds.Sample(idx)
				if err != nil {
					return err
				}
				if acc == nil {
					acc = newChannelAcc(s.PastShape[1])
				}
				acc.add(s.Past, s.PastShape)
				acc.add(s.Fut, s.FutShape)
			}
			if acc != nil {
				mu.Lock()
				if total == nil {
					total = acc
				} else {
					total.merge(acc)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	channels := len(total.sum)
	stats := &ChannelStats{
		Mean:  make([]float64, channels),
		Std:   make([]float64, channels),
		Count: int64(total.n),
	}
	for ch := 0; ch < channels; ch++ {
		mean := total.sum[ch] / total.n
		stats.Mean[ch] = mean
		variance := total.sumSq[ch]/total.n - mean*mean
		if variance < 0 {
			variance = 0 // guard against float round-off
		}
		stats.Std[ch] = math.Sqrt(variance)
	}
	return stats, nil
}

// Save persists the statistics as mean.npy and std.npy (shape [C])
// under dir, where the training configuration can pick them up for
// input normalization.
func (s *ChannelStats) Save(dir string) error {
	mean := &npy.Array{Shape: []int{len(s.Mean)}, Data: make([]float32, len(s.Mean))}
	std := &npy.Array{Shape: []int{len(s.Std)}, Data: make([]float32, len(s.Std))}
	for i := range s.Mean {
		mean.Data[i] = float32(s.Mean[i])
		std.Data[i] = float32(s.Std[i])
	}
	if err := npy.Save(filepath.Join(dir, "mean.npy"), mean); err != nil {
		return err
	}
	return npy.Save(filepath.Join(dir, "std.npy"), std)
}
