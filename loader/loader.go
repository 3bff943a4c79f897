// Package loader wraps a datasets.Dataset in batching, shuffling and
// worker-parallel prefetch, and adapts the result to the gomlx
// train.Dataset contract (Yield/Restart/Name). It also provides the
// DataModule lifecycle wrapper that owns the three split loaders.
package loader

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/rangecast/rangecast/datasets"
)

// Options configures a Loader.
type Options struct {
	// BatchSize is the number of samples per batch. The final batch of
	// an epoch may be smaller; it is never dropped.
	BatchSize int

	// Shuffle reshuffles the sample order at every Restart.
	Shuffle bool

	// NumWorkers is the number of persistent loading goroutines. They
	// outlive epochs so Restart does not pay worker startup cost.
	// Values below 1 mean a single worker.
	NumWorkers int

	// Seed fixes the shuffle order; 0 picks a time-based seed.
	Seed int64

	// Name labels the loader (gomlx Dataset name).
	Name string
}

// Batch is a stacked group of samples, flat in [B, T, C, H, W] order.
type Batch struct {
	Past      []float32
	Fut       []float32
	PastShape []int
	FutShape  []int
	Meta      []datasets.Meta
	Size      int
}

type result struct {
	batch *Batch
	err   error
}

// Loader pulls samples from a dataset with persistent parallel workers
// and serves them batch by batch. Restart, Next, Yield and Close are
// single-consumer: call them from one goroutine (the training loop).
//
// With one worker and shuffling disabled, batches arrive in index
// order; with several workers the interleaving across batches is
// unspecified, only the per-epoch coverage is.
type Loader struct {
	src  datasets.Dataset
	opts Options
	rng  *rand.Rand

	jobs    chan []int
	results chan result
	quit    chan struct{}
	once    sync.Once

	// pending is the number of batches of the current epoch that have
	// been enqueued but not yet returned to the consumer. Only touched
	// by the consumer goroutine.
	pending int
}

// New starts the worker pool and primes the first epoch.
func New(src datasets.Dataset, opts Options) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.NumWorkers < 1 {
		opts.NumWorkers = 1
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Name == "" {
		opts.Name = "WindowLoader"
	}

	l := &Loader{
		src:     src,
		opts:    opts,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		jobs:    make(chan []int),
		results: make(chan result, 2*opts.NumWorkers),
		quit:    make(chan struct{}),
	}
	for range opts.NumWorkers {
		go l.worker()
	}
	if err := l.Restart(); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Loader) worker() {
	for {
		select {
		case <-l.quit:
			return
		case indices := <-l.jobs:
			b, err := l.loadBatch(indices)
			select {
			case l.results <- result{batch: b, err: err}:
			case <-l.quit:
				return
			}
		}
	}
}

func (l *Loader) loadBatch(indices []int) (*Batch, error) {
	samples, err := l.src.Batch(indices)
	if err != nil {
		return nil, err
	}

	b := &Batch{Size: len(samples), Meta: make([]datasets.Meta, len(samples))}
	first := samples[0]
	b.PastShape = append([]int{len(samples)}, first.PastShape...)
	b.FutShape = append([]int{len(samples)}, first.FutShape...)
	b.Past = make([]float32, len(samples)*len(first.Past))
	b.Fut = make([]float32, len(samples)*len(first.Fut))

	for i, s := range samples {
		if len(s.Past) != len(first.Past) || len(s.Fut) != len(first.Fut) {
			return nil, fmt.Errorf("loader: sample %d has inconsistent dimensions", indices[i])
		}
		copy(b.Past[i*len(first.Past):], s.Past)
		copy(b.Fut[i*len(first.Fut):], s.Fut)
		b.Meta[i] = s.Meta
	}
	return b, nil
}

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return (l.src.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Len returns the number of samples in the underlying dataset.
func (l *Loader) Len() int { return l.src.Len() }

// Name implements the gomlx train.Dataset interface.
func (l *Loader) Name() string { return l.opts.Name }

// Restart begins a new epoch: stragglers from the previous epoch are
// drained, the order is reshuffled if configured, and the index batches
// are handed to the persistent workers.
func (l *Loader) Restart() error {
	for l.pending > 0 {
		<-l.results
		l.pending--
	}

	n := l.src.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	batches := make([][]int, 0, l.NumBatches())
	for start := 0; start < n; start += l.opts.BatchSize {
		end := min(start+l.opts.BatchSize, n)
		batches = append(batches, order[start:end])
	}
	l.pending = len(batches)

	go func() {
		for _, b := range batches {
			select {
			case l.jobs <- b:
			case <-l.quit:
				return
			}
		}
	}()
	return nil
}

// Next returns the next prefetched batch, or io.EOF once the epoch is
// exhausted. There is deliberately no timeout: the call blocks on file
// I/O for as long as it takes.
func (l *Loader) Next() (*Batch, error) {
	if l.pending == 0 {
		return nil, io.EOF
	}
	res := <-l.results
	l.pending--
	if res.err != nil {
		return nil, res.err
	}
	return res.batch, nil
}

// Yield implements the gomlx train.Dataset interface. The spec slot
// carries the batch metadata, inputs the past window and labels the
// future window, each as one [B, T, C, H, W] tensor.
func (l *Loader) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	b, err := l.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	past := tensors.FromAnyValue(nest5(b.Past, b.PastShape))
	fut := tensors.FromAnyValue(nest5(b.Fut, b.FutShape))
	return b.Meta, []*tensors.Tensor{past}, []*tensors.Tensor{fut}, nil
}

// Close stops the worker pool. The loader must not be used afterwards.
func (l *Loader) Close() {
	l.once.Do(func() { close(l.quit) })
}

// nest5 reshapes a flat buffer into nested [B][T][C][H][W] slices; the
// innermost rows alias the buffer.
func nest5(buf []float32, shape []int) [][][][][]float32 {
	b, t, c, h, w := shape[0], shape[1], shape[2], shape[3], shape[4]
	out := make([][][][][]float32, b)
	idx := 0
	for n := range b {
		out[n] = make([][][][]float32, t)
		for i := range t {
			out[n][i] = make([][][]float32, c)
			for j := range c {
				out[n][i][j] = make([][]float32, h)
				for k := range h {
					out[n][i][j][k] = buf[idx : idx+w]
					idx += w
				}
			}
		}
	}
	return out
}
