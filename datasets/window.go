package datasets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/rangecast/rangecast/config"
	"github.com/rangecast/rangecast/npy"
)

// Channel layout of an assembled scan. Channel 0 is the range image,
// channels 1-3 are the x/y/z components in channel-first order. The
// optional foreground-mask channel is appended after these.
const (
	ChannelRange = 0
	ChannelX     = 1
	ChannelY     = 2
	ChannelZ     = 3

	baseChannels = 4
)

// foregroundLabels is the allow-list of SemanticKITTI label ids that
// count as foreground when the mask channel is enabled.
var foregroundLabels = map[int32]struct{}{
	10: {}, 11: {}, 13: {}, 15: {}, 18: {}, 20: {},
	30: {}, 31: {}, 32: {}, 51: {}, 71: {}, 80: {},
	81: {}, 234: {}, 252: {}, 253: {}, 255: {}, 257: {},
	258: {}, 259: {},
}

// Meta identifies the reference scan a sample is centered on.
type Meta struct {
	Seq     int
	ScanIdx int
}

// Sample is one windowed training example: nPast scans ending at the
// reference scan and nFuture scans following it, both as flat float32
// buffers in [T, C, H, W] order.
type Sample struct {
	Past      []float32
	Fut       []float32
	PastShape []int
	FutShape  []int
	Meta      Meta
}

// Tensors converts the sample into a gomlx tensor pair.
func (s *Sample) Tensors() (past, fut *tensors.Tensor) {
	return tensors.FromAnyValue(nest4(s.Past, s.PastShape)),
		tensors.FromAnyValue(nest4(s.Fut, s.FutShape))
}

// nest4 reshapes a flat buffer into nested [T][C][H][W] slices without
// copying the innermost rows.
func nest4(buf []float32, shape []int) [][][][]float32 {
	t, c, h, w := shape[0], shape[1], shape[2], shape[3]
	out := make([][][][]float32, t)
	idx := 0
	for i := range t {
		out[i] = make([][][]float32, c)
		for j := range c {
			out[i][j] = make([][]float32, h)
			for k := range h {
				out[i][j][k] = buf[idx : idx+w]
				idx += w
			}
		}
	}
	return out
}

// ModalityDir returns the directory holding one modality's per-scan
// .npy files for a sequence. Both the dataset and the preprocessing
// pipeline go through this so the two sides cannot drift apart.
func ModalityDir(root string, seq int, modality string) string {
	return filepath.Join(root, fmt.Sprintf("%03d", seq), "processed", modality)
}

// Option configures a WindowDataset.
type Option func(*WindowDataset)

// WithForegroundMask appends a binary foreground-mask channel derived
// from the per-scan semantic label maps. Off by default; enabling it
// requires the semantic modality to be present and aligned with the
// range files.
func WithForegroundMask() Option {
	return func(d *WindowDataset) { d.withMask = true }
}

// WindowDataset maps a flat sample index onto past/future windows of
// range-image scans. All index state is built once in NewWindowDataset
// and never mutated afterwards, so a single instance may be read from
// any number of goroutines.
type WindowDataset struct {
	root   string
	split  string
	height int
	width  int

	nPast    int
	nFuture  int
	withMask bool

	sequences     []int
	rangeFiles    map[int][]string
	xyzFiles      map[int][]string
	semanticFiles map[int][]string

	// index maps a flat sample index to (sequence, reference scan).
	// Frozen after construction.
	index []Meta
}

// NewWindowDataset inventories the split's sequences and builds the
// global sample index. split must be one of train/val/test. A sequence
// whose range and xyz file lists disagree in length signals a corrupted
// preprocessing run and fails construction.
func NewWindowDataset(cfg *config.Config, split string, opts ...Option) (*WindowDataset, error) {
	start, end, err := cfg.DataConfig.SplitBounds(split)
	if err != nil {
		return nil, err
	}

	d := &WindowDataset{
		root:          cfg.DataConfig.ProcessedPath,
		split:         strings.ToLower(split),
		height:        cfg.DataConfig.Height,
		width:         cfg.DataConfig.Width,
		nPast:         cfg.Model.NPastSteps,
		nFuture:       cfg.Model.NFutureSteps,
		rangeFiles:    make(map[int][]string),
		xyzFiles:      make(map[int][]string),
		semanticFiles: make(map[int][]string),
	}
	for _, opt := range opts {
		opt(d)
	}

	for seq := start; seq <= end; seq++ {
		d.sequences = append(d.sequences, seq)

		d.rangeFiles[seq], err = listScanFiles(ModalityDir(d.root, seq, "range"))
		if err != nil {
			return nil, err
		}
		d.xyzFiles[seq], err = listScanFiles(ModalityDir(d.root, seq, "xyz"))
		if err != nil {
			return nil, err
		}
		if len(d.rangeFiles[seq]) != len(d.xyzFiles[seq]) {
			return nil, fmt.Errorf("sequence %03d: %d range files but %d xyz files",
				seq, len(d.rangeFiles[seq]), len(d.xyzFiles[seq]))
		}

		if d.withMask {
			d.semanticFiles[seq], err = listScanFiles(ModalityDir(d.root, seq, "semantic"))
			if err != nil {
				return nil, err
			}
			if len(d.rangeFiles[seq]) != len(d.semanticFiles[seq]) {
				return nil, fmt.Errorf("sequence %03d: %d range files but %d semantic files",
					seq, len(d.rangeFiles[seq]), len(d.semanticFiles[seq]))
			}
		}

		// A sequence shorter than one full window contributes no
		// samples; that is expected, not an error.
		nSamples := len(d.rangeFiles[seq]) - d.nPast - d.nFuture + 1
		for k := 0; k < nSamples; k++ {
			d.index = append(d.index, Meta{Seq: seq, ScanIdx: d.nPast + k - 1})
		}
	}

	return d, nil
}

// listScanFiles returns the .npy files of a modality directory in
// lexicographic order, so that index i in every modality list refers to
// the same timestep. A missing directory yields an empty list.
func listScanFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list scans in %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".npy") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Len returns the total number of valid samples in the split.
func (d *WindowDataset) Len() int { return len(d.index) }

// Split returns the split name this dataset serves.
func (d *WindowDataset) Split() string { return d.split }

// Channels returns the per-scan channel count.
func (d *WindowDataset) Channels() int {
	if d.withMask {
		return baseChannels + 1
	}
	return baseChannels
}

// Dims returns the configured range-image height and width.
func (d *WindowDataset) Dims() (height, width int) { return d.height, d.width }

// Windows returns the configured past and future window lengths.
func (d *WindowDataset) Windows() (nPast, nFuture int) { return d.nPast, d.nFuture }

// Sample loads and assembles the sample at a flat index. Past covers
// scan offsets [ref-nPast+1, ref], future covers [ref+1, ref+nFuture];
// both stay inside the sequence by construction of the index.
func (d *WindowDataset) Sample(idx int) (*Sample, error) {
	if idx < 0 || idx >= len(d.index) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.index))
	}
	ref := d.index[idx]

	c := d.Channels()
	scanLen := c * d.height * d.width

	s := &Sample{
		Past:      make([]float32, d.nPast*scanLen),
		Fut:       make([]float32, d.nFuture*scanLen),
		PastShape: []int{d.nPast, c, d.height, d.width},
		FutShape:  []int{d.nFuture, c, d.height, d.width},
		Meta:      ref,
	}

	from := ref.ScanIdx - d.nPast + 1
	for t := 0; t < d.nPast; t++ {
		if err := d.loadScan(s.Past[t*scanLen:(t+1)*scanLen], ref.Seq, from+t); err != nil {
			return nil, err
		}
	}
	for t := 0; t < d.nFuture; t++ {
		if err := d.loadScan(s.Fut[t*scanLen:(t+1)*scanLen], ref.Seq, ref.ScanIdx+1+t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Batch loads multiple samples by their flat indices.
func (d *WindowDataset) Batch(indices []int) ([]*Sample, error) {
	out := make([]*Sample, len(indices))
	for i, idx := range indices {
		s, err := d.Sample(idx)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// loadScan fills one timestep's channel block: the range image into
// channel 0 and the xyz components, stored on disk with the component
// as the last axis, transposed into channels 1-3. dst must hold
// Channels()*H*W values.
func (d *WindowDataset) loadScan(dst []float32, seq, scan int) error {
	hw := d.height * d.width

	rng, err := npy.Load(d.rangeFiles[seq][scan])
	if err != nil {
		return err
	}
	if len(rng.Shape) != 2 || rng.Shape[0] != d.height || rng.Shape[1] != d.width {
		return fmt.Errorf("%s: want range shape [%d %d], got %v",
			d.rangeFiles[seq][scan], d.height, d.width, rng.Shape)
	}
	copy(dst[:hw], rng.Data)

	xyz, err := npy.Load(d.xyzFiles[seq][scan])
	if err != nil {
		return err
	}
	if len(xyz.Shape) != 3 || xyz.Shape[0] != d.height || xyz.Shape[1] != d.width || xyz.Shape[2] < 3 {
		return fmt.Errorf("%s: want xyz shape [%d %d >=3], got %v",
			d.xyzFiles[seq][scan], d.height, d.width, xyz.Shape)
	}
	comps := xyz.Shape[2]
	for c := 0; c < 3; c++ {
		block := dst[(1+c)*hw : (2+c)*hw]
		for p := 0; p < hw; p++ {
			block[p] = xyz.Data[p*comps+c]
		}
	}

	if d.withMask {
		if err := d.loadForegroundMask(dst[baseChannels*hw:(baseChannels+1)*hw], seq, scan); err != nil {
			return err
		}
	}
	return nil
}

// loadForegroundMask derives a binary mask from the scan's semantic
// label map: 1 where the label is on the foreground allow-list.
func (d *WindowDataset) loadForegroundMask(dst []float32, seq, scan int) error {
	path := d.semanticFiles[seq][scan]
	shape, labels, err := npy.LoadLabels(path)
	if err != nil {
		return err
	}
	if len(labels) != d.height*d.width {
		return fmt.Errorf("%s: want %d semantic labels, got %d (shape %v)",
			path, d.height*d.width, len(labels), shape)
	}
	for p, label := range labels {
		if _, ok := foregroundLabels[label]; ok {
			dst[p] = 1
		} else {
			dst[p] = 0
		}
	}
	return nil
}
