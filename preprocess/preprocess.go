// Package preprocess converts raw LiDAR logs into the processed .npy
// layout the dataset layer reads:
//
//	<processed_root>/<sequence:03d>/processed/{range,xyz,intensity}/<scan:06d>.npy
//
// The pipeline here owns everything except the spherical projection
// itself: raw scan enumeration, point-cloud parsing, parallel
// conversion and .npy writing. The projection from a point cloud to a
// range image is a collaborator behind the Projector interface and is
// supplied by the embedding application.
package preprocess

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rangecast/rangecast/config"
	"github.com/rangecast/rangecast/datasets"
	"github.com/rangecast/rangecast/npy"
)

// ErrNoProjector is returned when a conversion entry point runs
// without a wired Projector implementation.
var ErrNoProjector = errors.New("preprocess: no range projector configured")

// DefaultProjector is the projector picked up by the preprocess CLI.
// Embedding applications set it before dispatching a conversion.
var DefaultProjector Projector

// Point is one LiDAR return in the sensor frame.
type Point struct {
	X, Y, Z   float32
	Intensity float32
}

// Frame is one scan projected onto the range-image grid: range [H,W],
// xyz [H,W,3] and intensity [H,W].
type Frame struct {
	Range     *npy.Array
	XYZ       *npy.Array
	Intensity *npy.Array
}

// Projector maps a point cloud onto the fixed angular grid. The
// projection mathematics live outside this repository.
type Projector interface {
	Project(points []Point) (*Frame, error)
}

// readPointsBin parses a flat little-endian float32 point file with
// the given number of floats per point; fields beyond the first four
// (x, y, z, intensity) are dropped.
func readPointsBin(path string, floatsPerPoint int) ([]Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scan %s: %w", path, err)
	}
	stride := 4 * floatsPerPoint
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("scan %s: %d bytes is not a multiple of %d-byte points",
			path, len(data), stride)
	}

	points := make([]Point, len(data)/stride)
	for i := range points {
		off := i * stride
		points[i] = Point{
			X:         math.Float32frombits(binary.LittleEndian.Uint32(data[off:])),
			Y:         math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:])),
			Z:         math.Float32frombits(binary.LittleEndian.Uint32(data[off+8:])),
			Intensity: math.Float32frombits(binary.LittleEndian.Uint32(data[off+12:])),
		}
	}
	return points, nil
}

// ReadVelodyne parses a KITTI velodyne scan (4 float32 per point).
func ReadVelodyne(path string) ([]Point, error) {
	return readPointsBin(path, 4)
}

// ReadNuScenesSweep parses a nuScenes LIDAR_TOP sweep (5 float32 per
// point; the trailing ring index is dropped).
func ReadNuScenesSweep(path string) ([]Point, error) {
	return readPointsBin(path, 5)
}

// Converter runs the projection over whole sequences and writes the
// processed tree.
type Converter struct {
	cfg  *config.Config
	proj Projector
	read func(path string) ([]Point, error)
	log  *slog.Logger
}

// NewConverter builds a converter for one raw-scan format.
func NewConverter(cfg *config.Config, proj Projector, read func(string) ([]Point, error)) (*Converter, error) {
	if proj == nil {
		return nil, ErrNoProjector
	}
	return &Converter{cfg: cfg, proj: proj, read: read, log: slog.Default()}, nil
}

// ConvertSequence converts one sequence's raw scans, in their given
// (temporal) order, into zero-padded per-scan .npy files, so the
// dataset's lexicographic listing reproduces the input order. Scans
// are converted in parallel, bounded by DATALOADER.NUM_WORKER.
func (c *Converter) ConvertSequence(ctx context.Context, seq int, scanPaths []string) error {
	out := c.cfg.DataConfig.ProcessedPath
	for _, modality := range []string{"range", "xyz", "intensity"} {
		if err := os.MkdirAll(datasets.ModalityDir(out, seq, modality), 0o755); err != nil {
			return fmt.Errorf("create processed layout: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	workers := c.cfg.DataConfig.Dataloader.NumWorker
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, path := range scanPaths {
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			return c.convertScan(seq, i, path)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.log.Info("converted sequence", "seq", seq, "scans", len(scanPaths))
	return nil
}

func (c *Converter) convertScan(seq, scan int, path string) error {
	points, err := c.read(path)
	if err != nil {
		return err
	}
	frame, err := c.proj.Project(points)
	if err != nil {
		return fmt.Errorf("project %s: %w", path, err)
	}

	h, w := c.cfg.DataConfig.Height, c.cfg.DataConfig.Width
	if len(frame.Range.Shape) != 2 || frame.Range.Shape[0] != h || frame.Range.Shape[1] != w {
		return fmt.Errorf("project %s: want range shape [%d %d], got %v", path, h, w, frame.Range.Shape)
	}
	if len(frame.XYZ.Shape) != 3 || frame.XYZ.Shape[0] != h || frame.XYZ.Shape[1] != w || frame.XYZ.Shape[2] != 3 {
		return fmt.Errorf("project %s: want xyz shape [%d %d 3], got %v", path, h, w, frame.XYZ.Shape)
	}

	out := c.cfg.DataConfig.ProcessedPath
	name := fmt.Sprintf("%06d.npy", scan)
	if err := npy.Save(filepath.Join(datasets.ModalityDir(out, seq, "range"), name), frame.Range); err != nil {
		return err
	}
	if err := npy.Save(filepath.Join(datasets.ModalityDir(out, seq, "xyz"), name), frame.XYZ); err != nil {
		return err
	}
	if frame.Intensity != nil {
		if err := npy.Save(filepath.Join(datasets.ModalityDir(out, seq, "intensity"), name), frame.Intensity); err != nil {
			return err
		}
	}
	return nil
}

// listSorted returns the files under dir with the given suffix in
// lexicographic order.
func listSorted(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// PrepareKITTI converts a KITTI odometry layout,
// <raw>/sequences/<NN>/velodyne/*.bin, sequence by sequence.
func PrepareKITTI(ctx context.Context, cfg *config.Config, proj Projector) error {
	conv, err := NewConverter(cfg, proj, ReadVelodyne)
	if err != nil {
		return err
	}

	seqRoot := filepath.Join(cfg.DataConfig.RawDatasetPath, "sequences")
	entries, err := os.ReadDir(seqRoot)
	if err != nil {
		return fmt.Errorf("list kitti sequences: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		seq, err := strconv.Atoi(e.Name())
		if err != nil {
			continue // not a sequence directory
		}
		scans, err := listSorted(filepath.Join(seqRoot, e.Name(), "velodyne"), ".bin")
		if err != nil {
			return err
		}
		if err := conv.ConvertSequence(ctx, seq, scans); err != nil {
			return err
		}
	}
	return nil
}

// PrepareNuScenes converts scene directories of LIDAR_TOP sweeps under
// <raw>/scenes/, assigning sequence numbers in sorted scene order. The
// upstream devkit's scene tables are expected to have been exported to
// this per-scene layout beforehand.
func PrepareNuScenes(ctx context.Context, cfg *config.Config, proj Projector) error {
	conv, err := NewConverter(cfg, proj, ReadNuScenesSweep)
	if err != nil {
		return err
	}

	sceneRoot := filepath.Join(cfg.DataConfig.RawDatasetPath, "scenes")
	entries, err := os.ReadDir(sceneRoot)
	if err != nil {
		return fmt.Errorf("list nuscenes scenes: %w", err)
	}
	var scenes []string
	for _, e := range entries {
		if e.IsDir() {
			scenes = append(scenes, e.Name())
		}
	}
	sort.Strings(scenes)

	for seq, scene := range scenes {
		scans, err := listSorted(filepath.Join(sceneRoot, scene), ".pcd.bin")
		if err != nil {
			return err
		}
		if err := conv.ConvertSequence(ctx, seq, scans); err != nil {
			return err
		}
	}
	return nil
}

// KITTI adapts PrepareKITTI to the DataModule's Preparer interface.
type KITTI struct {
	Projector Projector
}

// Prepare implements the conversion trigger for KITTI data.
func (k KITTI) Prepare(ctx context.Context, cfg *config.Config) error {
	return PrepareKITTI(ctx, cfg, k.Projector)
}

// NuScenes adapts PrepareNuScenes to the DataModule's Preparer
// interface.
type NuScenes struct {
	Projector Projector
}

// Prepare implements the conversion trigger for nuScenes data.
func (n NuScenes) Prepare(ctx context.Context, cfg *config.Config) error {
	return PrepareNuScenes(ctx, cfg, n.Projector)
}
