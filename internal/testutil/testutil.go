// Package testutil builds synthetic processed-dataset trees for tests.
// Scan contents are deterministic functions of (sequence, scan,
// channel) so tests can assert exactly which scan ended up in which
// window slot.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rangecast/rangecast/datasets"
	"github.com/rangecast/rangecast/npy"
)

// RangeValue is the fill value of every pixel of a scan's range image.
func RangeValue(seq, scan int) float32 {
	return float32(seq*1000 + scan)
}

// XYZValue is the fill value of one xyz component of a scan.
func XYZValue(seq, scan, comp int) float32 {
	return float32(seq*100000 + scan*100 + comp)
}

// ScanName returns the zero-padded file name of a scan.
func ScanName(scan int) string {
	return fmt.Sprintf("%06d.npy", scan)
}

// WriteScan writes one timestep's range and xyz files.
func WriteScan(t testing.TB, root string, seq, scan, h, w int) {
	t.Helper()

	rng := npy.NewArray(h, w)
	for i := range rng.Data {
		rng.Data[i] = RangeValue(seq, scan)
	}
	writeModality(t, root, seq, "range", scan, rng)

	xyz := npy.NewArray(h, w, 3)
	for p := 0; p < h*w; p++ {
		for c := 0; c < 3; c++ {
			xyz.Data[p*3+c] = XYZValue(seq, scan, c)
		}
	}
	writeModality(t, root, seq, "xyz", scan, xyz)
}

// WriteSequence writes a full sequence of scans numbered [0, scans).
func WriteSequence(t testing.TB, root string, seq, scans, h, w int) {
	t.Helper()
	for scan := 0; scan < scans; scan++ {
		WriteScan(t, root, seq, scan, h, w)
	}
}

// WriteSemanticScan writes one timestep's semantic label map.
func WriteSemanticScan(t testing.TB, root string, seq, scan, h, w int, labels []int32) {
	t.Helper()
	dir := datasets.ModalityDir(root, seq, "semantic")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := npy.SaveLabels(filepath.Join(dir, ScanName(scan)), []int{h, w}, labels); err != nil {
		t.Fatalf("write semantic scan: %v", err)
	}
}

func writeModality(t testing.TB, root string, seq int, modality string, scan int, a *npy.Array) {
	t.Helper()
	dir := datasets.ModalityDir(root, seq, modality)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := npy.Save(filepath.Join(dir, ScanName(scan)), a); err != nil {
		t.Fatalf("write %s scan: %v", modality, err)
	}
}
