// Package npy reads and writes the NumPy .npy files the preprocessing
// pipeline exchanges with the dataset layer. Range images are float32
// arrays ("<f4"), semantic label maps are int32 ("<i4"); both are
// C-ordered.
//
// Reading goes through github.com/sbinet/npyio. Writing is done with a
// local NPY v1.0 header encoder because npyio only writes 1-D slices
// and 2-D gonum matrices, while xyz arrays are 3-D [H,W,3].
package npy

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// Array is a dense C-ordered float32 array of arbitrary rank.
type Array struct {
	Shape []int
	Data  []float32
}

// NewArray allocates a zeroed array with the given shape.
func NewArray(shape ...int) *Array {
	return &Array{Shape: shape, Data: make([]float32, numElems(shape))}
}

func numElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the total number of elements.
func (a *Array) Len() int { return len(a.Data) }

// Matrix views a 2-D array as a gonum matrix. The returned matrix
// copies into float64 storage; it is intended for plotting and small
// inspection paths, not the loading hot path.
func (a *Array) Matrix() (*mat.Dense, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("npy: Matrix requires a 2-D array, got shape %v", a.Shape)
	}
	rows, cols := a.Shape[0], a.Shape[1]
	data := make([]float64, len(a.Data))
	for i, v := range a.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(rows, cols, data), nil
}

// Load reads a float32 ("<f4") .npy file.
func Load(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("npy: open %s: %w", path, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("npy: read header of %s: %w", path, err)
	}
	shape := r.Header.Descr.Shape
	data := make([]float32, numElems(shape))
	if err := r.Read(&data); err != nil {
		return nil, fmt.Errorf("npy: read %s: %w", path, err)
	}
	return &Array{Shape: append([]int(nil), shape...), Data: data}, nil
}

// LoadLabels reads an int32 ("<i4") .npy label map.
func LoadLabels(path string) ([]int, []int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("npy: open %s: %w", path, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("npy: read header of %s: %w", path, err)
	}
	shape := r.Header.Descr.Shape
	data := make([]int32, numElems(shape))
	if err := r.Read(&data); err != nil {
		return nil, nil, fmt.Errorf("npy: read %s: %w", path, err)
	}
	return append([]int(nil), shape...), data, nil
}

// Save writes a float32 array as "<f4".
func Save(path string, a *Array) error {
	if got, want := len(a.Data), numElems(a.Shape); got != want {
		return fmt.Errorf("npy: shape %v wants %d elements, have %d", a.Shape, want, got)
	}
	return writeFile(path, "<f4", a.Shape, a.Data)
}

// SaveLabels writes an int32 label map as "<i4".
func SaveLabels(path string, shape []int, data []int32) error {
	if got, want := len(data), numElems(shape); got != want {
		return fmt.Errorf("npy: shape %v wants %d elements, have %d", shape, want, got)
	}
	return writeFile(path, "<i4", shape, data)
}

func writeFile(path, descr string, shape []int, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("npy: create %s: %w", path, err)
	}
	defer f.Close()

	if err := writeHeader(f, descr, shape); err != nil {
		return fmt.Errorf("npy: write header of %s: %w", path, err)
	}
	if err := binary.Write(f, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("npy: write %s: %w", path, err)
	}
	return f.Close()
}

// writeHeader emits an NPY format 1.0 header: magic, version, little
// endian uint16 header length, then the python dict literal padded with
// spaces to a 64-byte boundary and terminated by a newline.
func writeHeader(f *os.File, descr string, shape []int) error {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	hdr := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, tuple)

	const preambleLen = 10 // magic(6) + version(2) + header length(2)
	pad := 64 - (preambleLen+len(hdr)+1)%64
	if pad == 64 {
		pad = 0
	}
	hdr += strings.Repeat(" ", pad) + "\n"

	if _, err := f.Write([]byte("\x93NUMPY\x01\x00")); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint16(len(hdr))); err != nil {
		return err
	}
	_, err := f.Write([]byte(hdr))
	return err
}
