package npy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xyz.npy")

	a := NewArray(2, 3, 3)
	for i := range a.Data {
		a.Data[i] = float32(i) * 0.5
	}
	require.NoError(t, Save(path, a))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 3}, got.Shape)
	assert.Equal(t, a.Data, got.Data)
}

func TestSaveLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semantic.npy")

	labels := []int32{10, 0, 252, 40, 81, 0}
	require.NoError(t, SaveLabels(path, []int{2, 3}, labels))

	shape, got, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, shape)
	assert.Equal(t, labels, got)
}

func TestSaveRejectsShapeMismatch(t *testing.T) {
	a := &Array{Shape: []int{4, 4}, Data: make([]float32, 3)}
	err := Save(filepath.Join(t.TempDir(), "bad.npy"), a)
	assert.Error(t, err)
}

func TestSaveLoadVector(t *testing.T) {
	// 1-D shapes use the single-element tuple form "(n,)".
	path := filepath.Join(t.TempDir(), "mean.npy")
	a := &Array{Shape: []int{4}, Data: []float32{1, 2, 3, 4}}
	require.NoError(t, Save(path, a))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, got.Shape)
	assert.Equal(t, a.Data, got.Data)
}

func TestMatrix(t *testing.T) {
	a := &Array{Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}}
	m, err := a.Matrix()
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 3.0, m.At(1, 0))

	_, err = (&Array{Shape: []int{2}, Data: []float32{1, 2}}).Matrix()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.npy"))
	assert.Error(t, err)
}
