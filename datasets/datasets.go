package datasets

// This package implements the file-backed dataset for range-image
// point-cloud forecasting. Scans are pre-processed into per-timestep
// .npy arrays laid out as
//
//	<processed_root>/<sequence:03d>/processed/{range,xyz,intensity,semantic}/*.npy
//
// and a WindowDataset assembles fixed-length past/future windows of
// multi-channel range images from them.
//
// The dataset is lazy: construction only inventories file names and
// builds the flat sample index, and every Sample call reloads the
// needed scans from disk. Nothing is cached, so instances are cheap to
// share read-only across loader workers.
type Dataset interface {
	Len() int
	Sample(idx int) (*Sample, error)
	Batch(indices []int) ([]*Sample, error)
}
