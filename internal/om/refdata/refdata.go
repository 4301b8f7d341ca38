// Package refdata loads reference arrays (dark frames, gain maps, bad
// pixel masks, precomputed pixel maps) from HDF5 files.
//
// Arrays are loaded once, at node startup, and treated as read-only for
// the lifetime of the node. Any load failure is fatal for the node: the
// monitor never operates on partial reference data.
package refdata

import (
	"gonum.org/v1/hdf5"

	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
)

func open2D(filename, path string) (*hdf5.File, *hdf5.Dataset, data.Shape, error) {
	f, err := hdf5.OpenFile(filename, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, nil, data.Shape{}, omerr.Wrap(omerr.KindRefData, err, "cannot open HDF5 file %s", filename)
	}
	ds, err := f.OpenDataset(path)
	if err != nil {
		f.Close()
		return nil, nil, data.Shape{}, omerr.Wrap(omerr.KindRefData, err, "cannot open dataset %s in %s", path, filename)
	}
	dims, _, err := ds.Space().SimpleExtentDims()
	if err != nil {
		ds.Close()
		f.Close()
		return nil, nil, data.Shape{}, omerr.Wrap(omerr.KindRefData, err, "cannot read extent of %s in %s", path, filename)
	}
	if len(dims) != 2 {
		ds.Close()
		f.Close()
		return nil, nil, data.Shape{}, omerr.New(omerr.KindRefData,
			"dataset %s in %s is %d-dimensional, expected 2", path, filename, len(dims))
	}
	return f, ds, data.Shape{SS: int(dims[0]), FS: int(dims[1])}, nil
}

// LoadSlab reads a 2D float dataset into a slab. The HDF5 library converts
// the stored element type to float32 on read.
func LoadSlab(filename, path string) (*data.Slab, error) {
	f, ds, shape, err := open2D(filename, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer ds.Close()

	slab := data.NewSlab(shape)
	if err := ds.Read(&slab.Pix); err != nil {
		return nil, omerr.Wrap(omerr.KindRefData, err, "cannot read dataset %s in %s", path, filename)
	}
	return slab, nil
}

// LoadMask reads a 2D integer dataset into a bad-pixel mask. Any nonzero
// stored value enables the pixel.
func LoadMask(filename, path string) (*data.Mask, error) {
	f, ds, shape, err := open2D(filename, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer ds.Close()

	raw := make([]uint8, shape.NumPix())
	if err := ds.Read(&raw); err != nil {
		return nil, omerr.Wrap(omerr.KindRefData, err, "cannot read dataset %s in %s", path, filename)
	}
	mask := &data.Mask{Shape: shape, Pix: raw}
	for i, v := range mask.Pix {
		if v != 0 {
			mask.Pix[i] = 1
		}
	}
	return mask, nil
}

// LoadRadiusMap reads a 2D float dataset into a radius pixel map.
func LoadRadiusMap(filename, path string) (*data.RadiusMap, error) {
	slab, err := LoadSlab(filename, path)
	if err != nil {
		return nil, err
	}
	return &data.RadiusMap{Shape: slab.Shape, Pix: slab.Pix}, nil
}

// FrameCount reports how many detector frames a dataset holds: the first
// extent for a 3D stack, one for a plain 2D image.
func FrameCount(filename, path string) (int, error) {
	f, err := hdf5.OpenFile(filename, hdf5.F_ACC_RDONLY)
	if err != nil {
		return 0, omerr.Wrap(omerr.KindRefData, err, "cannot open HDF5 file %s", filename)
	}
	defer f.Close()
	ds, err := f.OpenDataset(path)
	if err != nil {
		return 0, omerr.Wrap(omerr.KindRefData, err, "cannot open dataset %s in %s", path, filename)
	}
	defer ds.Close()
	dims, _, err := ds.Space().SimpleExtentDims()
	if err != nil {
		return 0, omerr.Wrap(omerr.KindRefData, err, "cannot read extent of %s in %s", path, filename)
	}
	switch len(dims) {
	case 2:
		return 1, nil
	case 3:
		return int(dims[0]), nil
	default:
		return 0, omerr.New(omerr.KindRefData,
			"dataset %s in %s is %d-dimensional, expected 2 or 3", path, filename, len(dims))
	}
}

// LoadFrame reads one detector frame from a dataset. For a 3D stack the
// index selects a hyperslab along the first axis; for a 2D image the index
// must be zero.
func LoadFrame(filename, path string, index int) (*data.Slab, error) {
	f, err := hdf5.OpenFile(filename, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, omerr.Wrap(omerr.KindRefData, err, "cannot open HDF5 file %s", filename)
	}
	defer f.Close()
	ds, err := f.OpenDataset(path)
	if err != nil {
		return nil, omerr.Wrap(omerr.KindRefData, err, "cannot open dataset %s in %s", path, filename)
	}
	defer ds.Close()

	filespace := ds.Space()
	dims, _, err := filespace.SimpleExtentDims()
	if err != nil {
		return nil, omerr.Wrap(omerr.KindRefData, err, "cannot read extent of %s in %s", path, filename)
	}

	switch len(dims) {
	case 2:
		if index != 0 {
			return nil, omerr.New(omerr.KindRefData,
				"frame %d requested from 2D dataset %s in %s", index, path, filename)
		}
		slab := data.NewSlab(data.Shape{SS: int(dims[0]), FS: int(dims[1])})
		if err := ds.Read(&slab.Pix); err != nil {
			return nil, omerr.Wrap(omerr.KindRefData, err, "cannot read dataset %s in %s", path, filename)
		}
		return slab, nil
	case 3:
		if index < 0 || index >= int(dims[0]) {
			return nil, omerr.New(omerr.KindRefData,
				"frame %d out of range for dataset %s in %s (have %d)", index, path, filename, dims[0])
		}
		shape := data.Shape{SS: int(dims[1]), FS: int(dims[2])}
		offset := []uint{uint(index), 0, 0}
		count := []uint{1, dims[1], dims[2]}
		if err := filespace.SelectHyperslab(offset, nil, count, nil); err != nil {
			return nil, omerr.Wrap(omerr.KindRefData, err, "cannot select frame %d of %s in %s", index, path, filename)
		}
		memspace, err := hdf5.CreateSimpleDataspace(count, nil)
		if err != nil {
			return nil, omerr.Wrap(omerr.KindRefData, err, "cannot create memory dataspace")
		}
		defer memspace.Close()
		slab := data.NewSlab(shape)
		if err := ds.ReadSubset(&slab.Pix, memspace, filespace); err != nil {
			return nil, omerr.Wrap(omerr.KindRefData, err, "cannot read frame %d of %s in %s", index, path, filename)
		}
		return slab, nil
	default:
		return nil, omerr.New(omerr.KindRefData,
			"dataset %s in %s is %d-dimensional, expected 2 or 3", path, filename, len(dims))
	}
}
