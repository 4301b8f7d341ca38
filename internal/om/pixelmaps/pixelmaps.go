// Package pixelmaps supplies the radius pixel map used to stratify pixels
// into radial bins during peak finding and to draw resolution rings in
// downstream viewers.
//
// Geometry refinement itself happens outside the monitor; this package only
// consumes its products. A geometry file is either an HDF5 file holding a
// precomputed radius map (Load), or it is not read at all and the map is
// computed around an explicit or geometric center (Compute, Centered).
package pixelmaps

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/refdata"
)

// DefaultRadiusPath is the dataset path used for precomputed radius maps
// when the configuration does not name one.
const DefaultRadiusPath = "/r"

// Compute builds a radius map for the given slab shape around an explicit
// center, in pixel units.
func Compute(shape data.Shape, centerSS, centerFS float64) *data.RadiusMap {
	m := &data.RadiusMap{Shape: shape, Pix: make([]float32, shape.NumPix())}
	for ss := 0; ss < shape.SS; ss++ {
		dss := float64(ss) - centerSS
		for fs := 0; fs < shape.FS; fs++ {
			dfs := float64(fs) - centerFS
			m.Pix[ss*shape.FS+fs] = float32(math.Sqrt(dss*dss + dfs*dfs))
		}
	}
	return m
}

// Centered builds a radius map around the geometric center of the shape.
func Centered(shape data.Shape) *data.RadiusMap {
	return Compute(shape, float64(shape.SS-1)/2, float64(shape.FS-1)/2)
}

// IsHDF5 reports whether a geometry file path names a precomputed pixel-map
// file rather than a geometry description.
func IsHDF5(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h5", ".hdf5", ".cxi":
		return true
	}
	return false
}

// Load reads a precomputed radius map from an HDF5 pixel-map file.
func Load(filename, path string) (*data.RadiusMap, error) {
	if path == "" {
		path = DefaultRadiusPath
	}
	return refdata.LoadRadiusMap(filename, path)
}
