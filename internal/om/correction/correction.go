// Package correction applies per-frame detector corrections: a bad-pixel
// mask, a dark-frame subtraction and a per-pixel gain map.
package correction

import (
	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
	"github.com/banshee-data/bragg.report/internal/om/refdata"
)

// Params names the reference arrays to load. Each (Filename, HDF5Path) pair
// is optional, but a half-specified pair is a configuration error.
type Params struct {
	DarkFilename string
	DarkHDF5Path string
	MaskFilename string
	MaskHDF5Path string
	GainFilename string
	GainHDF5Path string
}

// Correction holds precomputed correction arrays so that Apply is a single
// fused elementwise pass: (data ∘ mask − dark) ∘ gain.
//
// As in the reference reduction code, the stored dark and gain arrays are
// pre-multiplied by the mask at construction time, so Apply touches each
// pixel once: an unmasked pixel becomes (data − dark) ∘ gain and a
// masked-out pixel becomes zero.
type Correction struct {
	shape    data.Shape
	hasShape bool
	mask     []float32 // nil when no mask was configured
	dark     []float32 // nil when no dark frame was configured
	gain     []float32 // nil when no gain map was configured
}

func pairState(filename, path, what string) (bool, error) {
	switch {
	case filename != "" && path != "":
		return true, nil
	case filename == "" && path == "":
		return false, nil
	case filename != "":
		return false, omerr.New(omerr.KindConfig, "missing HDF5 path for %s", what)
	default:
		return false, omerr.New(omerr.KindConfig, "missing filename for %s", what)
	}
}

// New loads the configured reference arrays and precomputes the fused
// correction terms. Arrays of mismatched shapes are rejected.
func New(p Params) (*Correction, error) {
	var (
		mask *data.Mask
		dark *data.Slab
		gain *data.Slab
	)

	if ok, err := pairState(p.MaskFilename, p.MaskHDF5Path, "mask"); err != nil {
		return nil, err
	} else if ok {
		m, err := refdata.LoadMask(p.MaskFilename, p.MaskHDF5Path)
		if err != nil {
			return nil, err
		}
		mask = m
	}
	if ok, err := pairState(p.DarkFilename, p.DarkHDF5Path, "dark frame data"); err != nil {
		return nil, err
	} else if ok {
		d, err := refdata.LoadSlab(p.DarkFilename, p.DarkHDF5Path)
		if err != nil {
			return nil, err
		}
		dark = d
	}
	if ok, err := pairState(p.GainFilename, p.GainHDF5Path, "gain map"); err != nil {
		return nil, err
	} else if ok {
		g, err := refdata.LoadSlab(p.GainFilename, p.GainHDF5Path)
		if err != nil {
			return nil, err
		}
		gain = g
	}

	return FromArrays(mask, dark, gain)
}

// FromArrays builds a correction from already-loaded arrays. Any argument
// may be nil, in which case the identity for that operation is used.
func FromArrays(mask *data.Mask, dark, gain *data.Slab) (*Correction, error) {
	c := &Correction{}

	adopt := func(shape data.Shape, what string) error {
		if !c.hasShape {
			c.shape = shape
			c.hasShape = true
			return nil
		}
		if shape != c.shape {
			return omerr.New(omerr.KindRefData,
				"%s shape %s does not match other correction arrays (%s)", what, shape, c.shape)
		}
		return nil
	}

	if mask != nil {
		if err := adopt(mask.Shape, "mask"); err != nil {
			return nil, err
		}
		c.mask = make([]float32, len(mask.Pix))
		for i, v := range mask.Pix {
			if v != 0 {
				c.mask[i] = 1
			}
		}
	}
	if dark != nil {
		if err := adopt(dark.Shape, "dark frame"); err != nil {
			return nil, err
		}
		c.dark = make([]float32, len(dark.Pix))
		copy(c.dark, dark.Pix)
		if c.mask != nil {
			for i := range c.dark {
				c.dark[i] *= c.mask[i]
			}
		}
	}
	if gain != nil {
		if err := adopt(gain.Shape, "gain map"); err != nil {
			return nil, err
		}
		c.gain = make([]float32, len(gain.Pix))
		copy(c.gain, gain.Pix)
		if c.mask != nil {
			for i := range c.gain {
				c.gain[i] *= c.mask[i]
			}
		}
	}

	return c, nil
}

// Apply corrects a detector frame into dst and returns dst. When dst is nil
// a fresh slab is allocated; workers pass a reusable scratch slab so the
// hot path does not allocate. dst may alias src.
func (c *Correction) Apply(src, dst *data.Slab) (*data.Slab, error) {
	if c.hasShape && src.Shape != c.shape {
		return nil, omerr.New(omerr.KindRefData,
			"frame shape %s does not match correction arrays (%s)", src.Shape, c.shape)
	}
	if dst == nil {
		dst = data.NewSlab(src.Shape)
	} else if dst.Shape != src.Shape {
		return nil, omerr.New(omerr.KindRefData,
			"destination shape %s does not match frame shape %s", dst.Shape, src.Shape)
	}

	for i, v := range src.Pix {
		if c.mask != nil {
			v *= c.mask[i]
		}
		if c.dark != nil {
			v -= c.dark[i]
		}
		if c.gain != nil {
			v *= c.gain[i]
		}
		dst.Pix[i] = v
	}
	return dst, nil
}
