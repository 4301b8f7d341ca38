package correction

import (
	"testing"

	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
)

func slabOf(shape data.Shape, vals ...float32) *data.Slab {
	s := data.NewSlab(shape)
	copy(s.Pix, vals)
	return s
}

func TestApply_Composition(t *testing.T) {
	shape := data.Shape{SS: 2, FS: 2}

	mask := data.NewMask(shape)
	mask.Pix = []uint8{1, 0, 1, 1}
	dark := slabOf(shape, 10, 20, 30, 40)
	gain := slabOf(shape, 2, 2, 0.5, 1)

	c, err := FromArrays(mask, dark, gain)
	if err != nil {
		t.Fatal(err)
	}

	src := slabOf(shape, 100, 100, 100, 100)
	dst, err := c.Apply(src, nil)
	if err != nil {
		t.Fatal(err)
	}

	// (data*mask - dark)*gain elementwise; masked-out pixels end at zero
	// because dark and gain are pre-multiplied by the mask.
	want := []float32{(100 - 10) * 2, 0, (100 - 30) * 0.5, (100 - 40) * 1}
	for i, w := range want {
		if dst.Pix[i] != w {
			t.Errorf("pixel %d = %v, want %v", i, dst.Pix[i], w)
		}
	}
}

func TestApply_Identities(t *testing.T) {
	shape := data.Shape{SS: 2, FS: 2}
	src := slabOf(shape, 1, 2, 3, 4)

	// All arrays absent: Apply is the identity.
	c, err := FromArrays(nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := c.Apply(src, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range src.Pix {
		if dst.Pix[i] != src.Pix[i] {
			t.Errorf("pixel %d = %v, want %v", i, dst.Pix[i], src.Pix[i])
		}
	}

	// Dark only.
	dark := slabOf(shape, 1, 1, 1, 1)
	c, err = FromArrays(nil, dark, nil)
	if err != nil {
		t.Fatal(err)
	}
	dst, err = c.Apply(src, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range src.Pix {
		if want := src.Pix[i] - 1; dst.Pix[i] != want {
			t.Errorf("pixel %d = %v, want %v", i, dst.Pix[i], want)
		}
	}
}

func TestApply_ReusesDestination(t *testing.T) {
	shape := data.Shape{SS: 1, FS: 3}
	c, err := FromArrays(nil, slabOf(shape, 5, 5, 5), nil)
	if err != nil {
		t.Fatal(err)
	}

	scratch := data.NewSlab(shape)
	src := slabOf(shape, 10, 20, 30)
	dst, err := c.Apply(src, scratch)
	if err != nil {
		t.Fatal(err)
	}
	if dst != scratch {
		t.Fatal("Apply did not write into the provided scratch slab")
	}
	want := []float32{5, 15, 25}
	for i, w := range want {
		if dst.Pix[i] != w {
			t.Errorf("pixel %d = %v, want %v", i, dst.Pix[i], w)
		}
	}

	// In-place correction is allowed.
	if _, err := c.Apply(src, src); err != nil {
		t.Fatal(err)
	}
	for i, w := range want {
		if src.Pix[i] != w {
			t.Errorf("in-place pixel %d = %v, want %v", i, src.Pix[i], w)
		}
	}
}

func TestApply_ShapeMismatch(t *testing.T) {
	c, err := FromArrays(data.NewMask(data.Shape{SS: 2, FS: 2}), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Apply(data.NewSlab(data.Shape{SS: 3, FS: 3}), nil)
	if err == nil {
		t.Fatal("expected shape mismatch error")
	}
	if omerr.KindOf(err) != omerr.KindRefData {
		t.Errorf("error kind = %v, want reference data error", omerr.KindOf(err))
	}
}

func TestFromArrays_MismatchedShapes(t *testing.T) {
	mask := data.NewMask(data.Shape{SS: 2, FS: 2})
	dark := data.NewSlab(data.Shape{SS: 3, FS: 2})
	if _, err := FromArrays(mask, dark, nil); err == nil {
		t.Fatal("expected mismatched-shape error")
	}
}

func TestNew_HalfSpecifiedPair(t *testing.T) {
	cases := []Params{
		{DarkFilename: "dark.h5"},
		{DarkHDF5Path: "/data"},
		{MaskFilename: "mask.h5"},
		{GainHDF5Path: "/gain"},
	}
	for _, p := range cases {
		_, err := New(p)
		if err == nil {
			t.Fatalf("expected configuration error for %+v", p)
		}
		if omerr.KindOf(err) != omerr.KindConfig {
			t.Errorf("error kind = %v, want configuration error", omerr.KindOf(err))
		}
	}
}
