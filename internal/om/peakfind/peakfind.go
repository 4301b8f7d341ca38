// Package peakfind implements the peakfinder8 Bragg peak search:
// connected-component peak detection with per-radial-ring background
// statistics and per-component local background subtraction.
//
// The algorithm follows the published description in Barty et al.,
// "Cheetah: software for high-throughput reduction and analysis of serial
// femtosecond X-ray diffraction data", J Appl Crystallogr 47, 1118 (2014).
package peakfind

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
)

// Params holds the peakfinder8 tuning parameters.
type Params struct {
	MaxNumPeaks   int
	AsicNX        int // fs size of one ASIC
	AsicNY        int // ss size of one ASIC
	NAsicsX       int
	NAsicsY       int
	ADCThreshold  float32
	MinimumSNR    float32
	MinPixelCount int
	MaxPixelCount int
	LocalBGRadius int
	MinRes        int // minimum peak radius in pixels
	MaxRes        int // maximum peak radius in pixels
}

// Finder detects peaks in detector slabs. A Finder is built once per worker
// and reused for every frame; its scratch buffers are not safe for
// concurrent use.
type Finder struct {
	p     Params
	shape data.Shape

	mask   []uint8   // effective mask: bad-pixel map ∧ resolution ring
	radius []float32 // distance from detector center, pixel units
	binIdx []int32   // ⌊radius⌋ per pixel

	// Per-frame radial statistics, reused across frames.
	binCount []int
	binSum   []float64
	binSumSq []float64
	binMean  []float32
	binStd   []float32

	// Connected-component scratch, reused across frames.
	claimed  []uint32 // frame epoch at which the pixel joined a component
	compOf   []uint32 // component ordinal within the epoch
	epoch    uint32
	stack    []int32
	comp     []int32
	bgSample []float64
}

const maxBGRejectIterations = 10

// New builds a Finder. The bad-pixel map and radius map must both match the
// slab shape implied by the ASIC layout.
func New(p Params, badPixels *data.Mask, radius *data.RadiusMap) (*Finder, error) {
	if p.MaxNumPeaks < 1 {
		return nil, omerr.New(omerr.KindConfig, "peakfinder8: max_num_peaks must be positive, is %d", p.MaxNumPeaks)
	}
	if p.AsicNX < 1 || p.AsicNY < 1 || p.NAsicsX < 1 || p.NAsicsY < 1 {
		return nil, omerr.New(omerr.KindConfig, "peakfinder8: invalid ASIC layout %dx%d ASICs of %dx%d pixels",
			p.NAsicsX, p.NAsicsY, p.AsicNX, p.AsicNY)
	}
	shape := data.Shape{SS: p.NAsicsY * p.AsicNY, FS: p.NAsicsX * p.AsicNX}
	if badPixels.Shape != shape {
		return nil, omerr.New(omerr.KindRefData,
			"peakfinder8: bad pixel map shape %s does not match ASIC layout (%s)", badPixels.Shape, shape)
	}
	if radius.Shape != shape {
		return nil, omerr.New(omerr.KindRefData,
			"peakfinder8: radius map shape %s does not match ASIC layout (%s)", radius.Shape, shape)
	}

	n := shape.NumPix()
	f := &Finder{
		p:      p,
		shape:  shape,
		mask:   make([]uint8, n),
		radius: radius.Pix,
		binIdx: make([]int32, n),
	}

	// The effective mask is fixed for the lifetime of the Finder: a pixel
	// participates in the search only if the loaded map enables it and its
	// radius lies inside [min_res, max_res].
	maxBin := 0
	for i := 0; i < n; i++ {
		r := radius.Pix[i]
		if badPixels.Pix[i] != 0 && r >= float32(p.MinRes) && r <= float32(p.MaxRes) {
			f.mask[i] = 1
		}
		b := int(r)
		f.binIdx[i] = int32(b)
		if b > maxBin {
			maxBin = b
		}
	}

	numBins := maxBin + 1
	f.binCount = make([]int, numBins)
	f.binSum = make([]float64, numBins)
	f.binSumSq = make([]float64, numBins)
	f.binMean = make([]float32, numBins)
	f.binStd = make([]float32, numBins)
	f.claimed = make([]uint32, n)
	f.compOf = make([]uint32, n)
	f.stack = make([]int32, 0, 256)
	f.comp = make([]int32, 0, p.MaxPixelCount+1)
	f.bgSample = make([]float64, 0, 4*(p.LocalBGRadius*2+1)*(p.LocalBGRadius*2+1))
	return f, nil
}

// Shape returns the slab shape the finder operates on.
func (f *Finder) Shape() data.Shape { return f.shape }

// FindPeaks runs the peak search on one detector frame. Peaks are returned
// in scan order (ss-major) and truncated at max_num_peaks. The returned
// list owns its storage and survives the next call.
func (f *Finder) FindPeaks(frame *data.Slab) (data.PeakList, error) {
	if frame.Shape != f.shape {
		return data.PeakList{}, omerr.New(omerr.KindRefData,
			"peakfinder8: frame shape %s does not match detector layout (%s)", frame.Shape, f.shape)
	}

	f.radialStats(frame)
	f.epoch++

	peaks := data.PeakList{}
	var compOrdinal uint32

	for ss := 0; ss < f.shape.SS && peaks.Len() < f.p.MaxNumPeaks; ss++ {
		rowBase := ss * f.shape.FS
		for fs := 0; fs < f.shape.FS; fs++ {
			i := rowBase + fs
			if f.claimed[i] == f.epoch || !f.isCandidate(frame, i) {
				continue
			}

			compOrdinal++
			f.growComponent(frame, int32(i), compOrdinal)

			if len(f.comp) < f.p.MinPixelCount || len(f.comp) > f.p.MaxPixelCount {
				continue
			}

			bg := f.localBackground(frame, compOrdinal)
			fsCOM, ssCOM, intensity, ok := f.integrate(frame, bg)
			if !ok {
				continue
			}
			// The pixel nearest the center of mass must itself be part of
			// the search region: a component whose weight collects around a
			// masked pixel (or outside the resolution ring) is not a peak.
			nearest := int(ssCOM+0.5)*f.shape.FS + int(fsCOM+0.5)
			if f.mask[nearest] == 0 {
				continue
			}
			peaks.Append(fsCOM, ssCOM, intensity)
			if peaks.Len() == f.p.MaxNumPeaks {
				return peaks, nil
			}
		}
	}
	return peaks, nil
}

// radialStats partitions unmasked pixels into 1-pixel-wide radial bins and
// computes the mean and standard deviation of each bin.
func (f *Finder) radialStats(frame *data.Slab) {
	for b := range f.binCount {
		f.binCount[b] = 0
		f.binSum[b] = 0
		f.binSumSq[b] = 0
	}
	for i, v := range frame.Pix {
		if f.mask[i] == 0 {
			continue
		}
		b := f.binIdx[i]
		f.binCount[b]++
		f.binSum[b] += float64(v)
		f.binSumSq[b] += float64(v) * float64(v)
	}
	for b := range f.binCount {
		n := f.binCount[b]
		if n == 0 {
			f.binMean[b] = 0
			f.binStd[b] = 0
			continue
		}
		mean := f.binSum[b] / float64(n)
		variance := f.binSumSq[b]/float64(n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		f.binMean[b] = float32(mean)
		f.binStd[b] = float32(math.Sqrt(variance))
	}
}

// isCandidate applies the per-pixel selection rule: masked in, above the
// ADC threshold, and above the radial ring's mean by minimum_snr sigmas.
func (f *Finder) isCandidate(frame *data.Slab, i int) bool {
	if f.mask[i] == 0 {
		return false
	}
	v := frame.Pix[i]
	if v < f.p.ADCThreshold {
		return false
	}
	b := f.binIdx[i]
	return v >= f.binMean[b]+f.p.MinimumSNR*f.binStd[b]
}

// growComponent flood-fills the 4-connected candidate component containing
// seed, restricted to the seed's ASIC. Peaks never cross ASIC seams.
func (f *Finder) growComponent(frame *data.Slab, seed int32, ordinal uint32) {
	fsExt := f.shape.FS
	seedSS := int(seed) / fsExt
	seedFS := int(seed) % fsExt

	ssLo := (seedSS / f.p.AsicNY) * f.p.AsicNY
	ssHi := ssLo + f.p.AsicNY - 1
	fsLo := (seedFS / f.p.AsicNX) * f.p.AsicNX
	fsHi := fsLo + f.p.AsicNX - 1

	f.comp = f.comp[:0]
	f.stack = f.stack[:0]
	f.stack = append(f.stack, seed)
	f.claimed[seed] = f.epoch
	f.compOf[seed] = ordinal

	for len(f.stack) > 0 {
		i := f.stack[len(f.stack)-1]
		f.stack = f.stack[:len(f.stack)-1]
		f.comp = append(f.comp, i)

		ss := int(i) / fsExt
		fs := int(i) % fsExt

		if ss > ssLo {
			f.visit(frame, i-int32(fsExt), ordinal)
		}
		if ss < ssHi {
			f.visit(frame, i+int32(fsExt), ordinal)
		}
		if fs > fsLo {
			f.visit(frame, i-1, ordinal)
		}
		if fs < fsHi {
			f.visit(frame, i+1, ordinal)
		}
	}
}

func (f *Finder) visit(frame *data.Slab, i int32, ordinal uint32) {
	if f.claimed[i] == f.epoch || !f.isCandidate(frame, int(i)) {
		return
	}
	f.claimed[i] = f.epoch
	f.compOf[i] = ordinal
	f.stack = append(f.stack, i)
}

// localBackground estimates the background under the current component:
// the mean of unmasked non-component pixels within local_bg_radius of the
// component's bounding box (same ASIC), with iterative 3-sigma rejection
// of outliers, matching the canonical native implementation.
func (f *Finder) localBackground(frame *data.Slab, ordinal uint32) float32 {
	fsExt := f.shape.FS

	minSS, maxSS := f.shape.SS, -1
	minFS, maxFS := fsExt, -1
	for _, i := range f.comp {
		ss := int(i) / fsExt
		fs := int(i) % fsExt
		if ss < minSS {
			minSS = ss
		}
		if ss > maxSS {
			maxSS = ss
		}
		if fs < minFS {
			minFS = fs
		}
		if fs > maxFS {
			maxFS = fs
		}
	}

	ssLo := (minSS / f.p.AsicNY) * f.p.AsicNY
	ssHi := ssLo + f.p.AsicNY - 1
	fsLo := (minFS / f.p.AsicNX) * f.p.AsicNX
	fsHi := fsLo + f.p.AsicNX - 1

	lo := func(v, bound, r int) int {
		if v-r > bound {
			return v - r
		}
		return bound
	}
	hi := func(v, bound, r int) int {
		if v+r < bound {
			return v + r
		}
		return bound
	}
	sLo, sHi := lo(minSS, ssLo, f.p.LocalBGRadius), hi(maxSS, ssHi, f.p.LocalBGRadius)
	fLo, fHi := lo(minFS, fsLo, f.p.LocalBGRadius), hi(maxFS, fsHi, f.p.LocalBGRadius)

	f.bgSample = f.bgSample[:0]
	for ss := sLo; ss <= sHi; ss++ {
		rowBase := ss * fsExt
		for fs := fLo; fs <= fHi; fs++ {
			i := rowBase + fs
			if f.mask[i] == 0 {
				continue
			}
			if f.claimed[i] == f.epoch && f.compOf[i] == ordinal {
				continue
			}
			f.bgSample = append(f.bgSample, float64(frame.Pix[i]))
		}
	}
	if len(f.bgSample) == 0 {
		return 0
	}

	sample := f.bgSample
	mean, std := stat.MeanStdDev(sample, nil)
	if math.IsNaN(std) {
		return float32(mean)
	}
	for iter := 0; iter < maxBGRejectIterations; iter++ {
		kept := sample[:0]
		for _, v := range sample {
			if math.Abs(v-mean) <= 3*std {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(sample) || len(kept) == 0 {
			break
		}
		sample = kept
		mean, std = stat.MeanStdDev(sample, nil)
		if math.IsNaN(std) {
			break
		}
	}
	return float32(mean)
}

// integrate computes the background-subtracted center of mass and the
// integrated intensity of the current component. Components whose total
// drops to zero or below after subtraction are rejected.
func (f *Finder) integrate(frame *data.Slab, bg float32) (fsCOM, ssCOM, intensity float32, ok bool) {
	fsExt := f.shape.FS

	var total, sumFS, sumSS float32
	for _, i := range f.comp {
		v := frame.Pix[i] - bg
		if v < 0 {
			v = 0
		}
		total += v
		sumFS += v * float32(int(i)%fsExt)
		sumSS += v * float32(int(i)/fsExt)
	}
	if total <= 0 || math.IsInf(float64(total), 0) || math.IsNaN(float64(total)) {
		return 0, 0, 0, false
	}
	return sumFS / total, sumSS / total, total, true
}
