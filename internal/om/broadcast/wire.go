package broadcast

import (
	"github.com/banshee-data/bragg.report/internal/om/data"
)

// Wire tags understood by downstream viewers.
const (
	// TagData carries an accumulated batch of reduced records.
	TagData = "ondadata"
	// TagFrameData carries a one-element list whose record additionally
	// holds corrected detector pixels.
	TagFrameData = "ondaframedata"
)

// WirePeakList is the on-the-wire peak list layout. Peaks travel as an
// object of three parallel arrays, never as an array of tuples, so
// schema-less consumers can introspect fields by name.
type WirePeakList struct {
	Fs        []float32 `msgpack:"fs"`
	Ss        []float32 `msgpack:"ss"`
	Intensity []float32 `msgpack:"intensity"`
}

// WireRecord is the serialized form of one reduced frame, augmented by the
// collector with the aggregate rates.
type WireRecord struct {
	Timestamp           float64      `msgpack:"timestamp"`
	FrameIsHit          bool         `msgpack:"frame_is_hit"`
	FrameIsSaturated    bool         `msgpack:"frame_is_saturated"`
	HitRate             float64      `msgpack:"hit_rate"`
	SaturationRate      float64      `msgpack:"saturation_rate"`
	DetectorDistance    float64      `msgpack:"detector_distance"`
	BeamEnergy          float64      `msgpack:"beam_energy"`
	NativeDataShape     [2]int       `msgpack:"native_data_shape"`
	GeometryIsOptimized bool         `msgpack:"geometry_is_optimized"`
	PeakList            WirePeakList `msgpack:"peak_list"`
	DetectorData        [][]float32  `msgpack:"detector_data,omitempty"`
}

// ToWire converts a processed record into its wire form. The peak list
// slices are shared, not copied; the record is not used again after
// collection.
func ToWire(rec *data.ProcessedRecord, geometryIsOptimized bool) WireRecord {
	w := WireRecord{
		Timestamp:           rec.Timestamp,
		FrameIsHit:          rec.FrameIsHit,
		FrameIsSaturated:    rec.FrameIsSaturated,
		HitRate:             rec.HitRate,
		SaturationRate:      rec.SaturationRate,
		DetectorDistance:    rec.DetectorDistance,
		BeamEnergy:          rec.BeamEnergy,
		NativeDataShape:     [2]int{rec.NativeDataShape.SS, rec.NativeDataShape.FS},
		GeometryIsOptimized: geometryIsOptimized,
		PeakList: WirePeakList{
			Fs:        emptyNotNil(rec.PeakList.Fs),
			Ss:        emptyNotNil(rec.PeakList.Ss),
			Intensity: emptyNotNil(rec.PeakList.Intensity),
		},
	}
	if rec.DetectorData != nil {
		w.DetectorData = SlabToRows(rec.DetectorData)
	}
	return w
}

// emptyNotNil keeps absent peak lists as empty arrays on the wire instead
// of nulls.
func emptyNotNil(s []float32) []float32 {
	if s == nil {
		return []float32{}
	}
	return s
}

// SlabToRows converts a slab to the nested-list layout used on the wire.
func SlabToRows(s *data.Slab) [][]float32 {
	rows := make([][]float32, s.Shape.SS)
	for ss := 0; ss < s.Shape.SS; ss++ {
		rows[ss] = s.Pix[ss*s.Shape.FS : (ss+1)*s.Shape.FS]
	}
	return rows
}

// RowsToSlab rebuilds a slab from the nested-list wire layout.
func RowsToSlab(rows [][]float32) *data.Slab {
	if len(rows) == 0 {
		return data.NewSlab(data.Shape{})
	}
	shape := data.Shape{SS: len(rows), FS: len(rows[0])}
	s := data.NewSlab(shape)
	for ss, row := range rows {
		copy(s.Pix[ss*shape.FS:], row)
	}
	return s
}
