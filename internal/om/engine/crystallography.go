package engine

import (
	"context"
	"runtime"

	"github.com/banshee-data/bragg.report/internal/conf"
	"github.com/banshee-data/bragg.report/internal/om/broadcast"
	"github.com/banshee-data/bragg.report/internal/om/correction"
	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/extract"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
	"github.com/banshee-data/bragg.report/internal/om/peakfind"
	"github.com/banshee-data/bragg.report/internal/om/pixelmaps"
	"github.com/banshee-data/bragg.report/internal/om/refdata"
	"github.com/banshee-data/bragg.report/internal/om/source"
)

// CrystallographyLayerName is the only processing layer built into this
// monitor.
const CrystallographyLayerName = "crystallography"

// Monitor bundles a configured engine with the resources it owns.
type Monitor struct {
	engine    *Engine
	publisher *broadcast.Publisher
}

// Run drives the engine to completion and releases the broadcast socket.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.publisher.Close()
	return m.engine.Run(ctx)
}

// NewCrystallographyMonitor assembles the serial crystallography monitor
// from the configuration file: the data retrieval adapter, the per-worker
// correction and peak detection, the master-side aggregation and the
// broadcast socket.
func NewCrystallographyMonitor(ctx context.Context, src string, params *conf.MonitorParams) (*Monitor, error) {
	layer, err := params.RequiredString("Onda", "processing_layer")
	if err != nil {
		return nil, err
	}
	if layer != CrystallographyLayerName {
		return nil, omerr.New(omerr.KindDependency, "unknown processing layer %q", layer)
	}

	retrievalLayer, err := params.RequiredString("Onda", "data_retrieval_layer")
	if err != nil {
		return nil, err
	}
	adapter, err := source.New(retrievalLayer, params)
	if err != nil {
		return nil, err
	}
	requiredData, err := params.RequiredStringList("Onda", "required_data")
	if err != nil {
		return nil, err
	}

	poolSize, ok, err := params.OptionalInt("General", "node_pool_size")
	if err != nil {
		return nil, err
	}
	if !ok {
		poolSize = runtime.NumCPU()
		if poolSize < 2 {
			poolSize = 2
		}
	}

	procParams, err := readProcessorParams(params)
	if err != nil {
		return nil, err
	}
	pf8Params, badPixels, radius, err := readPeakfinderSetup(params)
	if err != nil {
		return nil, err
	}
	corrParams, err := readCorrectionParams(params)
	if err != nil {
		return nil, err
	}

	// The correction arrays are immutable after construction and shared by
	// every worker; the peak finder carries scratch state and is built one
	// per rank.
	corr, err := correction.New(corrParams)
	if err != nil {
		return nil, err
	}
	factory := func(rank int) (*Processor, error) {
		finder, err := peakfind.New(pf8Params, badPixels, radius)
		if err != nil {
			return nil, err
		}
		table, err := extract.NewTable(adapter, requiredData)
		if err != nil {
			return nil, err
		}
		return NewProcessor(procParams, corr, finder, table)
	}

	collectorParams, err := readCollectorParams(params)
	if err != nil {
		return nil, err
	}
	host, _, err := params.OptionalString("General", "broadcast_ip")
	if err != nil {
		return nil, err
	}
	port, _, err := params.OptionalInt("General", "broadcast_port")
	if err != nil {
		return nil, err
	}
	publisher, err := broadcast.NewPublisher(ctx, host, port)
	if err != nil {
		return nil, err
	}

	eng, err := New(src, poolSize, adapter, factory, NewCollector(collectorParams, publisher))
	if err != nil {
		publisher.Close()
		return nil, err
	}
	return &Monitor{engine: eng, publisher: publisher}, nil
}

func readProcessorParams(params *conf.MonitorParams) (ProcessorParams, error) {
	var p ProcessorParams
	var err error

	if p.NumFramesInEventToProcess, _, err = params.OptionalInt("General", "num_frames_in_event_to_process"); err != nil {
		return p, err
	}
	if p.FrameIndexesToSkip, err = params.OptionalIntList("General", "frame_indexes_to_skip"); err != nil {
		return p, err
	}
	if p.HitFrameSendingInterval, err = params.PositiveInterval("General", "hit_frame_sending_interval"); err != nil {
		return p, err
	}
	if p.NonHitFrameSendingInterval, err = params.PositiveInterval("General", "non_hit_frame_sending_interval"); err != nil {
		return p, err
	}
	if p.MaxSaturatedPeaks, err = params.RequiredInt("Crystallography", "max_saturated_peaks"); err != nil {
		return p, err
	}
	if p.MinNumPeaksForHit, err = params.RequiredInt("Crystallography", "min_num_peaks_for_hit"); err != nil {
		return p, err
	}
	if p.MaxNumPeaksForHit, err = params.RequiredInt("Crystallography", "max_num_peaks_for_hit"); err != nil {
		return p, err
	}
	saturation, err := params.RequiredInt("Crystallography", "saturation_value")
	if err != nil {
		return p, err
	}
	p.SaturationValue = float64(saturation)
	return p, nil
}

func readCollectorParams(params *conf.MonitorParams) (CollectorParams, error) {
	var c CollectorParams
	var err error

	if c.SpeedReportInterval, err = params.RequiredInt("General", "speed_report_interval"); err != nil {
		return c, err
	}
	if c.GeometryIsOptimized, err = params.RequiredBool("Crystallography", "geometry_is_optimized"); err != nil {
		return c, err
	}
	if c.RunningAverageWindowSize, err = params.RequiredInt("Crystallography", "running_average_window_size"); err != nil {
		return c, err
	}
	if c.NumEventsToAccumulate, err = params.RequiredInt("DataAccumulator", "num_events_to_accumulate"); err != nil {
		return c, err
	}
	return c, nil
}

func readCorrectionParams(params *conf.MonitorParams) (correction.Params, error) {
	var c correction.Params
	if !params.HasGroup("Correction") {
		return c, nil
	}
	read := func(dst *string, name string) error {
		v, _, err := params.OptionalString("Correction", name)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
	for _, pair := range []struct {
		dst  *string
		name string
	}{
		{&c.DarkFilename, "dark_filename"},
		{&c.DarkHDF5Path, "dark_hdf5_path"},
		{&c.MaskFilename, "mask_filename"},
		{&c.MaskHDF5Path, "mask_hdf5_path"},
		{&c.GainFilename, "gain_filename"},
		{&c.GainHDF5Path, "gain_hdf5_path"},
	} {
		if err := read(pair.dst, pair.name); err != nil {
			return c, err
		}
	}
	return c, nil
}

func readPeakfinderSetup(params *conf.MonitorParams) (peakfind.Params, *data.Mask, *data.RadiusMap, error) {
	const group = "Peakfinder8PeakDetection"
	var p peakfind.Params
	var err error

	ints := []struct {
		dst  *int
		name string
	}{
		{&p.MaxNumPeaks, "max_num_peaks"},
		{&p.AsicNX, "asic_nx"},
		{&p.AsicNY, "asic_ny"},
		{&p.NAsicsX, "nasics_x"},
		{&p.NAsicsY, "nasics_y"},
		{&p.MinPixelCount, "min_pixel_count"},
		{&p.MaxPixelCount, "max_pixel_count"},
		{&p.LocalBGRadius, "local_bg_radius"},
		{&p.MinRes, "min_res"},
		{&p.MaxRes, "max_res"},
	}
	for _, entry := range ints {
		if *entry.dst, err = params.RequiredInt(group, entry.name); err != nil {
			return p, nil, nil, err
		}
	}
	adc, err := params.RequiredFloat(group, "adc_threshold")
	if err != nil {
		return p, nil, nil, err
	}
	p.ADCThreshold = float32(adc)
	snr, err := params.RequiredFloat(group, "minimum_snr")
	if err != nil {
		return p, nil, nil, err
	}
	p.MinimumSNR = float32(snr)

	maskFile, err := params.RequiredString(group, "bad_pixel_map_filename")
	if err != nil {
		return p, nil, nil, err
	}
	maskPath, err := params.RequiredString(group, "bad_pixel_map_hdf5_path")
	if err != nil {
		return p, nil, nil, err
	}
	badPixels, err := refdata.LoadMask(maskFile, maskPath)
	if err != nil {
		return p, nil, nil, err
	}

	geometryFile, err := params.RequiredString("Crystallography", "geometry_file")
	if err != nil {
		return p, nil, nil, err
	}
	var radius *data.RadiusMap
	if pixelmaps.IsHDF5(geometryFile) {
		radiusPath, _, err := params.OptionalString("Crystallography", "radius_map_hdf5_path")
		if err != nil {
			return p, nil, nil, err
		}
		if radius, err = pixelmaps.Load(geometryFile, radiusPath); err != nil {
			return p, nil, nil, err
		}
	} else {
		// Geometry refinement lives outside the monitor. Without a
		// precomputed pixel-map file the beam center is taken at the slab
		// center, which holds for the single-module detectors this adapter
		// serves.
		radius = pixelmaps.Centered(data.Shape{SS: p.NAsicsY * p.AsicNY, FS: p.NAsicsX * p.AsicNX})
	}

	return p, badPixels, radius, nil
}
