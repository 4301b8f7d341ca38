package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bragg.report/internal/monitoring"
	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/extract"
	"github.com/banshee-data/bragg.report/internal/om/peakfind"
)

func captureLog(lines *[]string) func() {
	monitoring.SetLogger(func(format string, v ...interface{}) {
		*lines = append(*lines, fmt.Sprintf(format, v...))
	})
	return func() { monitoring.SetLogger(nil) }
}

func newTestProcessor(t *testing.T, adapter extract.Provider, params ProcessorParams) *Processor {
	t.Helper()
	proc, err := testFactory(t, adapter, params)(1)
	require.NoError(t, err)
	return proc
}

func TestClassify_Saturation(t *testing.T) {
	p := &Processor{params: ProcessorParams{
		MinNumPeaksForHit: 0,
		MaxNumPeaksForHit: 100,
		SaturationValue:   10000,
		MaxSaturatedPeaks: 2,
	}}

	peaks := data.PeakList{
		Fs:        []float32{1, 2, 3, 4},
		Ss:        []float32{1, 2, 3, 4},
		Intensity: []float32{12000, 11000, 9000, 8000},
	}
	hit, saturated := p.classify(peaks)
	assert.True(t, saturated, "two peaks above the saturation value flag the frame")
	assert.True(t, hit)

	peaks.Intensity = []float32{12000, 9000, 9000, 8000}
	_, saturated = p.classify(peaks)
	assert.False(t, saturated, "a single saturated peak stays below the limit")
}

func TestClassify_HitWindow(t *testing.T) {
	p := &Processor{params: ProcessorParams{
		MinNumPeaksForHit: 2,
		MaxNumPeaksForHit: 4,
		SaturationValue:   1 << 30,
		MaxSaturatedPeaks: 1,
	}}

	list := func(n int) data.PeakList {
		pl := data.PeakList{}
		for i := 0; i < n; i++ {
			pl.Append(float32(i), float32(i), 100)
		}
		return pl
	}

	// The predicate is strict on both ends: min < n < max.
	for n, want := range map[int]bool{1: false, 2: false, 3: true, 4: false, 5: false} {
		hit, _ := p.classify(list(n))
		assert.Equal(t, want, hit, "num_peaks=%d", n)
	}
}

func TestProcessFrame_HitAndPeakList(t *testing.T) {
	adapter := &stubAdapter{}
	proc := newTestProcessor(t, adapter, testProcessorParams())

	event := &stubEvent{hit: true, frames: 1}
	rec, err := proc.ProcessFrame(&data.Frame{Event: event, Offset: 0}, func(string, ...interface{}) {})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.True(t, rec.FrameIsHit)
	assert.Equal(t, 1, rec.PeakList.Len())
	assert.Equal(t, float64(1000), rec.Timestamp)
	assert.Equal(t, float64(9300), rec.BeamEnergy)
	assert.Equal(t, float64(250), rec.DetectorDistance)
	assert.Equal(t, data.Shape{SS: 64, FS: 64}, rec.NativeDataShape)
	assert.Nil(t, rec.DetectorData, "sampling disabled")
}

func TestProcessFrame_NonHitGetsEmptyPeakList(t *testing.T) {
	adapter := &stubAdapter{}
	params := testProcessorParams()
	params.MinNumPeaksForHit = 5 // the single spot is below the hit window
	proc := newTestProcessor(t, adapter, params)

	event := &stubEvent{hit: true, frames: 1}
	rec, err := proc.ProcessFrame(&data.Frame{Event: event, Offset: 0}, func(string, ...interface{}) {})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.False(t, rec.FrameIsHit)
	assert.Equal(t, 0, rec.PeakList.Len(), "non-hits send an empty peak list")
}

// failingAdapter wraps the stub adapter with a detector_data function that
// always fails; the first `failures` calls report the detector as offline.
type failingAdapter struct {
	stubAdapter
	failures int
}

func (a *failingAdapter) ExtractionFunc(name string) (extract.Func, bool) {
	if name != "detector_data" {
		return a.stubAdapter.ExtractionFunc(name)
	}
	return func(f *data.Frame) (extract.Value, error) {
		if a.failures > 0 {
			a.failures--
			return extract.Value{}, assertError("detector offline")
		}
		return extract.Value{}, assertError("always failing")
	}, true
}

func TestProcessFrame_ExtractionFailureSkips(t *testing.T) {
	adapter := &failingAdapter{failures: 1}
	proc := newTestProcessor(t, adapter, testProcessorParams())

	var warnings []string
	warnf := func(format string, v ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, v...))
	}

	rec, err := proc.ProcessFrame(&data.Frame{Event: &stubEvent{frames: 1}, Offset: 0}, warnf)
	require.NoError(t, err, "extraction failures are non-fatal")
	assert.Nil(t, rec)
	assert.Equal(t, 1, proc.Warnings())
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "skipping frame")
}

func TestSampleFrame_Intervals(t *testing.T) {
	params := testProcessorParams()
	params.HitFrameSendingInterval = 2
	params.NonHitFrameSendingInterval = 3
	p := &Processor{params: params}

	var hits []bool
	for i := 0; i < 6; i++ {
		hits = append(hits, p.sampleFrame(true))
	}
	assert.Equal(t, []bool{false, true, false, true, false, true}, hits,
		"every H-th hit carries pixels and the counter resets")

	var nonHits []bool
	for i := 0; i < 6; i++ {
		nonHits = append(nonHits, p.sampleFrame(false))
	}
	assert.Equal(t, []bool{false, false, true, false, false, true}, nonHits)

	// Disabled intervals never sample.
	p = &Processor{params: testProcessorParams()}
	for i := 0; i < 5; i++ {
		assert.False(t, p.sampleFrame(true))
		assert.False(t, p.sampleFrame(false))
	}
}

func TestProcessFrame_SampledHitCarriesPixels(t *testing.T) {
	adapter := &stubAdapter{}
	params := testProcessorParams()
	params.HitFrameSendingInterval = 1
	proc := newTestProcessor(t, adapter, params)

	event := &stubEvent{hit: true, frames: 1}
	rec, err := proc.ProcessFrame(&data.Frame{Event: event, Offset: 0}, func(string, ...interface{}) {})
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.DetectorData)

	// The attached pixels are a copy, not the reused scratch buffer.
	assert.NotSame(t, proc.scratch, rec.DetectorData)
	assert.Equal(t, proc.scratch.At(32, 32), rec.DetectorData.At(32, 32))
}

func TestProcessEvent_LastKFramesAndSkips(t *testing.T) {
	adapter := &stubAdapter{}
	params := testProcessorParams()
	params.NumFramesInEventToProcess = 3
	params.FrameIndexesToSkip = []int{8}
	proc := newTestProcessor(t, adapter, params)

	out := make(chan workerMsg, 16)
	w := &worker{rank: 1, processor: proc, out: out, die: make(chan struct{})}

	event := &stubEvent{frames: 10}
	require.NoError(t, event.Open())
	require.NoError(t, w.processEvent(event, func(string, ...interface{}) {}))
	assert.Equal(t, 1, event.closed, "processEvent closes the event")

	// Frames 7, 8, 9 are selected; 8 is skipped.
	close(out)
	var got int
	for range out {
		got++
	}
	assert.Equal(t, 2, got)
}

func TestNewProcessor_RequiredDataValidation(t *testing.T) {
	adapter := &stubAdapter{}
	table, err := extract.NewTable(adapter, []string{"timestamp"})
	require.NoError(t, err)

	_, err = NewProcessor(testProcessorParams(), nil, mustFinder(t), table)
	require.Error(t, err, "required_data must cover the processing layer's needs")
}

func mustFinder(t *testing.T) *peakfind.Finder {
	t.Helper()
	proc, err := testFactory(t, &stubAdapter{}, testProcessorParams())(1)
	require.NoError(t, err)
	return proc.finder
}
