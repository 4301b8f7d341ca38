package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bragg.report/internal/om/broadcast"
	"github.com/banshee-data/bragg.report/internal/om/data"
)

func hitRecord(hit bool) *data.ProcessedRecord {
	rec := &data.ProcessedRecord{
		Timestamp:       1000,
		FrameIsHit:      hit,
		NativeDataShape: data.Shape{SS: 64, FS: 64},
	}
	if hit {
		rec.PeakList = data.PeakList{
			Fs:        []float32{32},
			Ss:        []float32{32},
			Intensity: []float32{44100},
		}
	}
	return rec
}

func newTestCollector(accumulate, window int) (*Collector, *recordingSender) {
	sender := &recordingSender{}
	c := NewCollector(CollectorParams{
		SpeedReportInterval:      1000,
		GeometryIsOptimized:      true,
		RunningAverageWindowSize: window,
		NumEventsToAccumulate:    accumulate,
	}, sender)
	return c, sender
}

func TestCollector_RollingRates(t *testing.T) {
	c, _ := newTestCollector(100, 4)

	var last *data.ProcessedRecord
	for _, hit := range []bool{true, true, false, true} {
		last = hitRecord(hit)
		require.NoError(t, c.Collect(last))
	}
	assert.Equal(t, 0.75, last.HitRate)

	last = hitRecord(false)
	require.NoError(t, c.Collect(last))
	assert.Equal(t, 0.5, last.HitRate)
	assert.Equal(t, 0.0, last.SaturationRate)
}

func TestCollector_BatchBroadcast(t *testing.T) {
	c, sender := newTestCollector(3, 4)

	for i := 0; i < 7; i++ {
		require.NoError(t, c.Collect(hitRecord(i%2 == 0)))
	}

	batches := sender.byTag(broadcast.TagData)
	require.Len(t, batches, 2, "7 records with A=3 produce 2 batches")

	batch := batches[0].([]broadcast.WireRecord)
	require.Len(t, batch, 3)
	assert.True(t, batch[0].GeometryIsOptimized)
	assert.True(t, batch[0].FrameIsHit)
	assert.NotNil(t, batch[0].PeakList.Fs)
}

func TestCollector_FrameDataBroadcastAndStrip(t *testing.T) {
	c, sender := newTestCollector(1, 4)

	rec := hitRecord(true)
	rec.DetectorData = data.NewSlab(data.Shape{SS: 2, FS: 2})
	rec.DetectorData.Set(0, 1, 3.5)
	require.NoError(t, c.Collect(rec))

	frames := sender.byTag(broadcast.TagFrameData)
	require.Len(t, frames, 1)
	payload := frames[0].([]broadcast.WireRecord)
	require.Len(t, payload, 1, "frame data travels as a one-element list")
	assert.Equal(t, float32(3.5), payload[0].DetectorData[0][1])

	// The record fed to the accumulator must not carry pixels anymore.
	assert.Nil(t, rec.DetectorData)
	batch := sender.byTag(broadcast.TagData)[0].([]broadcast.WireRecord)
	assert.Nil(t, batch[0].DetectorData)
}

func TestCollector_SpeedReport(t *testing.T) {
	sender := &recordingSender{}
	c := NewCollector(CollectorParams{
		SpeedReportInterval:      2,
		RunningAverageWindowSize: 4,
		NumEventsToAccumulate:    100,
	}, sender)

	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }
	c.lastReport = clock

	var lines []string
	restore := captureLog(&lines)
	defer restore()

	clock = clock.Add(4 * time.Second)
	require.NoError(t, c.Collect(hitRecord(false)))
	assert.Empty(t, lines, "no report before the interval")

	require.NoError(t, c.Collect(hitRecord(false)))
	require.Len(t, lines, 1)
	// 2 events in 4 seconds: 0.50 Hz.
	assert.Contains(t, lines[0], "2 in 4.00 seconds")
	assert.Contains(t, lines[0], "0.50 Hz")
}
