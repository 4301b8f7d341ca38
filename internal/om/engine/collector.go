package engine

import (
	"time"

	"github.com/samber/lo"

	"github.com/banshee-data/bragg.report/internal/monitoring"
	"github.com/banshee-data/bragg.report/internal/om/accum"
	"github.com/banshee-data/bragg.report/internal/om/broadcast"
	"github.com/banshee-data/bragg.report/internal/om/data"
)

// CollectorParams is the master-side tuning read from the configuration.
type CollectorParams struct {
	SpeedReportInterval      int
	GeometryIsOptimized      bool
	RunningAverageWindowSize int
	NumEventsToAccumulate    int
}

// Collector is the master node's domain state: it folds every received
// record into the rolling statistics, batches records for broadcast and
// reports the processing rate.
type Collector struct {
	params      CollectorParams
	sender      broadcast.Sender
	accumulator *accum.DataAccumulator
	hitRate     *accum.RollingWindow
	satRate     *accum.RollingWindow

	numCollected int
	lastReport   time.Time
	now          func() time.Time
}

// NewCollector builds the master state around a broadcast sender.
func NewCollector(params CollectorParams, sender broadcast.Sender) *Collector {
	c := &Collector{
		params:      params,
		sender:      sender,
		accumulator: accum.NewDataAccumulator(params.NumEventsToAccumulate),
		hitRate:     accum.NewRollingWindow(params.RunningAverageWindowSize),
		satRate:     accum.NewRollingWindow(params.RunningAverageWindowSize),
		now:         time.Now,
	}
	c.lastReport = c.now()
	return c
}

// NumCollected reports how many records the collector has folded in.
func (c *Collector) NumCollected() int { return c.numCollected }

// Collect folds one record into the aggregate state and broadcasts
// whatever became due: a sampled frame, a full batch, a speed report.
func (c *Collector) Collect(rec *data.ProcessedRecord) error {
	c.numCollected++

	c.hitRate.PushBool(rec.FrameIsHit)
	c.satRate.PushBool(rec.FrameIsSaturated)
	rec.HitRate = c.hitRate.Mean()
	rec.SaturationRate = c.satRate.Mean()

	if rec.DetectorData != nil {
		// Viewers expect lists of records even for single frames.
		frame := broadcast.ToWire(rec, c.params.GeometryIsOptimized)
		if err := c.sender.Send(broadcast.TagFrameData, []broadcast.WireRecord{frame}); err != nil {
			return err
		}
		// The pixels are not needed beyond this broadcast.
		rec.DetectorData = nil
	}

	if batch := c.accumulator.Add(rec); batch != nil {
		wire := lo.Map(batch, func(r *data.ProcessedRecord, _ int) broadcast.WireRecord {
			return broadcast.ToWire(r, c.params.GeometryIsOptimized)
		})
		if err := c.sender.Send(broadcast.TagData, wire); err != nil {
			return err
		}
	}

	if c.params.SpeedReportInterval > 0 && c.numCollected%c.params.SpeedReportInterval == 0 {
		now := c.now()
		elapsed := now.Sub(c.lastReport).Seconds()
		if elapsed > 0 {
			monitoring.Logf("processed: %d in %.2f seconds (%.2f Hz)",
				c.numCollected, elapsed, float64(c.params.SpeedReportInterval)/elapsed)
		}
		c.lastReport = now
	}
	return nil
}

// Finish logs the end-of-run summary once every worker has terminated.
func (c *Collector) Finish() {
	monitoring.Logf("all workers have run out of events")
	monitoring.Logf("processing finished: %d events collected in total", c.numCollected)
}
