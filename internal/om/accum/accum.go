// Package accum provides the master node's bounded aggregation state: the
// batch accumulator that feeds the broadcast socket and the fixed-capacity
// rolling windows behind the hit-rate and saturation-rate estimates.
//
// Both types are touched only by the collector goroutine and need no
// locking.
package accum

import "github.com/banshee-data/bragg.report/internal/om/data"

// DataAccumulator collects processed records until a configured number has
// been added, then hands the whole batch to the caller and starts over.
type DataAccumulator struct {
	capacity int
	records  []*data.ProcessedRecord
}

// NewDataAccumulator creates an accumulator that emits batches of n
// records. n must be at least 1.
func NewDataAccumulator(n int) *DataAccumulator {
	if n < 1 {
		n = 1
	}
	return &DataAccumulator{
		capacity: n,
		records:  make([]*data.ProcessedRecord, 0, n),
	}
}

// Add appends a record. When the accumulator fills, the accumulated batch
// is returned (ownership transferred to the caller) and the internal state
// resets; otherwise Add returns nil.
func (a *DataAccumulator) Add(rec *data.ProcessedRecord) []*data.ProcessedRecord {
	a.records = append(a.records, rec)
	if len(a.records) < a.capacity {
		return nil
	}
	batch := a.records
	a.records = make([]*data.ProcessedRecord, 0, a.capacity)
	return batch
}

// Len reports how many records are currently accumulated.
func (a *DataAccumulator) Len() int { return len(a.records) }

// RollingWindow is a fixed-capacity ring of floats, pre-filled with zeros.
// Push overwrites the oldest slot; Mean is O(1) because the sum is
// maintained incrementally.
type RollingWindow struct {
	slots []float64
	head  int
	sum   float64
}

// NewRollingWindow creates a zero-filled window of size w. w must be at
// least 1.
func NewRollingWindow(w int) *RollingWindow {
	if w < 1 {
		w = 1
	}
	return &RollingWindow{slots: make([]float64, w)}
}

// Push overwrites the oldest slot with x.
func (w *RollingWindow) Push(x float64) {
	w.sum += x - w.slots[w.head]
	w.slots[w.head] = x
	w.head = (w.head + 1) % len(w.slots)
}

// PushBool pushes 1.0 for true and 0.0 for false.
func (w *RollingWindow) PushBool(b bool) {
	if b {
		w.Push(1)
	} else {
		w.Push(0)
	}
}

// Mean returns the average over the whole window, zero slots included.
func (w *RollingWindow) Mean() float64 {
	return w.sum / float64(len(w.slots))
}

// Size returns the window capacity.
func (w *RollingWindow) Size() int { return len(w.slots) }
