// Package engine runs the master/worker reduction pipeline: rank 0
// collects and broadcasts, ranks 1..P−1 pull events from the data
// retrieval layer, reduce each frame and stream the results to rank 0.
//
// Nodes are goroutines that communicate by message passing only. All
// worker→master traffic travels over one shared channel with a single
// writer per rank, which preserves per-worker ordering while letting
// records from different workers interleave arbitrarily.
package engine

import (
	"context"
	"time"

	"github.com/banshee-data/bragg.report/internal/monitoring"
	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
	"github.com/banshee-data/bragg.report/internal/om/source"
)

type msgKind int

const (
	// msgData carries one reduced record.
	msgData msgKind = iota
	// msgEnd announces that a worker has run out of events. A worker that
	// runs out of events sends exactly one before exiting.
	msgEnd
	// msgDead acknowledges a master-initiated shutdown. A worker stopped
	// this way sends it instead of msgEnd.
	msgDead
)

type workerMsg struct {
	kind   msgKind
	rank   int
	record *data.ProcessedRecord
}

// drainTimeout bounds the master's wait for worker acknowledgements during
// a master-initiated shutdown. A worker stuck in facility I/O past this
// deadline aborts the whole pool rather than hang it.
const drainTimeout = 10 * time.Second

// WorkerFactory builds the per-rank processing state. Each worker gets its
// own instance so scratch buffers are never shared.
type WorkerFactory func(rank int) (*Processor, error)

// Engine owns one monitor run.
type Engine struct {
	source    string
	poolSize  int
	adapter   source.Adapter
	newWorker WorkerFactory
	collector *Collector

	msgs chan workerMsg
	die  chan struct{}
}

// New assembles an engine from its collaborators. poolSize counts the
// master: a pool of P runs P−1 workers.
func New(src string, poolSize int, adapter source.Adapter, factory WorkerFactory, collector *Collector) (*Engine, error) {
	if poolSize < 2 {
		return nil, omerr.New(omerr.KindConfig, "node pool size must be at least 2 (1 master + 1 worker), is %d", poolSize)
	}
	return &Engine{
		source:    src,
		poolSize:  poolSize,
		adapter:   adapter,
		newWorker: factory,
		collector: collector,
		msgs:      make(chan workerMsg, 2*(poolSize-1)),
		die:       make(chan struct{}),
	}, nil
}

// Run starts the pool and blocks until the monitor finishes: either every
// worker has exhausted its events, or the context is cancelled and the
// shutdown drain completes. A failed drain or a protocol error aborts the
// pool with an error.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.adapter.Initialize(e.source, e.poolSize); err != nil {
		return err
	}

	numWorkers := e.poolSize - 1
	for rank := 1; rank <= numWorkers; rank++ {
		proc, err := e.newWorker(rank)
		if err != nil {
			return err
		}
		events, err := e.adapter.Events(e.source, rank, e.poolSize)
		if err != nil {
			return err
		}
		w := &worker{
			rank:      rank,
			processor: proc,
			events:    events,
			out:       e.msgs,
			die:       e.die,
		}
		monitoring.Logf("starting worker: %d", rank)
		go w.run()
	}

	monitoring.Logf("starting the monitor...")

	finished := 0
	for {
		select {
		case <-ctx.Done():
			return e.shutdown(finished)
		case m := <-e.msgs:
			switch m.kind {
			case msgData:
				if m.record == nil {
					e.abort()
					return omerr.New(omerr.KindProtocol, "empty record received from worker %d", m.rank)
				}
				if err := e.collector.Collect(m.record); err != nil {
					e.abort()
					return err
				}
			case msgEnd, msgDead:
				monitoring.Logf("finalizing worker %d", m.rank)
				finished++
				if finished == numWorkers {
					e.collector.Finish()
					return nil
				}
			}
		}
	}
}

// shutdown tells every worker to die and drains the wire until each one
// has acknowledged, discarding in-flight data messages. Worker sends can
// never deadlock during the drain because the master keeps receiving.
func (e *Engine) shutdown(alreadyFinished int) error {
	monitoring.Logf("shutting down: termination requested")
	e.abort()

	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()

	finished := alreadyFinished
	for finished < e.poolSize-1 {
		select {
		case m := <-e.msgs:
			if m.kind == msgEnd || m.kind == msgDead {
				finished++
			}
		case <-deadline.C:
			return omerr.New(omerr.KindProtocol,
				"shutdown drain timed out with %d of %d workers unaccounted for",
				e.poolSize-1-finished, e.poolSize-1)
		}
	}
	monitoring.Logf("all workers have shut down")
	return nil
}

func (e *Engine) abort() {
	select {
	case <-e.die:
	default:
		close(e.die)
	}
}
