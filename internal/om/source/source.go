// Package source defines the pluggable event-source contract and the
// registry of data retrieval layer adapters built into the monitor.
//
// An adapter hides one facility framework behind three things: a one-time
// master-side initialization, a per-worker event iterator, and a set of
// named data extraction functions. The engine selects an adapter by the
// [Onda] data_retrieval_layer configuration parameter.
package source

import (
	"sort"

	"github.com/banshee-data/bragg.report/internal/conf"
	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/extract"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
)

// Iterator walks a worker's share of the event stream, bufio.Scanner
// style: Next advances, Event returns the current event, Err reports a
// terminal iteration failure after Next returns false.
type Iterator interface {
	Next() bool
	Event() data.Event
	Err() error
}

// Adapter is one data retrieval layer implementation.
type Adapter interface {
	extract.Provider

	// Initialize runs once on the master node before any worker starts
	// iterating. Facility handshakes (e.g. stream registration) happen
	// here; file-based adapters only validate the source.
	Initialize(source string, poolSize int) error

	// Events returns this worker's share of the event stream.
	Events(source string, rank, poolSize int) (Iterator, error)
}

// Factory builds an adapter from the monitor configuration.
type Factory func(params *conf.MonitorParams) (Adapter, error)

var registry = map[string]Factory{}

// Register installs an adapter factory under a data_retrieval_layer name.
// Adapters register themselves from init functions.
func Register(name string, f Factory) {
	registry[name] = f
}

// New instantiates the adapter named by the configuration. An unknown name
// is a dependency error listing the known adapters.
func New(name string, params *conf.MonitorParams) (Adapter, error) {
	f, ok := registry[name]
	if !ok {
		known := make([]string, 0, len(registry))
		for k := range registry {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, omerr.New(omerr.KindDependency,
			"unknown data retrieval layer %q (available: %v)", name, known)
	}
	return f(params)
}
