// Package extract resolves and runs the per-frame data extraction
// functions provided by the active data retrieval layer.
//
// The monitor core never interprets facility events itself: it asks the
// adapter for one extraction function per name listed in the
// configuration's required_data, resolves the whole table once at worker
// startup, and runs every function against each frame. A failing function
// skips the frame; a missing one aborts startup.
package extract

import (
	"sort"

	"github.com/samber/lo"

	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindBool
	KindImage
)

// Value is one extracted datum. Facility adapters return dynamically typed
// data; the core represents it as a tagged union instead.
type Value struct {
	Kind  Kind
	Float float64
	Int   int64
	Bool  bool
	Image *data.Slab
}

// FloatValue wraps a float datum.
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// IntValue wraps an integer datum.
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// BoolValue wraps a boolean datum.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// ImageValue wraps a detector image datum.
func ImageValue(s *data.Slab) Value { return Value{Kind: KindImage, Image: s} }

// Func extracts one named datum from a frame.
type Func func(*data.Frame) (Value, error)

// Provider resolves extraction function names. Implemented by the data
// retrieval layer adapters.
type Provider interface {
	ExtractionFunc(name string) (Func, bool)
}

// Table is a resolved name → function table, fixed at worker startup.
type Table struct {
	names []string
	funcs []Func
}

// NewTable resolves every required name against the provider. Any name
// that does not resolve is a fatal missing-function error listing all
// unresolved names.
func NewTable(p Provider, required []string) (*Table, error) {
	missing := lo.Filter(required, func(name string, _ int) bool {
		_, ok := p.ExtractionFunc(name)
		return !ok
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, omerr.New(omerr.KindMissingFunction,
			"data extraction function(s) not defined by the data retrieval layer: %v", missing)
	}

	t := &Table{
		names: make([]string, 0, len(required)),
		funcs: make([]Func, 0, len(required)),
	}
	for _, name := range required {
		fn, _ := p.ExtractionFunc(name)
		t.names = append(t.names, name)
		t.funcs = append(t.funcs, fn)
	}
	return t, nil
}

// Names returns the resolved extraction names, in table order.
func (t *Table) Names() []string { return t.names }

// Extract runs every extraction function against the frame. The first
// failure abandons the frame: the caller logs one warning and moves on.
func (t *Table) Extract(frame *data.Frame) (map[string]Value, error) {
	out := make(map[string]Value, len(t.funcs))
	for i, fn := range t.funcs {
		v, err := fn(frame)
		if err != nil {
			return nil, omerr.Wrap(omerr.KindDataExtraction, err,
				"cannot interpret %s data for frame %d", t.names[i], frame.Offset)
		}
		out[t.names[i]] = v
	}
	return out, nil
}
