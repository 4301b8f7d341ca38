// Package monitoring holds the process-wide diagnostic logger.
//
// The monitor logs through a small replaceable surface so tests can mute or
// capture output. The default backend is a charmbracelet logger writing to
// stderr with a monitor prefix.
package monitoring

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Default is the backend used by the package-level functions. It may be
// reconfigured at startup (e.g. to raise the level in debug mode).
var Default = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
	ReportTimestamp: true,
	Prefix:          "om",
})

// Logf is the package-level diagnostic logger. It defaults to the Info level
// of the Default backend but may be replaced by SetLogger. Tests or
// production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = Default.Infof

// Warnf logs a counted or transient condition that does not stop processing.
var Warnf func(format string, v ...interface{}) = Default.Warnf

// Errorf logs a failure that is being propagated or aborts a unit of work.
var Errorf func(format string, v ...interface{}) = Default.Errorf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		nop := func(string, ...interface{}) {}
		Logf, Warnf, Errorf = nop, nop, nop
		return
	}
	Logf, Warnf, Errorf = f, f, f
}

// WithRank returns a logger carrying the node rank, for worker-side logs.
func WithRank(rank int) *charmlog.Logger {
	return Default.With("rank", rank)
}
