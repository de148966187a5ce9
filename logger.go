package patchmatch

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. It is read and written atomically,
// so SetLogger may run while Compute workers are logging.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for patchmatch and its accelerators.
// By default nothing is logged. Pass nil to restore the silent default.
//
// SetLogger is safe for concurrent use. A Compute already in flight picks
// up the new logger at its next log call; the registered accelerator
// receives it before SetLogger returns.
//
// Log levels used:
//   - [slog.LevelDebug]: per-stage progress (state, round, jump, mean distance)
//   - [slog.LevelInfo]: execution target selection, accelerator lifecycle
//   - [slog.LevelWarn]: CPU fallback, accelerator release errors
//
// Example:
//
//	patchmatch.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	if a := Accelerator(); a != nil {
		propagateLogger(a, l)
	}
}

// Logger returns the current logger. Sub-packages (gpu/) call this to share
// the configuration without an import cycle.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by accelerators that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger hands l to a if it accepts a logger. SetLogger and
// RegisterAccelerator both call it, so an accelerator registered after
// SetLogger still logs through the configured handler.
func propagateLogger(a GPUAccelerator, l *slog.Logger) {
	if ls, ok := a.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
