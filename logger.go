package conveyor

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/conveyor/pipeline"
	"github.com/gogpu/conveyor/queueview"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for conveyor and its pipeline and
// queueview packages. By default, conveyor produces no log output. Call
// SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger
// atomically. Pass nil to disable logging (restore default silent
// behavior).
//
// Log levels used by these packages:
//   - [slog.LevelWarn]: non-fatal issues (unknown pipeline names, user
//     callbacks failing, skipped parameters)
//
// Example:
//
//	// Enable warnings to stderr:
//	conveyor.SetLogger(slog.Default())
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	// Propagate to the packages that emit their own diagnostics. GPU
	// backends expose their own SetLogger since hosts typically own the
	// device lifecycle separately.
	pipeline.SetLogger(l)
	queueview.SetLogger(l)
}

// Logger returns the currently configured logger.
func Logger() *slog.Logger { return loggerPtr.Load() }
