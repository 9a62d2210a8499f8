package factorint

import "github.com/decred/slog"

// log is the package logger. Output is discarded until the caller installs
// a logger with UseLogger.
var log = slog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger slog.Logger) {
	log = logger
}
