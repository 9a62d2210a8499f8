package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"

	"github.com/forensicskween/invalidcurve/pkg/factorint"
	"github.com/forensicskween/invalidcurve/pkg/invalidcurve"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var (
	backendLog = slog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log     = backendLog.Logger("CGEN")
	icvLog  = backendLog.Logger("ICRV")
	fintLog = backendLog.Logger("FINT")
)

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]slog.Logger{
	"CGEN": log,
	"ICRV": icvLog,
	"FINT": fintLog,
}

func init() {
	invalidcurve.UseLogger(icvLog)
	factorint.UseLogger(fintLog)
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// setLogLevels sets the log level for all subsystem loggers.
func setLogLevels(levelStr string) error {
	level, ok := slog.LevelFromString(levelStr)
	if !ok {
		return fmt.Errorf("invalid log level %q", levelStr)
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
	return nil
}
