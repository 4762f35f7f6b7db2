// Package logging provides a thin alias over logrus so callers can write
// log.Infof(...) without importing logrus directly, plus helpers for
// configuring the base logger and optional rotating file output.
package logging

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Re-exported logging functions.
var (
	Debugf = log.Debugf
	Infof  = log.Infof
	Warnf  = log.Warnf
	Errorf = log.Errorf
	Fatalf = log.Fatalf

	Debug = log.Debug
	Info  = log.Info
	Warn  = log.Warn
	Error = log.Error
	Fatal = log.Fatal
)

// WithError returns an entry carrying the given error.
func WithError(err error) *log.Entry {
	return log.WithError(err)
}

// WithField returns an entry carrying a single structured field.
func WithField(key string, value any) *log.Entry {
	return log.WithField(key, value)
}

// SetupBaseLogger configures the process-wide logger with a timestamped
// text formatter writing to stderr. Safe to call more than once.
func SetupBaseLogger() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(log.InfoLevel)
}

// SetDebug toggles debug-level logging.
func SetDebug(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// ConfigureLogOutput switches logging to a rotating file under dir when
// toFile is true, otherwise keeps stderr. File output is mirrored to stderr
// so interactive runs stay visible.
func ConfigureLogOutput(toFile bool, dir string) error {
	if !toFile {
		log.SetOutput(os.Stderr)
		return nil
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "llmgate.log"),
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}
