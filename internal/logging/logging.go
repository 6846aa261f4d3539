// Package logging builds the prefixed loggers used across plog.
//
// Long-running modes (serve, daemon) log to a rotating file when one is
// configured; everything else goes to stderr. Rotation keeps the server
// usable on small machines that never see log maintenance.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures file logging. A zero Options logs to stderr only.
type Options struct {
	// File is the rotating log file path; empty disables file logging.
	File string

	// MaxSizeMB is the size a log file reaches before rotation (default 10).
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep (default 3).
	MaxBackups int
}

// New returns a logger with the given prefix, writing to stderr and,
// when opts.File is set, to a size-rotated log file as well.
func New(prefix string, opts Options) *log.Logger {
	var w io.Writer = os.Stderr

	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups == 0 {
			maxBackups = 3
		}

		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
		w = io.MultiWriter(os.Stderr, rotator)
	}

	return log.New(w, prefix, log.LstdFlags)
}
