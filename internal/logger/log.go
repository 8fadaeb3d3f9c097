// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a slog.Logger.
type Logger struct {
	*slog.Logger
}

// FileConfig configures the optional rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New returns a Logger writing text records of the given level to stderr.
func New(level slog.Level) *Logger {
	return NewLogger(level, os.Stderr)
}

// NewLogger returns a Logger writing text records of the given level to the given output.
func NewLogger(level slog.Level, output io.Writer) *Logger {
	return &Logger{slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))}
}

// NewWithFile returns a Logger that writes to stderr and to a size-rotated log file. The
// returned io.Closer closes the log file.
func NewWithFile(level slog.Level, conf FileConfig) (*Logger, io.Closer) {
	file := &lumberjack.Logger{
		Filename:   conf.Path,
		MaxSize:    conf.MaxSizeMB,
		MaxBackups: conf.MaxBackups,
		MaxAge:     conf.MaxAgeDays,
		Compress:   conf.Compress,
	}
	return NewLogger(level, io.MultiWriter(os.Stderr, file)), file
}

// Discard returns a Logger that drops all records.
func Discard() *Logger {
	return NewLogger(slog.LevelError+1, io.Discard)
}

// Err returns a slog attribute for the given error.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}
