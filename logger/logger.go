// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logger provides a leveled, optionally colorized logger that can
// be carried in a context.Context. The package-level logging functions use
// the logger attached to the context, falling back to a default logger
// writing to stdout and stderr.
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"go.fuchsia.dev/tftpd/color"
)

type globalLoggerKeyType struct{}

// WithLogger returns a context derived from ctx that carries the given
// logger, retrievable by the package-level logging functions.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, globalLoggerKeyType{}, logger)
}

// Logger represents a specific LogLevel with a specified color and prefix.
type Logger struct {
	LoggerLevel   LogLevel
	goLogger      *log.Logger
	goErrorLogger *log.Logger
	color         color.Color
	prefix        interface{}
}

// LogLevel identifies the level at which a Logger logs.
type LogLevel int

const (
	// NoLogLevel disables logging entirely.
	NoLogLevel LogLevel = iota
	// FatalLevel logs fatal messages only.
	FatalLevel
	// ErrorLevel logs errors and above.
	ErrorLevel
	// WarningLevel logs warnings and above.
	WarningLevel
	// InfoLevel logs info and above.
	InfoLevel
	// DebugLevel logs debug messages and above.
	DebugLevel
	// TraceLevel logs everything.
	TraceLevel
)

// Flag values forwarded from the log package for use with SetFlags.
const (
	Ldate         = log.Ldate
	Ltime         = log.Ltime
	Lmicroseconds = log.Lmicroseconds
	Llongfile     = log.Llongfile
	Lshortfile    = log.Lshortfile
	LUTC          = log.LUTC
	LstdFlags     = log.LstdFlags
)

const defaultFlags = Ldate | Lmicroseconds

// String returns the string representation of the LogLevel.
func (l *LogLevel) String() string {
	switch *l {
	case NoLogLevel:
		return "no"
	case FatalLevel:
		return "fatal"
	case ErrorLevel:
		return "error"
	case WarningLevel:
		return "warning"
	case InfoLevel:
		return "info"
	case DebugLevel:
		return "debug"
	case TraceLevel:
		return "trace"
	}
	return ""
}

// Type identifies the flag type for GNU-style flag sets.
func (l *LogLevel) Type() string {
	return "level"
}

// Set sets the LogLevel based on its string value. It implements
// flag.Value.
func (l *LogLevel) Set(s string) error {
	switch s {
	case "fatal":
		*l = FatalLevel
	case "error":
		*l = ErrorLevel
	case "warning":
		*l = WarningLevel
	case "info":
		*l = InfoLevel
	case "debug":
		*l = DebugLevel
	case "trace":
		*l = TraceLevel
	default:
		return fmt.Errorf("%s is not a valid level", s)
	}
	return nil
}

// NewLogger creates a new logger instance. The loggerLevel variable sets
// the log level for the logger. The color variable specifies the
// visualization of the log level tags. outWriter and errWriter default to
// os.Stdout and os.Stderr when nil. prefix is prepended to every message;
// it may be a plain string or a fmt.Stringer evaluated per message.
func NewLogger(loggerLevel LogLevel, color color.Color, outWriter, errWriter io.Writer, prefix interface{}) *Logger {
	if outWriter == nil {
		outWriter = os.Stdout
	}
	if errWriter == nil {
		errWriter = os.Stderr
	}
	return &Logger{
		LoggerLevel:   loggerLevel,
		goLogger:      log.New(outWriter, "", defaultFlags),
		goErrorLogger: log.New(errWriter, "", defaultFlags),
		color:         color,
		prefix:        prefix,
	}
}

// SetFlags sets the output flags of both underlying loggers.
func (l *Logger) SetFlags(flags int) {
	l.goLogger.SetFlags(flags)
	l.goErrorLogger.SetFlags(flags)
}

func (l *Logger) prefixString() string {
	switch p := l.prefix.(type) {
	case nil:
		return ""
	case string:
		return p
	case fmt.Stringer:
		return p.String()
	default:
		return fmt.Sprintf("%v", p)
	}
}

func (l *Logger) logf(callDepth int, level LogLevel, tag, format string, a ...interface{}) {
	if l.LoggerLevel < level {
		return
	}
	msg := l.prefixString() + tag + fmt.Sprintf(format, a...)
	switch level {
	case TraceLevel, DebugLevel, InfoLevel:
		l.goLogger.Output(callDepth, msg)
	default:
		l.goErrorLogger.Output(callDepth, msg)
	}
}

// Tracef logs at TraceLevel.
func (l *Logger) Tracef(format string, a ...interface{}) {
	l.logf(3, TraceLevel, "", format, a...)
}

// Debugf logs at DebugLevel.
func (l *Logger) Debugf(format string, a ...interface{}) {
	l.logf(3, DebugLevel, "", format, a...)
}

// Infof logs at InfoLevel.
func (l *Logger) Infof(format string, a ...interface{}) {
	l.logf(3, InfoLevel, "", format, a...)
}

// Warningf logs at WarningLevel.
func (l *Logger) Warningf(format string, a ...interface{}) {
	l.logf(3, WarningLevel, l.color.Yellow("WARNING: "), format, a...)
}

// Errorf logs at ErrorLevel.
func (l *Logger) Errorf(format string, a ...interface{}) {
	l.logf(3, ErrorLevel, l.color.Red("ERROR: "), format, a...)
}

// Fatalf logs at FatalLevel and exits the process with a nonzero status.
func (l *Logger) Fatalf(format string, a ...interface{}) {
	l.logf(3, FatalLevel, l.color.Red("FATAL: "), format, a...)
	os.Exit(1)
}

var defaultLogger = NewLogger(InfoLevel, color.NewColor(color.ColorAuto), os.Stdout, os.Stderr, "")

func loggerFromContext(ctx context.Context) *Logger {
	if v, ok := ctx.Value(globalLoggerKeyType{}).(*Logger); ok && v != nil {
		return v
	}
	return defaultLogger
}

// Tracef logs at TraceLevel with the logger carried by ctx.
func Tracef(ctx context.Context, format string, a ...interface{}) {
	loggerFromContext(ctx).logf(3, TraceLevel, "", format, a...)
}

// Debugf logs at DebugLevel with the logger carried by ctx.
func Debugf(ctx context.Context, format string, a ...interface{}) {
	loggerFromContext(ctx).logf(3, DebugLevel, "", format, a...)
}

// Infof logs at InfoLevel with the logger carried by ctx.
func Infof(ctx context.Context, format string, a ...interface{}) {
	loggerFromContext(ctx).logf(3, InfoLevel, "", format, a...)
}

// Warningf logs at WarningLevel with the logger carried by ctx.
func Warningf(ctx context.Context, format string, a ...interface{}) {
	l := loggerFromContext(ctx)
	l.logf(3, WarningLevel, l.color.Yellow("WARNING: "), format, a...)
}

// Errorf logs at ErrorLevel with the logger carried by ctx.
func Errorf(ctx context.Context, format string, a ...interface{}) {
	l := loggerFromContext(ctx)
	l.logf(3, ErrorLevel, l.color.Red("ERROR: "), format, a...)
}

// Fatalf logs at FatalLevel with the logger carried by ctx and exits the
// process with a nonzero status.
func Fatalf(ctx context.Context, format string, a ...interface{}) {
	l := loggerFromContext(ctx)
	l.logf(3, FatalLevel, l.color.Red("FATAL: "), format, a...)
	os.Exit(1)
}
