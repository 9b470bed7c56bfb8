// Package logging builds the structured, per-role logger used by all three
// daemons. It plays the same role original_source/packer/src/pack-files.py
// gives Python's logging module: one log file per script_id, a level that
// can be raised or lowered on every config reload, and a line format that
// keeps timestamp/component/level/message in fixed columns.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
)

// Level mirrors the five Python logging levels the original config file's
// log_level option accepts.
type Level string

const (
	Debug    Level = "DEBUG"
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Error    Level = "ERROR"
	Critical Level = "CRITICAL"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warning:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	case Critical:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger wraps a *zap.SugaredLogger together with the atomic level that
// lets SetLevel change verbosity without rebuilding the whole pipeline —
// the Go equivalent of the Python script's logger.setLevel() on every loop
// tick.
type Logger struct {
	*zap.SugaredLogger
	level zapcore.AtomicLevel
	file  *os.File
}

// New builds a logger for role (e.g. "pack", "stage", "verify") that
// writes to path at the given initial level. Passing an empty path logs to
// stderr instead.
func New(role, scriptID, path string, level Level) (*Logger, error) {
	atom := zap.NewAtomicLevelAt(level.zapLevel())

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	var sink zapcore.WriteSyncer
	var file *os.File
	if path == "" {
		sink = zapcore.AddSync(os.Stderr)
	} else {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "opening log file %q", path)
		}
		file = f
		sink = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), sink, atom)
	base := zap.New(core).Named(fmt.Sprintf("%s[%s]", role, scriptID))

	return &Logger{SugaredLogger: base.Sugar(), level: atom, file: file}, nil
}

// SetLevel adjusts verbosity in place, matching the original script's
// behavior of re-reading log_level from the config file on every loop
// iteration without tearing down the handler.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// Close flushes buffered log entries and closes the underlying file, if
// any.
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// ParseLevel validates and normalizes a log_level config value; the match
// is case-insensitive and the returned Level is upper-case.
func ParseLevel(raw string) (Level, error) {
	switch l := Level(strings.ToUpper(raw)); l {
	case Debug, Info, Warning, Error, Critical:
		return l, nil
	default:
		return "", errors.Errorf("invalid log level %q", raw)
	}
}
