// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides the per-module logger used throughout the
// coordinator: NewModuleLogger, ChangeGlobalLogLevel, key/value pairs,
// backed by go.uber.org/zap.
package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Lvl is a log verbosity level, ordered the same way as zap's.
type Lvl int8

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
)

// ParseLvl maps a config string ("crit"/"error"/"warn"/"info"/"debug") to a
// Lvl, defaulting to LvlInfo for anything unrecognized.
func ParseLvl(s string) Lvl {
	switch s {
	case "crit":
		return LvlCrit
	case "error":
		return LvlError
	case "warn":
		return LvlWarn
	case "debug":
		return LvlDebug
	default:
		return LvlInfo
	}
}

func (l Lvl) zapLevel() zapcore.Level {
	switch l {
	case LvlCrit:
		return zapcore.DPanicLevel
	case LvlError:
		return zapcore.ErrorLevel
	case LvlWarn:
		return zapcore.WarnLevel
	case LvlDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

var (
	globalLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	mu          sync.Mutex
	perModule   = map[string]*zap.AtomicLevel{}
	baseLogger  *zap.Logger
	initialized bool
)

func encoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "t",
		LevelKey:       "lvl",
		NameKey:        "mod",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func init() {
	useColor := isatty.IsTerminal(os.Stderr.Fd())
	var out zapcore.WriteSyncer
	if useColor {
		out = zapcore.AddSync(colorable.NewColorableStderr())
	} else {
		out = zapcore.AddSync(os.Stderr)
	}
	core := zapcore.NewCore(encoder(), out, globalLevel)
	baseLogger = zap.New(core)
	initialized = true
}

// ModuleLogger is a named logger whose verbosity can be changed independently
// of the global level via ChangeLogLevelWithName.
type ModuleLogger struct {
	name  string
	level *zap.AtomicLevel
	l     *zap.SugaredLogger
}

// NewModuleLogger creates (or returns the existing) logger for a module name,
// e.g. "queue", "registry", "httpapi".
func NewModuleLogger(name string) *ModuleLogger {
	mu.Lock()
	defer mu.Unlock()

	lvl, ok := perModule[name]
	if !ok {
		l := zap.NewAtomicLevelAt(globalLevel.Level())
		lvl = &l
		perModule[name] = lvl
	}
	core := zapcore.NewCore(encoder(), zapcore.AddSync(os.Stderr), lvl)
	return &ModuleLogger{
		name:  name,
		level: lvl,
		l:     zap.New(core).Named(name).Sugar(),
	}
}

func colorize(level Lvl, msg string) string {
	switch level {
	case LvlCrit, LvlError:
		return color.RedString(msg)
	case LvlWarn:
		return color.YellowString(msg)
	default:
		return msg
	}
}

func (m *ModuleLogger) with(kv []interface{}) *zap.SugaredLogger {
	if len(kv) == 0 {
		return m.l
	}
	return m.l.With(kv...)
}

// Debug logs at debug level with alternating key/value pairs.
func (m *ModuleLogger) Debug(msg string, kv ...interface{}) { m.with(kv).Debug(msg) }

// Info logs at info level with alternating key/value pairs.
func (m *ModuleLogger) Info(msg string, kv ...interface{}) { m.with(kv).Info(msg) }

// Warn logs at warn level with alternating key/value pairs.
func (m *ModuleLogger) Warn(msg string, kv ...interface{}) { m.with(kv).Warn(colorize(LvlWarn, msg)) }

// Error logs at error level, appending a single caller frame so error
// records carry their origin without a full stack dump.
func (m *ModuleLogger) Error(msg string, kv ...interface{}) {
	frame := stack.Caller(1)
	kv = append(kv, "at", fmt.Sprintf("%+v", frame))
	m.with(kv).Error(colorize(LvlError, msg))
}

// Crit logs at critical level and terminates the process.
func (m *ModuleLogger) Crit(msg string, kv ...interface{}) {
	m.with(kv).Fatal(colorize(LvlCrit, msg))
}

// ChangeGlobalLogLevel changes the verbosity ceiling for every module whose
// level has not been moved away from the global level via
// ChangeLogLevelWithName.
func ChangeGlobalLogLevel(lvl Lvl) {
	mu.Lock()
	defer mu.Unlock()
	prev, next := globalLevel.Level(), lvl.zapLevel()
	globalLevel.SetLevel(next)
	for _, l := range perModule {
		if l.Level() == prev {
			l.SetLevel(next)
		}
	}
}

// ChangeLogLevelWithName overrides the verbosity of a single named module.
func ChangeLogLevelWithName(name string, lvl Lvl) error {
	mu.Lock()
	defer mu.Unlock()
	l, ok := perModule[name]
	if !ok {
		return fmt.Errorf("log: unknown module %q", name)
	}
	l.SetLevel(lvl.zapLevel())
	return nil
}

// Sync flushes any buffered log entries; call during shutdown.
func Sync() {
	if baseLogger != nil {
		_ = baseLogger.Sync()
	}
}
