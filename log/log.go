// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package log implements leveled, teeing loggers on top of Go's
// standard log package.
//
// Spotmanager components each take a *Logger, which the command tees
// with a component prefix, so that an invocation's output reads as
// one trace:
//
//	spotaz: the cheapest for g2.2xlarge in vpc-1 is 0.2011 in us-west-2a
//	fleet: g2.2xlarge spot: price 0.2011 in us-west-2a, ...
//	asg: executed gpu-ScaleUp-v1 on gpu-spot (honor cooldown: true)
//
// A nil *Logger discards everything, so components need not check
// whether they were given one.
package log

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level is a logging level. Higher levels are more verbose.
type Level int

const (
	// OffLevel turns logging off.
	OffLevel Level = iota
	// ErrorLevel publishes errors only.
	ErrorLevel
	// InfoLevel publishes errors and decisions.
	InfoLevel
	// DebugLevel additionally publishes every backend result.
	DebugLevel
)

var levelNames = [...]string{
	OffLevel:   "off",
	ErrorLevel: "error",
	InfoLevel:  "info",
	DebugLevel: "debug",
}

// String returns the level's flag spelling.
func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel parses a level from its flag spelling. The empty
// string is InfoLevel.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return InfoLevel, nil
	}
	s = strings.ToLower(s)
	for l, name := range levelNames {
		if s == name {
			return Level(l), nil
		}
	}
	return OffLevel, fmt.Errorf("unknown log level %q", s)
}

// An Outputter receives published log messages. Go's *log.Logger
// implements Outputter.
type Outputter interface {
	Output(calldepth int, s string) error
}

// A Logger publishes messages at or below its level to its
// Outputter, and forwards every message, prefixed, to the logger it
// was teed from.
type Logger struct {
	// Outputter, if not nil, receives messages at or below Level.
	Outputter
	// Level is the logger's publishing level.
	Level Level

	parent *Logger
	prefix string
}

// New returns a Logger publishing messages at or below level to out.
// New returns nil, a silent logger, for OffLevel.
func New(out Outputter, level Level) *Logger {
	if level == OffLevel {
		return nil
	}
	return &Logger{Outputter: out, Level: level}
}

// Tee returns a logger that publishes to out (which may be nil) and
// forwards to l with the given prefix.
func (l *Logger) Tee(out Outputter, prefix string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{Outputter: out, Level: l.Level, parent: l, prefix: prefix}
}

// At tells whether the logger publishes messages at the given level.
func (l *Logger) At(level Level) bool {
	return l != nil && level <= l.Level
}

// Print logs at InfoLevel in the manner of fmt.Print.
func (l *Logger) Print(v ...interface{}) {
	l.publish(2, InfoLevel, "", fmt.Sprint, v)
}

// Printf logs at InfoLevel in the manner of fmt.Printf.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.publish(2, InfoLevel, "", sprintf(format), args)
}

// Error logs at ErrorLevel in the manner of fmt.Print.
func (l *Logger) Error(v ...interface{}) {
	l.publish(2, ErrorLevel, "", fmt.Sprint, v)
}

// Errorf logs at ErrorLevel in the manner of fmt.Printf.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.publish(2, ErrorLevel, "", sprintf(format), args)
}

// Debug logs at DebugLevel in the manner of fmt.Print.
func (l *Logger) Debug(v ...interface{}) {
	l.publish(2, DebugLevel, "", fmt.Sprint, v)
}

// Debugf logs at DebugLevel in the manner of fmt.Printf.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.publish(2, DebugLevel, "", sprintf(format), args)
}

func sprintf(format string) func(...interface{}) string {
	return func(args ...interface{}) string { return fmt.Sprintf(format, args...) }
}

// publish formats the message only if some logger in the chain
// publishes it. Prefixes accumulate outermost first.
func (l *Logger) publish(calldepth int, level Level, prefix string, format func(...interface{}) string, args []interface{}) {
	for ; l != nil; l = l.parent {
		if l.Outputter != nil && level <= l.Level {
			l.Output(calldepth+1, prefix+format(args...))
		}
		prefix = l.prefix + prefix
	}
}

// Std is the standard logger. The command replaces it with one
// configured by its flags.
var Std = New(log.New(os.Stderr, "", log.LstdFlags), InfoLevel)

// Printf logs to Std in the manner of fmt.Printf.
func Printf(format string, args ...interface{}) {
	Std.publish(2, InfoLevel, "", sprintf(format), args)
}

// Errorf logs to Std at ErrorLevel in the manner of fmt.Printf.
func Errorf(format string, args ...interface{}) {
	Std.publish(2, ErrorLevel, "", sprintf(format), args)
}
