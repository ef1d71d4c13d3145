// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log_test

import (
	"reflect"
	"testing"

	"github.com/grailbio/spotmanager/log"
)

type outputBuffer struct {
	messages []string
}

func (o *outputBuffer) Output(calldepth int, s string) error {
	o.messages = append(o.messages, s)
	return nil
}

func TestLogger(t *testing.T) {
	var b1, b2 outputBuffer
	l1 := log.New(&b1, log.InfoLevel)
	l2 := l1.Tee(&b2, "two: ")
	l1.Printf("hello, world")
	l2.Error("error")

	if got, want := b1.messages, ([]string{"hello, world", "two: error"}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := b2.messages, ([]string{"error"}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTeeWithPrefix(t *testing.T) {
	var b outputBuffer
	l := log.New(&b, log.InfoLevel)
	l.Printf("hello, world")
	l1 := l.Tee(nil, "prefix1: ")
	l1.Printf("hello, another world")
	l2 := l1.Tee(nil, "prefix2: ")
	l2.Printf("hello")

	if got, want := b.messages, ([]string{
		"hello, world",
		"prefix1: hello, another world",
		"prefix1: prefix2: hello",
	}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLevels(t *testing.T) {
	var b outputBuffer
	l := log.New(&b, log.ErrorLevel)
	l.Print("this message should be dropped")
	l.Debug("this too")
	l.Error("i should see this message")
	l.Error("and this")
	if got, want := b.messages, ([]string{"i should see this message", "and this"}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	for _, level := range []log.Level{log.InfoLevel, log.DebugLevel} {
		if l.At(level) {
			t.Errorf("logger at %v", level)
		}
	}
	if !l.At(log.ErrorLevel) {
		t.Error("not at ErrorLevel")
	}
}

func TestTeeLevels(t *testing.T) {
	var parent, child outputBuffer
	l := log.New(&parent, log.ErrorLevel)
	c := l.Tee(&child, "fleet: ")
	c.Level = log.DebugLevel
	c.Debugf("resolved %s", "gpu-spot")
	c.Errorf("describe %s failed", "gpu-spot")
	if got, want := parent.messages, []string{"fleet: describe gpu-spot failed"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := child.messages, []string{"resolved gpu-spot", "describe gpu-spot failed"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStd(t *testing.T) {
	save := log.Std
	defer func() { log.Std = save }()
	var b outputBuffer
	log.Std = log.New(&b, log.InfoLevel)
	log.Printf("x=%d", 1)
	log.Errorf("y=%d", 2)
	if got, want := b.messages, []string{"x=1", "y=2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want log.Level
	}{
		{"off", log.OffLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"Debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
	} {
		got, err := log.ParseLevel(tt.in)
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := log.ParseLevel("loud"); err == nil {
		t.Error("expected error")
	}
	if got, want := log.DebugLevel.String(), "debug"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNilLogger(t *testing.T) {
	var l *log.Logger
	l.Printf("dropped")
	if l.Tee(nil, "x: ") != nil {
		t.Error("tee of nil logger should be nil")
	}
	if l.At(log.ErrorLevel) {
		t.Error("nil logger is not at any level")
	}
}
