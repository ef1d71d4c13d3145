// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package errors provides a standard error definition for use in
// spotmanager. Each error is assigned a class of error (kind) and an
// operation with optional arguments. Errors may be chained, and thus
// can be used to annotate upstream errors.
//
// Kinds come in two groups: generic kinds that classify the failure
// of a single backend call (Timeout, NotAllowed, ...) and decision
// kinds that name the pipeline step which failed (PriceQuery,
// NoPriceData, FleetResolution, ...). A decision error usually wraps
// a generic one, so that callers can ask either question with Is.
//
// Package errors provides functions Errorf and New as convenience
// constructors, so that users need import only one error package.
//
// The API was inspired by package upspin.io/errors.
package errors

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"runtime"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/grailbio/spotmanager/log"
)

// Separator is inserted between chained errors while rendering.
// The default value (":\n\t") is intended for interactive tools. A
// server can set this to a different value to be more log friendly.
var Separator = ":\n\t"

// Kind denotes the type of the error. The error's kind is used to
// render the error message and also for interpretation.
type Kind int

const (
	// Other denotes an unknown error.
	Other Kind = iota
	// Canceled denotes a cancellation error.
	Canceled
	// Timeout denotes a timeout error.
	Timeout
	// Temporary denotes a transient error.
	Temporary
	// NotExist denotes an error originating from a nonexistant resource.
	NotExist
	// NotAllowed denotes a permissions error.
	NotAllowed
	// Unavailable denotes that a resource is temporarily unavailable.
	Unavailable
	// Invalid indicates an invalid state or data.
	Invalid

	// Backend denotes a failed call to a scaling backend.
	Backend
	// ResolutionFailed denotes a failed stack resource lookup.
	ResolutionFailed
	// FleetResolution denotes that the fleet's scaling groups
	// could not be resolved from the parent stack.
	FleetResolution
	// PriceQuery denotes a failed spot price history query.
	PriceQuery
	// NoPriceData denotes an empty spot price history window.
	NoPriceData
	// NoEligibleZones denotes that no subnet qualified for placement.
	NoEligibleZones

	maxKind
)

// String renders a human-readable description of kind k.
func (k Kind) String() string {
	switch k {
	default:
		return "unknown error"
	case Canceled:
		return "canceled"
	case Timeout:
		return "timeout"
	case Temporary:
		return "temporary"
	case NotExist:
		return "resource does not exist"
	case NotAllowed:
		return "access denied"
	case Unavailable:
		return "unavailable"
	case Invalid:
		return "invalid"
	case Backend:
		return "backend error"
	case ResolutionFailed:
		return "resolution failed"
	case FleetResolution:
		return "fleet resolution failed"
	case PriceQuery:
		return "price query failed"
	case NoPriceData:
		return "no price data"
	case NoEligibleZones:
		return "no eligible zones"
	}
}

var kind2string = [maxKind]string{
	Other:            "Other",
	Canceled:         "Canceled",
	Timeout:          "Timeout",
	Temporary:        "Temporary",
	NotExist:         "NotExist",
	NotAllowed:       "NotAllowed",
	Unavailable:      "Unavailable",
	Invalid:          "Invalid",
	Backend:          "Backend",
	ResolutionFailed: "ResolutionFailed",
	FleetResolution:  "FleetResolution",
	PriceQuery:       "PriceQuery",
	NoPriceData:      "NoPriceData",
	NoEligibleZones:  "NoEligibleZones",
}

// Name returns the kind's identifier, suitable for metric labels.
func (k Kind) Name() string {
	if k < 0 || k >= maxKind {
		return kind2string[Other]
	}
	return kind2string[k]
}

// Error defines a spotmanager error. It is used to indicate an error
// associated with an operation (and arguments), and may wrap another
// error.
//
// Errors should be constructed by errors.E.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Op is a one-word description of the operation that errored.
	Op string
	// Arg is an (optional) list of arguments to the operation.
	Arg []string
	// Err is this error's underlying error: this error is caused
	// by Err.
	Err error
}

// E is used to construct errors. E constructs errors from a set of
// arguments; each of which must be one of the following types:
//
//	string
//		The first string argument is taken as the error's Op; subsequent
//		arguments are taken as the error's Arg.
//	Kind
//		Taken as the error's Kind.
//	error
//		Taken as the error's underlying error.
//
// If a Kind is provided, there is no further processing. If not, and
// an underlying error is provided, E attempts to interpret it as
// follows: (1) If the underlying error is another *Error, and there
// is no Kind argument, the Kind is inherited from the *Error. (2) If
// the underlying error is an AWS SDK error, its code is classified
// by AWSKind. (3) If the underlying error has method Timeout() bool
// returning true, the error's kind is set to Timeout. (4) If it has
// method Temporary() bool returning true, the kind is set to
// Temporary. (5) context.Canceled and context.DeadlineExceeded map
// to Canceled and Timeout. (6) os.IsNotExist errors map to NotExist.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("no args")
	}
	e := new(Error)
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			if e.Op == "" {
				e.Op = arg
			} else {
				e.Arg = append(e.Arg, arg)
			}
		case Kind:
			e.Kind = arg
		case *Error:
			copy := *arg
			e.Err = &copy
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Printf("errors.E: bad call (type %T) from %s:%d: %v", arg, file, line, args)
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	if e.Err == nil {
		return e
	}
	switch prev := e.Err.(type) {
	case *Error:
		if prev.Kind == e.Kind {
			e.Kind = prev.Kind
			prev.Kind = Other
		} else if e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
		if prev.Op == "" && prev.Kind == Other {
			e.Err = prev.Err
		}
	default:
		if e.Kind != Other {
			break
		}
		e.Kind = classify(e.Err)
	}
	return e
}

// classify interprets a foreign error into a Kind.
func classify(err error) Kind {
	if aerr, ok := err.(awserr.Error); ok {
		return AWSKind(aerr)
	}
	switch err := err.(type) {
	case interface {
		Timeout() bool
	}:
		if err.Timeout() {
			return Timeout
		}
	case interface {
		Temporary() bool
	}:
		if err.Temporary() {
			return Temporary
		}
	}
	switch {
	case err == context.Canceled:
		return Canceled
	case err == context.DeadlineExceeded:
		return Timeout
	case os.IsNotExist(err):
		return NotExist
	}
	return Other
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}

// Error renders this error and its chain of underlying errors,
// separated by Separator.
func (e *Error) Error() string {
	return e.ErrorSeparator(Separator)
}

// ErrorSeparator renders this errors and its chain of underlying
// errors, separated by sep.
func (e *Error) ErrorSeparator(sep string) string {
	if e == nil {
		return "<nil>"
	}
	b := new(bytes.Buffer)
	if e.Op != "" {
		b.WriteString(e.Op)
		for i := range e.Arg {
			b.WriteString(" " + e.Arg[i])
		}
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if err, ok := e.Err.(*Error); ok {
			pad(b, sep)
			b.WriteString(err.ErrorSeparator(sep))
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	return b.String()
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout tells whether this error is a timeout error.
func (e *Error) Timeout() bool {
	return e.Kind == Timeout
}

// Temporary tells whether this error is temporary.
func (e *Error) Temporary() bool {
	return e.Kind == Temporary || e.Kind == Unavailable
}

// Errorf is an alternate spelling of fmt.Errorf.
var Errorf = fmt.Errorf

// New is an alternate spelling of errors.New.
var New = goerrors.New

// Recover recovers any error into an *Error. If the passed-in Error
// is already an error, it is simply returned; otherwise it is wrapped.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if err, ok := err.(*Error); ok {
		return err
	}
	return E(err).(*Error)
}

// Copy creates a shallow copy of Error e.
func (e *Error) Copy() *Error {
	f := new(Error)
	*f = *e
	return f
}

// Match compares err1 with err2. If err1 has type Kind, Match
// reports whether err2's Kind is the same, otherwise, Match checks
// that every nonempty field in err1 has the same value in err2. If
// err1 is an *Error with a non-nil Err field, Match recurs to check
// that the two errors chain of underlying errors also match.
func Match(err1 interface{}, err2 error) bool {
	e2 := Recover(err2)
	if e2 == nil {
		return false
	}
	switch e1 := err1.(type) {
	default:
		return false
	case Kind:
		return e1 == e2.Kind
	case *Error:
		if e1.Op != "" && e2.Op != e1.Op {
			return false
		}
		if len(e1.Arg) != len(e2.Arg) {
			return false
		}
		for i := range e1.Arg {
			if e1.Arg[i] != e2.Arg[i] {
				return false
			}
		}
		if e1.Kind != Other && e2.Kind != e1.Kind {
			return false
		}
		if e1.Err != nil {
			if _, ok := e1.Err.(*Error); ok {
				return Match(e1.Err, e2.Err)
			}
			if e2.Err == nil || e2.Err.Error() != e1.Err.Error() {
				return false
			}
		}
		return true
	}
}

// Is tells whether any error in err's chain is of the given kind.
// Errors that are not *Errors are classified as by E. Other never
// matches.
func Is(kind Kind, err error) bool {
	if kind == Other {
		return false
	}
	for err != nil {
		e, ok := err.(*Error)
		if !ok {
			return classify(err) == kind
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// Transient tells whether error err is likely transient, and thus may
// be usefully retried by a caller.
func Transient(err error) bool {
	for _, kind := range []Kind{Canceled, Timeout, Temporary, Unavailable} {
		if Is(kind, err) {
			return true
		}
	}
	return false
}
