// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
)

func TestE(t *testing.T) {
	e := E("describe", context.DeadlineExceeded)
	if got, want := e, E("describe", Timeout); !Match(want, got) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Collapse errors
	e = E("quote", PriceQuery, E("history", PriceQuery))
	if got, want := e, E("quote", PriceQuery, E("history")); !Match(want, got) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestError(t *testing.T) {
	e := E("quote", "g2.2xlarge", "us-west-2a", NoPriceData)
	if got, want := e.Error(), "quote g2.2xlarge us-west-2a: no price data"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	e = E("resolve", "parent", E(NotAllowed))
	if got, want := e.Error(), "resolve parent: access denied"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	e = E("resolve", "parent", FleetResolution, E("describe", "parent", NotAllowed, os.ErrPermission))
	if got, want := e.Error(), "resolve parent: fleet resolution failed:\n\tdescribe parent: access denied: permission denied"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestIs(t *testing.T) {
	for kind := Other; kind < maxKind; kind++ {
		if got, want := Is(kind, E(kind)), kind != Other; got != want {
			t.Errorf("%v: got %v, want %v", kind, got, want)
		}
	}
	chain := E("run", FleetResolution, E("resolve", ResolutionFailed, awserr.New("AccessDenied", "denied", nil)))
	for _, kind := range []Kind{FleetResolution, ResolutionFailed, NotAllowed} {
		if !Is(kind, chain) {
			t.Errorf("expected %v in %v", kind, chain)
		}
	}
	if Is(NoPriceData, chain) {
		t.Errorf("unexpected NoPriceData in %v", chain)
	}
	if Is(Other, nil) {
		t.Error("nil error has no kind")
	}
}

func TestAWSKind(t *testing.T) {
	for _, tt := range []struct {
		code, message string
		want          Kind
	}{
		{request.CanceledErrorCode, "request context canceled", Canceled},
		{"AccessDenied", "User is not authorized", NotAllowed},
		{"UnauthorizedOperation", "", NotAllowed},
		{"Throttling", "Rate exceeded", Temporary},
		{"RequestLimitExceeded", "", Temporary},
		{"ServiceUnavailable", "", Unavailable},
		{"ValidationError", "Stack with id parent does not exist", NotExist},
		{"ValidationError", "1 validation error detected", Invalid},
		{"InvalidVpcID.NotFound", "", NotExist},
		{"SomethingElse", "", Other},
	} {
		if got, want := AWSKind(awserr.New(tt.code, tt.message, nil)), tt.want; got != want {
			t.Errorf("%s %q: got %v, want %v", tt.code, tt.message, got, want)
		}
		if got, want := Recover(awserr.New(tt.code, tt.message, nil)).Kind, tt.want; got != want {
			t.Errorf("recover %s: got %v, want %v", tt.code, got, want)
		}
	}
}

func TestTransient(t *testing.T) {
	for _, tt := range []struct {
		err  error
		want bool
	}{
		{New("some error"), false},
		{E(Timeout, "some timeout"), true},
		{E(PriceQuery, E(Temporary, "throttled")), true},
		{E(NoPriceData), false},
		{context.Canceled, true},
	} {
		if got := Transient(tt.err); got != tt.want {
			t.Errorf("Transient(%v): got %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestKindName(t *testing.T) {
	if got, want := NoEligibleZones.Name(), "NoEligibleZones"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := Kind(-1).Name(), "Other"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
