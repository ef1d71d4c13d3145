// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package trace optionally traces invocations with AWS X-Ray. Each
// command runs in its own segment; AWS clients that are instrumented
// record their calls as subsegments of it. The X-Ray daemon must be
// reachable (by default on localhost:2000) for traces to be emitted.
package trace

import (
	"context"
	"regexp"

	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-xray-sdk-go/xray"
)

// Segment names are restricted; see
// https://docs.aws.amazon.com/xray/latest/devguide/xray-api-segmentdocuments.html#api-segmentdocuments-fields
var illegal = regexp.MustCompile(`[^a-zA-Z0-9_.:/%&#=+\-@ ]+`)

// Tracer traces when Enabled; the zero Tracer does nothing.
type Tracer struct {
	Enabled bool
}

// Instrument records the calls of the given AWS clients.
func (t Tracer) Instrument(clients ...*client.Client) {
	if !t.Enabled {
		return
	}
	for _, c := range clients {
		xray.AWS(c)
	}
}

// Run calls fn in a segment of the given name, annotated with the
// given key-value pairs, and closes the segment with fn's error.
func (t Tracer) Run(ctx context.Context, name string, annotations map[string]string, fn func(context.Context) error) error {
	if !t.Enabled {
		return fn(ctx)
	}
	name = illegal.ReplaceAllString(name, " ")
	if len(name) > 200 {
		name = name[:197] + "..."
	}
	ctx, seg := xray.BeginSegment(ctx, name)
	for k, v := range annotations {
		seg.AddAnnotation(k, v)
	}
	err := fn(ctx)
	seg.Close(err)
	return err
}
