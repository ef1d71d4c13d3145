// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pricing

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/grailbio/spotmanager/errors"
)

type mockEC2Client struct {
	ec2iface.EC2API
	pages  [][]string
	err    error
	inputs []*ec2.DescribeSpotPriceHistoryInput
}

func (e *mockEC2Client) DescribeSpotPriceHistoryPagesWithContext(ctx aws.Context, input *ec2.DescribeSpotPriceHistoryInput, fn func(*ec2.DescribeSpotPriceHistoryOutput, bool) bool, opts ...request.Option) error {
	e.inputs = append(e.inputs, input)
	if e.err != nil {
		return e.err
	}
	for i, prices := range e.pages {
		out := new(ec2.DescribeSpotPriceHistoryOutput)
		for _, p := range prices {
			out.SpotPriceHistory = append(out.SpotPriceHistory, &ec2.SpotPrice{
				AvailabilityZone: input.AvailabilityZone,
				InstanceType:     input.InstanceTypes[0],
				SpotPrice:        aws.String(p),
			})
		}
		if !fn(out, i == len(e.pages)-1) {
			break
		}
	}
	return nil
}

func TestQuoteMean(t *testing.T) {
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &mockEC2Client{pages: [][]string{{"0.20", "0.30"}, {"0.25"}}}
	o := &Oracle{EC2: client, Now: func() time.Time { return now }}
	price, err := o.Quote(context.Background(), "g2.2xlarge", "us-west-2a")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := price, 0.25; math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(client.inputs), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	in := client.inputs[0]
	if got, want := aws.TimeValue(in.EndTime), now; !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := aws.TimeValue(in.StartTime), now.Add(-time.Hour); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := aws.StringValue(in.ProductDescriptions[0]), "Linux/UNIX (Amazon VPC)"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := aws.StringValue(in.AvailabilityZone), "us-west-2a"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := aws.StringValue(in.InstanceTypes[0]), "g2.2xlarge"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQuoteNoSamples(t *testing.T) {
	o := &Oracle{EC2: &mockEC2Client{pages: [][]string{{}}}}
	_, err := o.Quote(context.Background(), "g2.2xlarge", "us-west-2a")
	if !errors.Is(errors.NoPriceData, err) {
		t.Errorf("got %v, want NoPriceData", err)
	}
}

func TestQuoteErrors(t *testing.T) {
	for _, tt := range []struct {
		client *mockEC2Client
		kind   errors.Kind
	}{
		{&mockEC2Client{err: awserr.New("RequestLimitExceeded", "slow down", nil)}, errors.Temporary},
		{&mockEC2Client{err: awserr.New("UnauthorizedOperation", "no", nil)}, errors.NotAllowed},
		{&mockEC2Client{pages: [][]string{{"0.1", "not-a-price"}}}, errors.Invalid},
	} {
		o := &Oracle{EC2: tt.client}
		_, err := o.Quote(context.Background(), "p3.2xlarge", "us-east-1b")
		if !errors.Is(errors.PriceQuery, err) {
			t.Errorf("got %v, want PriceQuery", err)
		}
		if !errors.Is(tt.kind, err) {
			t.Errorf("got %v, want %v in chain", err, tt.kind)
		}
		if errors.Is(errors.NoPriceData, err) {
			t.Errorf("query failure reported as missing data: %v", err)
		}
	}
}

func TestQuoteCanceled(t *testing.T) {
	o := NewOracle(&mockEC2Client{pages: [][]string{{"0.1"}}}, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Quote(ctx, "p3.2xlarge", "us-east-1b"); !errors.Is(errors.PriceQuery, err) {
		t.Errorf("got %v, want PriceQuery", err)
	}
}
