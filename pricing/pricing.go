// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pricing quotes current spot market prices. A quote is the
// arithmetic mean of the spot price samples EC2 reports for an
// instance type in one availability zone over a trailing window.
package pricing

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/grailbio/spotmanager/errors"
	"github.com/grailbio/spotmanager/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultWindow is the trailing period over which samples are averaged.
	DefaultWindow = time.Hour
	// DefaultProductDescription restricts samples to Linux instances in a VPC.
	DefaultProductDescription = "Linux/UNIX (Amazon VPC)"
	// DefaultQPS bounds the rate of price history queries.
	DefaultQPS = 10
)

// Oracle quotes spot prices from the EC2 spot price history.
type Oracle struct {
	// EC2 is the API used to query price history.
	EC2 ec2iface.EC2API
	// Window is the trailing sample window; DefaultWindow if zero.
	Window time.Duration
	// ProductDescription filters the samples; DefaultProductDescription if empty.
	ProductDescription string
	// Limiter, if set, bounds the rate of history queries.
	Limiter *rate.Limiter
	// Log receives per-quote debug output.
	Log *log.Logger
	// Now returns the current time; time.Now if nil.
	Now func() time.Time
}

// NewOracle returns an oracle over the given API with default
// settings and a limiter of qps queries per second.
func NewOracle(api ec2iface.EC2API, qps float64, log *log.Logger) *Oracle {
	if qps <= 0 {
		qps = DefaultQPS
	}
	return &Oracle{
		EC2:     api,
		Limiter: rate.NewLimiter(rate.Limit(qps), int(qps)+1),
		Log:     log,
	}
}

// Quote returns the mean spot price of instanceType in zone over the
// oracle's window. Quote fails with errors.NoPriceData if EC2 reports
// no samples, and with errors.PriceQuery if the query fails or a
// sample cannot be interpreted.
func (o *Oracle) Quote(ctx context.Context, instanceType, zone string) (float64, error) {
	if o.Limiter != nil {
		if err := o.Limiter.Wait(ctx); err != nil {
			return 0, errors.E("quote", instanceType, zone, errors.PriceQuery, err)
		}
	}
	var (
		end   = o.now()
		start = end.Add(-o.window())
		req   = &ec2.DescribeSpotPriceHistoryInput{
			StartTime:           aws.Time(start),
			EndTime:             aws.Time(end),
			InstanceTypes:       aws.StringSlice([]string{instanceType}),
			ProductDescriptions: aws.StringSlice([]string{o.productDescription()}),
			AvailabilityZone:    aws.String(zone),
		}
		total float64
		n     int
		perr  error
	)
	err := o.EC2.DescribeSpotPriceHistoryPagesWithContext(ctx, req,
		func(page *ec2.DescribeSpotPriceHistoryOutput, lastPage bool) bool {
			for _, sample := range page.SpotPriceHistory {
				price, err := strconv.ParseFloat(aws.StringValue(sample.SpotPrice), 64)
				if err != nil {
					perr = errors.E("parse", aws.StringValue(sample.SpotPrice), errors.Invalid, err)
					return false
				}
				total += price
				n++
			}
			return true
		})
	if err == nil {
		err = perr
	}
	if err != nil {
		return 0, errors.E("quote", instanceType, zone, errors.PriceQuery, err)
	}
	if n == 0 {
		return 0, errors.E("quote", instanceType, zone, errors.NoPriceData)
	}
	mean := total / float64(n)
	o.Log.Debugf("%s in %s: mean %.4f over %d samples since %s", instanceType, zone, mean, n, start.Format(time.RFC3339))
	return mean, nil
}

func (o *Oracle) window() time.Duration {
	if o.Window > 0 {
		return o.Window
	}
	return DefaultWindow
}

func (o *Oracle) productDescription() string {
	if o.ProductDescription != "" {
		return o.ProductDescription
	}
	return DefaultProductDescription
}

func (o *Oracle) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
