// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package spotaz selects the availability zone in which spot capacity
// is cheapest. Candidate zones are those of the application subnets of
// a VPC; each is quoted independently and the minimum wins.
package spotaz

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/spotmanager/errors"
	"github.com/grailbio/spotmanager/log"
)

const (
	// DefaultSubnetTagKey is the subnet tag marking application subnets.
	DefaultSubnetTagKey = "Usage"
	// DefaultSubnetTagValue is the (wildcard) value of DefaultSubnetTagKey.
	DefaultSubnetTagValue = "ApplicationSubnet*"
	// DefaultParallelism bounds concurrent zone quotes.
	DefaultParallelism = 4
)

// Quoter quotes the spot price of an instance type in a zone.
// *pricing.Oracle implements Quoter.
type Quoter interface {
	Quote(ctx context.Context, instanceType, zone string) (float64, error)
}

// Quote is the spot price of an instance type in one zone.
type Quote struct {
	Zone  string
	Price float64
}

// String renders the quote as "zone:price".
func (q Quote) String() string {
	return fmt.Sprintf("%s:%.4f", q.Zone, q.Price)
}

// Selector picks the cheapest eligible zone of a VPC.
type Selector struct {
	// EC2 is used to enumerate subnets and VPCs.
	EC2 ec2iface.EC2API
	// Quoter prices each candidate zone.
	Quoter Quoter
	// SubnetTagKey and SubnetTagValue select application subnets.
	// They default to DefaultSubnetTagKey and DefaultSubnetTagValue.
	SubnetTagKey, SubnetTagValue string
	// Parallelism bounds concurrent quotes; DefaultParallelism if zero.
	Parallelism int
	// Log receives the per-zone quotes.
	Log *log.Logger
}

// Zones returns the availability zones of the eligible subnets of
// the given VPC, in enumeration order and without duplicates.
func (s *Selector) Zones(ctx context.Context, vpc string) ([]string, error) {
	key, value := s.SubnetTagKey, s.SubnetTagValue
	if key == "" {
		key, value = DefaultSubnetTagKey, DefaultSubnetTagValue
	}
	req := &ec2.DescribeSubnetsInput{Filters: []*ec2.Filter{
		{Name: aws.String("vpc-id"), Values: aws.StringSlice([]string{vpc})},
		{Name: aws.String("tag:" + key), Values: aws.StringSlice([]string{value})},
	}}
	var (
		zones []string
		seen  = make(map[string]bool)
	)
	err := s.EC2.DescribeSubnetsPagesWithContext(ctx, req, func(page *ec2.DescribeSubnetsOutput, lastPage bool) bool {
		for _, sn := range page.Subnets {
			if sn.AvailabilityZone == nil {
				continue
			}
			az := *sn.AvailabilityZone
			if seen[az] {
				s.Log.Debugf("VPC Id: %s subnet %s shares zone %s", vpc, aws.StringValue(sn.SubnetId), az)
				continue
			}
			seen[az] = true
			zones = append(zones, az)
		}
		return true
	})
	if err != nil {
		return nil, errors.E("describesubnets", vpc, errors.Backend, err)
	}
	return zones, nil
}

// Quotes returns a quote for every eligible zone of the given VPC, in
// zone enumeration order. Quotes are fetched concurrently. Quotes
// fails with errors.NoEligibleZones if the VPC has no eligible
// subnets, and with the first quote error otherwise.
func (s *Selector) Quotes(ctx context.Context, instanceType, vpc string) ([]Quote, error) {
	zones, err := s.Zones(ctx, vpc)
	if err != nil {
		return nil, err
	}
	if len(zones) == 0 {
		return nil, errors.E("quotes", instanceType, vpc, errors.NoEligibleZones)
	}
	parallelism := s.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	quotes := make([]Quote, len(zones))
	err = traverse.Limit(parallelism).Each(len(zones), func(i int) error {
		price, err := s.Quoter.Quote(ctx, instanceType, zones[i])
		if err != nil {
			return err
		}
		quotes[i] = Quote{Zone: zones[i], Price: price}
		s.Log.Debugf("%s %s: %.4f", instanceType, zones[i], price)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quotes, nil
}

// CheapestZone returns the zone of the given VPC in which instanceType
// has the lowest spot price, along with that price. Ties go to the
// zone enumerated first.
func (s *Selector) CheapestZone(ctx context.Context, instanceType, vpc string) (Quote, error) {
	quotes, err := s.Quotes(ctx, instanceType, vpc)
	if err != nil {
		return Quote{}, err
	}
	cheapest := Cheapest(quotes)
	s.Log.Printf("the cheapest for %s in %s is %.4f in %s", instanceType, vpc, cheapest.Price, cheapest.Zone)
	return cheapest, nil
}

// Cheapest returns the quote with the minimum price; the earliest
// such quote wins ties. Cheapest panics if quotes is empty.
func Cheapest(quotes []Quote) Quote {
	min := quotes[0]
	for _, q := range quotes[1:] {
		if q.Price < min.Price {
			min = q
		}
	}
	return min
}

// DefaultVPC returns the id of the account's default VPC in the
// client's region. It is used when an invocation names no VPC.
func DefaultVPC(ctx context.Context, api ec2iface.EC2API) (string, error) {
	resp, err := api.DescribeVpcsWithContext(ctx, &ec2.DescribeVpcsInput{
		Filters: []*ec2.Filter{{Name: aws.String("isDefault"), Values: aws.StringSlice([]string{"true"})}},
	})
	if err != nil {
		return "", errors.E("defaultvpc", errors.Backend, err)
	}
	if n := len(resp.Vpcs); n != 1 {
		return "", errors.E("defaultvpc", errors.NotExist,
			errors.Errorf("did not yield exactly one result (got %d)", n))
	}
	return aws.StringValue(resp.Vpcs[0].VpcId), nil
}
