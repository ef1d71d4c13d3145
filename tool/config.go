// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"
)

func (c *Cmd) config(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("config", flag.ExitOnError)
		help  = `Config writes the current spotmanager configuration, with defaults
filled in, to standard output.

Spotmanager's configuration is a YAML file with the following keys:

	region              AWS region; the environment's if empty
	nestedstack         logical id of the fleet's nested stack
	spotgroup           logical id of the spot auto scaling group
	coregroup           logical id of the core auto scaling group
	bidtag              spot group tag carrying the maximum bid
	typetag             spot group tag carrying the instance type
	subnettagkey        subnet tag selecting eligible zones
	subnettagvalue      value (or wildcard) of subnettagkey
	productdescription  spot price product description
	window              spot price averaging window
	margin              fraction of the bid the price must stay below
	parallelism         maximum concurrent zone quotes
	pricingqps          maximum spot price queries per second
	maxretries          retries of AWS calls; the SDK's if zero
	lease.table         DynamoDB table serializing invocations
	lease.ttl           lease duration
	pushgateway         prometheus pushgateway URL
	xray                trace invocations with AWS X-Ray

The configuration may be modified and overriden:

	$ spotmanager config > myconfig
	<edit myconfig>
	$ spotmanager -config myconfig ...`
	)
	c.Parse(flags, args, help, "config")
	if flags.NArg() != 0 {
		flags.Usage()
	}
	data, err := c.Config.Marshal()
	if err != nil {
		c.Fatal(err)
	}
	c.Stdout.Write(data)
}
