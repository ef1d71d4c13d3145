// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/grailbio/spotmanager/spotaz"
)

func (c *Cmd) quote(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("quote", flag.ExitOnError)
		help  = `Quote prints the mean spot price of the given instance type over
the pricing window in every zone of the VPC that has an application
subnet, followed by the cheapest zone. If no VPC is given, the
account's default VPC is used.`
		typeFlag = flags.String("type", "", "EC2 instance type")
		vpcFlag  = flags.String("vpc", "", "id of the VPC; the default VPC if empty")
	)
	c.Parse(flags, args, help, "quote -type type [-vpc vpc]")
	if flags.NArg() != 0 || *typeFlag == "" {
		flags.Usage()
	}
	if err := c.quotes(ctx, *typeFlag, *vpcFlag); err != nil {
		c.Fatal(err)
	}
}

func (c *Cmd) quotes(ctx context.Context, instanceType, vpc string) error {
	selector, err := c.selector()
	if err != nil {
		return err
	}
	annotations := map[string]string{"type": instanceType, "vpc": vpc}
	return c.Tracer.Run(ctx, "quote "+instanceType, annotations, func(ctx context.Context) error {
		if vpc == "" {
			if vpc, err = spotaz.DefaultVPC(ctx, selector.EC2); err != nil {
				return err
			}
		}
		quotes, err := selector.Quotes(ctx, instanceType, vpc)
		if err != nil {
			return err
		}
		var tw tabwriter.Writer
		tw.Init(c.Stdout, 4, 4, 1, ' ', 0)
		fmt.Fprintln(&tw, "zone\tprice")
		for _, q := range quotes {
			c.Metrics.Price(instanceType, q.Zone, q.Price)
			fmt.Fprintf(&tw, "%s\t%.4f\n", q.Zone, q.Price)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		c.Printf("cheapest: %s\n", spotaz.Cheapest(quotes))
		return nil
	})
}
