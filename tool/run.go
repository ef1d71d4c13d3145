// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"

	"github.com/grailbio/spotmanager/fleet"
)

func (c *Cmd) run(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("run", flag.ExitOnError)
		help  = `Run scales out the spot tier of the GPU fleet declared in the
given parent stack.

If the spot group already has instances, run does nothing. Otherwise
the spot group's instance type is priced in every zone of the VPC that
has an application subnet, and the cheapest zone's mean price over the
pricing window is compared against the group's maximum bid less the
configured margin. If spot capacity is cheap enough, the spot group's
scale-up policy is executed (honoring the group's cooldown); otherwise
run reports that the core group should be used instead. See

	spotmanager core -help

Run prints the outcome of the invocation. If no VPC is given, the
account's default VPC is used.`
		stackFlag = flags.String("stack", "", "name of the parent stack")
		vpcFlag   = flags.String("vpc", "", "id of the VPC; the default VPC if empty")
	)
	c.Parse(flags, args, help, "run -stack stack [-vpc vpc]")
	if flags.NArg() != 0 || *stackFlag == "" {
		flags.Usage()
	}
	if err := c.runFleet(ctx, fleet.Request{Stack: *stackFlag, VPC: *vpcFlag}); err != nil {
		c.Fatal(err)
	}
}

func (c *Cmd) runFleet(ctx context.Context, req fleet.Request) error {
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	annotations := map[string]string{"stack": req.Stack, "vpc": req.VPC}
	return c.Tracer.Run(ctx, "run "+req.Stack, annotations, func(ctx context.Context) error {
		outcome, err := o.Run(ctx, req)
		if err != nil {
			return err
		}
		c.Println(outcome)
		return nil
	})
}

func (c *Cmd) core(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("core", flag.ExitOnError)
		help  = `Core scales out the core (on-demand) tier of the GPU fleet
declared in the given parent stack by executing the core group's
scale-up policy, honoring the group's cooldown.`
		stackFlag = flags.String("stack", "", "name of the parent stack")
	)
	c.Parse(flags, args, help, "core -stack stack")
	if flags.NArg() != 0 || *stackFlag == "" {
		flags.Usage()
	}
	if err := c.triggerCore(ctx, *stackFlag); err != nil {
		c.Fatal(err)
	}
}

func (c *Cmd) triggerCore(ctx context.Context, parent string) error {
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	return c.Tracer.Run(ctx, "core "+parent, map[string]string{"stack": parent}, func(ctx context.Context) error {
		outcome, err := o.TriggerCore(ctx, parent)
		if err != nil {
			return err
		}
		c.Println(outcome)
		return nil
	})
}
