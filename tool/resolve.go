// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
)

func (c *Cmd) resolve(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("resolve", flag.ExitOnError)
		help  = `Resolve prints the nested stack and the spot and core auto
scaling groups of the GPU fleet declared in the given parent stack.`
		stackFlag = flags.String("stack", "", "name of the parent stack")
	)
	c.Parse(flags, args, help, "resolve -stack stack")
	if flags.NArg() != 0 || *stackFlag == "" {
		flags.Usage()
	}
	if err := c.resolveFleet(ctx, *stackFlag); err != nil {
		c.Fatal(err)
	}
}

func (c *Cmd) resolveFleet(ctx context.Context, parent string) error {
	o, err := c.orchestrator()
	if err != nil {
		return err
	}
	return c.Tracer.Run(ctx, "resolve "+parent, map[string]string{"stack": parent}, func(ctx context.Context) error {
		f, err := o.Resolve(ctx, parent)
		if err != nil {
			return err
		}
		var tw tabwriter.Writer
		tw.Init(c.Stdout, 4, 4, 1, ' ', 0)
		fmt.Fprintf(&tw, "stack\t%s\n", f.Stack)
		fmt.Fprintf(&tw, "spot\t%s\n", f.Spot)
		fmt.Fprintf(&tw, "core\t%s\n", f.Core)
		return tw.Flush()
	})
}
