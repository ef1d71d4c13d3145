// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"
	"runtime"
)

func (c *Cmd) versionCmd(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("version", flag.ExitOnError)
		help  = "Version displays this binary's version and the Go version it was built with."
	)
	c.Parse(flags, args, help, "version")
	if flags.NArg() != 0 {
		flags.Usage()
	}
	version := c.Version
	if version == "" {
		version = "broken"
	}
	c.Printf("%s (%s)\n", version, runtime.Version())
}
