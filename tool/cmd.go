// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// Parse parses the command's flags from args. It adds a -help flag
// which prints the usage line, help text and flag defaults and then
// exits. On a usage error, Parse prints the usage line and flag
// defaults and exits with code 2.
func (c *Cmd) Parse(fs *flag.FlagSet, args []string, help, usage string) {
	stderr := c.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	fs.SetOutput(stderr)
	helpFlag := fs.Bool("help", false, "display subcommand help")
	fs.Usage = func() {
		printUsage(stderr, fs, usage, "")
		c.Exit(2)
	}
	if err := fs.Parse(args); err != nil {
		c.Fatal(err)
	}
	if *helpFlag {
		printUsage(stderr, fs, usage, help)
		c.Exit(0)
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet, usage, help string) {
	fmt.Fprintln(w, "usage: spotmanager "+usage)
	if help != "" {
		fmt.Fprintf(w, "\n%s\n\n", help)
	}
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}
