// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package tool implements the spotmanager command.
package tool

import (
	"context"
	"flag"
	"fmt"
	"io"
	golog "log"
	"os"
	"os/signal"
	"sort"

	"github.com/grailbio/spotmanager/asg"
	"github.com/grailbio/spotmanager/config"
	"github.com/grailbio/spotmanager/errors"
	"github.com/grailbio/spotmanager/fleet"
	"github.com/grailbio/spotmanager/lease"
	"github.com/grailbio/spotmanager/log"
	"github.com/grailbio/spotmanager/metrics"
	"github.com/grailbio/spotmanager/pricing"
	"github.com/grailbio/spotmanager/spotaz"
	"github.com/grailbio/spotmanager/stack"
	"github.com/grailbio/spotmanager/trace"
)

// Func is the type of a command function.
type Func func(*Cmd, context.Context, ...string)

// Cmd holds the configuration, flag definitions, and runtime objects
// required for tool invocations.
type Cmd struct {
	// Config is loaded from ConfigFile by Main.
	Config            *config.Config
	DefaultConfigFile string
	Version           string

	// ConfigFile stores the path of the active configuration file.
	// May be overriden by the -config flag.
	ConfigFile string

	// The standard output and error as defined by this command.
	Stdout, Stderr io.Writer

	Log     *log.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer

	// Clients are the AWS clients used by commands. They are
	// created from Config on first use if unset.
	Clients *config.Clients

	logFlag    string
	regionFlag string

	onexits []func()

	flags *flag.FlagSet
}

var commands = map[string]Func{
	"run":     (*Cmd).run,
	"core":    (*Cmd).core,
	"resolve": (*Cmd).resolve,
	"quote":   (*Cmd).quote,
	"config":  (*Cmd).config,
	"version": (*Cmd).versionCmd,
}

var intro = `The spotmanager command scales out a GPU fleet split into a spot
tier and an on-demand (core) tier.

The fleet is a CloudFormation stack whose nested stack declares two
auto scaling groups: the spot group and the core group. The spot group
is tagged with its maximum bid (SpotPrice) and its instance type
(SpotType). Given the parent stack, the run command scales out the spot
group when it is empty and the mean spot price of the cheapest zone is
sufficiently below the bid; otherwise it reports that the core group
should be used, which the core command scales out:

	spotmanager run -stack mystack
	spotmanager core -stack mystack

Each subcommand can in turn be invoked with -help, displaying its
usage and help text.

Spotmanager is configured from a single YAML configuration file,
documented by the config command:

	spotmanager config -help`

var help = `Spotmanager decides between spot and on-demand capacity for a GPU fleet.

Usage of spotmanager:
	spotmanager [flags] <command> [args]`

func (c *Cmd) usage(flags *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, help)
	fmt.Fprintln(os.Stderr, "Spotmanager commands:")
	var cmds []string
	for name := range commands {
		cmds = append(cmds, name)
	}
	sort.Strings(cmds)
	for _, name := range cmds {
		fmt.Fprintln(os.Stderr, "\t"+name)
	}
	fmt.Fprintln(os.Stderr, "Global flags:")
	flags.PrintDefaults()
	c.Exit(2)
}

// Main parses command line flags and then invokes the requested
// command. The caller is expected to have parsed the flagset before
// calling Main.
//
// Main should only be called once.
func (c *Cmd) Main() {
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	flags := c.Flags()
	if flags.NArg() == 0 {
		fmt.Fprintln(os.Stderr, intro)
		c.Exit(2)
	}
	cmd := flags.Arg(0)
	fn := commands[cmd]
	if fn == nil {
		flags.Usage()
	}
	level, err := log.ParseLevel(c.logFlag)
	if err != nil {
		c.Fatal(err)
	}
	var (
		logflags  int
		logprefix = "spotmanager: "
	)
	if level > log.InfoLevel {
		logflags = golog.LstdFlags
		logprefix = ""
	}
	// Set the system wide logger with the same level and output
	// as the one that's threaded through Cmd.
	log.Std = log.New(golog.New(c.Stderr, logprefix, logflags), level)
	c.Log = log.Std

	if c.Config == nil {
		if c.Config, err = config.Load(c.ConfigFile); err != nil {
			c.Fatal(err)
		}
	}
	if c.regionFlag != "" {
		c.Config.Region = c.regionFlag
	}
	c.Tracer = trace.Tracer{Enabled: c.Config.XRay}
	if c.Metrics == nil {
		c.Metrics = metrics.New("")
	}
	if url := c.Config.PushGateway; url != "" {
		c.onexit(func() {
			if err := c.Metrics.Push(url, "spotmanager"); err != nil {
				c.Log.Error(err)
			}
		})
	}
	c.Log.Debug("spotmanager version ", c.Version)

	// Create a context and cancel it if we receive an interrupt.
	// The second interrupt we receive results in a hard exit.
	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	go func() {
		<-sigc
		cancel()
		c.Errorln("cleaning up...")
		<-sigc
		c.Exit(1)
	}()
	// The flag package stops parsing flags after the first non-flag
	// argument; thus flag.Args()[1:] contains all the flags and
	// arguments for the command in flags.Arg(0).
	fn(c, ctx, flags.Args()[1:]...)
	c.Exit(0)
}

// Fatal formats a message in the manner of fmt.Print, prints it to
// stderr, and then exits the tool. Errors of kind errors.Invalid
// exit with status 2.
func (c *Cmd) Fatal(v ...interface{}) {
	fmt.Fprintln(c.Stderr, v...)
	code := 1
	if len(v) == 1 {
		if err, ok := v[0].(error); ok && errors.Is(errors.Invalid, err) {
			code = 2
		}
	}
	c.Exit(code)
}

// Fatalf formats a message in the manner of fmt.Printf, prints it to
// stderr, and then exits the tool.
func (c *Cmd) Fatalf(format string, v ...interface{}) {
	fmt.Fprintf(c.Stderr, format, v...)
	fmt.Fprintln(c.Stderr)
	c.Exit(1)
}

// Errorln formats a message in the manner of fmt.Println and prints it
// to stderr.
func (c Cmd) Errorln(v ...interface{}) {
	fmt.Fprintln(c.Stderr, v...)
}

// Println formats a message in the manner of fmt.Println and prints
// it to stdout.
func (c *Cmd) Println(v ...interface{}) {
	fmt.Fprintln(c.Stdout, v...)
}

// Printf formats a message in the manner of fmt.Printf and prints it
// to stdout.
func (c *Cmd) Printf(format string, v ...interface{}) {
	fmt.Fprintf(c.Stdout, format, v...)
}

// Exit causes the command to exit with the provided status code.
// Exit ensures that command teardown is properly handled.
func (c *Cmd) Exit(code int) {
	for _, fn := range c.onexits {
		fn()
	}
	os.Exit(code)
}

// Flags initializes and returns the FlagSet used by this Cmd instance.
// The user should parse this flagset before invoking (*Cmd).Main, e.g.:
//
//	cmd.Flags().Parse(os.Args[1:])
func (c *Cmd) Flags() *flag.FlagSet {
	if c.flags == nil {
		c.flags = flag.NewFlagSet("spotmanager", flag.ExitOnError)
		c.flags.Usage = func() { c.usage(c.flags) }
		c.flags.StringVar(&c.ConfigFile, "config", c.DefaultConfigFile, "path to configuration file; the defaults are used if the default file does not exist")
		c.flags.StringVar(&c.logFlag, "log", "info", "set the log level: off, error, info, debug")
		c.flags.StringVar(&c.regionFlag, "region", "", "override the AWS region from config")
	}
	return c.flags
}

func (c *Cmd) onexit(fn func()) {
	c.onexits = append(c.onexits, fn)
}

// clients returns the command's AWS clients, creating them from the
// configuration if needed.
func (c *Cmd) clients() (config.Clients, error) {
	if c.Clients != nil {
		return *c.Clients, nil
	}
	clients, err := c.Config.Clients(c.Tracer)
	if err != nil {
		return config.Clients{}, err
	}
	c.Clients = &clients
	return clients, nil
}

// selector returns the zone selector configured for this command.
func (c *Cmd) selector() (*spotaz.Selector, error) {
	clients, err := c.clients()
	if err != nil {
		return nil, err
	}
	oracle := pricing.NewOracle(clients.EC2, c.Config.PricingQPS, c.Log.Tee(nil, "pricing: "))
	oracle.Window = c.Config.Window
	oracle.ProductDescription = c.Config.ProductDescription
	return &spotaz.Selector{
		EC2:            clients.EC2,
		Quoter:         oracle,
		SubnetTagKey:   c.Config.SubnetTagKey,
		SubnetTagValue: c.Config.SubnetTagValue,
		Parallelism:    c.Config.Parallelism,
		Log:            c.Log.Tee(nil, "spotaz: "),
	}, nil
}

// orchestrator returns the fleet orchestrator configured for this
// command.
func (c *Cmd) orchestrator() (*fleet.Orchestrator, error) {
	clients, err := c.clients()
	if err != nil {
		return nil, err
	}
	selector, err := c.selector()
	if err != nil {
		return nil, err
	}
	o := &fleet.Orchestrator{
		Stacks: &stack.Resolver{CloudFormation: clients.CloudFormation, Log: c.Log.Tee(nil, "stack: ")},
		Groups: &asg.Client{AutoScaling: clients.AutoScaling, Log: c.Log.Tee(nil, "asg: ")},
		Zones:  selector,
		Policy: c.Config.Policy(),
		DefaultVPC: func(ctx context.Context) (string, error) {
			return spotaz.DefaultVPC(ctx, clients.EC2)
		},
		NestedStackID: c.Config.NestedStack,
		SpotGroupID:   c.Config.SpotGroup,
		CoreGroupID:   c.Config.CoreGroup,
		BidTag:        c.Config.BidTag,
		TypeTag:       c.Config.TypeTag,
		Metrics:       c.Metrics,
		Log:           c.Log.Tee(nil, "fleet: "),
	}
	if table := c.Config.Lease.Table; table != "" {
		o.Lease = &lease.Table{
			DB:        clients.DynamoDB,
			TableName: table,
			TTL:       c.Config.Lease.TTL,
			Log:       c.Log.Tee(nil, "lease: "),
		}
	}
	return o, nil
}
