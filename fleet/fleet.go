// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package fleet orchestrates scale-out of a GPU fleet that is split
// into a spot tier and a core (on-demand) tier.
//
// Both tiers are auto scaling groups declared in a nested stack of a
// parent CloudFormation stack:
//
//	parent
//	  stackGPU (AWS::CloudFormation::Stack)
//	    asgGPUSpot (AWS::AutoScaling::AutoScalingGroup)
//	    asgGPU     (AWS::AutoScaling::AutoScalingGroup)
//
// An invocation of Run scales out the spot tier when it is empty and
// the spot market is sufficiently below the group's bid; otherwise it
// reports which tier should be used and leaves the action to the
// caller (see TriggerCore).
//
// Without a Lease, concurrent invocations on the same parent stack
// are not coordinated: both may observe an empty spot group and both
// execute its scale-up policy. The group's cooldown then absorbs the
// second request.
package fleet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grailbio/spotmanager/asg"
	"github.com/grailbio/spotmanager/errors"
	"github.com/grailbio/spotmanager/log"
	"github.com/grailbio/spotmanager/metrics"
	"github.com/grailbio/spotmanager/provision"
	"github.com/grailbio/spotmanager/spotaz"
	"golang.org/x/sync/errgroup"
)

// Default logical ids of the fleet's resources.
const (
	DefaultNestedStackID = "stackGPU"
	DefaultSpotGroupID   = "asgGPUSpot"
	DefaultCoreGroupID   = "asgGPU"
)

// releaseTimeout bounds lease release, which runs after the
// invocation's context may have expired.
const releaseTimeout = 30 * time.Second

// Resolver resolves stack resources. *stack.Resolver implements Resolver.
type Resolver interface {
	NestedStack(ctx context.Context, parent, logicalID string) (string, bool, error)
	ScalingGroup(ctx context.Context, stack, logicalID string) (string, bool, error)
}

// Scaler reads scaling groups and executes their policies.
// *asg.Client implements Scaler.
type Scaler interface {
	Group(ctx context.Context, name string) (asg.Group, bool, error)
	Policies(ctx context.Context, group string) ([]asg.Policy, error)
	Execute(ctx context.Context, group, policy string, honorCooldown bool) error
}

// ZoneSelector finds the cheapest zone for an instance type.
// *spotaz.Selector implements ZoneSelector.
type ZoneSelector interface {
	CheapestZone(ctx context.Context, instanceType, vpc string) (spotaz.Quote, error)
}

// Locker grants exclusive leases. *lease.Table implements Locker.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error)
}

// Request is a single orchestration request.
type Request struct {
	// Stack is the name of the parent stack.
	Stack string
	// VPC is the id of the VPC to place capacity in. If empty, the
	// orchestrator's DefaultVPC is used.
	VPC string
}

// Fleet is the resolved identity of a fleet's scaling groups.
type Fleet struct {
	// Parent is the parent stack name.
	Parent string
	// Stack is the nested stack declaring the groups.
	Stack string
	// Spot and Core are the spot-tier and core-tier group names.
	Spot, Core string
}

// Orchestrator decides between the fleet's tiers and scales them out.
type Orchestrator struct {
	Stacks Resolver
	Groups Scaler
	Zones  ZoneSelector
	Policy provision.Policy

	// DefaultVPC returns the VPC used by requests that name none.
	DefaultVPC func(context.Context) (string, error)
	// Lease, if set, serializes invocations per parent stack.
	Lease Locker

	// NestedStackID, SpotGroupID and CoreGroupID are the logical
	// ids of the fleet's resources; they default to
	// DefaultNestedStackID, DefaultSpotGroupID and DefaultCoreGroupID.
	NestedStackID, SpotGroupID, CoreGroupID string
	// BidTag and TypeTag name the spot group's tags holding its
	// maximum bid and instance type; they default to asg.BidTag and
	// asg.TypeTag.
	BidTag, TypeTag string

	Metrics *metrics.Metrics
	Log     *log.Logger
}

// Resolve resolves the fleet declared in the given parent stack. Any
// failure, including a resource of an unexpected type, is
// errors.FleetResolution.
func (o *Orchestrator) Resolve(ctx context.Context, parent string) (Fleet, error) {
	if parent == "" {
		return Fleet{}, errors.E("resolve", errors.Invalid, errors.New("no parent stack"))
	}
	nestedID := def(o.NestedStackID, DefaultNestedStackID)
	nested, ok, err := o.Stacks.NestedStack(ctx, parent, nestedID)
	if err != nil {
		return Fleet{}, errors.E("resolve", parent, errors.FleetResolution, err)
	}
	if !ok {
		return Fleet{}, errors.E("resolve", parent, errors.FleetResolution,
			errors.Errorf("%s is not a nested stack", nestedID))
	}
	f := Fleet{Parent: parent, Stack: nested}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		f.Spot, err = o.scalingGroup(gctx, nested, def(o.SpotGroupID, DefaultSpotGroupID))
		return
	})
	g.Go(func() (err error) {
		f.Core, err = o.scalingGroup(gctx, nested, def(o.CoreGroupID, DefaultCoreGroupID))
		return
	})
	if err := g.Wait(); err != nil {
		return Fleet{}, errors.E("resolve", parent, errors.FleetResolution, err)
	}
	o.Log.Debugf("stack %s: nested %s, spot group %s, core group %s", parent, f.Stack, f.Spot, f.Core)
	return f, nil
}

func (o *Orchestrator) scalingGroup(ctx context.Context, stack, logicalID string) (string, error) {
	name, ok, err := o.Stacks.ScalingGroup(ctx, stack, logicalID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.E("resolve", stack, logicalID, errors.NotExist,
			errors.New("not an auto scaling group"))
	}
	return name, nil
}

// Run orchestrates one scale-out request against the spot tier:
//
//   - if the spot group has instances, the outcome is AlreadyProvisioned;
//   - if the cheapest spot price exceeds the policy's threshold for
//     the group's bid, the outcome is DeferToOnDemand;
//   - otherwise the group's first scale-up policy is executed with
//     cooldown honored (Triggered), if it has one (NoScaleUpPolicy).
//
// Any failure aborts the invocation before a policy is executed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (outcome Outcome, err error) {
	defer func() { o.record(outcome, err) }()
	if req.Stack == "" {
		return Outcome{}, errors.E("run", errors.Invalid, errors.New("no parent stack"))
	}
	if req.VPC != "" && !strings.HasPrefix(req.VPC, "vpc-") {
		return Outcome{}, errors.E("run", req.Stack, errors.Invalid, errors.Errorf("invalid VPC id %q", req.VPC))
	}
	err = o.leased(ctx, req.Stack, &outcome, func() error {
		var err error
		outcome, err = o.run(ctx, req)
		return err
	})
	if err != nil {
		return Outcome{}, errors.E("run", req.Stack, err)
	}
	return outcome, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request) (Outcome, error) {
	f, err := o.Resolve(ctx, req.Stack)
	if err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{Stack: req.Stack, Group: f.Spot, Alternate: f.Core}

	group, ok, err := o.Groups.Group(ctx, f.Spot)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, errors.E("occupancy", f.Spot, errors.FleetResolution,
			errors.New("no such auto scaling group"))
	}
	if group.Instances > 0 {
		outcome.Kind = AlreadyProvisioned
		outcome.Instances = group.Instances
		return outcome, nil
	}

	maxBid, err := group.MaxBid(def(o.BidTag, asg.BidTag))
	if err != nil {
		return Outcome{}, err
	}
	instanceType, err := group.InstanceType(def(o.TypeTag, asg.TypeTag))
	if err != nil {
		return Outcome{}, err
	}
	vpc := req.VPC
	if vpc == "" {
		if o.DefaultVPC == nil {
			return Outcome{}, errors.E("vpc", errors.Invalid, errors.New("no VPC given and no default"))
		}
		if vpc, err = o.DefaultVPC(ctx); err != nil {
			return Outcome{}, err
		}
		o.Log.Debugf("using default VPC %s", vpc)
	}
	outcome.VPC = vpc
	quote, err := o.Zones.CheapestZone(ctx, instanceType, vpc)
	if err != nil {
		return Outcome{}, err
	}
	o.Metrics.Price(instanceType, quote.Zone, quote.Price)
	decision := o.Policy.Decide(quote, maxBid)
	outcome.Decision = &decision
	o.Log.Printf("%s %s", instanceType, decision)
	if decision.Verdict != provision.UseSpot {
		outcome.Kind = DeferToOnDemand
		return outcome, nil
	}
	return o.trigger(ctx, outcome)
}

// TriggerCore executes the first scale-up policy of the core tier of
// the fleet declared in the given parent stack. It is the action
// that callers take after a DeferToOnDemand outcome.
func (o *Orchestrator) TriggerCore(ctx context.Context, parent string) (outcome Outcome, err error) {
	defer func() { o.record(outcome, err) }()
	err = o.leased(ctx, parent+":core", &outcome, func() error {
		f, err := o.Resolve(ctx, parent)
		if err != nil {
			return err
		}
		outcome, err = o.trigger(ctx, Outcome{Stack: parent, Group: f.Core, Alternate: f.Spot})
		return err
	})
	if err != nil {
		return Outcome{}, errors.E("triggercore", parent, err)
	}
	return outcome, nil
}

// trigger executes the scale-up policy of outcome.Group.
func (o *Orchestrator) trigger(ctx context.Context, outcome Outcome) (Outcome, error) {
	policies, err := o.Groups.Policies(ctx, outcome.Group)
	if err != nil {
		return Outcome{}, err
	}
	policy, ok := asg.Find(policies, asg.ScaleUp)
	if !ok {
		outcome.Kind = NoScaleUpPolicy
		return outcome, nil
	}
	if err := o.Groups.Execute(ctx, outcome.Group, policy.Name, true); err != nil {
		return Outcome{}, err
	}
	outcome.Kind = Triggered
	outcome.Policy = policy.Name
	return outcome, nil
}

// leased calls fn while holding the lease on key, if the
// orchestrator has a Lease. If the lease is held elsewhere, fn is not
// called and *outcome is set to InProgress.
func (o *Orchestrator) leased(ctx context.Context, key string, outcome *Outcome, fn func() error) error {
	if o.Lease == nil {
		return fn()
	}
	release, ok, err := o.Lease.Acquire(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		*outcome = Outcome{Kind: InProgress, Stack: key}
		return nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		// The lease lapses on its own; a failed release only delays
		// the next invocation.
		if err := release(rctx); err != nil {
			o.Log.Errorf("release %s: %v", key, err)
		}
	}()
	return fn()
}

func (o *Orchestrator) record(outcome Outcome, err error) {
	if err != nil {
		o.Metrics.Error(err)
		return
	}
	o.Metrics.Outcome(outcome.Kind.String())
}

func def(v, d string) string {
	if v != "" {
		return v
	}
	return d
}

// Kind is the kind of an orchestration outcome.
type Kind int

const (
	// AlreadyProvisioned: the spot group has instances; nothing was done.
	AlreadyProvisioned Kind = iota
	// DeferToOnDemand: spot is too expensive; the core tier should be used.
	DeferToOnDemand
	// Triggered: a scale-up policy was executed.
	Triggered
	// NoScaleUpPolicy: the group has no scale-up policy; nothing was done.
	NoScaleUpPolicy
	// InProgress: another invocation holds the lease; nothing was done.
	InProgress
)

var kindNames = [...]string{
	AlreadyProvisioned: "AlreadyProvisioned",
	DeferToOnDemand:    "DeferToOnDemand",
	Triggered:          "Triggered",
	NoScaleUpPolicy:    "NoScaleUpPolicy",
	InProgress:         "InProgress",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Outcome describes what an invocation did.
type Outcome struct {
	Kind Kind
	// Stack is the parent stack (the lease key for InProgress).
	Stack string
	// VPC is the VPC evaluated, if any.
	VPC string
	// Group is the group evaluated or acted on.
	Group string
	// Alternate is the other tier's group.
	Alternate string
	// Policy is the executed policy, for Triggered.
	Policy string
	// Instances is the spot group's size, for AlreadyProvisioned.
	Instances int
	// Decision is the provisioning decision, if one was made.
	Decision *provision.Decision
}

// String renders the outcome for humans.
func (o Outcome) String() string {
	switch o.Kind {
	case AlreadyProvisioned:
		return fmt.Sprintf("already provisioned: %s has %d instances", o.Group, o.Instances)
	case DeferToOnDemand:
		if o.Decision == nil {
			return fmt.Sprintf("defer to on-demand group %s", o.Alternate)
		}
		return fmt.Sprintf("defer to on-demand group %s: %s", o.Alternate, o.Decision)
	case Triggered:
		if o.VPC == "" {
			return fmt.Sprintf("executed %s for %s", o.Policy, o.Group)
		}
		return fmt.Sprintf("executed %s in %s for %s", o.Policy, o.VPC, o.Group)
	case NoScaleUpPolicy:
		return fmt.Sprintf("no scale-up policy on %s", o.Group)
	case InProgress:
		return fmt.Sprintf("another invocation holds the lease on %s", o.Stack)
	default:
		return o.Kind.String()
	}
}
