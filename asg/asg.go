// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package asg reads EC2 auto scaling groups and executes their
// scaling policies. Groups are never created or modified other than
// through their own policies.
package asg

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
	"github.com/grailbio/spotmanager/errors"
	"github.com/grailbio/spotmanager/log"
)

// Default tag keys on spot-tier groups.
const (
	// BidTag holds the group's maximum spot bid, in USD per hour.
	BidTag = "SpotPrice"
	// TypeTag holds the group's instance type.
	TypeTag = "SpotType"
)

// Direction is the direction of a scaling policy, as encoded in its
// name.
type Direction int

const (
	// Other is a policy that follows no known naming convention.
	Other Direction = iota
	// ScaleUp adds capacity.
	ScaleUp
	// ScaleDown removes capacity.
	ScaleDown
)

func (d Direction) String() string {
	switch d {
	case ScaleUp:
		return "ScaleUp"
	case ScaleDown:
		return "ScaleDown"
	default:
		return "Other"
	}
}

// ParseDirection interprets a policy name. Names are hyphen-delimited
// tokens (as CloudFormation generates them, e.g.
// "gpu-asgGPUSpotScaleUp-1ABC"); a token containing "ScaleUp" or
// "ScaleDown" determines the direction. Matching is case-sensitive.
func ParseDirection(name string) Direction {
	for _, tok := range strings.Split(strings.TrimSpace(name), "-") {
		switch {
		case strings.Contains(tok, "ScaleUp"):
			return ScaleUp
		case strings.Contains(tok, "ScaleDown"):
			return ScaleDown
		}
	}
	return Other
}

// Policy is a scaling policy attached to a group.
type Policy struct {
	Name      string
	ARN       string
	Type      string
	Direction Direction
}

// Group is a snapshot of an auto scaling group.
type Group struct {
	Name string
	ARN  string
	// Instances is the number of instances currently in the group.
	Instances int
	Desired   int
	MinSize   int
	MaxSize   int
	Tags      map[string]string
}

// Tag returns the value of the given tag, failing with errors.Invalid
// if the group does not carry it.
func (g Group) Tag(key string) (string, error) {
	v, ok := g.Tags[key]
	if !ok || v == "" {
		return "", errors.E("tag", g.Name, key, errors.Invalid, errors.New("missing tag"))
	}
	return v, nil
}

// MaxBid returns the group's maximum bid from tag key.
func (g Group) MaxBid(key string) (float64, error) {
	v, err := g.Tag(key)
	if err != nil {
		return 0, err
	}
	bid, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.E("tag", g.Name, key, errors.Invalid, err)
	}
	if !(bid > 0) {
		return 0, errors.E("tag", g.Name, key, errors.Invalid, errors.Errorf("bid %v is not positive", bid))
	}
	return bid, nil
}

// InstanceType returns the group's instance type from tag key.
func (g Group) InstanceType(key string) (string, error) {
	return g.Tag(key)
}

// Client reads groups and executes policies through the Auto Scaling API.
type Client struct {
	AutoScaling autoscalingiface.AutoScalingAPI
	Log         *log.Logger
}

// Group describes the named group. If no such group exists, ok is
// false. Failures, including ambiguous names, are errors.Backend.
func (c *Client) Group(ctx context.Context, name string) (g Group, ok bool, err error) {
	resp, err := c.AutoScaling.DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: aws.StringSlice([]string{name}),
	})
	if err != nil {
		return Group{}, false, errors.E("describeautoscalinggroups", name, errors.Backend, err)
	}
	switch n := len(resp.AutoScalingGroups); n {
	case 0:
		return Group{}, false, nil
	case 1:
	default:
		return Group{}, false, errors.E("describeautoscalinggroups", name, errors.Backend,
			errors.Errorf("did not yield exactly one result (got %d)", n))
	}
	ag := resp.AutoScalingGroups[0]
	g = Group{
		Name:      aws.StringValue(ag.AutoScalingGroupName),
		ARN:       aws.StringValue(ag.AutoScalingGroupARN),
		Instances: len(ag.Instances),
		Desired:   int(aws.Int64Value(ag.DesiredCapacity)),
		MinSize:   int(aws.Int64Value(ag.MinSize)),
		MaxSize:   int(aws.Int64Value(ag.MaxSize)),
		Tags:      make(map[string]string, len(ag.Tags)),
	}
	for _, tag := range ag.Tags {
		g.Tags[aws.StringValue(tag.Key)] = aws.StringValue(tag.Value)
	}
	return g, true, nil
}

// Policies returns the scaling policies of the named group.
func (c *Client) Policies(ctx context.Context, group string) ([]Policy, error) {
	var policies []Policy
	err := c.AutoScaling.DescribePoliciesPagesWithContext(ctx, &autoscaling.DescribePoliciesInput{
		AutoScalingGroupName: aws.String(group),
	}, func(page *autoscaling.DescribePoliciesOutput, lastPage bool) bool {
		for _, p := range page.ScalingPolicies {
			name := aws.StringValue(p.PolicyName)
			policies = append(policies, Policy{
				Name:      name,
				ARN:       aws.StringValue(p.PolicyARN),
				Type:      aws.StringValue(p.PolicyType),
				Direction: ParseDirection(name),
			})
		}
		return true
	})
	if err != nil {
		return nil, errors.E("describepolicies", group, errors.Backend, err)
	}
	return policies, nil
}

// Find returns the first policy with the given direction.
func Find(policies []Policy, dir Direction) (Policy, bool) {
	for _, p := range policies {
		if p.Direction == dir {
			return p, true
		}
	}
	return Policy{}, false
}

// Execute executes the named policy on the named group. With
// honorCooldown, a request issued during the group's cooldown period
// may be ignored by the backend.
func (c *Client) Execute(ctx context.Context, group, policy string, honorCooldown bool) error {
	_, err := c.AutoScaling.ExecutePolicyWithContext(ctx, &autoscaling.ExecutePolicyInput{
		AutoScalingGroupName: aws.String(group),
		PolicyName:           aws.String(policy),
		HonorCooldown:        aws.Bool(honorCooldown),
	})
	if err != nil {
		return errors.E("executepolicy", group, policy, errors.Backend, err)
	}
	c.Log.Printf("executed %s on %s (honor cooldown: %v)", policy, group, honorCooldown)
	return nil
}
