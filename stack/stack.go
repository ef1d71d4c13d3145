// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stack resolves the physical identity of resources declared
// in CloudFormation stacks, one level of nesting at a time.
//
// A lookup has three outcomes: the resource is of the expected type
// and has a physical id (ok), it is of another type or has not been
// provisioned yet (not ok, no error), or the backend lookup failed
// (errors.ResolutionFailed).
package stack

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/grailbio/spotmanager/errors"
	"github.com/grailbio/spotmanager/log"
)

// Resource types understood by the resolver.
const (
	TypeStack        = "AWS::CloudFormation::Stack"
	TypeScalingGroup = "AWS::AutoScaling::AutoScalingGroup"
)

// Resource is a resource declared in a stack.
type Resource struct {
	// Stack is the name of the stack declaring the resource.
	Stack string
	// LogicalID is the resource's name in the stack template.
	LogicalID string
	// Type is the CloudFormation resource type.
	Type string
	// PhysicalID is the runtime identifier; empty until provisioned.
	PhysicalID string
	// Status is the resource's CloudFormation status.
	Status string
}

// Resolver resolves stack resources through CloudFormation.
type Resolver struct {
	CloudFormation cloudformationiface.CloudFormationAPI
	Log            *log.Logger
}

// Resource describes the resource logicalID of the named stack.
func (r *Resolver) Resource(ctx context.Context, stack, logicalID string) (Resource, error) {
	resp, err := r.CloudFormation.DescribeStackResourceWithContext(ctx, &cloudformation.DescribeStackResourceInput{
		StackName:         aws.String(stack),
		LogicalResourceId: aws.String(logicalID),
	})
	if err != nil {
		return Resource{}, errors.E("describestackresource", stack, logicalID, errors.ResolutionFailed, err)
	}
	d := resp.StackResourceDetail
	if d == nil {
		return Resource{}, errors.E("describestackresource", stack, logicalID, errors.ResolutionFailed,
			errors.New("empty resource detail"))
	}
	return Resource{
		Stack:      stack,
		LogicalID:  logicalID,
		Type:       aws.StringValue(d.ResourceType),
		PhysicalID: aws.StringValue(d.PhysicalResourceId),
		Status:     aws.StringValue(d.ResourceStatus),
	}, nil
}

// NestedStack returns the name of the stack that the parent stack
// declares as logicalID. The name is taken from the nested stack's
// physical id, an ARN of the form
// arn:aws:cloudformation:<region>:<account>:stack/<name>/<guid>.
// If the resource is not a nested stack, ok is false.
func (r *Resolver) NestedStack(ctx context.Context, parent, logicalID string) (name string, ok bool, err error) {
	res, err := r.Resource(ctx, parent, logicalID)
	if err != nil {
		return "", false, err
	}
	if res.Type != TypeStack || res.PhysicalID == "" {
		r.Log.Debugf("%s/%s: type %q, physical id %q: not a nested stack", parent, logicalID, res.Type, res.PhysicalID)
		return "", false, nil
	}
	parts := strings.Split(res.PhysicalID, "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", false, errors.E("nestedstack", parent, logicalID, errors.ResolutionFailed,
			errors.Errorf("malformed stack id %q", res.PhysicalID))
	}
	r.Log.Debugf("%s/%s -> stack %s", parent, logicalID, parts[1])
	return parts[1], true, nil
}

// ScalingGroup returns the name of the auto scaling group that the
// stack declares as logicalID. If the resource is not an auto scaling
// group, ok is false.
func (r *Resolver) ScalingGroup(ctx context.Context, stack, logicalID string) (name string, ok bool, err error) {
	res, err := r.Resource(ctx, stack, logicalID)
	if err != nil {
		return "", false, err
	}
	if res.Type != TypeScalingGroup || res.PhysicalID == "" {
		r.Log.Debugf("%s/%s: type %q, physical id %q: not a scaling group", stack, logicalID, res.Type, res.PhysicalID)
		return "", false, nil
	}
	r.Log.Debugf("%s/%s -> group %s", stack, logicalID, res.PhysicalID)
	return res.PhysicalID, true, nil
}
