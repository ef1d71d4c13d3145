// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package config defines spotmanager's configuration. Configuration
// is read from a single YAML file; every key is optional:
//
//	region: us-west-2
//	nestedstack: stackGPU
//	spotgroup: asgGPUSpot
//	coregroup: asgGPU
//	bidtag: SpotPrice
//	typetag: SpotType
//	subnettagkey: Usage
//	subnettagvalue: ApplicationSubnet*
//	productdescription: Linux/UNIX (Amazon VPC)
//	window: 1h
//	margin: 0.15
//	parallelism: 4
//	pricingqps: 10
//	maxretries: 3
//	lease:
//	  table: spotmanager-leases
//	  ttl: 5m
//	pushgateway: http://pushgateway:9091
//	xray: true
//
// AWS credentials and, absent a region key, the region are taken
// from the user's environment in accordance with the AWS SDK.
package config

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/grailbio/base/sync/once"
	"github.com/grailbio/spotmanager/asg"
	"github.com/grailbio/spotmanager/errors"
	"github.com/grailbio/spotmanager/fleet"
	"github.com/grailbio/spotmanager/lease"
	"github.com/grailbio/spotmanager/pricing"
	"github.com/grailbio/spotmanager/provision"
	"github.com/grailbio/spotmanager/spotaz"
	"github.com/grailbio/spotmanager/trace"
	yaml "gopkg.in/yaml.v2"
)

// DefaultFile is the configuration file read when none is given.
var DefaultFile = os.ExpandEnv("$HOME/.spotmanager/config.yaml")

// Config is spotmanager's configuration.
type Config struct {
	// Region is the AWS region; if empty, the environment's is used.
	Region string `yaml:"region,omitempty"`

	// NestedStack, SpotGroup and CoreGroup are the logical ids of
	// the fleet's nested stack and its two scaling groups.
	NestedStack string `yaml:"nestedstack"`
	SpotGroup   string `yaml:"spotgroup"`
	CoreGroup   string `yaml:"coregroup"`
	// BidTag and TypeTag name the spot group's tags carrying its
	// maximum bid and its instance type.
	BidTag  string `yaml:"bidtag"`
	TypeTag string `yaml:"typetag"`

	// SubnetTagKey and SubnetTagValue select the subnets whose
	// zones are eligible for spot capacity.
	SubnetTagKey   string `yaml:"subnettagkey"`
	SubnetTagValue string `yaml:"subnettagvalue"`

	// ProductDescription and Window select the spot price samples
	// that are averaged into a quote.
	ProductDescription string        `yaml:"productdescription"`
	Window             time.Duration `yaml:"window"`
	// Margin is the fraction of the maximum bid the spot price must
	// stay below. It must be in [0, 1).
	Margin *float64 `yaml:"margin"`

	// Parallelism bounds concurrent zone quotes.
	Parallelism int `yaml:"parallelism"`
	// PricingQPS limits the rate of spot price queries.
	PricingQPS float64 `yaml:"pricingqps"`
	// MaxRetries is the number of retries of AWS calls; zero
	// uses the SDK's per-service default.
	MaxRetries int `yaml:"maxretries,omitempty"`

	// Lease configures the lease table serializing invocations.
	// Invocations are not serialized if Table is empty.
	Lease struct {
		Table string        `yaml:"table,omitempty"`
		TTL   time.Duration `yaml:"ttl"`
	} `yaml:"lease"`

	// PushGateway is the URL of a prometheus pushgateway to which
	// metrics are pushed after each command.
	PushGateway string `yaml:"pushgateway,omitempty"`
	// XRay enables AWS X-Ray tracing.
	XRay bool `yaml:"xray,omitempty"`

	awsOnce once.Task
	session *session.Session
}

// Load reads the configuration in the given file and initializes it.
// A missing file is an error unless it is DefaultFile, in which case
// the defaults are used.
func Load(path string) (*Config, error) {
	c := new(Config)
	b, err := ioutil.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.UnmarshalStrict(b, c); err != nil {
			return nil, errors.E("config", path, errors.Invalid, err)
		}
	case os.IsNotExist(err) && path == DefaultFile:
	default:
		return nil, errors.E("config", path, err)
	}
	if err := c.Init(); err != nil {
		return nil, errors.E("config", path, err)
	}
	return c, nil
}

// Init fills in defaults for unset values and validates the
// configuration.
func (c *Config) Init() error {
	setString(&c.NestedStack, fleet.DefaultNestedStackID)
	setString(&c.SpotGroup, fleet.DefaultSpotGroupID)
	setString(&c.CoreGroup, fleet.DefaultCoreGroupID)
	setString(&c.BidTag, asg.BidTag)
	setString(&c.TypeTag, asg.TypeTag)
	setString(&c.SubnetTagKey, spotaz.DefaultSubnetTagKey)
	setString(&c.SubnetTagValue, spotaz.DefaultSubnetTagValue)
	setString(&c.ProductDescription, pricing.DefaultProductDescription)
	if c.Window == 0 {
		c.Window = pricing.DefaultWindow
	}
	if c.Margin == nil {
		margin := provision.DefaultMargin
		c.Margin = &margin
	}
	if c.Parallelism == 0 {
		c.Parallelism = spotaz.DefaultParallelism
	}
	if c.PricingQPS == 0 {
		c.PricingQPS = pricing.DefaultQPS
	}
	if c.Lease.TTL == 0 {
		c.Lease.TTL = lease.DefaultTTL
	}
	switch {
	case c.Window < 0:
		return errors.E(errors.Invalid, errors.Errorf("window %s is not positive", c.Window))
	case *c.Margin < 0 || *c.Margin >= 1:
		return errors.E(errors.Invalid, errors.Errorf("margin %v not in [0, 1)", *c.Margin))
	case c.Parallelism < 0:
		return errors.E(errors.Invalid, errors.Errorf("parallelism %d is negative", c.Parallelism))
	case c.PricingQPS < 0:
		return errors.E(errors.Invalid, errors.Errorf("pricingqps %v is negative", c.PricingQPS))
	case c.MaxRetries < 0:
		return errors.E(errors.Invalid, errors.Errorf("maxretries %d is negative", c.MaxRetries))
	case c.Lease.TTL < 0:
		return errors.E(errors.Invalid, errors.Errorf("lease ttl %s is negative", c.Lease.TTL))
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Policy returns the provisioning policy of the configuration.
func (c *Config) Policy() provision.Policy {
	if c.Margin == nil {
		return provision.Policy{Margin: provision.DefaultMargin}
	}
	return provision.Policy{Margin: *c.Margin}
}

// AWS returns the AWS session of the configuration. The session is
// created on first call.
func (c *Config) AWS() (*session.Session, error) {
	err := c.awsOnce.Do(func() error {
		cfg := aws.Config{}
		if c.Region != "" {
			cfg.Region = aws.String(c.Region)
		}
		if c.MaxRetries > 0 {
			cfg.MaxRetries = aws.Int(c.MaxRetries)
		}
		sess, err := session.NewSessionWithOptions(session.Options{
			Config:            cfg,
			SharedConfigState: session.SharedConfigEnable,
		})
		if err != nil {
			return errors.E("session", errors.Invalid, err)
		}
		c.session = sess
		return nil
	})
	return c.session, err
}

// Clients holds the AWS service clients used by spotmanager.
type Clients struct {
	EC2            ec2iface.EC2API
	AutoScaling    autoscalingiface.AutoScalingAPI
	CloudFormation cloudformationiface.CloudFormationAPI
	DynamoDB       dynamodbiface.DynamoDBAPI
}

// Clients returns service clients sharing the configuration's
// session. Their calls are traced by the given tracer.
func (c *Config) Clients(tracer trace.Tracer) (Clients, error) {
	sess, err := c.AWS()
	if err != nil {
		return Clients{}, err
	}
	var (
		ec2Client = ec2.New(sess)
		asgClient = autoscaling.New(sess)
		cfnClient = cloudformation.New(sess)
		ddbClient = dynamodb.New(sess)
	)
	tracer.Instrument(ec2Client.Client, asgClient.Client, cfnClient.Client, ddbClient.Client)
	return Clients{
		EC2:            ec2Client,
		AutoScaling:    asgClient,
		CloudFormation: cfnClient,
		DynamoDB:       ddbClient,
	}, nil
}

func setString(p *string, def string) {
	if *p == "" {
		*p = def
	}
}
