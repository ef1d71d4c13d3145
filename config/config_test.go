// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/spotmanager/errors"
	"github.com/grailbio/testutil"
	yaml "gopkg.in/yaml.v2"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := ioutil.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "config")
	defer cleanup()
	path := writeConfig(t, dir, `
region: us-east-1
spotgroup: spotASG
window: 30m
margin: 0
lease:
  table: leases
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, check := range []struct{ got, want interface{} }{
		{c.Region, "us-east-1"},
		{c.SpotGroup, "spotASG"},
		{c.CoreGroup, "asgGPU"},
		{c.NestedStack, "stackGPU"},
		{c.BidTag, "SpotPrice"},
		{c.TypeTag, "SpotType"},
		{c.SubnetTagValue, "ApplicationSubnet*"},
		{c.ProductDescription, "Linux/UNIX (Amazon VPC)"},
		{c.Window, 30 * time.Minute},
		{*c.Margin, 0.0},
		{c.Policy().Margin, 0.0},
		{c.Lease.Table, "leases"},
		{c.Lease.TTL, 5 * time.Minute},
		{c.Parallelism, 4},
	} {
		if check.got != check.want {
			t.Errorf("got %v, want %v", check.got, check.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	var c Config
	if err := c.Init(); err != nil {
		t.Fatal(err)
	}
	if got, want := *c.Margin, 0.15; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.Window, time.Hour; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.PricingQPS, 10.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLoadMissing(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "config")
	defer cleanup()

	save := DefaultFile
	defer func() { DefaultFile = save }()
	DefaultFile = filepath.Join(dir, "default.yaml")
	c, err := Load(DefaultFile)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.SpotGroup, "asgGPUSpot"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	_, err = Load(filepath.Join(dir, "other.yaml"))
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want NotExist", err)
	}
}

func TestInvalid(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "config")
	defer cleanup()
	for _, body := range []string{
		"margin: 1\n",
		"margin: -0.1\n",
		"window: -1h\n",
		"parallelism: -2\n",
		"nosuchkey: x\n",
		"window: [1]\n",
	} {
		_, err := Load(writeConfig(t, dir, body))
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("%q: got %v, want Invalid", body, err)
		}
	}
}

func TestMarshal(t *testing.T) {
	var c Config
	if err := c.Init(); err != nil {
		t.Fatal(err)
	}
	b, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var d Config
	if err := yaml.UnmarshalStrict(b, &d); err != nil {
		t.Fatal(err)
	}
	if got, want := d.Window, c.Window; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := d.Lease.TTL, c.Lease.TTL; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
