// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package metrics records spotmanager decisions in a prometheus
// registry. Spotmanager runs once per invocation, so instead of being
// scraped the registry is pushed to a pushgateway when one is
// configured. A nil *Metrics discards all observations.
package metrics

import (
	"github.com/grailbio/spotmanager/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultNamespace prefixes all metric names.
const DefaultNamespace = "spotmanager"

// Metrics holds the collectors of one process.
type Metrics struct {
	// Registry holds the collectors below.
	Registry *prometheus.Registry

	outcomes *prometheus.CounterVec
	errs     *prometheus.CounterVec
	prices   *prometheus.GaugeVec
}

// New returns a Metrics whose collectors are registered in a fresh
// registry under the given namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Invocation outcomes by kind.",
		}, []string{"outcome"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed invocations by error kind.",
		}, []string{"kind"}),
		prices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spot_price",
			Help:      "Mean spot price over the pricing window, in USD per hour.",
		}, []string{"instance_type", "zone"}),
	}
	m.Registry.MustRegister(m.outcomes, m.errs, m.prices)
	return m
}

// Outcome counts an invocation outcome.
func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// Error counts a failed invocation by the kind of its error.
func (m *Metrics) Error(err error) {
	if m == nil || err == nil {
		return
	}
	m.errs.WithLabelValues(errors.Recover(err).Kind.Name()).Inc()
}

// Price records a spot price quote.
func (m *Metrics) Price(instanceType, zone string, price float64) {
	if m == nil {
		return
	}
	m.prices.WithLabelValues(instanceType, zone).Set(price)
}

// Push pushes the registry to the pushgateway at url under the given
// job name.
func (m *Metrics) Push(url, job string) error {
	if m == nil {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.Registry).Push(); err != nil {
		return errors.E("push", url, errors.Unavailable, err)
	}
	return nil
}
