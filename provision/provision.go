// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package provision decides between spot and on-demand capacity.
//
// Spot capacity is used only when the market price sits at least a
// margin below the group's maximum bid. The gap keeps the decision
// from oscillating while the market hovers around the bid.
package provision

import (
	"fmt"

	"github.com/grailbio/spotmanager/spotaz"
)

// DefaultMargin is the fraction of the maximum bid that the market
// price must stay below for spot capacity to be used.
const DefaultMargin = 0.15

// Verdict is the outcome of a provisioning decision.
type Verdict int

const (
	// UseOnDemand directs new capacity to the on-demand tier.
	UseOnDemand Verdict = iota
	// UseSpot directs new capacity to the spot tier.
	UseSpot
)

func (v Verdict) String() string {
	switch v {
	case UseSpot:
		return "spot"
	case UseOnDemand:
		return "on-demand"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision is a verdict along with the evidence it was made on.
type Decision struct {
	Verdict Verdict
	// Quote is the cheapest zone and its price.
	Quote spotaz.Quote
	// MaxBid is the group's configured maximum bid.
	MaxBid float64
	// Threshold is the highest price at which spot is used.
	Threshold float64
}

func (d Decision) String() string {
	return fmt.Sprintf("%s: price %.4f in %s, threshold %.4f (max bid %.4f)",
		d.Verdict, d.Quote.Price, d.Quote.Zone, d.Threshold, d.MaxBid)
}

// Policy is a spot-versus-on-demand cost policy.
type Policy struct {
	// Margin is the fraction of the maximum bid, in [0, 1), that
	// the price must stay below.
	Margin float64
}

// Threshold returns the highest price at which the policy chooses
// spot capacity for the given maximum bid.
func (p Policy) Threshold(maxBid float64) float64 {
	return maxBid * (1 - p.Margin)
}

// Decide returns UseSpot if the quoted price is at most the policy's
// threshold for maxBid, and UseOnDemand otherwise.
func (p Policy) Decide(quote spotaz.Quote, maxBid float64) Decision {
	d := Decision{
		Verdict:   UseOnDemand,
		Quote:     quote,
		MaxBid:    maxBid,
		Threshold: p.Threshold(maxBid),
	}
	if quote.Price <= d.Threshold {
		d.Verdict = UseSpot
	}
	return d
}
