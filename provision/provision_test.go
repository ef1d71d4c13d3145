package provision

import (
	"math"
	"math/rand"
	"testing"

	"github.com/grailbio/spotmanager/spotaz"
)

func TestDecide(t *testing.T) {
	p := Policy{Margin: DefaultMargin}
	for _, tt := range []struct {
		price, maxBid float64
		want          Verdict
	}{
		{0.20, 0.25, UseSpot},
		{0.23, 0.25, UseOnDemand},
		{0.25 * 0.85, 0.25, UseSpot},
		{0.25, 0.25, UseOnDemand},
		{0, 0.25, UseSpot},
		{0.9, 1.0, UseOnDemand},
		{0.85, 1.0, UseSpot},
	} {
		d := p.Decide(spotaz.Quote{Zone: "us-west-2a", Price: tt.price}, tt.maxBid)
		if got, want := d.Verdict, tt.want; got != want {
			t.Errorf("Decide(%v, %v): got %v, want %v", tt.price, tt.maxBid, got, want)
		}
	}
}

func TestThresholdInclusive(t *testing.T) {
	p := Policy{Margin: DefaultMargin}
	for _, bid := range []float64{0.25, 0.65, 1, 3.06, 24.48} {
		th := p.Threshold(bid)
		if got := p.Decide(spotaz.Quote{Price: th}, bid).Verdict; got != UseSpot {
			t.Errorf("bid %v: price at threshold %v: got %v, want spot", bid, th, got)
		}
		if got := p.Decide(spotaz.Quote{Price: math.Nextafter(th, math.Inf(1))}, bid).Verdict; got != UseOnDemand {
			t.Errorf("bid %v: price above threshold: got %v, want on-demand", bid, got)
		}
	}
}

func TestDecideMonotonic(t *testing.T) {
	p := Policy{Margin: DefaultMargin}
	r := rand.New(rand.NewSource(1))
	for iter := 0; iter < 1000; iter++ {
		lo, hi := r.Float64(), r.Float64()
		if lo > hi {
			lo, hi = hi, lo
		}
		bid := r.Float64()
		if p.Decide(spotaz.Quote{Price: lo}, bid).Verdict == UseOnDemand &&
			p.Decide(spotaz.Quote{Price: hi}, bid).Verdict != UseOnDemand {
			t.Fatalf("bid %v: on-demand at %v but not at %v", bid, lo, hi)
		}
	}
}

func TestDecisionEvidence(t *testing.T) {
	d := Policy{Margin: DefaultMargin}.Decide(spotaz.Quote{Zone: "us-west-2b", Price: 0.2}, 0.25)
	if got, want := d.Quote.Zone, "us-west-2b"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := d.Threshold, 0.25*0.85; math.Abs(got-want) > 1e-12 {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := d.String(), "spot: price 0.2000 in us-west-2b, threshold 0.2125 (max bid 0.2500)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
