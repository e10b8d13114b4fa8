package core

// Executor selector: the bid scoring function used when a job's bidding
// window closes (spec §4.3). Grounded on the teacher's consensus_weights.go
// (weighted multi-factor scoring over validator candidates), generalised
// from validator weight to executor bid scoring with the spec's exact
// price/reputation/resource-fit formula and deterministic tie-break.

import (
	"fmt"
	"sort"
)

// ResourceSpec is a flat named-quantity resource vector, e.g.
// {"cpu_ms": 1000, "memory_mb": 512}. Kept generic rather than a fixed
// struct so new resource kinds need no core changes.
type ResourceSpec map[string]uint64

// resourceFit scores how well offered covers required, in [0, 1]. A
// resource the spec doesn't require is ignored; a required resource the bid
// doesn't offer scores 0 for that dimension.
func resourceFit(offered, required ResourceSpec) float64 {
	if len(required) == 0 {
		return 1.0
	}
	total := 0.0
	for k, need := range required {
		if need == 0 {
			continue
		}
		have := offered[k]
		ratio := float64(have) / float64(need)
		if ratio > 1 {
			ratio = 1
		}
		total += ratio
	}
	return total / float64(len(required))
}

// SelectorWeights are the w_price/w_rep/w_res coefficients from spec §4.3.
type SelectorWeights struct {
	Price      float64
	Reputation float64
	Resource   float64
}

// DefaultSelectorWeights weighs price and reputation equally, resource fit
// slightly less, matching a cost- and trust-conscious default.
func DefaultSelectorWeights() SelectorWeights {
	return SelectorWeights{Price: 0.4, Reputation: 0.4, Resource: 0.2}
}

// scoredBid pairs a Bid with its computed score for sorting.
type scoredBid struct {
	bid   Bid
	score float64
}

// SelectExecutor scores every bid in the set and returns the winner per
// spec §4.3: score = w_price·P + w_rep·R + w_res·S, tie-break by higher
// reputation, then earliest bid timestamp, then lexicographically smaller
// executor Did. Returns ErrInsufficientBids if bids is empty.
func SelectExecutor(bids []Bid, required ResourceSpec, maxPrice uint64, reputationOf func(Did) float64, weights SelectorWeights) (Bid, error) {
	if len(bids) == 0 {
		var zero Bid
		return zero, fmt.Errorf("core: no eligible bids: %w", ErrInsufficientBids)
	}
	scored := make([]scoredBid, 0, len(bids))
	for _, b := range bids {
		p := priceScore(b.PriceMana, maxPrice)
		r := Normalize(reputationOf(b.ExecutorDid))
		s := resourceFit(b.OfferedResources, required)
		total := weights.Price*p + weights.Reputation*r + weights.Resource*s
		scored = append(scored, scoredBid{bid: b, score: total})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		ri, rj := reputationOf(scored[i].bid.ExecutorDid), reputationOf(scored[j].bid.ExecutorDid)
		if ri != rj {
			return ri > rj
		}
		if !scored[i].bid.Timestamp.Equal(scored[j].bid.Timestamp) {
			return scored[i].bid.Timestamp.Before(scored[j].bid.Timestamp)
		}
		return scored[i].bid.ExecutorDid.String() < scored[j].bid.ExecutorDid.String()
	})
	return scored[0].bid, nil
}

// priceScore implements P = (max_price - price) / max_price, clamped to
// [0, 1] to tolerate a bid priced above maxPrice (which EligibleBid would
// normally have already rejected).
func priceScore(price, maxPrice uint64) float64 {
	if maxPrice == 0 {
		return 0
	}
	if price > maxPrice {
		return 0
	}
	return float64(maxPrice-price) / float64(maxPrice)
}

// EligibleBid reports whether a bid may enter scoring at all, per the
// bidding-window eligibility rules in spec §4.3: signature valid (checked
// by the caller via Envelope.Verify before this point), reputation above
// threshold and not blacklisted, resources sufficient, price within budget.
func EligibleBid(b Bid, required ResourceSpec, maxPrice uint64, reputationScore float64, minReputation float64, blacklisted bool) bool {
	if blacklisted {
		return false
	}
	if reputationScore < minReputation {
		return false
	}
	if b.PriceMana > maxPrice {
		return false
	}
	for k, need := range required {
		if b.OfferedResources[k] < need {
			return false
		}
	}
	return true
}
