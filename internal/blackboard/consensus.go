package blackboard

import (
	"encoding/json"
	"sort"
)

// Vote tallying for swarm decisions posted through the blackboard.

// Tally methods.
const (
	MethodMajority      = "majority"
	MethodSupermajority = "supermajority"
	MethodUnanimous     = "unanimous"
	MethodRanked        = "ranked" // Borda count
)

// Vote is one agent's cast vote. For ranked voting Value holds a JSON
// array of options, best first; otherwise it is the chosen option.
type Vote struct {
	VoterHandle string  `json:"voterHandle"`
	Value       string  `json:"value"`
	Weight      float64 `json:"weight"`
}

// TallyEntry is one option's accumulated weight.
type TallyEntry struct {
	Option string  `json:"option"`
	Count  float64 `json:"count"`
}

// ConsensusResult is the outcome of TallyVotes. Winner is empty when the
// quorum was not met.
type ConsensusResult struct {
	Winner        string       `json:"winner,omitempty"`
	Tally         []TallyEntry `json:"tally"`
	QuorumMet     bool         `json:"quorumMet"`
	TotalVotes    int          `json:"totalVotes"`
	WeightedTotal float64      `json:"weightedTotal"`
}

// TallyVotes accumulates weighted votes over the given options. Majority
// requires the winner to exceed half the total weight, supermajority two
// thirds, unanimous all of it. Ranked scores each ballot by Borda count.
func TallyVotes(votes []Vote, options []string, method string) ConsensusResult {
	tally := make(map[string]float64, len(options))
	for _, opt := range options {
		tally[opt] = 0
	}

	var totalWeight float64
	for _, v := range votes {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		if method == MethodRanked {
			var rankings []string
			if err := json.Unmarshal([]byte(v.Value), &rankings); err != nil {
				continue
			}
			n := float64(len(rankings))
			for i, opt := range rankings {
				tally[opt] += (n - float64(i)) * w
			}
			totalWeight += w
			continue
		}
		tally[v.Value] += w
		totalWeight += w
	}

	var winner string
	var max float64
	for opt, count := range tally {
		if count > max {
			max = count
			winner = opt
		}
	}

	quorumMet := false
	if totalWeight > 0 && winner != "" {
		ratio := max / totalWeight
		switch method {
		case MethodSupermajority:
			quorumMet = ratio >= 2.0/3.0
		case MethodUnanimous:
			quorumMet = ratio >= 1.0
		case MethodRanked:
			quorumMet = true // Borda always yields an ordering
		default:
			quorumMet = ratio > 0.5 || len(options) <= 2
		}
	}

	entries := make([]TallyEntry, 0, len(tally))
	for opt, count := range tally {
		entries = append(entries, TallyEntry{Option: opt, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Option < entries[j].Option
	})

	res := ConsensusResult{
		Tally:         entries,
		QuorumMet:     quorumMet,
		TotalVotes:    len(votes),
		WeightedTotal: totalWeight,
	}
	if quorumMet {
		res.Winner = winner
	}
	return res
}
