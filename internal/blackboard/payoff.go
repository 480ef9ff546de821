package blackboard

// Game-theoretic payoff analysis for swarm strategy decisions. Agents
// post candidate strategies and a payoff matrix to the blackboard; the
// core scores them here. Pure computation, nothing persists.

// PayoffMatrix maps strategy -> counter-strategy -> payoff.
type PayoffMatrix map[string]map[string]float64

// StrategyPayoff is one strategy's expected payoff across the matrix.
type StrategyPayoff struct {
	Strategy string  `json:"strategy"`
	Expected float64 `json:"expected"`
}

// PayoffResult names the dominant strategy alongside every expectation.
type PayoffResult struct {
	Payoffs  []StrategyPayoff `json:"payoffs"`
	Dominant string           `json:"dominant,omitempty"`
}

// ComputePayoffs scores each strategy by the mean payoff of its matrix
// row and picks the highest as dominant. Strategies missing from the
// matrix score zero. Ties keep the earlier strategy, so the result is
// deterministic in input order.
func ComputePayoffs(strategies []string, matrix PayoffMatrix) PayoffResult {
	res := PayoffResult{Payoffs: make([]StrategyPayoff, 0, len(strategies))}
	best := 0.0
	for _, strat := range strategies {
		expected := 0.0
		if row, ok := matrix[strat]; ok && len(row) > 0 {
			total := 0.0
			for _, v := range row {
				total += v
			}
			expected = total / float64(len(row))
		}
		res.Payoffs = append(res.Payoffs, StrategyPayoff{Strategy: strat, Expected: expected})
		if res.Dominant == "" || expected > best {
			res.Dominant = strat
			best = expected
		}
	}
	return res
}
