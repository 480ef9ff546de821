package credits

import "math"

// Ant-colony task routing: each (worker, task) pair carries a trail
// strength reinforced by past outcomes, and a load penalty spreads
// assignments across the fleet.

// Unseen pairs get a small strength so new workers still get explored.
const explorationStrength = 0.1

// TrailStrengths maps worker handle -> task -> trail strength.
type TrailStrengths map[string]map[string]float64

// RouteTasks assigns each task to the worker with the best score:
// strength^alpha damped by 1/(1+assigned-so-far). alpha <= 0 defaults
// to 1. Returns task -> worker; empty when there are no workers.
func RouteTasks(tasks, workers []string, trails TrailStrengths, alpha float64) map[string]string {
	assignments := make(map[string]string, len(tasks))
	if len(workers) == 0 {
		return assignments
	}
	if alpha <= 0 {
		alpha = 1
	}

	load := make(map[string]int, len(workers))
	for _, task := range tasks {
		best := ""
		bestScore := math.Inf(-1)
		for _, worker := range workers {
			strength := explorationStrength
			if row, ok := trails[worker]; ok {
				if v, ok := row[task]; ok {
					strength = v
				}
			}
			score := math.Pow(strength, alpha) / float64(1+load[worker])
			if score > bestScore {
				bestScore = score
				best = worker
			}
		}
		assignments[task] = best
		load[best]++
	}
	return assignments
}
