package planner

// RolePolicy fixes what a worker role may do in the spawn tree.
type RolePolicy struct {
	MaxDepth int
	CanSpawn bool
}

// Roles is the compile-time role matrix. Depth 0 is the root of the spawn
// tree; only the lead exists there and only the lead requests spawns.
var Roles = map[string]RolePolicy{
	"lead":      {MaxDepth: 1, CanSpawn: true},
	"worker":    {MaxDepth: 2},
	"kraken":    {MaxDepth: 2},
	"architect": {MaxDepth: 2},
	"scout":     {MaxDepth: 3},
	"oracle":    {MaxDepth: 3},
	"critic":    {MaxDepth: 3},
}

// ValidRole reports membership in the role matrix.
func ValidRole(role string) bool {
	_, ok := Roles[role]
	return ok
}

// CanSpawnAt reports whether requesterRole may spawn targetRole so that
// the child lands at childDepth.
func CanSpawnAt(requesterRole, targetRole string, childDepth int) bool {
	req, ok := Roles[requesterRole]
	if !ok || !req.CanSpawn {
		return false
	}
	tgt, ok := Roles[targetRole]
	if !ok {
		return false
	}
	if childDepth < 1 || childDepth > tgt.MaxDepth {
		return false
	}
	return true
}
