package permissions

import "sort"

// Graph maps a permission to the permissions it directly implies.
// A Graph is immutable after construction.
type Graph struct {
	edges map[Key][]Key
}

// DependencyWarning describes a permission that will be granted automatically
// because other selected permissions imply it.
type DependencyWarning struct {
	Permission Key   `json:"permission"`
	RequiredBy []Key `json:"required_by"`
}

// NewGraph creates a graph from direct implication edges. The input is copied.
func NewGraph(edges map[Key][]Key) *Graph {
	copied := make(map[Key][]Key, len(edges))
	for from, to := range edges {
		copied[from] = append([]Key(nil), to...)
	}
	return &Graph{edges: copied}
}

// Implies returns the permissions directly implied by key.
// Unknown keys imply nothing.
func (g *Graph) Implies(key Key) []Key {
	return append([]Key(nil), g.edges[key]...)
}

// Expand returns selected plus every permission reachable from it through
// implications. The walk continues until no new permission is added, so chains
// (A implies B, B implies C) are followed to the end and cycles terminate.
func (g *Graph) Expand(selected Set) Set {
	result := selected.Clone()
	queue := make([]Key, 0, len(selected))
	for k := range selected {
		queue = append(queue, k)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, implied := range g.edges[current] {
			if result.Has(implied) {
				continue
			}
			result.Add(implied)
			queue = append(queue, implied)
		}
	}

	return result
}

// DependencyWarnings lists every permission that is not selected but will be
// auto-granted by the selection, together with the selected permissions that pull
// it in. Results are sorted by permission key.
func (g *Graph) DependencyWarnings(selected Set) []DependencyWarning {
	requiredBy := make(map[Key][]Key)

	for _, source := range selected.Sorted() {
		for implied := range g.Expand(NewSet(source)) {
			if selected.Has(implied) {
				continue
			}
			requiredBy[implied] = append(requiredBy[implied], source)
		}
	}

	warnings := make([]DependencyWarning, 0, len(requiredBy))
	for perm, sources := range requiredBy {
		warnings = append(warnings, DependencyWarning{Permission: perm, RequiredBy: sources})
	}
	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].Permission < warnings[j].Permission
	})

	return warnings
}

// hasCycle reports whether any permission can reach itself through implications
func (g *Graph) hasCycle() (Key, bool) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[Key]int, len(g.edges))

	var visit func(k Key) bool
	visit = func(k Key) bool {
		switch state[k] {
		case visiting:
			return true
		case done:
			return false
		}
		state[k] = visiting
		for _, next := range g.edges[k] {
			if visit(next) {
				return true
			}
		}
		state[k] = done
		return false
	}

	froms := make([]Key, 0, len(g.edges))
	for k := range g.edges {
		froms = append(froms, k)
	}
	sort.Slice(froms, func(i, j int) bool { return froms[i] < froms[j] })

	for _, k := range froms {
		if visit(k) {
			return k, true
		}
	}
	return "", false
}
