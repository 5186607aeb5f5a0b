package lifecycle

import "sort"

// Dependency edges point from a resource to the keys it needs. Disposal
// walks the graph dependents-first so no live resource ever outlives a
// dependency it still points at. All helpers below require m.mu held.

// wouldCycle reports whether registering key with the given dependencies
// would close a cycle. The candidate's own previous edges are ignored, so
// re-registering with new dependencies is checked against the new list
// only. Edges may reference keys that are not registered yet; they simply
// have no onward edges to follow.
func (m *Manager) wouldCycle(key string, deps []string) bool {
	stack := append([]string(nil), deps...)
	seen := make(map[string]bool, len(m.resources))
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == key {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if res, ok := m.resources[cur]; ok {
			stack = append(stack, res.Dependencies...)
		}
	}
	return false
}

// dependentsOf returns the keys of non-terminal resources that directly
// depend on key, sorted by descending priority then key.
func (m *Manager) dependentsOf(key string) []string {
	var out []*resource
	for _, res := range m.resources {
		if res.State.IsTerminal() {
			continue
		}
		for _, dep := range res.Dependencies {
			if dep == key {
				out = append(out, res)
				break
			}
		}
	}
	sortTier(out)
	keys := make([]string, len(out))
	for i, res := range out {
		keys[i] = res.Key
	}
	return keys
}

// disposalOrder computes a deterministic teardown order over the resources
// selected by include: Kahn's algorithm tier by tier, dependents before
// dependencies, each tier sorted by descending priority then key. Edges to
// keys outside the selection are ignored.
func (m *Manager) disposalOrder(include func(*resource) bool) []string {
	selected := make(map[string]*resource)
	for key, res := range m.resources {
		if res.State.IsTerminal() {
			continue
		}
		if include == nil || include(res) {
			selected[key] = res
		}
	}

	// In-degree counts dependents inside the selection: a zero in-degree
	// resource has nothing left pointing at it and is safe to dispose.
	inDegree := make(map[string]int, len(selected))
	for key := range selected {
		inDegree[key] = 0
	}
	for _, res := range selected {
		for _, dep := range res.Dependencies {
			if _, ok := selected[dep]; ok {
				inDegree[dep]++
			}
		}
	}

	var tier []*resource
	for key, degree := range inDegree {
		if degree == 0 {
			tier = append(tier, selected[key])
		}
	}

	order := make([]string, 0, len(selected))
	for len(tier) > 0 {
		sortTier(tier)
		var next []*resource
		for _, res := range tier {
			order = append(order, res.Key)
			for _, dep := range res.Dependencies {
				if _, ok := selected[dep]; !ok {
					continue
				}
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, selected[dep])
				}
			}
		}
		tier = next
	}
	return order
}

// sortTier orders resources within one disposal tier: higher priority
// first, key as the stable tiebreak.
func sortTier(tier []*resource) {
	sort.Slice(tier, func(i, j int) bool {
		if tier[i].Priority != tier[j].Priority {
			return tier[i].Priority > tier[j].Priority
		}
		return tier[i].Key < tier[j].Key
	})
}
