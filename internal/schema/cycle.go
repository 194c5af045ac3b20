package schema

import "sort"

// relationGraph maps an entity to the entities its relations hold.
type relationGraph map[string][]string

// findCycles returns every relation cycle as a path that starts and ends
// on the same entity. A graph without cycles returns nil.
func findCycles(graph relationGraph) [][]string {
	var cycles [][]string
	for _, scc := range tarjanSCC(graph) {
		if len(scc) == 1 {
			if hasSelfLoop(scc[0], graph) {
				cycles = append(cycles, []string{scc[0], scc[0]})
			}
			continue
		}
		cycles = append(cycles, cyclePath(scc, graph))
	}
	return cycles
}

// buildOrder lists the entities of an acyclic graph so that every entity
// comes after the entities it relates to.
func buildOrder(graph relationGraph) []string {
	var order []string
	for _, scc := range tarjanSCC(graph) {
		order = append(order, scc...)
	}
	return order
}

func hasSelfLoop(node string, graph relationGraph) bool {
	for _, n := range graph[node] {
		if n == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components. Components come out in
// reverse topological order: an entity's related entities first. Nodes
// are visited in name order so the result is deterministic.
func tarjanSCC(graph relationGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// cyclePath walks edges inside scc from its alphabetically first entity
// back to itself.
func cyclePath(scc []string, graph relationGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	sorted := append([]string(nil), scc...)
	sort.Strings(sorted)

	start := sorted[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	for current := start; ; {
		next := ""
		for _, n := range graph[current] {
			if members[n] && (n == start || !visited[n]) {
				next = n
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		current = next
	}
}
