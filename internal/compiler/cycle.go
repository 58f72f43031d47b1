package compiler

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// CycleWarning represents a potential cascade cycle between epics.
//
// Cycles are warnings, not errors, because they may terminate: a
// selector that stops changing ends the cascade. The store's depth limit
// catches the ones that do not.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on epic dependencies.
//
// An epic depends on another when one of its reducers has a triggering
// (non-readonly) condition on the other's name, either exactly or through
// a wildcard. A state change then cascades along the edge.
//
// The algorithm:
//  1. Build dependency → dependent graph from reducer conditions
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// A DAG (no cycles) returns an empty warning list. Output order is stable.
func AnalyzeCycles(doc *Document) []CycleWarning {
	if doc == nil || len(doc.Epics) == 0 {
		return []CycleWarning{}
	}

	graph := buildDependencyGraph(doc)
	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return warnings
}

// dependencyGraph maps epic name → epics whose reducers it can trigger.
type dependencyGraph map[string][]string

func buildDependencyGraph(doc *Document) dependencyGraph {
	graph := make(dependencyGraph)
	names := make([]string, 0, len(doc.Epics))
	for _, e := range doc.Epics {
		if _, ok := graph[e.Name]; !ok {
			graph[e.Name] = []string{}
			names = append(names, e.Name)
		}
	}

	for _, e := range doc.Epics {
		for _, r := range e.Reducers {
			for _, c := range r.On.Refs() {
				if c.Readonly {
					continue
				}
				for _, dep := range matchEpics(c.Type, names) {
					if !slices.Contains(graph[dep], e.Name) {
						graph[dep] = append(graph[dep], e.Name)
					}
				}
			}
		}
	}

	for node := range graph {
		slices.Sort(graph[node])
	}
	return graph
}

// matchEpics returns the epic names a condition type selects.
func matchEpics(typ string, names []string) []string {
	if !strings.Contains(typ, "*") {
		if slices.Contains(names, typ) {
			return []string{typ}
		}
		return nil
	}

	parts := strings.Split(typ, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re := regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")

	var out []string
	for _, n := range names {
		if re.MatchString(n) {
			out = append(out, n)
		}
	}
	return out
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so results are deterministic.
func tarjanSCC(graph dependencyGraph) [][]string {
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

		// Root node: pop the stack and create an SCC
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
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning. The path starts at
// the smallest name in the SCC.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-triggering epic detected: %s → %s", name, name),
			Level:   "warning",
		}
	}

	sorted := slices.Clone(scc)
	slices.Sort(sorted)
	path := reconstructCyclePath(sorted, graph)

	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cascade cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first node
// until it returns to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}
