package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph is the graph of links.dependsOnWorkItems edges.
// Unresolved dependencies and repeated entries are skipped; the Validator
// reports the former.
type DependencyGraph struct {
	// Nodes maps work item ids to graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Levels groups ids by depth: level 0 has no dependencies, level n depends
	// only on levels below n. Items on or behind a cycle are not leveled.
	Levels [][]string `json:"levels"`

	// Cycles lists the dependency cycles found by depth-first search, each
	// once and starting at its smallest id.
	Cycles [][]string `json:"cycles"`
}

// GraphNode is one work item in the dependency graph.
type GraphNode struct {
	ID           string   `json:"id"`
	Status       Status   `json:"status"`
	Kind         Kind     `json:"kind"`
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// BuildDependencyGraph builds the graph for items. It never fails.
func BuildDependencyGraph(items []WorkItem) *DependencyGraph {
	g := &DependencyGraph{
		Nodes:  make(map[string]*GraphNode, len(items)),
		Levels: make([][]string, 0),
		Cycles: make([][]string, 0),
	}

	for i := range items {
		item := &items[i]
		if item.WorkItemID == "" {
			continue
		}
		if _, exists := g.Nodes[item.WorkItemID]; exists {
			continue
		}
		g.Nodes[item.WorkItemID] = &GraphNode{
			ID:           item.WorkItemID,
			Status:       item.Status,
			Kind:         item.Kind,
			Level:        -1,
			Dependencies: make([]string, 0),
			Dependents:   make([]string, 0),
		}
	}

	linked := make(map[string]bool, len(g.Nodes))
	for i := range items {
		item := &items[i]
		node, ok := g.Nodes[item.WorkItemID]
		if !ok || linked[node.ID] {
			continue
		}
		linked[node.ID] = true
		seen := make(map[string]bool)
		for _, dep := range item.Links.DependsOnWorkItems {
			target, ok := g.Nodes[dep]
			if !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			node.Dependencies = append(node.Dependencies, dep)
			target.Dependents = append(target.Dependents, node.ID)
		}
	}
	for _, node := range g.Nodes {
		sort.Strings(node.Dependencies)
		sort.Strings(node.Dependents)
	}

	g.computeLevels()
	g.detectCycles()
	return g
}

// computeLevels runs Kahn's algorithm level by level.
func (g *DependencyGraph) computeLevels() {
	inDegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		inDegree[id] = len(node.Dependencies)
	}

	current := make([]string, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			current = append(current, id)
		}
	}

	for level := 0; len(current) > 0; level++ {
		sort.Strings(current)
		g.Levels = append(g.Levels, current)

		next := make([]string, 0)
		for _, id := range current {
			g.Nodes[id].Level = level
			for _, dependent := range g.Nodes[id].Dependents {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
}

// detectCycles uses depth-first search from every unleveled node.
func (g *DependencyGraph) detectCycles() {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	seen := make(map[string]bool)

	var visit func(id string, path []string)
	visit = func(id string, path []string) {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range g.Nodes[id].Dependencies {
			if !visited[dep] {
				visit(dep, path)
				continue
			}
			if !onStack[dep] {
				continue
			}
			for i, p := range path {
				if p == dep {
					cycle := rotateCycle(path[i:])
					key := strings.Join(cycle, ",")
					if !seen[key] {
						seen[key] = true
						g.Cycles = append(g.Cycles, cycle)
					}
					break
				}
			}
		}
		onStack[id] = false
	}

	for _, id := range g.sortedIDs() {
		if g.Nodes[id].Level < 0 && !visited[id] {
			visit(id, nil)
		}
	}
	sort.Slice(g.Cycles, func(i, j int) bool {
		return strings.Join(g.Cycles[i], ",") < strings.Join(g.Cycles[j], ",")
	})
}

// rotateCycle copies cycle so that it starts at its smallest id.
func rotateCycle(cycle []string) []string {
	start := 0
	for i, id := range cycle {
		if id < cycle[start] {
			start = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[start:]...)
	out = append(out, cycle[:start]...)
	return out
}

func (g *DependencyGraph) sortedIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OpenDependencies returns the dependencies of id that are not done yet.
func (g *DependencyGraph) OpenDependencies(id string) []string {
	node, ok := g.Nodes[id]
	if !ok {
		return nil
	}
	var open []string
	for _, dep := range node.Dependencies {
		if g.Nodes[dep].Status != StatusDone {
			open = append(open, dep)
		}
	}
	return open
}

// ToDOT generates a DOT format representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (g *DependencyGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Backlog {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=\"filled,rounded\"];\n\n")

	for _, id := range g.sortedIDs() {
		node := g.Nodes[id]
		fmt.Fprintf(&sb, "  %q [label=\"%s\\n%s\", fillcolor=%q];\n",
			id, id, node.Kind, statusColor(node.Status))
	}
	if len(g.Nodes) > 0 {
		sb.WriteString("\n")
	}

	for _, id := range g.sortedIDs() {
		for _, dep := range g.Nodes[id].Dependencies {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, id)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func statusColor(s Status) string {
	switch s {
	case StatusDone:
		return "lightgreen"
	case StatusInProgress:
		return "lightblue"
	case StatusBlocked:
		return "lightcoral"
	case StatusTodo:
		return "lightyellow"
	default:
		return "lightgray"
	}
}
