package engine

import (
	"fmt"
	"slices"
	"strings"
)

// ResourceGraph is the applyable form of a catalog: resources in a topological order
// with ties broken by declaration order.
type ResourceGraph struct {
	// order holds the execution order as indexes into resources.
	order []int

	resources []*Resource
	index     map[string]int

	// dependencies maps a resource index to its prerequisites, in declaration order.
	dependencies [][]int

	// dependents maps a resource index to the resources that require it, in declaration order.
	dependents [][]int
}

// graphBuilder builds a ResourceGraph from a catalog.
type graphBuilder struct {
	graph    *ResourceGraph
	inDegree []int
}

// BuildResourceGraph converts a catalog into an ordered resource graph.
// Unknown dependency targets, duplicate resources and cycles are configuration errors.
func BuildResourceGraph(catalog *Catalog) (*ResourceGraph, error) {
	if catalog == nil {
		return nil, NewConfigurationError("catalog is nil", nil).WithCode(ErrCodeValidation)
	}

	b := &graphBuilder{
		graph: &ResourceGraph{
			index: make(map[string]int, len(catalog.Resources)),
		},
	}

	if err := b.initialize(catalog); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeOrder(); err != nil {
		return nil, err
	}

	return b.graph, nil
}

// initialize indexes the resources and builds both adjacency lists.
func (b *graphBuilder) initialize(catalog *Catalog) error {
	g := b.graph
	n := len(catalog.Resources)
	g.resources = make([]*Resource, n)
	g.dependencies = make([][]int, n)
	g.dependents = make([][]int, n)
	b.inDegree = make([]int, n)

	// First pass: index all resources
	for i := range catalog.Resources {
		res := &catalog.Resources[i]
		if res.Type == "" || res.Title == "" {
			return NewConfigurationError(
				fmt.Sprintf("resource at position %d has an empty type or title", i), nil,
			).WithCode(ErrCodeValidation)
		}

		ref := res.Ref().String()
		if _, exists := g.index[ref]; exists {
			return NewConfigurationError(fmt.Sprintf("duplicate resource %s", ref), nil).
				WithCode(ErrCodeDuplicateResource).WithResource(ref)
		}

		g.index[ref] = i
		g.resources[i] = res
	}

	// Second pass: requires and explicit edges
	seen := make(map[[2]int]bool)
	addEdge := func(from, to int) {
		if seen[[2]int{from, to}] {
			return
		}
		seen[[2]int{from, to}] = true
		g.dependents[from] = append(g.dependents[from], to)
		g.dependencies[to] = append(g.dependencies[to], from)
		b.inDegree[to]++
	}

	for i, res := range g.resources {
		for _, dep := range res.Requires {
			from, ok := g.index[dep.String()]
			if !ok {
				return NewConfigurationError(
					fmt.Sprintf("resource %s requires unknown resource %s", res.Ref(), dep), nil,
				).WithCode(ErrCodeUnknownDependency).WithResource(res.Ref().String())
			}
			addEdge(from, i)
		}
	}

	for _, edge := range catalog.Edges {
		from, ok := g.index[edge.Source.String()]
		if !ok {
			return NewConfigurationError(
				fmt.Sprintf("edge references unknown resource %s", edge.Source), nil,
			).WithCode(ErrCodeUnknownDependency)
		}
		to, ok := g.index[edge.Target.String()]
		if !ok {
			return NewConfigurationError(
				fmt.Sprintf("edge references unknown resource %s", edge.Target), nil,
			).WithCode(ErrCodeUnknownDependency)
		}
		addEdge(from, to)
	}

	for i := range g.dependents {
		slices.Sort(g.dependents[i])
		slices.Sort(g.dependencies[i])
	}

	return nil
}

// detectCycles uses depth-first search in declaration order to detect circular dependencies.
func (b *graphBuilder) detectCycles() error {
	n := len(b.graph.resources)
	visited := make([]bool, n)
	recStack := make([]bool, n)

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		if cycle := b.detectCyclesUtil(i, visited, recStack, nil); cycle != nil {
			return NewConfigurationError(
				fmt.Sprintf("dependency cycle detected: %s", b.formatCycle(cycle)), nil,
			).WithCode(ErrCodeCycle)
		}
	}

	return nil
}

// detectCyclesUtil returns the cycle path starting at node, if one is reachable.
func (b *graphBuilder) detectCyclesUtil(node int, visited, recStack []bool, path []int) []int {
	visited[node] = true
	recStack[node] = true
	path = append(path, node)

	for _, dependent := range b.graph.dependents[node] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			start := slices.Index(path, dependent)
			return append(slices.Clone(path[start:]), dependent)
		}
	}

	recStack[node] = false
	return nil
}

// computeOrder runs Kahn's algorithm, always picking the ready resource declared first.
func (b *graphBuilder) computeOrder() error {
	g := b.graph
	inDegree := slices.Clone(b.inDegree)

	ready := make([]int, 0)
	for i, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, i)
		}
	}

	g.order = make([]int, 0, len(g.resources))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		g.order = append(g.order, next)

		for _, dependent := range g.dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				pos, _ := slices.BinarySearch(ready, dependent)
				ready = slices.Insert(ready, pos, dependent)
			}
		}
	}

	// Cannot happen once detectCycles passed
	if len(g.order) != len(g.resources) {
		return NewConfigurationError("failed to order all resources - possible cycle", nil).
			WithCode(ErrCodeCycle)
	}

	return nil
}

func (b *graphBuilder) formatCycle(cycle []int) string {
	refs := make([]string, len(cycle))
	for i, idx := range cycle {
		refs[i] = b.graph.resources[idx].Ref().String()
	}
	return strings.Join(refs, " -> ")
}

// Len returns the number of resources in the graph.
func (g *ResourceGraph) Len() int {
	return len(g.resources)
}

// Ordered returns the resources in execution order.
func (g *ResourceGraph) Ordered() []*Resource {
	out := make([]*Resource, len(g.order))
	for i, idx := range g.order {
		out[i] = g.resources[idx]
	}
	return out
}

// Dependencies returns the direct prerequisites of the resource with the given reference.
func (g *ResourceGraph) Dependencies(ref string) []*Resource {
	return g.lookup(ref, g.dependencies)
}

// Dependents returns the resources that directly require the given reference.
func (g *ResourceGraph) Dependents(ref string) []*Resource {
	return g.lookup(ref, g.dependents)
}

func (g *ResourceGraph) lookup(ref string, adjacency [][]int) []*Resource {
	idx, ok := g.index[ref]
	if !ok {
		return nil
	}
	out := make([]*Resource, 0, len(adjacency[idx]))
	for _, i := range adjacency[idx] {
		out = append(out, g.resources[i])
	}
	return out
}

// TransitiveDependents returns every resource reachable from ref through dependents,
// in execution order.
func (g *ResourceGraph) TransitiveDependents(ref string) []*Resource {
	start, ok := g.index[ref]
	if !ok {
		return nil
	}

	reached := make([]bool, len(g.resources))
	stack := []int{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range g.dependents[n] {
			if !reached[d] {
				reached[d] = true
				stack = append(stack, d)
			}
		}
	}

	out := make([]*Resource, 0)
	for _, idx := range g.order {
		if reached[idx] {
			out = append(out, g.resources[idx])
		}
	}
	return out
}

// ToDOT generates a DOT format representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (g *ResourceGraph) ToDOT(name string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("digraph %q {\n", name))
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for pos, idx := range g.order {
		res := g.resources[idx]
		sb.WriteString(fmt.Sprintf("  %q [label=\"%d: %s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
			res.Ref().String(), pos, escapeDOT(res.Ref().String()), getTypeColor(res.Type)))
	}

	sb.WriteString("\n")
	for _, idx := range g.order {
		for _, dependent := range g.dependents[idx] {
			sb.WriteString(fmt.Sprintf("  %q -> %q [style=solid, color=black];\n",
				g.resources[idx].Ref().String(), g.resources[dependent].Ref().String()))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// getTypeColor returns a color for visualizing resource types.
func getTypeColor(resourceType string) string {
	switch resourceType {
	case "file":
		return "lightblue"
	case "exec":
		return "lightgreen"
	case "notify":
		return "lightgray"
	default:
		return "white"
	}
}
