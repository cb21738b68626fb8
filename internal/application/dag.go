package application

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Graph is a directed acyclic graph of metric configurations where an edge
// from A to B means B depends on A and must be computed after it.
// Nodes are keyed by configuration id, so two requests for the same
// configuration share a single node.
type Graph struct {
	// nodes maps configuration ids to their configurations.
	nodes map[domain.MetricConfigurationID]domain.MetricConfiguration
	// edges is the adjacency list from a dependency to its dependents.
	edges map[domain.MetricConfigurationID][]domain.MetricConfigurationID
	// deps is the reverse adjacency list from a dependent to its
	// dependencies, used to propagate failures.
	deps map[domain.MetricConfigurationID][]domain.MetricConfigurationID
	// edgeSet provides O(1) duplicate edge detection.
	edgeSet map[[2]domain.MetricConfigurationID]struct{}
	// inDegree tracks the number of unresolved dependencies per node for
	// Kahn's algorithm.
	inDegree map[domain.MetricConfigurationID]int
	// mu provides thread-safe access to all graph data structures.
	mu sync.RWMutex
}

// NewGraph creates an empty metric dependency graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[domain.MetricConfigurationID]domain.MetricConfiguration),
		edges:    make(map[domain.MetricConfigurationID][]domain.MetricConfigurationID),
		deps:     make(map[domain.MetricConfigurationID][]domain.MetricConfigurationID),
		edgeSet:  make(map[[2]domain.MetricConfigurationID]struct{}),
		inDegree: make(map[domain.MetricConfigurationID]int),
	}
}

// AddNode registers a configuration as a node.
// AddNode returns an error if a node with the same id already exists.
func (g *Graph) AddNode(cfg domain.MetricConfiguration) error {
	id := cfg.ID()
	if id.IsZero() {
		return fmt.Errorf("cannot add unidentified metric configuration to graph")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("node %s already exists in graph", cfg)
	}

	g.nodes[id] = cfg
	g.edges[id] = make([]domain.MetricConfigurationID, 0)
	g.inDegree[id] = 0
	return nil
}

// HasNode reports whether a configuration with id is in the graph.
func (g *Graph) HasNode(id domain.MetricConfigurationID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.nodes[id]
	return ok
}

// AddEdge records that dependent requires dependency. The edge is rolled
// back and a *ports.CyclicDependencyError returned if it would close a
// cycle. Adding an existing edge is a no-op, since several logical
// dependency names may resolve to the same configuration.
func (g *Graph) AddEdge(dependency, dependent domain.MetricConfigurationID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[dependency]; !exists {
		return fmt.Errorf("dependency node %s does not exist", dependency.MetricName)
	}
	if _, exists := g.nodes[dependent]; !exists {
		return fmt.Errorf("dependent node %s does not exist", dependent.MetricName)
	}

	key := [2]domain.MetricConfigurationID{dependency, dependent}
	if _, exists := g.edgeSet[key]; exists {
		return nil
	}

	g.edges[dependency] = append(g.edges[dependency], dependent)
	g.deps[dependent] = append(g.deps[dependent], dependency)
	g.edgeSet[key] = struct{}{}
	g.inDegree[dependent]++

	if cycle := g.findCycleUnsafe(); cycle != nil {
		g.edges[dependency] = g.edges[dependency][:len(g.edges[dependency])-1]
		g.deps[dependent] = g.deps[dependent][:len(g.deps[dependent])-1]
		delete(g.edgeSet, key)
		g.inDegree[dependent]--
		return &ports.CyclicDependencyError{Cycle: cycle}
	}

	return nil
}

// TopologicalSort returns the configurations ordered so that dependencies
// come before dependents. Ties are broken by id so the order is
// deterministic.
func (g *Graph) TopologicalSort() ([]domain.MetricConfiguration, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	out := make([]domain.MetricConfiguration, 0, len(g.nodes))
	for _, level := range levels {
		out = append(out, level...)
	}
	return out, nil
}

// Levels groups configurations into waves using Kahn's algorithm: every
// configuration in level n depends only on configurations in levels < n,
// so members of one level can be computed concurrently.
func (g *Graph) Levels() ([][]domain.MetricConfiguration, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegreeCopy := make(map[domain.MetricConfigurationID]int, len(g.inDegree))
	for k, v := range g.inDegree {
		inDegreeCopy[k] = v
	}

	current := make([]domain.MetricConfigurationID, 0)
	for id, degree := range inDegreeCopy {
		if degree == 0 {
			current = append(current, id)
		}
	}

	var levels [][]domain.MetricConfiguration
	processed := 0
	for len(current) > 0 {
		slices.SortFunc(current, compareIDs)

		level := make([]domain.MetricConfiguration, 0, len(current))
		var next []domain.MetricConfigurationID
		for _, id := range current {
			level = append(level, g.nodes[id])
			processed++
			for _, dependent := range g.edges[id] {
				inDegreeCopy[dependent]--
				if inDegreeCopy[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		levels = append(levels, level)
		current = next
	}

	if processed != len(g.nodes) {
		if cycle := g.findCycleUnsafe(); cycle != nil {
			return nil, &ports.CyclicDependencyError{Cycle: cycle}
		}
		return nil, ports.ErrCyclicDependency
	}

	return levels, nil
}

// HasCycle reports whether the graph contains a cycle.
func (g *Graph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.findCycleUnsafe() != nil
}

// findCycleUnsafe runs a depth-first search with three-color marking and
// returns the metric names along the first back edge found, or nil.
// It must be called with the graph mutex held.
func (g *Graph) findCycleUnsafe() []string {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[domain.MetricConfigurationID]int, len(g.nodes))
	var stack []domain.MetricConfigurationID

	var dfs func(id domain.MetricConfigurationID) []string
	dfs = func(id domain.MetricConfigurationID) []string {
		colors[id] = gray
		stack = append(stack, id)

		for _, next := range g.edges[id] {
			switch colors[next] {
			case gray:
				start := slices.Index(stack, next)
				cycle := make([]string, 0, len(stack)-start+1)
				for _, s := range stack[start:] {
					cycle = append(cycle, s.MetricName)
				}
				return append(cycle, next.MetricName)
			case white:
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	ids := make([]domain.MetricConfigurationID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)
	for _, id := range ids {
		if colors[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// GetNode retrieves a configuration by id.
func (g *Graph) GetNode(id domain.MetricConfigurationID) (domain.MetricConfiguration, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cfg, exists := g.nodes[id]
	return cfg, exists
}

// Dependencies returns the ids a configuration directly depends on.
func (g *Graph) Dependencies(id domain.MetricConfigurationID) []domain.MetricConfigurationID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return slices.Clone(g.deps[id])
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.nodes)
}

func compareIDs(a, b domain.MetricConfigurationID) int {
	if c := cmpString(a.MetricName, b.MetricName); c != 0 {
		return c
	}
	if c := cmpString(a.DomainKwargsID, b.DomainKwargsID); c != 0 {
		return c
	}
	return cmpString(a.ValueKwargsID, b.ValueKwargsID)
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
