// Package graph reconstructs the dependency graph of an SBOM and classifies
// every package by its shortest distance from the described artifact.
package graph

import (
	"log/slog"
	"slices"

	"github.com/ethanolivertroy/sbomgraph/internal/ecosystem"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/samber/lo"
)

// Graph is the built dependency graph. Nodes are in breadth-first order from
// the root, followed by unreachable nodes in record order.
type Graph struct {
	RootID        string // node id of the root artifact
	Nodes         []models.DependencyNode
	DanglingEdges int                       // depends-on edges naming an unknown element
	Tiers         map[models.Confidence]int // ecosystem resolution tier per node

	index map[string]int
}

// Node looks up a node by id
func (g *Graph) Node(id string) (models.DependencyNode, bool) {
	i, ok := g.index[id]
	if !ok {
		return models.DependencyNode{}, false
	}
	return g.Nodes[i], true
}

// Len returns the number of nodes, root excluded
func (g *Graph) Len() int {
	return len(g.Nodes)
}

// CountByRelation tallies nodes per relation
func (g *Graph) CountByRelation() map[models.Relation]int {
	return lo.CountValuesBy(g.Nodes, func(n models.DependencyNode) models.Relation {
		return n.Relation
	})
}

// Builder builds graphs. It is stateless between Build calls.
type Builder struct {
	resolver *ecosystem.Resolver
	logger   *slog.Logger
}

// NewBuilder creates a builder that resolves node ecosystems with resolver
func NewBuilder(resolver *ecosystem.Resolver, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = ecosystem.NewResolver(logger)
	}
	return &Builder{resolver: resolver, logger: logger}
}

// Build places records into a graph rooted at the element rootID. Only
// depends-on edges are consumed. Relations follow breadth-first depth, so a
// node reachable along several paths takes the shortest one.
func (b *Builder) Build(records []models.PackageRecord, edges []models.Relationship, rootID string) *Graph {
	g := &Graph{
		Tiers: make(map[models.Confidence]int),
		index: make(map[string]int),
	}

	// element id -> node id; several elements may collapse into one node
	elements := make(map[string]string, len(records))
	nodes := make(map[string]*models.DependencyNode, len(records))
	var order []string

	g.RootID = rootID
	for _, rec := range records {
		id := rec.Identity()

		// the root is the artifact itself; its name is not guessed at
		if rootID != "" && rec.ElementID == rootID {
			res := b.resolver.Explicit(rec)
			g.RootID = models.NodeID(res.Ecosystem, id.Name, id.Version)
			elements[rec.ElementID] = g.RootID
			continue
		}

		res := b.resolver.Resolve(rec)
		nodeID := models.NodeID(res.Ecosystem, id.Name, id.Version)
		if rec.ElementID != "" {
			elements[rec.ElementID] = nodeID
		}

		if existing, ok := nodes[nodeID]; ok {
			if existing.PackageRef == "" {
				existing.PackageRef = rec.PackageRef
			}
			continue
		}

		nodes[nodeID] = &models.DependencyNode{
			NodeID:      nodeID,
			ElementID:   rec.ElementID,
			Name:        id.Name,
			Version:     id.Version,
			Constraint:  id.Constraint,
			VersionKind: rec.VersionKind,
			PackageRef:  rec.PackageRef,
			Category:    rec.Category,
			Ecosystem:   res.Ecosystem,
			Confidence:  res.Confidence,
			Relation:    models.RelationUnknown,
		}
		order = append(order, nodeID)
		g.Tiers[res.Confidence]++
	}
	if _, ok := elements[rootID]; !ok && rootID != "" {
		// the root artifact is often not listed as a package
		elements[rootID] = rootID
	}

	adjacency := make(map[string][]string)
	parents := make(map[string]map[string]struct{})
	for _, e := range edges {
		if !e.DependsOn() {
			continue
		}
		from, okFrom := elements[e.From]
		to, okTo := elements[e.To]
		if !okFrom || !okTo {
			g.DanglingEdges++
			b.logger.Debug("ignoring edge to unknown element", "from", e.From, "to", e.To)
			continue
		}
		if from == to || to == g.RootID {
			continue
		}
		adjacency[from] = append(adjacency[from], to)
		if parents[to] == nil {
			parents[to] = make(map[string]struct{})
		}
		parents[to][from] = struct{}{}
	}
	for from, targets := range adjacency {
		adjacency[from] = lo.Uniq(targets)
	}

	depth, reached := traverse(g.RootID, adjacency)

	visitOrder := make([]string, 0, len(order))
	for _, nodeID := range reached {
		if _, ok := nodes[nodeID]; ok {
			visitOrder = append(visitOrder, nodeID)
		}
	}
	for _, nodeID := range order {
		if _, ok := depth[nodeID]; !ok {
			visitOrder = append(visitOrder, nodeID)
		}
	}

	g.Nodes = make([]models.DependencyNode, 0, len(visitOrder))
	for _, nodeID := range visitOrder {
		n := *nodes[nodeID]
		n.Depth = depth[nodeID]
		n.Relation = models.RelationForDepth(n.Depth)
		if ps := lo.Keys(parents[nodeID]); len(ps) > 0 {
			slices.Sort(ps)
			n.Parents = ps
		}
		g.index[nodeID] = len(g.Nodes)
		g.Nodes = append(g.Nodes, n)
	}

	b.logger.Debug("graph built",
		"nodes", len(g.Nodes), "dangling_edges", g.DanglingEdges, "root", g.RootID)
	return g
}

// traverse walks the graph breadth-first from root. It returns the shortest
// depth of every reachable node and the visit order; the root is in neither.
func traverse(root string, adjacency map[string][]string) (map[string]int, []string) {
	depth := make(map[string]int)
	var order []string
	if root == "" {
		return depth, order
	}

	visited := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[current] {
			if visited[next] {
				continue
			}
			visited[next] = true
			depth[next] = depth[current] + 1
			order = append(order, next)
			queue = append(queue, next)
		}
	}
	return depth, order
}
