package graph

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func npmRecord(name, version string) models.PackageRecord {
	rec := models.NewPackageRecord("SPDXRef-"+name, models.Identity{Name: name, Version: version, Constraint: version})
	rec.PackageRef = "pkg:npm/" + name + "@" + version
	return rec
}

func dependsOn(from, to string) models.Relationship {
	return models.Relationship{From: "SPDXRef-" + from, To: "SPDXRef-" + to, Type: models.RelationshipDependsOn}
}

func mustNode(t *testing.T, g *Graph, name, version string) models.DependencyNode {
	t.Helper()
	n, ok := g.Node(models.NodeID(models.EcosystemNpm, name, version))
	require.True(t, ok, "node %s@%s missing", name, version)
	return n
}

func TestBuildRootBranchLeaf(t *testing.T) {
	records := []models.PackageRecord{
		npmRecord("a", "1.0.0"),
		npmRecord("b", "2.0.0"),
		npmRecord("c", "3.0.0"),
	}
	edges := []models.Relationship{dependsOn("a", "b"), dependsOn("b", "c")}

	g := NewBuilder(nil, nil).Build(records, edges, "SPDXRef-a")

	require.Equal(t, 2, g.Len(), "root is not its own dependency")
	_, ok := g.Node("npm:a@1.0.0")
	assert.False(t, ok)

	b := mustNode(t, g, "b", "2.0.0")
	c := mustNode(t, g, "c", "3.0.0")
	assert.Equal(t, models.RelationDirect, b.Relation)
	assert.Equal(t, models.RelationTransitive, c.Relation)
	assert.Equal(t, []string{"npm:b@2.0.0"}, c.Parents)
	assert.Equal(t, []string{"npm:a@1.0.0"}, b.Parents)
	assert.Equal(t, "npm:a@1.0.0", g.RootID)
}

func TestBuildShortestPathWins(t *testing.T) {
	records := []models.PackageRecord{
		npmRecord("root", "1.0.0"),
		npmRecord("b", "1.0.0"),
		npmRecord("c", "1.0.0"),
		npmRecord("d", "1.0.0"),
	}
	// d is reachable as root->b->c->d and directly as root->d
	edges := []models.Relationship{
		dependsOn("root", "b"),
		dependsOn("b", "c"),
		dependsOn("c", "d"),
		dependsOn("root", "d"),
	}

	g := NewBuilder(nil, nil).Build(records, edges, "SPDXRef-root")

	d := mustNode(t, g, "d", "1.0.0")
	assert.Equal(t, models.RelationDirect, d.Relation)
	assert.Equal(t, 1, d.Depth)
	assert.ElementsMatch(t, []string{"npm:c@1.0.0", "npm:root@1.0.0"}, d.Parents)
}

func TestBuildIndirectDepth(t *testing.T) {
	records := []models.PackageRecord{
		npmRecord("root", "1.0.0"),
		npmRecord("b", "1.0.0"),
		npmRecord("c", "1.0.0"),
		npmRecord("d", "1.0.0"),
		npmRecord("e", "1.0.0"),
	}
	edges := []models.Relationship{
		dependsOn("root", "b"),
		dependsOn("b", "c"),
		dependsOn("c", "d"),
		dependsOn("d", "e"),
	}

	g := NewBuilder(nil, nil).Build(records, edges, "SPDXRef-root")

	assert.Equal(t, models.RelationTransitiveIndirect, mustNode(t, g, "d", "1.0.0").Relation)
	e := mustNode(t, g, "e", "1.0.0")
	assert.Equal(t, models.RelationTransitiveIndirect, e.Relation)
	assert.Equal(t, 4, e.Depth)
}

func TestBuildCycleTerminates(t *testing.T) {
	records := []models.PackageRecord{
		npmRecord("root", "1.0.0"),
		npmRecord("b", "1.0.0"),
		npmRecord("c", "1.0.0"),
	}
	edges := []models.Relationship{
		dependsOn("root", "b"),
		dependsOn("b", "c"),
		dependsOn("c", "b"),
		dependsOn("c", "c"),
	}

	g := NewBuilder(nil, nil).Build(records, edges, "SPDXRef-root")

	require.Equal(t, 2, g.Len())
	b := mustNode(t, g, "b", "1.0.0")
	assert.Equal(t, models.RelationDirect, b.Relation)
	assert.Equal(t, []string{"npm:c@1.0.0", "npm:root@1.0.0"}, b.Parents)
	assert.Equal(t, models.RelationTransitive, mustNode(t, g, "c", "1.0.0").Relation)
}

func TestBuildKeepsDisconnectedNodes(t *testing.T) {
	records := []models.PackageRecord{
		npmRecord("orphan", "0.1.0"),
		npmRecord("root", "1.0.0"),
		npmRecord("b", "1.0.0"),
	}
	edges := []models.Relationship{dependsOn("root", "b")}

	g := NewBuilder(nil, nil).Build(records, edges, "SPDXRef-root")

	require.Equal(t, 2, g.Len())
	assert.Equal(t, "npm:b@1.0.0", g.Nodes[0].NodeID, "reachable nodes come first")
	orphan := g.Nodes[1]
	assert.Equal(t, "npm:orphan@0.1.0", orphan.NodeID)
	assert.Equal(t, models.RelationUnknown, orphan.Relation)
	assert.Equal(t, 0, orphan.Depth)
	assert.Empty(t, orphan.Parents)

	counts := g.CountByRelation()
	assert.Equal(t, 1, counts[models.RelationDirect])
	assert.Equal(t, 1, counts[models.RelationUnknown])
}

func TestBuildEdgeFiltering(t *testing.T) {
	records := []models.PackageRecord{
		npmRecord("b", "1.0.0"),
		npmRecord("c", "1.0.0"),
		npmRecord("d", "1.0.0"),
	}
	edges := []models.Relationship{
		{From: "SPDXRef-DOCUMENT", To: "SPDXRef-b", Type: "DESCRIBES"},
		{From: "SPDXRef-DOCUMENT", To: "SPDXRef-b", Type: "DEPENDS_ON"},
		{From: "SPDXRef-b", To: "SPDXRef-c", Type: "dependsOn"},
		{From: "SPDXRef-b", To: "SPDXRef-d", Type: "CONTAINS"},
		{From: "SPDXRef-b", To: "SPDXRef-missing", Type: "DEPENDS_ON"},
		{From: "SPDXRef-b", To: "SPDXRef-c", Type: "DEPENDS_ON"},
	}

	g := NewBuilder(nil, nil).Build(records, edges, "SPDXRef-DOCUMENT")

	assert.Equal(t, 1, g.DanglingEdges)
	b := mustNode(t, g, "b", "1.0.0")
	assert.Equal(t, models.RelationDirect, b.Relation)
	assert.Equal(t, []string{"SPDXRef-DOCUMENT"}, b.Parents)
	c := mustNode(t, g, "c", "1.0.0")
	assert.Equal(t, models.RelationTransitive, c.Relation)
	assert.Equal(t, []string{"npm:b@1.0.0"}, c.Parents)
	assert.Equal(t, models.RelationUnknown, mustNode(t, g, "d", "1.0.0").Relation, "CONTAINS is not consumed")
}

func TestBuildMergesDuplicateRecords(t *testing.T) {
	dup := models.NewPackageRecord("SPDXRef-b-again", models.Identity{Name: "B", Version: "1.0.0"})
	dup.DeclaredEcosystem = "npm"

	records := []models.PackageRecord{
		npmRecord("root", "1.0.0"),
		npmRecord("b", "1.0.0"),
		dup,
		npmRecord("c", "1.0.0"),
	}
	edges := []models.Relationship{
		dependsOn("root", "b"),
		{From: "SPDXRef-b-again", To: "SPDXRef-c", Type: models.RelationshipDependsOn},
	}

	g := NewBuilder(nil, nil).Build(records, edges, "SPDXRef-root")

	require.Equal(t, 2, g.Len())
	c := mustNode(t, g, "c", "1.0.0")
	assert.Equal(t, models.RelationTransitive, c.Relation)
	assert.Equal(t, []string{"npm:b@1.0.0"}, c.Parents)
}

func TestBuildIsIdempotent(t *testing.T) {
	records := []models.PackageRecord{
		npmRecord("root", "1.0.0"),
		npmRecord("b", "1.0.0"),
		npmRecord("c", "1.0.0"),
		npmRecord("d", "1.0.0"),
		npmRecord("e", "1.0.0"),
	}
	edges := []models.Relationship{
		dependsOn("root", "b"),
		dependsOn("root", "c"),
		dependsOn("b", "d"),
		dependsOn("c", "d"),
		dependsOn("d", "e"),
		dependsOn("e", "b"),
	}

	builder := NewBuilder(nil, nil)
	first := builder.Build(records, edges, "SPDXRef-root")
	second := builder.Build(records, edges, "SPDXRef-root")

	assert.Equal(t, first.Nodes, second.Nodes)
	d := mustNode(t, first, "d", "1.0.0")
	assert.Equal(t, []string{"npm:b@1.0.0", "npm:c@1.0.0"}, d.Parents)
}

func TestBuildWithoutRoot(t *testing.T) {
	records := []models.PackageRecord{npmRecord("b", "1.0.0"), npmRecord("c", "1.0.0")}
	edges := []models.Relationship{dependsOn("b", "c")}

	g := NewBuilder(nil, nil).Build(records, edges, "")

	require.Equal(t, 2, g.Len())
	for _, n := range g.Nodes {
		assert.Equal(t, models.RelationUnknown, n.Relation)
	}
	assert.Equal(t, []string{"npm:b@1.0.0"}, mustNode(t, g, "c", "1.0.0").Parents)
	assert.Equal(t, 2, g.Tiers[models.ConfidenceIdentifier])
}

func TestBuildDoesNotGuessTheRootEcosystem(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	root := models.NewPackageRecord("SPDXRef-root", models.Identity{Name: "com.github.acme/app", Version: "main"})
	records := []models.PackageRecord{root, npmRecord("b", "1.0.0")}
	edges := []models.Relationship{dependsOn("root", "b")}

	g := NewBuilder(nil, logger).Build(records, edges, "SPDXRef-root")

	assert.Empty(t, logs.String(), "root name is not run through the name heuristics")
	assert.Zero(t, g.Tiers[models.ConfidenceHeuristic])
	assert.Equal(t, models.NodeID(models.EcosystemUnresolved, "com.github.acme/app", "main"), g.RootID)
	assert.Equal(t, models.RelationDirect, mustNode(t, g, "b", "1.0.0").Relation)
}

func TestBuildKeepsVersionKind(t *testing.T) {
	ranged := models.NewPackageRecord("SPDXRef-b", models.Identity{Name: "b", Version: "2.0.0", Constraint: "^2.0.0"})
	ranged.PackageRef = "pkg:npm/b@2.0.0"
	ranged.VersionKind = models.VersionRange
	exact := npmRecord("c", "3.0.0")
	exact.VersionKind = models.VersionExact

	g := NewBuilder(nil, nil).Build([]models.PackageRecord{npmRecord("a", "1.0.0"), ranged, exact},
		[]models.Relationship{dependsOn("a", "b"), dependsOn("a", "c")}, "SPDXRef-a")

	b := mustNode(t, g, "b", "2.0.0")
	assert.Equal(t, models.VersionRange, b.VersionKind)
	assert.Equal(t, "^2.0.0", b.Constraint)
	assert.Equal(t, models.VersionExact, mustNode(t, g, "c", "3.0.0").VersionKind)
}
