// Package stats counts how often dependencies occur across a set of SBOMs.
package stats

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
)

// Entry is one dependency and the number of SBOMs that contain it
type Entry struct {
	Name      string           `json:"name"`
	Ecosystem models.Ecosystem `json:"ecosystem"`
	Count     int              `json:"count"`
	Direct    int              `json:"direct"`
	Versions  []string         `json:"versions"`
}

// Counter accumulates occurrences. Each SBOM counts a dependency once.
type Counter struct {
	sboms   int
	entries map[string]*Entry
}

// NewCounter creates an empty counter
func NewCounter() *Counter {
	return &Counter{entries: make(map[string]*Entry)}
}

// SBOMs returns the number of node lists added
func (c *Counter) SBOMs() int {
	return c.sboms
}

// Add counts the nodes of one SBOM. Build tooling and workflow actions are
// not dependencies of the shipped artifact and are skipped.
func (c *Counter) Add(nodes []models.DependencyNode) {
	c.sboms++

	seen := make(map[string]bool)
	for _, n := range nodes {
		if excluded(n) {
			continue
		}
		key := n.Ecosystem.String() + ":" + n.Ecosystem.CanonicalName(n.Name)
		e, ok := c.entries[key]
		if !ok {
			e = &Entry{Name: n.Name, Ecosystem: n.Ecosystem}
			c.entries[key] = e
		}
		if n.Version != "" && !slices.Contains(e.Versions, n.Version) {
			e.Versions = append(e.Versions, n.Version)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		e.Count++
		if n.Relation == models.RelationDirect {
			e.Direct++
		}
	}
}

// Summary totals a counter
type Summary struct {
	SBOMs       int `json:"sboms"`
	Unique      int `json:"unique_dependencies"`
	Occurrences int `json:"total_occurrences"`
}

// Summary returns the number of SBOMs, distinct dependencies and
// dependency occurrences counted so far
func (c *Counter) Summary() Summary {
	occurrences := lo.SumBy(lo.Values(c.entries), func(e *Entry) int {
		return e.Count
	})
	return Summary{SBOMs: c.sboms, Unique: len(c.entries), Occurrences: occurrences}
}

func excluded(n models.DependencyNode) bool {
	return n.Category == models.CategoryBuild || n.Ecosystem == models.EcosystemGitHubActions
}

// Top returns the n most frequent dependencies, most frequent first; n <= 0
// returns all of them
func (c *Counter) Top(n int) []Entry {
	entries := lo.Map(lo.Values(c.entries), func(e *Entry, _ int) Entry {
		out := *e
		out.Versions = slices.Clone(e.Versions)
		slices.Sort(out.Versions)
		return out
	})
	slices.SortFunc(entries, func(a, b Entry) int {
		if x := cmp.Compare(b.Count, a.Count); x != 0 {
			return x
		}
		if x := cmp.Compare(a.Ecosystem, b.Ecosystem); x != 0 {
			return x
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Render prints entries as a table with their share of all SBOMs
func Render(entries []Entry, sboms int) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"#", "Dependency", "Ecosystem", "SBOMs", "Share", "Direct", "Versions"})
	for i, e := range entries {
		share := 0.0
		if sboms > 0 {
			share = float64(e.Count) / float64(sboms) * 100
		}
		versions := fmt.Sprint(len(e.Versions))
		if len(e.Versions) == 1 {
			versions = e.Versions[0]
		}
		tw.AppendRow(table.Row{i + 1, e.Name, e.Ecosystem.String(), e.Count, fmt.Sprintf("%.0f%%", share), e.Direct, versions})
	}
	return tw.Render()
}
