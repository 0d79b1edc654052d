package reporter

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TerminalReporter outputs findings in a human-readable terminal format
type TerminalReporter struct{}

// Report generates terminal output for the given result
func (r *TerminalReporter) Report(result *models.AnalysisResult) ([]byte, error) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Run %s: %s", result.RunID, result.Status))
	if !result.Final || result.Status == models.StatusCancelled {
		sb.WriteString(" (partial)")
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Analyzed %d of %d packages, %d vulnerable, %d findings\n\n",
		result.Processed, result.TotalPackages, result.VulnerablePackages, result.TotalFindings()))

	if len(result.VulnerableNodes) == 0 {
		sb.WriteString("No known vulnerabilities found in dependencies.\n")
		writeDiagnostics(&sb, result.Diagnostics)
		return []byte(sb.String()), nil
	}

	sev := table.NewWriter()
	sev.AppendHeader(table.Row{"Severity", "Findings"})
	for _, s := range models.Severities {
		if n := result.FindingsBySeverity[s]; n > 0 {
			sev.AppendRow(table.Row{s, n})
		}
	}
	sb.WriteString(sev.Render())
	sb.WriteString("\n\n")

	nodes := slices.Clone(result.VulnerableNodes)
	slices.SortStableFunc(nodes, func(a, b models.VulnerableNode) int {
		return cmp.Compare(b.MaxSeverity().Rank(), a.MaxSeverity().Rank())
	})

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Package", "Ecosystem", "Relation", "Vulnerability", "Severity", "Introduced By", "Summary"})
	for _, vn := range nodes {
		for _, f := range vn.Findings {
			id := f.VulnID
			if cves := f.CVEs(); len(cves) > 0 && cves[0] != id {
				id += " (" + cves[0] + ")"
			}
			if f.KnownExploited {
				id += " " + kevLabel(f.Exploitation)
			}
			severity := string(f.Severity)
			if f.LowConfidence {
				severity += "*"
			}
			pkg := vn.Node.String()
			if vn.Node.VersionKind == models.VersionRange {
				pkg += "\n(" + vn.Node.Constraint + ")"
			}
			tw.AppendRow(table.Row{
				pkg,
				vn.Node.Ecosystem.String(),
				vn.Node.Relation,
				id,
				severity,
				strings.Join(vn.Node.Parents, "\n"),
				text.WrapText(f.Summary, 60),
			})
		}
	}
	sb.WriteString(tw.Render())
	sb.WriteString("\n")

	if result.Diagnostics.LowConfidenceFindings > 0 {
		sb.WriteString("* package ecosystem unresolved; finding kept with low confidence\n")
	}
	if slices.ContainsFunc(nodes, func(vn models.VulnerableNode) bool {
		return vn.Node.VersionKind == models.VersionRange
	}) {
		sb.WriteString("(range) version declared as a range; its first bound was queried\n")
	}
	writeDiagnostics(&sb, result.Diagnostics)

	return []byte(sb.String()), nil
}

// kevLabel reads "[KEV, due 2021-11-17, ransomware]"; missing details are left out
func kevLabel(e *models.Exploitation) string {
	parts := []string{"KEV"}
	if e != nil {
		if !e.DueDate.IsZero() {
			parts = append(parts, "due "+e.DueDate.Format(time.DateOnly))
		}
		if e.RansomwareUse {
			parts = append(parts, "ransomware")
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func writeDiagnostics(sb *strings.Builder, d models.Diagnostics) {
	var notes []string
	if d.Rejected > 0 {
		notes = append(notes, fmt.Sprintf("%d SBOM entries rejected", d.Rejected))
	}
	if d.DanglingEdges > 0 {
		notes = append(notes, fmt.Sprintf("%d relationships referenced unknown elements", d.DanglingEdges))
	}
	if d.Unversioned > 0 {
		notes = append(notes, fmt.Sprintf("%d packages had no version and were not queried", d.Unversioned))
	}
	if d.KnownExploited > 0 {
		notes = append(notes, fmt.Sprintf("%d findings are known to be exploited (CISA KEV)", d.KnownExploited))
	}
	if d.FilteredFindings > 0 {
		notes = append(notes, fmt.Sprintf("%d findings dropped for ecosystem mismatch", d.FilteredFindings))
	}
	if d.BatchFallbacks > 0 {
		notes = append(notes, fmt.Sprintf("%d batches re-queried individually", d.BatchFallbacks))
	}
	if d.FailedNodes > 0 {
		notes = append(notes, fmt.Sprintf("%d packages could not be queried", d.FailedNodes))
	}
	if n := d.ResolutionTiers[models.ConfidenceHeuristic]; n > 0 {
		notes = append(notes, fmt.Sprintf("%d ecosystems inferred from name patterns", n))
	}
	if len(notes) == 0 {
		return
	}
	sb.WriteString("\nNotes:\n")
	for _, n := range notes {
		sb.WriteString("  - " + n + "\n")
	}
}
