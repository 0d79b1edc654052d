package reporter

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/owenrumney/go-sarif/v2/sarif"
)

// SARIFReporter outputs findings in SARIF format for GitHub Code Scanning
type SARIFReporter struct {
	Version string
}

const informationURI = "https://github.com/ethanolivertroy/sbomgraph"

// Report generates SARIF output for the given result. Each vulnerability id
// becomes a rule; each (node, vulnerability) pair becomes a result located
// at the analyzed SBOM.
func (r *SARIFReporter) Report(result *models.AnalysisResult) ([]byte, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, err
	}

	run := sarif.NewRunWithInformationURI("sbomgraph", informationURI)
	if r.Version != "" {
		run.Tool.Driver.Version = &r.Version
	}

	source := result.Source
	if source == "" {
		source = "sbom.json"
	}

	rules := make(map[string]bool)
	for _, vn := range result.VulnerableNodes {
		for _, f := range vn.Findings {
			if !rules[f.VulnID] {
				rules[f.VulnID] = true
				addRule(run, f)
			}

			location := sarif.NewLocation().WithPhysicalLocation(
				sarif.NewPhysicalLocation().
					WithArtifactLocation(sarif.NewArtifactLocation().WithUri(source)).
					WithRegion(sarif.NewRegion().WithStartLine(1)),
			)

			res := sarif.NewRuleResult(f.VulnID).
				WithMessage(sarif.NewTextMessage(resultMessage(vn.Node, f))).
				WithLevel(sarifLevel(f.Severity)).
				WithLocations([]*sarif.Location{location})
			run.AddResult(res)
		}
	}

	report.AddRun(run)

	var buf bytes.Buffer
	if err := report.PrettyWrite(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addRule(run *sarif.Run, f models.Finding) {
	summary := f.Summary
	if summary == "" {
		summary = f.VulnID
	}
	details := f.Details
	if details == "" {
		details = summary
	}

	tags := []string{"security", "vulnerability", string(f.Severity)}
	if f.KnownExploited {
		tags = append(tags, "known-exploited")
	}
	if e := f.Exploitation; e != nil && e.RansomwareUse {
		tags = append(tags, "ransomware")
	}
	props := sarif.Properties{"tags": tags}
	if e := f.Exploitation; e != nil {
		if !e.DateAdded.IsZero() {
			props["kev-date-added"] = e.DateAdded.Format(time.DateOnly)
		}
		if !e.DueDate.IsZero() {
			props["kev-due-date"] = e.DueDate.Format(time.DateOnly)
		}
	}
	if score := securitySeverity(f); score != "" {
		props["security-severity"] = score
	}

	rule := run.AddRule(f.VulnID).
		WithName(f.VulnID).
		WithShortDescription(sarif.NewMultiformatMessageString(summary)).
		WithFullDescription(sarif.NewMultiformatMessageString(details)).
		WithDefaultConfiguration(&sarif.ReportingConfiguration{
			Level: sarifLevel(f.Severity),
		}).
		WithProperties(props)
	if len(f.References) > 0 {
		rule.WithHelpURI(f.References[0])
	} else {
		rule.WithHelpURI("https://osv.dev/vulnerability/" + f.VulnID)
	}
}

func resultMessage(n models.DependencyNode, f models.Finding) string {
	msg := fmt.Sprintf("Dependency %s (%s, %s) is affected by %s", n.String(), n.Ecosystem, n.Relation, f.VulnID)
	if f.Summary != "" {
		msg += ": " + f.Summary
	}
	if n.VersionKind == models.VersionRange {
		msg += fmt.Sprintf(" [version taken from range %s]", n.Constraint)
	}
	if len(n.Parents) > 0 {
		msg += fmt.Sprintf(" [introduced by %s]", strings.Join(n.Parents, ", "))
	}
	if f.KnownExploited {
		msg += " [known exploited]"
	}
	if f.LowConfidence {
		msg += " [ecosystem unresolved, low confidence]"
	}
	return msg
}

func sarifLevel(sev models.Severity) string {
	switch sev {
	case models.SeverityCritical, models.SeverityHigh:
		return "error"
	case models.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// securitySeverity is the numeric score GitHub code scanning ranks by
func securitySeverity(f models.Finding) string {
	if f.Score > 0 {
		return fmt.Sprintf("%.1f", f.Score)
	}
	switch f.Severity {
	case models.SeverityCritical:
		return "9.5"
	case models.SeverityHigh:
		return "8.0"
	case models.SeverityMedium:
		return "5.5"
	case models.SeverityLow:
		return "2.0"
	}
	return ""
}
