package models

import (
	"slices"
	"time"

	"github.com/pkg/errors"
)

// ErrFrozen is returned when recording into a finalized result
var ErrFrozen = errors.New("analysis result is final")

// RunStatus is the lifecycle state of an analysis run
type RunStatus string

const (
	StatusPending    RunStatus = "pending"
	StatusProcessing RunStatus = "processing"
	StatusCompleted  RunStatus = "completed"
	StatusCancelled  RunStatus = "cancelled"
)

// Diagnostics tallies non-fatal events of a run
type Diagnostics struct {
	Rejected              int                `json:"rejected_entries"`
	DanglingEdges         int                `json:"dangling_edges"`
	FilteredFindings      int                `json:"filtered_findings"`
	LowConfidenceFindings int                `json:"low_confidence_findings"`
	BatchFallbacks        int                `json:"batch_fallbacks"`
	FailedQueries         int                `json:"failed_queries"`
	FailedNodes           int                `json:"failed_nodes"`
	Unversioned           int                `json:"unversioned"`
	KnownExploited        int                `json:"known_exploited,omitempty"`
	ResolutionTiers       map[Confidence]int `json:"resolution_tiers,omitempty"`
}

// Add folds another tally into d
func (d *Diagnostics) Add(o Diagnostics) {
	d.Rejected += o.Rejected
	d.DanglingEdges += o.DanglingEdges
	d.FilteredFindings += o.FilteredFindings
	d.LowConfidenceFindings += o.LowConfidenceFindings
	d.BatchFallbacks += o.BatchFallbacks
	d.FailedQueries += o.FailedQueries
	d.FailedNodes += o.FailedNodes
	d.Unversioned += o.Unversioned
	for tier, n := range o.ResolutionTiers {
		if d.ResolutionTiers == nil {
			d.ResolutionTiers = make(map[Confidence]int)
		}
		d.ResolutionTiers[tier] += n
	}
}

// AnalysisResult is the aggregate of one run. Counts only ever increase.
type AnalysisResult struct {
	RunID              string           `json:"run_id"`
	Source             string           `json:"source,omitempty"`
	Status             RunStatus        `json:"status"`
	Final              bool             `json:"final"`
	TotalPackages      int              `json:"total_packages"`
	Processed          int              `json:"processed"`
	VulnerablePackages int              `json:"vulnerable_packages"`
	FindingsBySeverity map[Severity]int `json:"findings_by_severity"`
	VulnerableNodes    []VulnerableNode `json:"vulnerable_nodes"`
	ProcessedIDs       []string         `json:"processed_ids,omitempty"`
	Diagnostics        Diagnostics      `json:"diagnostics"`
	StartedAt          time.Time        `json:"started_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NewAnalysisResult creates an empty result for a run
func NewAnalysisResult(runID, source string, totalPackages int) *AnalysisResult {
	now := time.Now().UTC()
	return &AnalysisResult{
		RunID:              runID,
		Source:             source,
		Status:             StatusPending,
		TotalPackages:      totalPackages,
		FindingsBySeverity: make(map[Severity]int),
		StartedAt:          now,
		UpdatedAt:          now,
	}
}

// Record folds the findings for one processed node into the result
func (r *AnalysisResult) Record(node DependencyNode, findings []Finding) error {
	if r.Final {
		return ErrFrozen
	}
	if r.FindingsBySeverity == nil {
		r.FindingsBySeverity = make(map[Severity]int)
	}

	r.Processed++
	r.ProcessedIDs = append(r.ProcessedIDs, node.NodeID)
	r.UpdatedAt = time.Now().UTC()

	if len(findings) == 0 {
		return nil
	}

	r.VulnerablePackages++
	for _, f := range findings {
		r.FindingsBySeverity[f.Severity]++
	}
	r.VulnerableNodes = append(r.VulnerableNodes, VulnerableNode{
		Node:     node,
		Findings: slices.Clone(findings),
	})
	return nil
}

// Freeze finalizes the result; later Record calls fail
func (r *AnalysisResult) Freeze(status RunStatus) {
	r.Status = status
	r.Final = true
	r.UpdatedAt = time.Now().UTC()
}

// TotalFindings returns the number of findings across all severities
func (r *AnalysisResult) TotalFindings() int {
	total := 0
	for _, n := range r.FindingsBySeverity {
		total += n
	}
	return total
}

// ProcessedSet returns the ids of nodes already folded into the result
func (r *AnalysisResult) ProcessedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.ProcessedIDs))
	for _, id := range r.ProcessedIDs {
		set[id] = struct{}{}
	}
	return set
}

// Clone returns a deep copy that shares no mutable state with r
func (r *AnalysisResult) Clone() *AnalysisResult {
	c := *r
	c.FindingsBySeverity = make(map[Severity]int, len(r.FindingsBySeverity))
	for k, v := range r.FindingsBySeverity {
		c.FindingsBySeverity[k] = v
	}
	c.VulnerableNodes = make([]VulnerableNode, len(r.VulnerableNodes))
	for i, vn := range r.VulnerableNodes {
		vn.Node.Parents = slices.Clone(vn.Node.Parents)
		vn.Findings = slices.Clone(vn.Findings)
		c.VulnerableNodes[i] = vn
	}
	c.ProcessedIDs = slices.Clone(r.ProcessedIDs)
	c.Diagnostics.ResolutionTiers = nil
	c.Diagnostics.Add(Diagnostics{ResolutionTiers: r.Diagnostics.ResolutionTiers})
	return &c
}

// Report is the flat, read-only rendering of a result handed to reporters
type Report struct {
	RunID       string        `json:"run_id"`
	Source      string        `json:"source,omitempty"`
	Status      RunStatus     `json:"status"`
	Final       bool          `json:"final"`
	Summary     ReportSummary `json:"summary"`
	Nodes       []ReportNode  `json:"nodes"`
	Diagnostics Diagnostics   `json:"diagnostics"`
}

// ReportSummary holds the run counters
type ReportSummary struct {
	TotalPackages      int              `json:"total_packages"`
	Processed          int              `json:"processed"`
	VulnerablePackages int              `json:"vulnerable_packages"`
	TotalFindings      int              `json:"total_findings"`
	BySeverity         map[Severity]int `json:"by_severity"`
}

// ReportNode is one vulnerable node in a report
type ReportNode struct {
	NodeID      string          `json:"node_id"`
	Name        string          `json:"name"`
	Version     string          `json:"version,omitempty"`
	VersionKind VersionKind     `json:"version_kind,omitempty"`
	Constraint  string          `json:"constraint,omitempty"` // set when the version came from a range
	Ecosystem   string          `json:"ecosystem"`
	Relation    Relation        `json:"relation"`
	Parents     []string        `json:"parents"`
	Findings    []ReportFinding `json:"findings"`
}

// ReportFinding is one finding in a report
type ReportFinding struct {
	ID           string        `json:"id"`
	Severity     Severity      `json:"severity"`
	Summary      string        `json:"summary"`
	Exploitation *Exploitation `json:"exploitation,omitempty"`
}

// Snapshot flattens the result for presentation
func (r *AnalysisResult) Snapshot() Report {
	c := r.Clone()
	report := Report{
		RunID:  c.RunID,
		Source: c.Source,
		Status: c.Status,
		Final:  c.Final,
		Summary: ReportSummary{
			TotalPackages:      c.TotalPackages,
			Processed:          c.Processed,
			VulnerablePackages: c.VulnerablePackages,
			TotalFindings:      c.TotalFindings(),
			BySeverity:         c.FindingsBySeverity,
		},
		Nodes:       make([]ReportNode, 0, len(c.VulnerableNodes)),
		Diagnostics: c.Diagnostics,
	}

	for _, vn := range c.VulnerableNodes {
		rn := ReportNode{
			NodeID:      vn.Node.NodeID,
			Name:        vn.Node.Name,
			Version:     vn.Node.Version,
			VersionKind: vn.Node.VersionKind,
			Ecosystem:   vn.Node.Ecosystem.String(),
			Relation:    vn.Node.Relation,
			Parents:     vn.Node.Parents,
			Findings:    make([]ReportFinding, 0, len(vn.Findings)),
		}
		if vn.Node.VersionKind == VersionRange {
			rn.Constraint = vn.Node.Constraint
		}
		if rn.Parents == nil {
			rn.Parents = []string{}
		}
		for _, f := range vn.Findings {
			rn.Findings = append(rn.Findings, ReportFinding{
				ID:           f.VulnID,
				Severity:     f.Severity,
				Summary:      f.Summary,
				Exploitation: f.Exploitation,
			})
		}
		report.Nodes = append(report.Nodes, rn)
	}
	return report
}
