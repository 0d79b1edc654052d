package models

import (
	"slices"
	"strings"
	"time"
)

// Severity is the normalized severity of a finding
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
	SeverityUnknown       Severity = "unknown"
)

// Severities lists every severity from most to least severe
var Severities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInformational,
	SeverityUnknown,
}

// Rank returns an integer rank for comparison (Unknown=0, Critical=5)
func (s Severity) Rank() int {
	switch s {
	case SeverityInformational:
		return 1
	case SeverityLow:
		return 2
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 4
	case SeverityCritical:
		return 5
	default:
		return 0
	}
}

// ParseSeverity parses a severity name case-insensitively; "moderate" is "medium"
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, true
	case "high":
		return SeverityHigh, true
	case "medium", "moderate":
		return SeverityMedium, true
	case "low":
		return SeverityLow, true
	case "informational", "info":
		return SeverityInformational, true
	default:
		return SeverityUnknown, false
	}
}

// Finding is one vulnerability attributed to a dependency node
type Finding struct {
	VulnID             string        `json:"id"`
	Aliases            []string      `json:"aliases,omitempty"`
	Severity           Severity      `json:"severity"`
	Score              float64       `json:"score,omitempty"` // derived from a scored vector, 0 when unavailable
	AffectedEcosystems []Ecosystem   `json:"affected_ecosystems,omitempty"`
	SourceNodeID       string        `json:"source_node_id"`
	Summary            string        `json:"summary,omitempty"`
	Details            string        `json:"details,omitempty"`
	References         []string      `json:"references,omitempty"`
	LowConfidence      bool          `json:"low_confidence,omitempty"`  // node ecosystem unresolved, not filtered
	KnownExploited     bool          `json:"known_exploited,omitempty"` // a CVE alias is in the CISA KEV catalog
	Exploitation       *Exploitation `json:"exploitation,omitempty"`
}

// Exploitation is the CISA KEV listing behind a known exploited finding
type Exploitation struct {
	CVE           string    `json:"cve"`
	DateAdded     time.Time `json:"date_added"`
	DueDate       time.Time `json:"due_date"`
	RansomwareUse bool      `json:"ransomware_use,omitempty"`
}

// AffectsEcosystem reports whether the finding's claimed scope includes the ecosystem.
// An empty scope is unknown and matches every ecosystem.
func (f Finding) AffectsEcosystem(e Ecosystem) bool {
	if len(f.AffectedEcosystems) == 0 {
		return true
	}
	return slices.ContainsFunc(f.AffectedEcosystems, func(a Ecosystem) bool {
		return strings.EqualFold(string(a), string(e))
	})
}

// CVEs returns the CVE identifiers among the id and aliases
func (f Finding) CVEs() []string {
	var cves []string
	for _, id := range append([]string{f.VulnID}, f.Aliases...) {
		if strings.HasPrefix(id, "CVE-") && !slices.Contains(cves, id) {
			cves = append(cves, id)
		}
	}
	return cves
}

// VulnerableNode pairs a node with the findings attributed to it
type VulnerableNode struct {
	Node     DependencyNode `json:"node"`
	Findings []Finding      `json:"findings"`
}

// MaxSeverity returns the most severe finding severity
func (v VulnerableNode) MaxSeverity() Severity {
	highest := SeverityUnknown
	for _, f := range v.Findings {
		if f.Severity.Rank() > highest.Rank() {
			highest = f.Severity
		}
	}
	return highest
}
