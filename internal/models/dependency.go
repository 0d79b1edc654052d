package models

import (
	"net/url"
	"regexp"
	"strings"
)

// Ecosystem represents a package ecosystem, named the way OSV names it
type Ecosystem string

const (
	EcosystemUnresolved    Ecosystem = ""
	EcosystemNpm           Ecosystem = "npm"
	EcosystemPyPI          Ecosystem = "PyPI"
	EcosystemGo            Ecosystem = "Go"
	EcosystemMaven         Ecosystem = "Maven"
	EcosystemNuGet         Ecosystem = "NuGet"
	EcosystemRubyGems      Ecosystem = "RubyGems"
	EcosystemCrates        Ecosystem = "crates.io"
	EcosystemPackagist     Ecosystem = "Packagist"
	EcosystemPub           Ecosystem = "Pub"
	EcosystemHex           Ecosystem = "Hex"
	EcosystemHackage       Ecosystem = "Hackage"
	EcosystemSwiftURL      Ecosystem = "SwiftURL"
	EcosystemGitHubActions Ecosystem = "GitHub Actions"
	EcosystemDebian        Ecosystem = "Debian"
	EcosystemAlpine        Ecosystem = "Alpine"
)

// String returns the ecosystem name, or "unresolved"
func (e Ecosystem) String() string {
	if e == EcosystemUnresolved {
		return "unresolved"
	}
	return string(e)
}

// Resolved returns true if the ecosystem is known
func (e Ecosystem) Resolved() bool {
	return e != EcosystemUnresolved
}

// caseInsensitive lists registries that treat package names case-insensitively
var caseInsensitive = map[Ecosystem]bool{
	EcosystemNpm:       true,
	EcosystemPyPI:      true,
	EcosystemNuGet:     true,
	EcosystemPackagist: true,
	EcosystemCrates:    true,
}

var pep503Separators = regexp.MustCompile(`[-_.]+`)

// CanonicalName folds a package name the way the ecosystem's registry compares names
func (e Ecosystem) CanonicalName(name string) string {
	name = strings.TrimSpace(name)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if caseInsensitive[e] {
		name = strings.ToLower(name)
	}
	if e == EcosystemPyPI {
		// PEP 503 normalization
		name = pep503Separators.ReplaceAllString(name, "-")
	}
	return name
}

// Category is a provenance hint for a package, not security relevant by itself
type Category string

const (
	CategoryCode           Category = "code"
	CategoryBuild          Category = "build"
	CategoryInfrastructure Category = "infrastructure"
	CategoryUnspecified    Category = "unspecified"
)

// Confidence records which resolver tier produced an ecosystem
type Confidence string

const (
	ConfidenceNone       Confidence = "none"
	ConfidenceHeuristic  Confidence = "heuristic"
	ConfidenceDeclared   Confidence = "declared"
	ConfidenceIdentifier Confidence = "identifier"
)

// VersionKind describes how a declared version string should be interpreted
type VersionKind string

const (
	VersionExact VersionKind = "exact"
	VersionRange VersionKind = "range"
	VersionEmpty VersionKind = "empty"
)

// Identity is the name and version an SBOM declares for a package
type Identity struct {
	Name       string
	Version    string // best-effort exact version, range operators stripped
	Constraint string // version string as declared
}

// PackageRecord is one SBOM-declared package after normalization
type PackageRecord struct {
	ElementID         string // SBOM-local id (SPDXID, bom-ref) used by relationships
	PackageRef        string // structured identifier, usually a purl
	DeclaredEcosystem string // explicit ecosystem hint from the source document
	Category          Category
	VersionKind       VersionKind

	identity Identity
}

// NewPackageRecord creates a record; the identity cannot change afterwards
func NewPackageRecord(elementID string, identity Identity) PackageRecord {
	return PackageRecord{
		ElementID:   elementID,
		Category:    CategoryUnspecified,
		VersionKind: VersionEmpty,
		identity:    identity,
	}
}

// Identity returns the declared name and version
func (r PackageRecord) Identity() Identity {
	return r.identity
}

// Name returns the declared package name
func (r PackageRecord) Name() string {
	return r.identity.Name
}

// String returns a human-readable representation
func (r PackageRecord) String() string {
	if r.identity.Version == "" {
		return r.identity.Name
	}
	return r.identity.Name + "@" + r.identity.Version
}

// Relation classifies a node by its distance from the graph root
type Relation string

const (
	RelationDirect             Relation = "direct"
	RelationTransitive         Relation = "transitive"
	RelationTransitiveIndirect Relation = "transitive-indirect"
	RelationUnknown            Relation = "unknown"
)

// RelationForDepth maps a breadth-first depth to a relation
func RelationForDepth(depth int) Relation {
	switch {
	case depth == 1:
		return RelationDirect
	case depth == 2:
		return RelationTransitive
	case depth >= 3:
		return RelationTransitiveIndirect
	default:
		return RelationUnknown
	}
}

// DependencyNode is a package record placed in the dependency graph
type DependencyNode struct {
	NodeID      string      `json:"node_id"`
	ElementID   string      `json:"element_id,omitempty"`
	Name        string      `json:"name"`
	Version     string      `json:"version,omitempty"`
	Constraint  string      `json:"constraint,omitempty"`
	VersionKind VersionKind `json:"version_kind,omitempty"`
	PackageRef  string      `json:"package_ref,omitempty"`
	Category    Category    `json:"category"`
	Ecosystem   Ecosystem   `json:"ecosystem"`
	Confidence  Confidence  `json:"confidence"`
	Relation    Relation    `json:"relation"`
	Depth       int         `json:"depth"` // 0 when unreachable from the root
	Parents     []string    `json:"parents,omitempty"`
}

// String returns a human-readable representation
func (n DependencyNode) String() string {
	if n.Version == "" {
		return n.Name
	}
	return n.Name + "@" + n.Version
}

// NodeID builds the stable graph key for a package
func NodeID(ecosystem Ecosystem, name, version string) string {
	return ecosystem.String() + ":" + ecosystem.CanonicalName(name) + "@" + strings.TrimSpace(version)
}

// CacheKey builds the read-through cache key for a feed lookup
func CacheKey(ecosystem Ecosystem, name, version string) string {
	return ecosystem.String() + ":" + name + ":" + version
}
