// Package normalize turns raw SBOM package entries into typed package records.
package normalize

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethanolivertroy/sbomgraph/internal/ecosystem"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/package-url/packageurl-go"
	"github.com/pkg/errors"
)

// ErrNoName is returned for entries that carry no usable package name
var ErrNoName = errors.New("package entry has no usable name")

// Rejection is a raw entry that could not be normalized
type Rejection struct {
	Entry models.RawPackage
	Err   error
}

// placeholder version strings that carry no version information
var emptyVersions = map[string]bool{
	"":            true,
	"unknown":     true,
	"noassertion": true,
	"none":        true,
	"*":           true,
	"x":           true,
	"latest":      true,
}

// rangeOperators are stripped from the front of a version comparator
const rangeOperators = "^~<>=!v \t"

// Version reduces a declared version string to a best-effort exact version.
// Compound ranges keep the first comparator's version.
func Version(raw string) (string, models.VersionKind) {
	trimmed := strings.TrimSpace(raw)
	if emptyVersions[strings.ToLower(trimmed)] {
		return "", models.VersionEmpty
	}

	v := trimmed
	if first, _, found := strings.Cut(v, "||"); found {
		v = first
	}
	if first, _, found := strings.Cut(v, ","); found {
		v = first
	}
	v = strings.TrimLeft(v, rangeOperators)
	if fields := strings.Fields(v); len(fields) > 0 {
		v = fields[0]
	}
	v = strings.TrimSpace(v)

	switch {
	case v == "":
		return "", models.VersionEmpty
	case v == trimmed:
		return v, models.VersionExact
	case strings.TrimPrefix(trimmed, "v") == v:
		// a bare "v1.2.3" is still an exact pin
		return trimmed, models.VersionExact
	case strings.HasPrefix(trimmed, "=") && strings.TrimSpace(strings.TrimLeft(trimmed, "=")) == v:
		// "==2.31.0" pins as well
		return v, models.VersionExact
	default:
		return v, models.VersionRange
	}
}

// Normalizer converts raw entries to package records
type Normalizer struct {
	logger *slog.Logger
}

// New creates a normalizer; a nil logger uses slog.Default()
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize builds a PackageRecord from one raw entry
func (n *Normalizer) Normalize(raw models.RawPackage) (models.PackageRecord, error) {
	name := strings.TrimSpace(raw.Name)
	declared := strings.TrimSpace(raw.Ecosystem)

	// dependency-graph exports prefix names with the package type, e.g. "npm:lodash"
	if prefix, rest, found := strings.Cut(name, ":"); found {
		if _, ok := ecosystem.Lookup(prefix); ok && !strings.Contains(prefix, ".") {
			name = strings.TrimSpace(rest)
			if declared == "" {
				declared = prefix
			}
		}
	}

	if name == "" || strings.EqualFold(name, "NOASSERTION") {
		return models.PackageRecord{}, errors.Wrapf(ErrNoName, "element %q", raw.ElementID)
	}

	version, kind := Version(raw.Version)
	rec := models.NewPackageRecord(raw.ElementID, models.Identity{
		Name:       name,
		Version:    version,
		Constraint: strings.TrimSpace(raw.Version),
	})
	rec.VersionKind = kind
	rec.DeclaredEcosystem = declared
	rec.Category = raw.Category

	ref := strings.TrimSpace(raw.PackageRef)
	if ref != "" {
		purl, err := packageurl.FromString(ref)
		switch {
		case err != nil:
			// not a purl; the resolver may still read its type token
			rec.PackageRef = ref
		case refAgrees(purl, name):
			rec.PackageRef = ref
			if rec.Category == "" {
				rec.Category = categoryFor(purl.Type)
			}
		default:
			n.logger.Warn("dropping package identifier that disagrees with the package name",
				"package", name, "ref", ref, "element", raw.ElementID)
		}
	}

	if rec.Category == "" && declared != "" {
		rec.Category = categoryFor(declared)
	}
	if rec.Category == "" {
		rec.Category = models.CategoryUnspecified
	}
	return rec, nil
}

// All normalizes every entry of a document, collecting rejections instead of failing
func (n *Normalizer) All(doc *models.Document) ([]models.PackageRecord, []Rejection) {
	records := make([]models.PackageRecord, 0, len(doc.Packages))
	var rejected []Rejection
	for _, raw := range doc.Packages {
		rec, err := n.Normalize(raw)
		if err != nil {
			n.logger.Debug("rejecting package entry", "element", raw.ElementID, "error", err)
			rejected = append(rejected, Rejection{Entry: raw, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

// refAgrees compares the identifier's name with the declared one under the
// ecosystem's casing and encoding rules. Either the namespaced or the bare
// name may match, since SBOM producers disagree on which one they declare.
func refAgrees(purl packageurl.PackageURL, name string) bool {
	eco, _ := ecosystem.Lookup(purl.Type)

	full := purl.Name
	if purl.Namespace != "" {
		sep := "/"
		if eco == models.EcosystemMaven {
			sep = ":"
		}
		full = purl.Namespace + sep + purl.Name
	}

	want := eco.CanonicalName(name)
	for _, candidate := range []string{full, purl.Name} {
		got := eco.CanonicalName(candidate)
		if got == want || (foldedByParser[eco] && strings.EqualFold(got, want)) {
			return true
		}
	}
	return false
}

// foldedByParser lists ecosystems whose purl namespace and name are lowercased on parse
var foldedByParser = map[models.Ecosystem]bool{
	models.EcosystemGo:     true,
	models.EcosystemDebian: true,
	models.EcosystemAlpine: true,
}

func categoryFor(token string) models.Category {
	switch strings.ToLower(token) {
	case "docker", "oci":
		return models.CategoryInfrastructure
	}
	eco, ok := ecosystem.Lookup(token)
	switch {
	case !ok:
		return models.CategoryUnspecified
	case eco == models.EcosystemGitHubActions:
		return models.CategoryBuild
	default:
		return models.CategoryCode
	}
}

// String renders a rejection for logs and reports
func (r Rejection) String() string {
	return fmt.Sprintf("%s (%s): %v", r.Entry.Name, r.Entry.ElementID, r.Err)
}
