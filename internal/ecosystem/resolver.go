package ecosystem

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/package-url/packageurl-go"
)

// Resolution is the ecosystem chosen for a record and the tier that chose it
type Resolution struct {
	Ecosystem  models.Ecosystem
	Confidence models.Confidence
}

// Resolver maps package records to ecosystems. It holds no state besides the logger.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver; a nil logger uses slog.Default()
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

var (
	npmScopedName = regexp.MustCompile(`^@[a-zA-Z0-9][\w.-]*/[\w.-]+$`)
	mavenCoord    = regexp.MustCompile(`^[a-zA-Z][\w-]*(\.[\w-]+)+:[\w.-]+$`)
	goModulePath  = regexp.MustCompile(`^[a-z0-9-]+(\.[a-z0-9-]+)*\.[a-z]{2,}(/[^/\s@]+)+$`)
)

// Resolve runs the priority chain for one record. The same record always
// resolves to the same ecosystem.
func (r *Resolver) Resolve(rec models.PackageRecord) Resolution {
	if res := r.Explicit(rec); res.Confidence != models.ConfidenceNone {
		return res
	}

	if e, ok := fromNamePattern(rec.Name()); ok {
		r.logger.Warn("ecosystem guessed from package name, low confidence",
			"package", rec.Name(), "ecosystem", e, "tier", models.ConfidenceHeuristic)
		return Resolution{Ecosystem: e, Confidence: models.ConfidenceHeuristic}
	}

	r.logger.Debug("ecosystem unresolved", "package", rec.Name())
	return Resolution{Ecosystem: models.EcosystemUnresolved, Confidence: models.ConfidenceNone}
}

// Explicit runs only the identifier and declared-field tiers. It never
// guesses from the name.
func (r *Resolver) Explicit(rec models.PackageRecord) Resolution {
	if e, ok := FromIdentifier(rec.PackageRef); ok {
		r.logger.Debug("ecosystem from package identifier", "package", rec.Name(), "ecosystem", e)
		return Resolution{Ecosystem: e, Confidence: models.ConfidenceIdentifier}
	}

	if e, ok := Lookup(rec.DeclaredEcosystem); ok {
		r.logger.Debug("ecosystem from declared field", "package", rec.Name(), "ecosystem", e)
		return Resolution{Ecosystem: e, Confidence: models.ConfidenceDeclared}
	}
	return Resolution{Ecosystem: models.EcosystemUnresolved, Confidence: models.ConfidenceNone}
}

// FromIdentifier extracts the ecosystem from a scheme:type/name@version identifier
func FromIdentifier(ref string) (models.Ecosystem, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.EcosystemUnresolved, false
	}

	if p, err := packageurl.FromString(ref); err == nil {
		return Lookup(p.Type)
	}

	// not a valid purl, but it may still carry a readable type token
	_, rest, ok := strings.Cut(ref, ":")
	if !ok {
		return models.EcosystemUnresolved, false
	}
	typ, _, ok := strings.Cut(strings.TrimPrefix(rest, "//"), "/")
	if !ok {
		return models.EcosystemUnresolved, false
	}
	return Lookup(typ)
}

func fromNamePattern(name string) (models.Ecosystem, bool) {
	switch {
	case npmScopedName.MatchString(name):
		return models.EcosystemNpm, true
	case mavenCoord.MatchString(name):
		return models.EcosystemMaven, true
	case goModulePath.MatchString(name):
		return models.EcosystemGo, true
	}
	return models.EcosystemUnresolved, false
}
