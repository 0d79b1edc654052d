// Package ecosystem decides which package registry a dependency belongs to.
//
// Resolution walks a fixed priority chain: the structured package identifier,
// then an explicitly declared ecosystem, then name-pattern heuristics. The
// heuristic tier is the usual source of silent misclassification, so every
// guess is logged at WARN and reported as a distinct confidence tier.
package ecosystem

import (
	"strings"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
)

// aliases maps identifier type tokens and common spellings to OSV ecosystem names
var aliases = map[string]models.Ecosystem{
	"npm":            models.EcosystemNpm,
	"pypi":           models.EcosystemPyPI,
	"pip":            models.EcosystemPyPI,
	"golang":         models.EcosystemGo,
	"go":             models.EcosystemGo,
	"maven":          models.EcosystemMaven,
	"nuget":          models.EcosystemNuGet,
	"gem":            models.EcosystemRubyGems,
	"rubygems":       models.EcosystemRubyGems,
	"cargo":          models.EcosystemCrates,
	"crates.io":      models.EcosystemCrates,
	"composer":       models.EcosystemPackagist,
	"packagist":      models.EcosystemPackagist,
	"pub":            models.EcosystemPub,
	"hex":            models.EcosystemHex,
	"hackage":        models.EcosystemHackage,
	"swift":          models.EcosystemSwiftURL,
	"swifturl":       models.EcosystemSwiftURL,
	"githubactions":  models.EcosystemGitHubActions,
	"github actions": models.EcosystemGitHubActions,
	"actions":        models.EcosystemGitHubActions,
	"deb":            models.EcosystemDebian,
	"debian":         models.EcosystemDebian,
	"apk":            models.EcosystemAlpine,
	"alpine":         models.EcosystemAlpine,
}

// purlTypes is the reverse of aliases for building identifiers
var purlTypes = map[models.Ecosystem]string{
	models.EcosystemNpm:           "npm",
	models.EcosystemPyPI:          "pypi",
	models.EcosystemGo:            "golang",
	models.EcosystemMaven:         "maven",
	models.EcosystemNuGet:         "nuget",
	models.EcosystemRubyGems:      "gem",
	models.EcosystemCrates:        "cargo",
	models.EcosystemPackagist:     "composer",
	models.EcosystemPub:           "pub",
	models.EcosystemHex:           "hex",
	models.EcosystemHackage:       "hackage",
	models.EcosystemSwiftURL:      "swift",
	models.EcosystemGitHubActions: "githubactions",
	models.EcosystemDebian:        "deb",
	models.EcosystemAlpine:        "apk",
}

// Lookup normalizes an ecosystem token through the alias table.
// Qualified feed names such as "Debian:12" resolve to their base ecosystem.
func Lookup(token string) (models.Ecosystem, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return models.EcosystemUnresolved, false
	}
	if e, ok := aliases[token]; ok {
		return e, true
	}
	if base, _, found := strings.Cut(token, ":"); found {
		if e, ok := aliases[base]; ok {
			return e, true
		}
	}
	return models.EcosystemUnresolved, false
}

// PurlType returns the package-url type for an ecosystem
func PurlType(e models.Ecosystem) (string, bool) {
	t, ok := purlTypes[e]
	return t, ok
}
