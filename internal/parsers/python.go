package parsers

import (
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/samber/lo"
)

// PythonRequirementsParser parses requirements.txt files
type PythonRequirementsParser struct{}

// CanParse returns true for requirements.txt files
func (p *PythonRequirementsParser) CanParse(filename string, _ []byte) bool {
	return filename == "requirements.txt" ||
		strings.HasSuffix(filename, "-requirements.txt") ||
		strings.HasSuffix(filename, "_requirements.txt") ||
		filename == "requirements-dev.txt" ||
		filename == "requirements-test.txt"
}

// versionPattern matches package version specifiers like ==1.2.3, >=1.2.3, ~=1.2.3
var versionPattern = regexp.MustCompile(`^([a-zA-Z0-9_.-]+)\s*([<>=!~]+\s*[\d.]+.*)$`)

// simplePattern matches just package names without versions
var simplePattern = regexp.MustCompile(`^([a-zA-Z0-9_.-]+)\s*$`)

// Parse builds a document from requirements.txt content. Specifiers are kept
// whole; the normalizer reduces them.
func (p *PythonRequirementsParser) Parse(filepath string, content []byte) (*models.Document, error) {
	m := newManifest(filepath, models.EcosystemPyPI)

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)

		// Skip empty lines, comments, and options
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}

		// Remove inline comments
		if idx := strings.Index(line, "#"); idx > 0 {
			line = strings.TrimSpace(line[:idx])
		}

		name, version := parsePEP508(line)
		if name != "" {
			m.direct(name, version)
		}
	}

	return m.doc, nil
}

// PythonPyProjectParser parses pyproject.toml files
type PythonPyProjectParser struct{}

// CanParse returns true for pyproject.toml files
func (p *PythonPyProjectParser) CanParse(filename string, _ []byte) bool {
	return filename == "pyproject.toml"
}

// pyproject represents the structure of pyproject.toml
type pyproject struct {
	Project struct {
		Name                 string              `toml:"name"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies    map[string]interface{} `toml:"dependencies"`
			DevDependencies map[string]interface{} `toml:"dev-dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// Parse builds a document from pyproject.toml content, covering PEP 621
// tables and Poetry
func (p *PythonPyProjectParser) Parse(filepath string, content []byte) (*models.Document, error) {
	var proj pyproject
	if err := toml.Unmarshal(content, &proj); err != nil {
		return nil, err
	}

	m := newManifest(filepath, models.EcosystemPyPI)
	if proj.Project.Name != "" {
		m.doc.RootID = proj.Project.Name
	}

	specs := append([]string{}, proj.Project.Dependencies...)
	groups := lo.Keys(proj.Project.OptionalDependencies)
	sort.Strings(groups)
	for _, g := range groups {
		specs = append(specs, proj.Project.OptionalDependencies[g]...)
	}
	for _, spec := range specs {
		if name, version := parsePEP508(spec); name != "" {
			m.direct(name, version)
		}
	}

	for _, deps := range []map[string]interface{}{proj.Tool.Poetry.Dependencies, proj.Tool.Poetry.DevDependencies} {
		names := lo.Keys(deps)
		sort.Strings(names)
		for _, name := range names {
			if name == "python" {
				continue
			}
			m.direct(name, extractPoetryVersion(deps[name]))
		}
	}

	return m.doc, nil
}

// parsePEP508 parses a PEP 508 dependency specification
// e.g., "requests>=2.28.0", "flask[async]>=2.0", "django==4.2"
func parsePEP508(spec string) (name string, version string) {
	// Remove extras
	if idx := strings.Index(spec, "["); idx > 0 {
		bracketEnd := strings.Index(spec, "]")
		if bracketEnd > idx {
			spec = spec[:idx] + spec[bracketEnd+1:]
		}
	}

	// Remove environment markers
	if idx := strings.Index(spec, ";"); idx > 0 {
		spec = spec[:idx]
	}

	spec = strings.TrimSpace(spec)

	if matches := versionPattern.FindStringSubmatch(spec); matches != nil {
		return matches[1], strings.TrimSpace(matches[2])
	}

	if matches := simplePattern.FindStringSubmatch(spec); matches != nil {
		return matches[1], ""
	}

	return "", ""
}

func extractPoetryVersion(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case map[string]interface{}:
		if ver, ok := v["version"].(string); ok {
			return ver
		}
	}
	return ""
}
