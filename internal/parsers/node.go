package parsers

import (
	"encoding/json"
	"path"
	"sort"
	"strings"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/samber/lo"
)

// NodePackageLockParser parses package-lock.json files
type NodePackageLockParser struct{}

// CanParse returns true for package-lock.json files
func (p *NodePackageLockParser) CanParse(filename string, _ []byte) bool {
	return filename == "package-lock.json" || filename == "npm-shrinkwrap.json"
}

type lockPackage struct {
	Version              string            `json:"version"`
	Dev                  bool              `json:"dev"`
	Link                 bool              `json:"link"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
}

type lockDependency struct {
	Version  string            `json:"version"`
	Dev      bool              `json:"dev"`
	Requires map[string]string `json:"requires"`
}

// packageLock represents the structure of package-lock.json
type packageLock struct {
	LockfileVersion int `json:"lockfileVersion"`
	// V2/V3 format
	Packages map[string]lockPackage `json:"packages"`
	// V1 format
	Dependencies map[string]lockDependency `json:"dependencies"`
}

// Parse builds a document from package-lock.json content. The v2/v3
// "packages" map gives real edges: a requirement resolves to the nearest
// node_modules entry walking up from the requiring package.
func (p *NodePackageLockParser) Parse(filepath string, content []byte) (*models.Document, error) {
	var lock packageLock
	if err := json.Unmarshal(content, &lock); err != nil {
		return nil, err
	}

	m := newManifest(filepath, models.EcosystemNpm)
	if len(lock.Packages) > 0 {
		p.parsePackages(m, lock.Packages)
	} else {
		p.parseV1(m, lock.Dependencies)
	}
	return m.doc, nil
}

func (p *NodePackageLockParser) parsePackages(m *manifest, packages map[string]lockPackage) {
	paths := lo.Keys(packages)
	sort.Strings(paths)

	for _, pth := range paths {
		pkg := packages[pth]
		if pth == "" || pkg.Link {
			continue // Skip root package and workspace links
		}
		m.add(pth, lockName(pth), pkg.Version)
	}

	for _, pth := range paths {
		pkg := packages[pth]
		from := pth
		if pth == "" {
			from = m.doc.RootID
		} else if pkg.Link {
			continue
		}

		required := lo.Assign(pkg.Dependencies, pkg.OptionalDependencies)
		if pth == "" {
			required = lo.Assign(required, pkg.DevDependencies)
		}
		names := lo.Keys(required)
		sort.Strings(names)
		for _, name := range names {
			if to, ok := resolveLockPath(packages, pth, name); ok {
				m.edge(from, to)
			}
		}
	}
}

// parseV1 handles the flat v1 layout. Requires give the edges; entries that
// nothing requires are taken as direct dependencies of the project.
func (p *NodePackageLockParser) parseV1(m *manifest, deps map[string]lockDependency) {
	names := lo.Keys(deps)
	sort.Strings(names)

	required := make(map[string]bool)
	for _, name := range names {
		m.add(name, name, deps[name].Version)
		for dep := range deps[name].Requires {
			required[dep] = true
		}
	}
	for _, name := range names {
		if !required[name] {
			m.edge(m.doc.RootID, name)
		}
		reqs := lo.Keys(deps[name].Requires)
		sort.Strings(reqs)
		for _, dep := range reqs {
			if _, ok := deps[dep]; ok {
				m.edge(name, dep)
			}
		}
	}
}

// lockName extracts the package name from a path like "node_modules/lodash"
// or "node_modules/a/node_modules/@types/node"
func lockName(pth string) string {
	if idx := strings.LastIndex(pth, "node_modules/"); idx >= 0 {
		return pth[idx+len("node_modules/"):]
	}
	return pth
}

func resolveLockPath(packages map[string]lockPackage, from, name string) (string, bool) {
	dir := from
	for {
		candidate := path.Join(dir, "node_modules", name)
		if _, ok := packages[candidate]; ok {
			return candidate, true
		}
		if dir == "" {
			return "", false
		}
		idx := strings.LastIndex(dir, "node_modules/")
		if idx <= 0 {
			dir = ""
			continue
		}
		dir = strings.TrimSuffix(dir[:idx], "/")
	}
}

// NodePackageJSONParser parses package.json files (direct dependencies only)
type NodePackageJSONParser struct{}

// CanParse returns true for package.json files
func (p *NodePackageJSONParser) CanParse(filename string, _ []byte) bool {
	return filename == "package.json"
}

// packageJSON represents the structure of package.json
type packageJSON struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Parse builds a document from package.json content. Declared ranges are kept
// as written.
func (p *NodePackageJSONParser) Parse(filepath string, content []byte) (*models.Document, error) {
	var pkg packageJSON
	if err := json.Unmarshal(content, &pkg); err != nil {
		return nil, err
	}

	m := newManifest(filepath, models.EcosystemNpm)
	for _, deps := range []map[string]string{pkg.Dependencies, pkg.DevDependencies} {
		names := lo.Keys(deps)
		sort.Strings(names)
		for _, name := range names {
			m.direct(name, deps[name])
		}
	}
	return m.doc, nil
}
