// Package parsers reads SBOM documents and dependency manifests into a
// common document shape: package entries plus typed relationships.
package parsers

import (
	"path/filepath"
	"strings"

	"github.com/ethanolivertroy/sbomgraph/internal/ecosystem"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/package-url/packageurl-go"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ErrUnsupported is returned when no parser accepts a file
var ErrUnsupported = errors.New("unsupported file format")

// Parser is the interface for SBOM and manifest parsers
type Parser interface {
	// CanParse returns true if this parser can handle the file. Content is
	// consulted for formats that have no fixed file name.
	CanParse(filename string, content []byte) bool

	// Parse builds a document from the file content
	Parse(filepath string, content []byte) (*models.Document, error)
}

// GetAllParsers returns all available parsers, SBOM formats first
func GetAllParsers() []Parser {
	return []Parser{
		&SPDXParser{},
		&CycloneDXParser{},
		&PythonRequirementsParser{},
		&PythonPyProjectParser{},
		&NodePackageLockParser{},
		&NodePackageJSONParser{},
		&GoModParser{IncludeIndirect: true},
	}
}

// Detect returns the first parser that accepts the file
func Detect(path string, content []byte) (Parser, error) {
	name := filepath.Base(path)
	for _, p := range GetAllParsers() {
		if p.CanParse(name, content) {
			return p, nil
		}
	}
	return nil, errors.Wrap(ErrUnsupported, name)
}

// Load reads path from fs and parses it with the matching parser
func Load(fs afero.Fs, path string) (*models.Document, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", path)
	}
	p, err := Detect(path, content)
	if err != nil {
		return nil, err
	}
	doc, err := p.Parse(path, content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return doc, nil
}

// manifest builds the document for a plain dependency manifest. The manifest
// itself becomes the root element.
type manifest struct {
	doc  *models.Document
	eco  models.Ecosystem
	seen map[string]bool
}

func newManifest(path string, eco models.Ecosystem) *manifest {
	name := filepath.Base(path)
	return &manifest{
		doc: &models.Document{
			Source: path,
			Format: name,
			RootID: "manifest:" + name,
		},
		eco:  eco,
		seen: make(map[string]bool),
	}
}

// add records a package under elementID, once
func (m *manifest) add(elementID, name, version string) {
	if m.seen[elementID] {
		return
	}
	m.seen[elementID] = true
	m.doc.Packages = append(m.doc.Packages, models.RawPackage{
		ElementID:  elementID,
		Name:       name,
		Version:    version,
		PackageRef: purlFor(m.eco, name),
		Ecosystem:  m.eco.String(),
	})
}

// direct records a package the manifest depends on itself
func (m *manifest) direct(name, version string) {
	if m.seen[name] {
		return
	}
	m.add(name, name, version)
	m.edge(m.doc.RootID, name)
}

func (m *manifest) edge(from, to string) {
	m.doc.Relationships = append(m.doc.Relationships, models.Relationship{
		From: from,
		To:   to,
		Type: models.RelationshipDependsOn,
	})
}

// purlFor builds a version-less package URL; versions in manifests are often
// ranges, which a purl cannot carry
func purlFor(eco models.Ecosystem, name string) string {
	typ, ok := ecosystem.PurlType(eco)
	if !ok || name == "" {
		return ""
	}

	namespace, base := "", name
	switch eco {
	case models.EcosystemMaven:
		if i := strings.Index(name, ":"); i > 0 {
			namespace, base = name[:i], name[i+1:]
		}
	default:
		if i := strings.LastIndex(name, "/"); i > 0 {
			namespace, base = name[:i], name[i+1:]
		}
	}
	return packageurl.NewPackageURL(typ, namespace, base, "", nil, "").ToString()
}
