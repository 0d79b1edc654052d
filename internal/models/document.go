package models

import "strings"

// RelationshipDependsOn is the only relationship type the graph consumes
const RelationshipDependsOn = "DEPENDS_ON"

// RawPackage is a package entry as it appears in the source document
type RawPackage struct {
	ElementID  string
	Name       string
	Version    string // version or range, as declared
	PackageRef string
	Ecosystem  string // explicit ecosystem field, if the format carries one
	Category   Category
}

// Relationship is a typed edge between two document elements
type Relationship struct {
	From string
	To   string
	Type string
}

// DependsOn returns true for depends-on edges, whatever the spelling
// ("DEPENDS_ON", "depends-on", "dependsOn")
func (r Relationship) DependsOn() bool {
	t := strings.NewReplacer("_", "", "-", "", " ", "").Replace(r.Type)
	return strings.EqualFold(t, "dependson")
}

// Document is a parsed SBOM: packages, relationships and the artifact they describe
type Document struct {
	Source        string // file the document was read from
	Format        string // "spdx", "cyclonedx", or the manifest file name
	RootID        string // element id of the described artifact
	Packages      []RawPackage
	Relationships []Relationship
}
