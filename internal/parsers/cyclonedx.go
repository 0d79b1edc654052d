package parsers

import (
	"bytes"
	"strings"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/package-url/packageurl-go"
)

// CycloneDXParser parses CycloneDX JSON BOMs
type CycloneDXParser struct{}

// CanParse returns true for *.cdx.json files or JSON carrying bomFormat
func (p *CycloneDXParser) CanParse(filename string, content []byte) bool {
	if strings.HasSuffix(filename, ".cdx.json") {
		return true
	}
	return strings.HasSuffix(filename, ".json") && bytes.Contains(content, []byte(`"bomFormat"`))
}

// Parse builds a document from CycloneDX JSON. Nested components are
// flattened; the dependencies section gives the edges.
func (p *CycloneDXParser) Parse(filepath string, content []byte) (*models.Document, error) {
	var bom cdx.BOM
	if err := cdx.NewBOMDecoder(bytes.NewReader(content), cdx.BOMFileFormatJSON).Decode(&bom); err != nil {
		return nil, err
	}

	doc := &models.Document{
		Source: filepath,
		Format: "cyclonedx",
	}
	if bom.Metadata != nil && bom.Metadata.Component != nil {
		doc.RootID = bom.Metadata.Component.BOMRef
	}

	if bom.Components != nil {
		walkComponents(*bom.Components, func(c cdx.Component) {
			doc.Packages = append(doc.Packages, models.RawPackage{
				ElementID:  c.BOMRef,
				Name:       componentName(c),
				Version:    c.Version,
				PackageRef: c.PackageURL,
				Category:   componentCategory(c.Type),
			})
		})
	}

	if bom.Dependencies != nil {
		for _, dep := range *bom.Dependencies {
			if dep.Dependencies == nil {
				continue
			}
			for _, to := range *dep.Dependencies {
				doc.Relationships = append(doc.Relationships, models.Relationship{
					From: dep.Ref,
					To:   to,
					Type: models.RelationshipDependsOn,
				})
			}
		}
	}

	return doc, nil
}

func walkComponents(components []cdx.Component, fn func(cdx.Component)) {
	for _, c := range components {
		fn(c)
		if c.Components != nil {
			walkComponents(*c.Components, fn)
		}
	}
}

// componentName joins group and name the way the component's ecosystem
// spells a full package name
func componentName(c cdx.Component) string {
	if c.Group == "" {
		return c.Name
	}
	if purl, err := packageurl.FromString(c.PackageURL); err == nil && purl.Type == packageurl.TypeMaven {
		return c.Group + ":" + c.Name
	}
	return c.Group + "/" + c.Name
}

func componentCategory(t cdx.ComponentType) models.Category {
	switch t {
	case cdx.ComponentTypeContainer, cdx.ComponentTypeOS, cdx.ComponentTypePlatform,
		cdx.ComponentTypeDevice, cdx.ComponentTypeFirmware:
		return models.CategoryInfrastructure
	}
	return ""
}
