package parsers

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/pkg/errors"
)

// SPDXParser parses SPDX 2.x JSON documents, including the GitHub
// dependency-graph export that wraps the document in {"sbom": ...}
type SPDXParser struct{}

// CanParse returns true for *.spdx.json files or JSON carrying spdxVersion
func (p *SPDXParser) CanParse(filename string, content []byte) bool {
	if strings.HasSuffix(filename, ".spdx.json") {
		return true
	}
	return strings.HasSuffix(filename, ".json") && bytes.Contains(content, []byte(`"spdxVersion"`))
}

type spdxExternalRef struct {
	ReferenceCategory string `json:"referenceCategory"`
	ReferenceType     string `json:"referenceType"`
	ReferenceLocator  string `json:"referenceLocator"`
}

type spdxPackage struct {
	SPDXID                string            `json:"SPDXID"`
	Name                  string            `json:"name"`
	VersionInfo           string            `json:"versionInfo"`
	PrimaryPackagePurpose string            `json:"primaryPackagePurpose"`
	ExternalRefs          []spdxExternalRef `json:"externalRefs"`
}

type spdxRelationship struct {
	SpdxElementID      string `json:"spdxElementId"`
	RelatedSpdxElement string `json:"relatedSpdxElement"`
	RelationshipType   string `json:"relationshipType"`
}

type spdxDocument struct {
	SPDXVersion       string             `json:"spdxVersion"`
	SPDXID            string             `json:"SPDXID"`
	Name              string             `json:"name"`
	DocumentDescribes []string           `json:"documentDescribes"`
	Packages          []spdxPackage      `json:"packages"`
	Relationships     []spdxRelationship `json:"relationships"`
}

// Parse builds a document from SPDX JSON content
func (p *SPDXParser) Parse(filepath string, content []byte) (*models.Document, error) {
	var wrapper struct {
		SBOM *spdxDocument `json:"sbom"`
	}
	if err := json.Unmarshal(content, &wrapper); err != nil {
		return nil, err
	}
	doc := wrapper.SBOM
	if doc == nil {
		doc = &spdxDocument{}
		if err := json.Unmarshal(content, doc); err != nil {
			return nil, err
		}
	}
	if doc.SPDXVersion == "" {
		return nil, errors.New("not an SPDX document: spdxVersion missing")
	}

	out := &models.Document{
		Source: filepath,
		Format: "spdx",
		RootID: spdxRoot(doc),
	}

	for _, pkg := range doc.Packages {
		out.Packages = append(out.Packages, models.RawPackage{
			ElementID:  pkg.SPDXID,
			Name:       pkg.Name,
			Version:    pkg.VersionInfo,
			PackageRef: spdxPurl(pkg.ExternalRefs),
			Category:   spdxCategory(pkg.PrimaryPackagePurpose),
		})
	}

	for _, rel := range doc.Relationships {
		out.Relationships = append(out.Relationships, spdxEdge(rel))
	}

	return out, nil
}

// spdxRoot picks the described package: documentDescribes first, then a
// DESCRIBES relationship from the document itself
func spdxRoot(doc *spdxDocument) string {
	if len(doc.DocumentDescribes) > 0 {
		return doc.DocumentDescribes[0]
	}
	for _, rel := range doc.Relationships {
		if strings.EqualFold(rel.RelationshipType, "DESCRIBES") && rel.SpdxElementID == doc.SPDXID {
			return rel.RelatedSpdxElement
		}
	}
	for _, rel := range doc.Relationships {
		if strings.EqualFold(rel.RelationshipType, "DESCRIBED_BY") && rel.RelatedSpdxElement == doc.SPDXID {
			return rel.SpdxElementID
		}
	}
	return ""
}

// spdxEdge turns the reverse DEPENDENCY_OF family into depends-on edges;
// everything else keeps its type and direction
func spdxEdge(rel spdxRelationship) models.Relationship {
	t := strings.ToUpper(rel.RelationshipType)
	if t == "DEPENDENCY_OF" || strings.HasSuffix(t, "_DEPENDENCY_OF") {
		return models.Relationship{
			From: rel.RelatedSpdxElement,
			To:   rel.SpdxElementID,
			Type: models.RelationshipDependsOn,
		}
	}
	return models.Relationship{
		From: rel.SpdxElementID,
		To:   rel.RelatedSpdxElement,
		Type: rel.RelationshipType,
	}
}

func spdxPurl(refs []spdxExternalRef) string {
	for _, ref := range refs {
		if strings.EqualFold(ref.ReferenceType, "purl") {
			return ref.ReferenceLocator
		}
	}
	return ""
}

func spdxCategory(purpose string) models.Category {
	switch strings.ToUpper(purpose) {
	case "CONTAINER", "OPERATING-SYSTEM", "DEVICE", "FIRMWARE":
		return models.CategoryInfrastructure
	case "INSTALL":
		return models.CategoryBuild
	}
	return ""
}
