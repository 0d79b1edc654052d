package parsers

import (
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"golang.org/x/mod/modfile"
)

// GoModParser parses go.mod files
type GoModParser struct {
	IncludeIndirect bool // Whether to include indirect dependencies
}

// CanParse returns true for go.mod files
func (p *GoModParser) CanParse(filename string, _ []byte) bool {
	return filename == "go.mod"
}

// Parse builds a document from go.mod content. Direct requirements hang off
// the module root; indirect ones have no known parent and are left unlinked.
func (p *GoModParser) Parse(filepath string, content []byte) (*models.Document, error) {
	mod, err := modfile.Parse(filepath, content, nil)
	if err != nil {
		return nil, err
	}

	m := newManifest(filepath, models.EcosystemGo)
	if mod.Module != nil {
		m.doc.RootID = mod.Module.Mod.Path
	}

	replaced := make(map[string]string)
	for _, r := range mod.Replace {
		if r.Old.Version == "" && r.New.Version != "" {
			replaced[r.Old.Path] = r.New.Version
		}
	}

	for _, req := range mod.Require {
		// Skip indirect deps unless explicitly requested
		if req.Indirect && !p.IncludeIndirect {
			continue
		}

		// the "v" prefix stays; the correlator strips it for the feed
		version := req.Mod.Version
		if v, ok := replaced[req.Mod.Path]; ok {
			version = v
		}

		if req.Indirect {
			m.add(req.Mod.Path, req.Mod.Path, version)
			continue
		}
		m.direct(req.Mod.Path, version)
	}

	return m.doc, nil
}
