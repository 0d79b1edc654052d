package reporter

import (
	"bytes"
	"encoding/csv"
	"strings"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
)

// CSVReporter writes one row per finding
type CSVReporter struct{}

var csvHeader = []string{"package", "version", "ecosystem", "relation", "parents", "vulnerability", "severity", "summary"}

// Report generates CSV output for the given result
func (r *CSVReporter) Report(result *models.AnalysisResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}

	for _, n := range result.Snapshot().Nodes {
		for _, f := range n.Findings {
			row := []string{
				n.Name,
				n.Version,
				n.Ecosystem,
				string(n.Relation),
				strings.Join(n.Parents, ";"),
				f.ID,
				string(f.Severity),
				f.Summary,
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}
