package reporter

import (
	"encoding/json"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
)

// JSONReporter outputs the flat report snapshot as JSON
type JSONReporter struct{}

// Report generates JSON output for the given result
func (r *JSONReporter) Report(result *models.AnalysisResult) ([]byte, error) {
	return json.MarshalIndent(result.Snapshot(), "", "  ")
}
