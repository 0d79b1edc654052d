package reporter

import "github.com/ethanolivertroy/sbomgraph/internal/models"

// Reporter is the interface for output formatters
type Reporter interface {
	// Report generates output for the given analysis result
	Report(result *models.AnalysisResult) ([]byte, error)
}

// Formats lists the accepted --format values
var Formats = []string{"terminal", "json", "sarif", "csv"}

// Get returns a reporter for the specified format
func Get(format string) Reporter {
	switch format {
	case "json":
		return &JSONReporter{}
	case "sarif":
		return &SARIFReporter{}
	case "csv":
		return &CSVReporter{}
	default:
		return &TerminalReporter{}
	}
}
