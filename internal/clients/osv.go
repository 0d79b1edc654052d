package clients

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// DefaultOSVURL is the public OSV API
const DefaultOSVURL = "https://api.osv.dev"

// MaxBatchSize is the largest number of queries sent in one batch request
const MaxBatchSize = 100

// OSVClient handles requests to the OSV vulnerability database
type OSVClient struct {
	httpc *resty.Client
}

// NewOSVClient creates a new OSV client for baseURL
func NewOSVClient(baseURL string, timeout time.Duration, logger *slog.Logger) *OSVClient {
	if baseURL == "" {
		baseURL = DefaultOSVURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	httpc := resty.New()
	httpc.SetBaseURL(strings.TrimRight(baseURL, "/"))
	httpc.SetTimeout(timeout)
	httpc.SetHeader("Content-Type", "application/json")
	if logger != nil {
		httpc.SetLogger(NewSlogAdapter(logger))
	}

	return &OSVClient{httpc: httpc}
}

// OSVPackage identifies a package in a query or an affected entry
type OSVPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
	PURL      string `json:"purl,omitempty"`
}

// OSVQuery asks for the vulnerabilities of one package version
type OSVQuery struct {
	Package   OSVPackage `json:"package"`
	Version   string     `json:"version,omitempty"`
	PageToken string     `json:"page_token,omitempty"`
}

// OSVSeverity is a scored vector such as CVSS_V3
type OSVSeverity struct {
	Type  string `json:"type"`
	Score string `json:"score"`
}

// OSVReference is a link attached to a vulnerability
type OSVReference struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// OSVAffected is one affected package entry
type OSVAffected struct {
	Package           OSVPackage     `json:"package"`
	Versions          []string       `json:"versions,omitempty"`
	EcosystemSpecific map[string]any `json:"ecosystem_specific,omitempty"`
	DatabaseSpecific  map[string]any `json:"database_specific,omitempty"`
}

// OSVVulnerability is an OSV record. Batch responses usually carry only the
// id and modified fields.
type OSVVulnerability struct {
	ID               string         `json:"id"`
	Modified         string         `json:"modified,omitempty"`
	Published        string         `json:"published,omitempty"`
	Aliases          []string       `json:"aliases,omitempty"`
	Summary          string         `json:"summary,omitempty"`
	Details          string         `json:"details,omitempty"`
	Severity         []OSVSeverity  `json:"severity,omitempty"`
	Affected         []OSVAffected  `json:"affected,omitempty"`
	References       []OSVReference `json:"references,omitempty"`
	DatabaseSpecific map[string]any `json:"database_specific,omitempty"`
}

type osvBatchRequest struct {
	Queries []OSVQuery `json:"queries"`
}

type osvBatchResponse struct {
	Results []struct {
		Vulns []OSVVulnerability `json:"vulns"`
	} `json:"results"`
}

type osvQueryResponse struct {
	Vulns         []OSVVulnerability `json:"vulns"`
	NextPageToken string             `json:"next_page_token"`
}

// QueryBatch sends one batch request. The result holds one entry per query,
// in query order.
func (c *OSVClient) QueryBatch(ctx context.Context, queries []OSVQuery) ([][]OSVVulnerability, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	if len(queries) > MaxBatchSize {
		return nil, errors.Errorf("batch of %d queries exceeds the limit of %d", len(queries), MaxBatchSize)
	}

	var out osvBatchResponse
	resp, err := c.httpc.R().
		SetContext(ctx).
		SetBody(osvBatchRequest{Queries: queries}).
		SetResult(&out).
		Post("/v1/querybatch")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query OSV batch")
	}
	if resp.IsError() {
		return nil, errors.Errorf("OSV batch API returned status %d", resp.StatusCode())
	}
	if len(out.Results) != len(queries) {
		return nil, errors.Errorf("OSV batch API returned %d results for %d queries", len(out.Results), len(queries))
	}

	results := make([][]OSVVulnerability, len(queries))
	for i, r := range out.Results {
		results[i] = r.Vulns
	}
	return results, nil
}

// Query asks for the full records affecting one package version, following pagination
func (c *OSVClient) Query(ctx context.Context, q OSVQuery) ([]OSVVulnerability, error) {
	var vulns []OSVVulnerability
	for {
		var out osvQueryResponse
		resp, err := c.httpc.R().
			SetContext(ctx).
			SetBody(q).
			SetResult(&out).
			Post("/v1/query")
		if err != nil {
			return nil, errors.Wrapf(err, "failed to query OSV for %s", q.Package.Name)
		}
		if resp.IsError() {
			return nil, errors.Errorf("OSV API returned status %d for %s", resp.StatusCode(), q.Package.Name)
		}

		vulns = append(vulns, out.Vulns...)
		if out.NextPageToken == "" {
			return vulns, nil
		}
		q.PageToken = out.NextPageToken
	}
}

// PopulatedFields counts the top-level fields that carry data
func (v OSVVulnerability) PopulatedFields() int {
	n := 0
	for _, set := range []bool{
		v.ID != "",
		v.Modified != "",
		v.Published != "",
		len(v.Aliases) > 0,
		v.Summary != "",
		v.Details != "",
		len(v.Severity) > 0,
		len(v.Affected) > 0,
		len(v.References) > 0,
		len(v.DatabaseSpecific) > 0,
	} {
		if set {
			n++
		}
	}
	return n
}

// Label returns the database-specific severity label, if any
func (v OSVVulnerability) Label() string {
	if s := stringField(v.DatabaseSpecific, "severity"); s != "" {
		return s
	}
	for _, a := range v.Affected {
		if s := stringField(a.EcosystemSpecific, "severity"); s != "" {
			return s
		}
		if s := stringField(a.DatabaseSpecific, "severity"); s != "" {
			return s
		}
	}
	return ""
}

// Vectors returns the scored severity vectors
func (v OSVVulnerability) Vectors() []string {
	vectors := make([]string, 0, len(v.Severity))
	for _, s := range v.Severity {
		if s.Score != "" {
			vectors = append(vectors, s.Score)
		}
	}
	return vectors
}

// Informational returns the informational-only marker, e.g. "unmaintained"
func (v OSVVulnerability) Informational() string {
	if s := stringField(v.DatabaseSpecific, "informational"); s != "" {
		return s
	}
	for _, a := range v.Affected {
		if s := stringField(a.DatabaseSpecific, "informational"); s != "" {
			return s
		}
	}
	return ""
}

// Ecosystems returns the ecosystems named by the affected entries
func (v OSVVulnerability) Ecosystems() []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range v.Affected {
		e := a.Package.Ecosystem
		if e != "" && !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// ReferenceURLs returns the reference links
func (v OSVVulnerability) ReferenceURLs() []string {
	urls := make([]string, 0, len(v.References))
	for _, r := range v.References {
		if r.URL != "" {
			urls = append(urls, r.URL)
		}
	}
	return urls
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
