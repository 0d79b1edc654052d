package clients

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ethanolivertroy/sbomgraph/internal/cache"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// DefaultKEVURL is the CISA Known Exploited Vulnerabilities catalog
const DefaultKEVURL = "https://raw.githubusercontent.com/cisagov/kev-data/main/known_exploited_vulnerabilities.json"

// KEVClient fetches the CISA KEV catalog
type KEVClient struct {
	httpc *resty.Client
	url   string
	cache cache.Cache
}

// NewKEVClient creates a new KEV client. c may be nil.
func NewKEVClient(url string, c cache.Cache, timeout time.Duration, logger *slog.Logger) *KEVClient {
	if url == "" {
		url = DefaultKEVURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	httpc := resty.New()
	httpc.SetTimeout(timeout)
	if logger != nil {
		httpc.SetLogger(NewSlogAdapter(logger))
	}
	return &KEVClient{httpc: httpc, url: url, cache: c}
}

// KEVEntry is the part of a catalog entry shown next to a finding
type KEVEntry struct {
	CVEID         string
	DateAdded     time.Time
	DueDate       time.Time
	RansomwareUse bool
}

type kevCatalog struct {
	CatalogVersion  string `json:"catalogVersion"`
	Vulnerabilities []struct {
		CVEID                      string `json:"cveID"`
		DateAdded                  string `json:"dateAdded"`
		DueDate                    string `json:"dueDate"`
		KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
	} `json:"vulnerabilities"`
}

// Catalog returns the catalog keyed by CVE id
func (c *KEVClient) Catalog(ctx context.Context) (map[string]KEVEntry, error) {
	var data []byte

	if c.cache != nil {
		if cached, ok := c.cache.Get(c.url); ok {
			data = cached
		}
	}

	if data == nil {
		resp, err := c.httpc.R().SetContext(ctx).Get(c.url)
		if err != nil {
			return nil, errors.Wrap(err, "failed to fetch KEV catalog")
		}
		if resp.IsError() {
			return nil, errors.Errorf("KEV catalog returned status %d", resp.StatusCode())
		}
		data = resp.Body()

		if c.cache != nil {
			if err := c.cache.Set(c.url, data); err != nil {
				slog.Debug("could not cache KEV catalog", "error", err)
			}
		}
	}

	return parseKEV(data)
}

func parseKEV(data []byte) (map[string]KEVEntry, error) {
	var raw kevCatalog
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse KEV catalog")
	}

	catalog := make(map[string]KEVEntry, len(raw.Vulnerabilities))
	for _, v := range raw.Vulnerabilities {
		e := KEVEntry{
			CVEID:         v.CVEID,
			RansomwareUse: v.KnownRansomwareCampaignUse == "Known",
		}
		e.DateAdded, _ = time.Parse(time.DateOnly, v.DateAdded)
		e.DueDate, _ = time.Parse(time.DateOnly, v.DueDate)
		catalog[v.CVEID] = e
	}
	return catalog, nil
}
