// Package correlator matches dependency nodes against the vulnerability feed.
//
// Lookups go through the batch endpoint first. A failed batch, or a batch in
// which any entry came back as a stub, is discarded whole and every query in
// it is repeated one at a time. Every returned record then passes the
// ecosystem-consistency filter before it becomes a finding.
package correlator

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ethanolivertroy/sbomgraph/internal/cache"
	"github.com/ethanolivertroy/sbomgraph/internal/clients"
	"github.com/ethanolivertroy/sbomgraph/internal/ecosystem"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/ethanolivertroy/sbomgraph/internal/severity"
	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
	"golang.org/x/time/rate"
)

// Feed is the vulnerability feed consumed by the correlator
type Feed interface {
	QueryBatch(ctx context.Context, queries []clients.OSVQuery) ([][]clients.OSVVulnerability, error)
	Query(ctx context.Context, q clients.OSVQuery) ([]clients.OSVVulnerability, error)
}

// Options tune the query strategies
type Options struct {
	BatchSize        int           // queries per batch request, capped at clients.MaxBatchSize
	MinFindingFields int           // records with fewer populated fields are stubs
	RequestInterval  time.Duration // delay between individual queries
	FailureBackoff   time.Duration // pause after FailureThreshold consecutive failures
	FailureThreshold int
}

// OptionsFromConfig derives options from the run configuration
func OptionsFromConfig(cfg *models.Config) Options {
	return Options{
		BatchSize:        cfg.BatchSize,
		MinFindingFields: cfg.MinFindingFields,
		RequestInterval:  cfg.RequestInterval,
		FailureBackoff:   cfg.FailureBackoff,
		FailureThreshold: 3,
	}
}

// Result is the correlation outcome for one node
type Result struct {
	Node     models.DependencyNode
	Findings []models.Finding
	Err      error // the feed could not answer; Findings is empty
	Skipped  bool  // the node has no exact version to query
}

// Correlator queries the feed for nodes. It is not safe for concurrent use.
type Correlator struct {
	feed    Feed
	cache   cache.Cache
	limiter *rate.Limiter
	opts    Options
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a correlator. The cache handle is owned by the caller; pass
// cache.Nop{} to disable caching.
func New(feed Feed, c cache.Cache, opts Options, logger *slog.Logger) *Correlator {
	if c == nil {
		c = cache.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 || opts.BatchSize > clients.MaxBatchSize {
		opts.BatchSize = clients.MaxBatchSize
	}
	if opts.MinFindingFields <= 0 {
		opts.MinFindingFields = 4
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}

	limit := rate.Inf
	if opts.RequestInterval > 0 {
		limit = rate.Every(opts.RequestInterval)
	}

	return &Correlator{
		feed:    feed,
		cache:   c,
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// pending is a node that still needs a feed answer
type pending struct {
	index int
	query clients.OSVQuery
	key   string
}

// Correlate returns one result per node, in node order, plus a tally of the
// non-fatal events along the way. Feed failures never abort the call.
func (c *Correlator) Correlate(ctx context.Context, nodes []models.DependencyNode) ([]Result, models.Diagnostics) {
	var diag models.Diagnostics
	results := make([]Result, len(nodes))
	raw := make([][]clients.OSVVulnerability, len(nodes))

	var queue []pending
	for i, node := range nodes {
		results[i].Node = node
		if node.Version == "" {
			results[i].Skipped = true
			diag.Unversioned++
			c.logger.Debug("skipping node without an exact version", "package", node.Name, "constraint", node.Constraint)
			continue
		}

		q := queryFor(node)
		key := models.CacheKey(node.Ecosystem, q.Package.Name, q.Version)
		if vulns, ok := c.cached(key); ok {
			raw[i] = vulns
			continue
		}
		queue = append(queue, pending{index: i, query: q, key: key})
	}

	for start := 0; start < len(queue); start += c.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			for _, p := range queue[start:] {
				results[p.index].Err = err
			}
			break
		}
		end := min(start+c.opts.BatchSize, len(queue))
		chunk := queue[start:end]

		if answers, ok := c.batch(ctx, chunk); ok {
			for j, p := range chunk {
				raw[p.index] = answers[j]
				c.store(p.key, answers[j])
			}
			continue
		}

		diag.BatchFallbacks++
		c.individually(ctx, chunk, raw, results, &diag)
	}

	for i := range results {
		if results[i].Skipped || results[i].Err != nil {
			continue
		}
		results[i].Findings = c.findings(results[i].Node, raw[i], &diag)
	}
	return results, diag
}

// batch sends one chunk to the batch endpoint. It reports false when the chunk has to
// be re-fetched individually.
func (c *Correlator) batch(ctx context.Context, chunk []pending) ([][]clients.OSVVulnerability, bool) {
	queries := make([]clients.OSVQuery, len(chunk))
	for j, p := range chunk {
		queries[j] = p.query
	}

	answers, err := c.feed.QueryBatch(ctx, queries)
	if err != nil {
		c.logger.Warn("batch query failed, falling back to individual queries",
			"queries", len(chunk), "error", err)
		return nil, false
	}
	if len(answers) != len(chunk) {
		c.logger.Warn("batch response does not match the queries, falling back to individual queries",
			"queries", len(chunk), "answers", len(answers))
		return nil, false
	}
	if j, ok := c.degraded(answers); ok {
		c.logger.Info("batch response carries stub records, falling back to individual queries",
			"queries", len(chunk), "package", chunk[j].query.Package.Name)
		return nil, false
	}
	return answers, true
}

// degraded returns the index of the first entry holding a stub record
func (c *Correlator) degraded(answers [][]clients.OSVVulnerability) (int, bool) {
	for j, vulns := range answers {
		for _, v := range vulns {
			if v.PopulatedFields() < c.opts.MinFindingFields {
				return j, true
			}
		}
	}
	return 0, false
}

// individually queries one node at a time, paced by the limiter
func (c *Correlator) individually(ctx context.Context, chunk []pending, raw [][]clients.OSVVulnerability, results []Result, diag *models.Diagnostics) {
	consecutive := 0
	for _, p := range chunk {
		if err := c.limiter.Wait(ctx); err != nil {
			results[p.index].Err = errors.Wrap(err, "query not sent")
			continue
		}

		vulns, err := c.feed.Query(ctx, p.query)
		if err != nil {
			results[p.index].Err = err
			diag.FailedQueries++
			consecutive++
			c.logger.Warn("vulnerability query failed, recording no findings",
				"package", p.query.Package.Name, "version", p.query.Version, "error", err)

			if consecutive >= c.opts.FailureThreshold && c.opts.FailureBackoff > 0 {
				c.logger.Warn("feed keeps failing, backing off",
					"failures", consecutive, "backoff", c.opts.FailureBackoff)
				_ = c.sleep(ctx, c.opts.FailureBackoff)
				consecutive = 0
			}
			continue
		}

		consecutive = 0
		raw[p.index] = vulns
		c.store(p.key, vulns)
	}
}

// findings converts feed records into findings for node, dropping records
// whose claimed ecosystems exclude the node's
func (c *Correlator) findings(node models.DependencyNode, vulns []clients.OSVVulnerability, diag *models.Diagnostics) []models.Finding {
	var out []models.Finding
	seen := make(map[string]bool, len(vulns))
	for _, v := range vulns {
		if v.ID == "" || seen[v.ID] {
			continue
		}
		seen[v.ID] = true

		f := toFinding(v, node)
		if !node.Ecosystem.Resolved() {
			f.LowConfidence = true
			diag.LowConfidenceFindings++
		} else if !f.AffectsEcosystem(node.Ecosystem) {
			diag.FilteredFindings++
			c.logger.Warn("dropping finding from another ecosystem",
				"finding", f.VulnID, "package", node.Name,
				"package_ecosystem", node.Ecosystem, "finding_ecosystems", f.AffectedEcosystems)
			continue
		}
		out = append(out, f)
	}
	return out
}

func toFinding(v clients.OSVVulnerability, node models.DependencyNode) models.Finding {
	sev, score := severity.Assess(v.Label(), v.Vectors(), v.Informational())

	var affected []models.Ecosystem
	for _, name := range v.Ecosystems() {
		e, ok := ecosystem.Lookup(name)
		if !ok {
			base, _, _ := strings.Cut(name, ":")
			e = models.Ecosystem(base)
		}
		if !slices.Contains(affected, e) {
			affected = append(affected, e)
		}
	}

	return models.Finding{
		VulnID:             v.ID,
		Aliases:            v.Aliases,
		Severity:           sev,
		Score:              score,
		AffectedEcosystems: affected,
		SourceNodeID:       node.NodeID,
		Summary:            v.Summary,
		Details:            v.Details,
		References:         v.ReferenceURLs(),
	}
}

// queryFor builds the feed query for a node
func queryFor(node models.DependencyNode) clients.OSVQuery {
	version := node.Version
	if node.Ecosystem == models.EcosystemGo && semver.IsValid(version) {
		// the feed lists Go versions without the v prefix
		version = strings.TrimPrefix(version, "v")
	}
	return clients.OSVQuery{
		Package: clients.OSVPackage{
			Name:      node.Name,
			Ecosystem: string(node.Ecosystem),
		},
		Version: version,
	}
}

func (c *Correlator) cached(key string) ([]clients.OSVVulnerability, bool) {
	data, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	var vulns []clients.OSVVulnerability
	if err := json.Unmarshal(data, &vulns); err != nil {
		c.logger.Debug("ignoring unreadable cache entry", "key", key, "error", err)
		return nil, false
	}
	return vulns, true
}

func (c *Correlator) store(key string, vulns []clients.OSVVulnerability) {
	if vulns == nil {
		vulns = []clients.OSVVulnerability{}
	}
	data, err := json.Marshal(vulns)
	if err != nil {
		return
	}
	if err := c.cache.Set(key, data); err != nil {
		c.logger.Debug("failed to cache feed response", "key", key, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
