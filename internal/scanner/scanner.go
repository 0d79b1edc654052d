package scanner

import (
	"context"
	"log/slog"

	"github.com/ethanolivertroy/sbomgraph/internal/aggregator"
	"github.com/ethanolivertroy/sbomgraph/internal/cache"
	"github.com/ethanolivertroy/sbomgraph/internal/clients"
	"github.com/ethanolivertroy/sbomgraph/internal/correlator"
	"github.com/ethanolivertroy/sbomgraph/internal/ecosystem"
	"github.com/ethanolivertroy/sbomgraph/internal/graph"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/ethanolivertroy/sbomgraph/internal/normalize"
	"github.com/ethanolivertroy/sbomgraph/internal/parsers"
	"github.com/ethanolivertroy/sbomgraph/internal/store"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Scanner orchestrates the analysis: load, normalize, build, correlate, aggregate
type Scanner struct {
	config     *models.Config
	fs         afero.Fs
	logger     *slog.Logger
	normalizer *normalize.Normalizer
	builder    *graph.Builder
	aggregator *aggregator.Aggregator
	store      store.Store
	exploited  ExploitCatalog
}

// ExploitCatalog lists CVEs known to be exploited
type ExploitCatalog interface {
	Catalog(ctx context.Context) (map[string]clients.KEVEntry, error)
}

// Option overrides a collaborator, mostly for tests
type Option func(*options)

type options struct {
	fs     afero.Fs
	feed   correlator.Feed
	cache  cache.Cache
	store  store.Store
	kev    ExploitCatalog
	logger *slog.Logger
}

// WithFs reads input files from fs
func WithFs(fs afero.Fs) Option { return func(o *options) { o.fs = fs } }

// WithFeed replaces the OSV client
func WithFeed(feed correlator.Feed) Option { return func(o *options) { o.feed = feed } }

// WithCache replaces the configured cache
func WithCache(c cache.Cache) Option { return func(o *options) { o.cache = c } }

// WithStore replaces the configured checkpoint store
func WithStore(s store.Store) Option { return func(o *options) { o.store = s } }

// WithExploitCatalog replaces the CISA KEV client and enables marking
func WithExploitCatalog(c ExploitCatalog) Option { return func(o *options) { o.kev = c } }

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// New creates a new Scanner with the given configuration
func New(config *models.Config, opts ...Option) (*Scanner, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.feed == nil {
		o.feed = clients.NewOSVClient(config.FeedURL, config.Timeout, o.logger)
	}
	if o.cache == nil {
		o.cache = newCache(config, o.logger)
	}
	if o.store == nil {
		s, err := store.Open(config)
		if err != nil {
			return nil, errors.Wrap(err, "could not open checkpoint store")
		}
		o.store = s
	}

	if o.kev == nil && config.KEV {
		o.kev = clients.NewKEVClient(config.KEVURL, o.cache, config.Timeout, o.logger)
	}

	resolver := ecosystem.NewResolver(o.logger)
	cor := correlator.New(o.feed, o.cache, correlator.OptionsFromConfig(config), o.logger)

	return &Scanner{
		config:     config,
		fs:         o.fs,
		logger:     o.logger,
		normalizer: normalize.New(o.logger),
		builder:    graph.NewBuilder(resolver, o.logger),
		aggregator: aggregator.New(cor, o.store, o.logger),
		store:      o.store,
		exploited:  o.kev,
	}, nil
}

// newCache layers the in-memory LRU over the optional disk cache
func newCache(config *models.Config, logger *slog.Logger) cache.Cache {
	if config.CacheSize <= 0 {
		return cache.Nop{}
	}
	mem := cache.NewMemory(config.CacheSize, config.CacheTTL)
	if !config.DiskCache {
		return mem
	}
	disk, err := cache.New("sbomgraph", config.CacheTTL)
	if err != nil {
		// Non-fatal: continue with the memory cache only
		logger.Warn("disk cache unavailable", "error", err)
		return mem
	}
	return cache.Tiered{mem, disk}
}

// Plan is an input file turned into an ordered node list
type Plan struct {
	Document   *models.Document
	Graph      *graph.Graph
	Rejections []normalize.Rejection
}

// Diagnostics returns the counters known before correlation starts
func (p *Plan) Diagnostics() models.Diagnostics {
	d := models.Diagnostics{
		Rejected:      len(p.Rejections),
		DanglingEdges: p.Graph.DanglingEdges,
	}
	d.Add(models.Diagnostics{ResolutionTiers: p.Graph.Tiers})
	return d
}

// Prepare loads the file at path and builds its dependency graph. It makes
// no network calls.
func (s *Scanner) Prepare(path string) (*Plan, error) {
	doc, err := parsers.Load(s.fs, path)
	if err != nil {
		return nil, err
	}

	records, rejected := s.normalizer.All(doc)
	for _, r := range rejected {
		s.logger.Warn("skipping SBOM entry", "entry", r.String())
	}

	g := s.builder.Build(records, doc.Relationships, doc.RootID)
	s.logger.Info("dependency graph built",
		"source", path,
		"format", doc.Format,
		"nodes", g.Len(),
		"rejected", len(rejected),
		"dangling_edges", g.DanglingEdges)

	return &Plan{Document: doc, Graph: g, Rejections: rejected}, nil
}

// Analyze runs a new analysis of path under runID
func (s *Scanner) Analyze(ctx context.Context, path, runID string, onProgress aggregator.ProgressFunc) (*models.AnalysisResult, error) {
	if err := store.ValidateRunID(runID); err != nil {
		return nil, err
	}
	plan, err := s.Prepare(path)
	if err != nil {
		return nil, err
	}

	result := models.NewAnalysisResult(runID, path, plan.Graph.Len())
	result.Diagnostics = plan.Diagnostics()
	result, err = s.aggregator.Process(ctx, result, plan.Graph.Nodes, onProgress, s.config.CheckpointEvery)
	s.markExploited(ctx, result)
	return result, err
}

// Resume continues the analysis stored under runID. The input is re-read;
// nodes already in the checkpoint are skipped.
func (s *Scanner) Resume(ctx context.Context, path, runID string, onProgress aggregator.ProgressFunc) (*models.AnalysisResult, error) {
	plan, err := s.Prepare(path)
	if err != nil {
		return nil, err
	}
	result, err := s.aggregator.Resume(ctx, runID, plan.Graph.Nodes, onProgress, s.config.CheckpointEvery)
	s.markExploited(ctx, result)
	return result, err
}

// markExploited flags findings whose CVE is in the exploit catalog. It runs
// on the returned result only; checkpoints hold the unmarked findings.
func (s *Scanner) markExploited(ctx context.Context, result *models.AnalysisResult) {
	if s.exploited == nil || result == nil || len(result.VulnerableNodes) == 0 {
		return
	}

	// An interrupted run still gets its partial findings marked
	catalog, err := s.exploited.Catalog(context.WithoutCancel(ctx))
	if err != nil {
		// Non-fatal: report without exploit data
		s.logger.Warn("could not load KEV catalog", "error", err)
		return
	}

	marked := 0
	for i := range result.VulnerableNodes {
		findings := result.VulnerableNodes[i].Findings
		for j := range findings {
			for _, cve := range findings[j].CVEs() {
				if entry, ok := catalog[cve]; ok {
					findings[j].KnownExploited = true
					findings[j].Exploitation = &models.Exploitation{
						CVE:           entry.CVEID,
						DateAdded:     entry.DateAdded,
						DueDate:       entry.DueDate,
						RansomwareUse: entry.RansomwareUse,
					}
					marked++
					break
				}
			}
		}
	}
	result.Diagnostics.KnownExploited = marked
	s.logger.Info("checked findings against KEV", "known_exploited", marked, "catalog_size", len(catalog))
}

// Checkpoint returns the stored state of a run
func (s *Scanner) Checkpoint(ctx context.Context, runID string) (*models.AnalysisResult, error) {
	if err := store.ValidateRunID(runID); err != nil {
		return nil, err
	}
	result, err := s.store.GetCheckpoint(ctx, runID)
	if err != nil {
		return nil, err
	}
	s.markExploited(ctx, result)
	return result, nil
}

// Sessions lists recorded runs when the store keeps a session table
func (s *Scanner) Sessions(ctx context.Context) ([]store.Checkpoint, bool, error) {
	sql, ok := s.store.(*store.SQLStore)
	if !ok {
		return nil, false, nil
	}
	sessions, err := sql.Sessions(ctx)
	return sessions, true, err
}

// Close releases the checkpoint store
func (s *Scanner) Close() error {
	return s.store.Close()
}

// Exceeds reports whether any finding is at or above threshold. An empty
// threshold never fails.
func Exceeds(result *models.AnalysisResult, threshold string) bool {
	if threshold == "" {
		return false
	}
	floor, ok := models.ParseSeverity(threshold)
	if !ok {
		return false
	}
	for sev, n := range result.FindingsBySeverity {
		if n > 0 && sev.Rank() >= floor.Rank() && sev.Rank() > 0 {
			return true
		}
	}
	return false
}
