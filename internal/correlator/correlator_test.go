package correlator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethanolivertroy/sbomgraph/internal/cache"
	"github.com/ethanolivertroy/sbomgraph/internal/clients"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed answers from fixed tables and records every call
type fakeFeed struct {
	mu         sync.Mutex
	batch      func(queries []clients.OSVQuery) ([][]clients.OSVVulnerability, error)
	single     map[string][]clients.OSVVulnerability
	failSingle map[string]bool
	batchCalls int
	queried    []string
}

func (f *fakeFeed) QueryBatch(_ context.Context, queries []clients.OSVQuery) ([][]clients.OSVVulnerability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.batch == nil {
		return nil, errors.New("batch endpoint unavailable")
	}
	return f.batch(queries)
}

func (f *fakeFeed) Query(_ context.Context, q clients.OSVQuery) ([]clients.OSVVulnerability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, q.Package.Name)
	if f.failSingle[q.Package.Name] {
		return nil, errors.New("connection reset")
	}
	return f.single[q.Package.Name], nil
}

func node(eco models.Ecosystem, name, version string) models.DependencyNode {
	return models.DependencyNode{
		NodeID:    models.NodeID(eco, name, version),
		Name:      name,
		Version:   version,
		Ecosystem: eco,
	}
}

func fullVuln(id string, ecosystems ...string) clients.OSVVulnerability {
	v := clients.OSVVulnerability{
		ID:               id,
		Modified:         "2024-01-01T00:00:00Z",
		Summary:          id + " summary",
		Details:          "details",
		DatabaseSpecific: map[string]any{"severity": "HIGH"},
	}
	for _, e := range ecosystems {
		v.Affected = append(v.Affected, clients.OSVAffected{Package: clients.OSVPackage{Name: "pkg", Ecosystem: e}})
	}
	return v
}

func newTestCorrelator(feed Feed, c cache.Cache) *Correlator {
	cor := New(feed, c, Options{MinFindingFields: 4, FailureBackoff: time.Millisecond}, nil)
	cor.sleep = func(context.Context, time.Duration) error { return nil }
	return cor
}

func TestDegradedBatchRefetchesEveryEntry(t *testing.T) {
	var mu sync.Mutex
	singles := map[string]int{}
	batchCalls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/v1/querybatch":
			batchCalls++
			// second entry is an id/modified stub, the others are complete
			full, _ := json.Marshal(fullVuln("GHSA-full", "npm"))
			_, _ = w.Write([]byte(`{"results":[{"vulns":[` + string(full) + `]},{"vulns":[{"id":"GHSA-stub","modified":"2024-01-01T00:00:00Z"}]},{}]}`))
		case "/v1/query":
			var q clients.OSVQuery
			_ = json.NewDecoder(r.Body).Decode(&q)
			singles[q.Package.Name]++
			if q.Package.Name == "b" {
				body, _ := json.Marshal(map[string]any{"vulns": []clients.OSVVulnerability{fullVuln("GHSA-stub", "npm")}})
				_, _ = w.Write(body)
				return
			}
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	feed := clients.NewOSVClient(srv.URL, time.Second, nil)
	cor := newTestCorrelator(feed, cache.Nop{})

	nodes := []models.DependencyNode{
		node(models.EcosystemNpm, "a", "1.0.0"),
		node(models.EcosystemNpm, "b", "1.0.0"),
		node(models.EcosystemNpm, "c", "1.0.0"),
	}
	results, diag := cor.Correlate(context.Background(), nodes)

	assert.Equal(t, 1, batchCalls)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, singles, "all three entries re-fetched")
	assert.Equal(t, 1, diag.BatchFallbacks)

	require.Len(t, results, 3)
	assert.Empty(t, results[0].Findings, "bulk answer for a was discarded")
	require.Len(t, results[1].Findings, 1)
	assert.Equal(t, "GHSA-stub", results[1].Findings[0].VulnID)
	assert.Equal(t, models.SeverityHigh, results[1].Findings[0].Severity)
	assert.Empty(t, results[2].Findings)
}

func TestCompleteBatchIsUsedDirectly(t *testing.T) {
	feed := &fakeFeed{
		batch: func(queries []clients.OSVQuery) ([][]clients.OSVVulnerability, error) {
			out := make([][]clients.OSVVulnerability, len(queries))
			out[0] = []clients.OSVVulnerability{fullVuln("GHSA-1", "npm")}
			return out, nil
		},
	}
	cor := newTestCorrelator(feed, cache.Nop{})

	results, diag := cor.Correlate(context.Background(), []models.DependencyNode{
		node(models.EcosystemNpm, "a", "1.0.0"),
		node(models.EcosystemNpm, "b", "1.0.0"),
	})

	assert.Empty(t, feed.queried)
	assert.Zero(t, diag.BatchFallbacks)
	require.Len(t, results[0].Findings, 1)
	assert.Equal(t, results[0].Node.NodeID, results[0].Findings[0].SourceNodeID)
	assert.Empty(t, results[1].Findings)
}

func TestShortBatchAnswerFallsBackToSingleQueries(t *testing.T) {
	feed := &fakeFeed{
		batch: func(queries []clients.OSVQuery) ([][]clients.OSVVulnerability, error) {
			// one answer for two queries
			return [][]clients.OSVVulnerability{nil}, nil
		},
		single: map[string][]clients.OSVVulnerability{
			"b": {fullVuln("GHSA-2", "npm")},
		},
	}
	cor := newTestCorrelator(feed, cache.Nop{})

	var results []Result
	var diag models.Diagnostics
	require.NotPanics(t, func() {
		results, diag = cor.Correlate(context.Background(), []models.DependencyNode{
			node(models.EcosystemNpm, "a", "1.0.0"),
			node(models.EcosystemNpm, "b", "1.0.0"),
		})
	})

	assert.Equal(t, 1, diag.BatchFallbacks)
	assert.Equal(t, []string{"a", "b"}, feed.queried)
	assert.Empty(t, results[0].Findings)
	require.Len(t, results[1].Findings, 1)
	assert.Equal(t, "GHSA-2", results[1].Findings[0].VulnID)
}

func TestBatchesAreCappedAtOneHundred(t *testing.T) {
	var sizes []int
	feed := &fakeFeed{
		batch: func(queries []clients.OSVQuery) ([][]clients.OSVVulnerability, error) {
			sizes = append(sizes, len(queries))
			return make([][]clients.OSVVulnerability, len(queries)), nil
		},
	}
	cor := New(feed, nil, Options{BatchSize: 500}, nil)

	nodes := make([]models.DependencyNode, 250)
	for i := range nodes {
		nodes[i] = node(models.EcosystemPyPI, "pkg"+string(rune('a'+i%26))+string(rune('a'+i/26)), "1.0")
	}
	results, _ := cor.Correlate(context.Background(), nodes)

	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Len(t, results, 250)
}

func TestEcosystemFilterDropsCrossEcosystemFindings(t *testing.T) {
	feed := &fakeFeed{
		single: map[string][]clients.OSVVulnerability{
			"lodash": {fullVuln("PYSEC-lodash", "PyPI")},
		},
	}
	cor := newTestCorrelator(feed, cache.Nop{})

	results, diag := cor.Correlate(context.Background(), []models.DependencyNode{
		node(models.EcosystemNpm, "lodash", "4.17.21"),
	})

	require.Len(t, results, 1)
	assert.Empty(t, results[0].Findings, "lodash reports zero vulnerabilities")
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, diag.FilteredFindings)
}

func TestEcosystemFilterKeepsMatchingAndUnscopedFindings(t *testing.T) {
	feed := &fakeFeed{
		single: map[string][]clients.OSVVulnerability{
			"openssl": {
				fullVuln("DSA-1", "Debian:12"),
				fullVuln("UNSCOPED"),
				fullVuln("ALPINE-1", "Alpine:v3.19"),
				fullVuln("DSA-1", "Debian:11"),
			},
		},
	}
	cor := newTestCorrelator(feed, cache.Nop{})

	results, diag := cor.Correlate(context.Background(), []models.DependencyNode{
		node(models.EcosystemDebian, "openssl", "3.0.11-1"),
	})

	ids := []string{}
	for _, f := range results[0].Findings {
		ids = append(ids, f.VulnID)
	}
	assert.Equal(t, []string{"DSA-1", "UNSCOPED"}, ids)
	assert.Equal(t, 1, diag.FilteredFindings)
	assert.Equal(t, []models.Ecosystem{models.EcosystemDebian}, results[0].Findings[0].AffectedEcosystems)
}

func TestUnresolvedNodesAreNotFiltered(t *testing.T) {
	feed := &fakeFeed{
		single: map[string][]clients.OSVVulnerability{
			"mystery": {fullVuln("GHSA-m", "PyPI")},
		},
	}
	cor := newTestCorrelator(feed, cache.Nop{})

	results, diag := cor.Correlate(context.Background(), []models.DependencyNode{
		node(models.EcosystemUnresolved, "mystery", "1.0"),
	})

	require.Len(t, results[0].Findings, 1)
	assert.True(t, results[0].Findings[0].LowConfidence)
	assert.Equal(t, 1, diag.LowConfidenceFindings)
	assert.Zero(t, diag.FilteredFindings)
}

func TestQueryFailuresAreIsolated(t *testing.T) {
	feed := &fakeFeed{
		failSingle: map[string]bool{"a": true, "b": true, "c": true},
		single: map[string][]clients.OSVVulnerability{
			"d": {fullVuln("GHSA-d", "npm")},
		},
	}
	cor := newTestCorrelator(feed, cache.Nop{})
	backoffs := 0
	cor.sleep = func(context.Context, time.Duration) error {
		backoffs++
		return nil
	}

	results, diag := cor.Correlate(context.Background(), []models.DependencyNode{
		node(models.EcosystemNpm, "a", "1.0.0"),
		node(models.EcosystemNpm, "b", "1.0.0"),
		node(models.EcosystemNpm, "c", "1.0.0"),
		node(models.EcosystemNpm, "d", "1.0.0"),
	})

	assert.Equal(t, []string{"a", "b", "c", "d"}, feed.queried)
	assert.Equal(t, 1, backoffs, "three consecutive failures trigger one backoff")
	assert.Equal(t, 3, diag.FailedQueries)
	for _, r := range results[:3] {
		assert.Error(t, r.Err)
		assert.Empty(t, r.Findings)
	}
	assert.NoError(t, results[3].Err)
	require.Len(t, results[3].Findings, 1)
}

func TestUnversionedNodesAreSkipped(t *testing.T) {
	feed := &fakeFeed{}
	cor := newTestCorrelator(feed, cache.Nop{})

	results, diag := cor.Correlate(context.Background(), []models.DependencyNode{
		node(models.EcosystemNpm, "ranged", ""),
	})

	assert.True(t, results[0].Skipped)
	assert.Equal(t, 1, diag.Unversioned)
	assert.Zero(t, feed.batchCalls)
	assert.Empty(t, feed.queried)
}

func TestGoVersionsDropThePrefix(t *testing.T) {
	var seen []clients.OSVQuery
	feed := &fakeFeed{
		batch: func(queries []clients.OSVQuery) ([][]clients.OSVVulnerability, error) {
			seen = append(seen, queries...)
			return make([][]clients.OSVVulnerability, len(queries)), nil
		},
	}
	cor := newTestCorrelator(feed, cache.Nop{})

	cor.Correlate(context.Background(), []models.DependencyNode{
		node(models.EcosystemGo, "github.com/spf13/cobra", "v1.10.2"),
		node(models.EcosystemNpm, "semver", "v7"),
	})

	require.Len(t, seen, 2)
	assert.Equal(t, "1.10.2", seen[0].Version)
	assert.Equal(t, "Go", seen[0].Package.Ecosystem)
	assert.Equal(t, "v7", seen[1].Version)
}

func TestCacheIsReadThrough(t *testing.T) {
	mem := cache.NewMemory(16, time.Hour)
	feed := &fakeFeed{
		single: map[string][]clients.OSVVulnerability{
			"lodash": {fullVuln("GHSA-l", "npm")},
		},
	}
	cor := newTestCorrelator(feed, mem)
	nodes := []models.DependencyNode{node(models.EcosystemNpm, "lodash", "4.17.20")}

	first, _ := cor.Correlate(context.Background(), nodes)
	second, _ := cor.Correlate(context.Background(), nodes)

	assert.Equal(t, []string{"lodash"}, feed.queried, "second run served from cache")
	assert.Equal(t, first[0].Findings, second[0].Findings)

	_, ok := mem.Get("npm:lodash:4.17.20")
	assert.True(t, ok)
}

func TestPreSeededCacheSkipsTheFeed(t *testing.T) {
	mem := cache.NewMemory(16, time.Hour)
	data, err := json.Marshal([]clients.OSVVulnerability{fullVuln("GHSA-seeded", "npm")})
	require.NoError(t, err)
	require.NoError(t, mem.Set("npm:left-pad:1.3.0", data))

	feed := &fakeFeed{}
	cor := newTestCorrelator(feed, mem)

	results, _ := cor.Correlate(context.Background(), []models.DependencyNode{
		node(models.EcosystemNpm, "left-pad", "1.3.0"),
	})

	assert.Zero(t, feed.batchCalls)
	require.Len(t, results[0].Findings, 1)
	assert.Equal(t, "GHSA-seeded", results[0].Findings[0].VulnID)
}

func TestCancelledContextSkipsQueries(t *testing.T) {
	feed := &fakeFeed{}
	cor := newTestCorrelator(feed, cache.Nop{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, _ := cor.Correlate(ctx, []models.DependencyNode{node(models.EcosystemNpm, "a", "1.0.0")})

	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Zero(t, feed.batchCalls)
}
