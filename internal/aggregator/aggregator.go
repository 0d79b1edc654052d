// Package aggregator folds correlation results into a running analysis result
// and persists it at fixed checkpoint boundaries.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethanolivertroy/sbomgraph/internal/correlator"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/ethanolivertroy/sbomgraph/internal/store"
	"github.com/pkg/errors"
)

// ErrCheckpointWrite marks a failed checkpoint write, the only error that ends a run
var ErrCheckpointWrite = errors.New("checkpoint write failed")

// CheckpointError carries the storage failure behind ErrCheckpointWrite
type CheckpointError struct {
	RunID     string
	Processed int
	Err       error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint write failed for run %s after %d packages: %v", e.RunID, e.Processed, e.Err)
}

// Unwrap exposes both the sentinel and the storage error
func (e *CheckpointError) Unwrap() []error {
	return []error{ErrCheckpointWrite, e.Err}
}

// Progress is reported after every checkpoint
type Progress struct {
	Processed int
	Total     int
	Status    string
}

// ProgressFunc receives progress updates; it runs on the aggregation goroutine
type ProgressFunc func(Progress)

// Correlator is the part of the correlator the aggregator drives
type Correlator interface {
	Correlate(ctx context.Context, nodes []models.DependencyNode) ([]correlator.Result, models.Diagnostics)
}

// Aggregator runs correlation over a node list, checkpointing as it goes
type Aggregator struct {
	correlator Correlator
	store      store.CheckpointStore
	logger     *slog.Logger
}

// New creates an aggregator
func New(c Correlator, s store.CheckpointStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{correlator: c, store: s, logger: logger}
}

// Process correlates nodes in order and folds them into result. Nodes whose
// ids are already recorded in result are skipped. A checkpoint is written
// after every checkpointEvery nodes and after the last one.
//
// Cancellation is observed between nodes. A cancelled run returns the partial
// result with status cancelled and a nil error; the last checkpoint stays the
// durable state. Only a failed checkpoint write returns an error, wrapping
// ErrCheckpointWrite.
func (a *Aggregator) Process(ctx context.Context, result *models.AnalysisResult, nodes []models.DependencyNode, onProgress ProgressFunc, checkpointEvery int) (*models.AnalysisResult, error) {
	if checkpointEvery <= 0 {
		checkpointEvery = 1
	}
	if result.TotalPackages < len(nodes) {
		result.TotalPackages = len(nodes)
	}
	result.Status = models.StatusProcessing

	done := result.ProcessedSet()
	remaining := make([]models.DependencyNode, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := done[n.NodeID]; !ok {
			remaining = append(remaining, n)
		}
	}
	if skipped := len(nodes) - len(remaining); skipped > 0 {
		a.logger.Info("resuming run", "run", result.RunID, "already_processed", skipped)
	}

	if len(remaining) == 0 {
		result.Freeze(models.StatusCompleted)
		return result, a.checkpoint(ctx, result, onProgress)
	}

	for start := 0; start < len(remaining); start += checkpointEvery {
		end := min(start+checkpointEvery, len(remaining))
		if ctx.Err() != nil {
			return a.cancel(result), nil
		}

		results, diag := a.correlator.Correlate(ctx, remaining[start:end])
		result.Diagnostics.Add(diag)

		for _, r := range results {
			if ctx.Err() != nil {
				return a.cancel(result), nil
			}
			if err := a.fold(result, r); err != nil {
				return result, err
			}
		}

		if end == len(remaining) {
			result.Freeze(models.StatusCompleted)
		}
		if err := a.checkpoint(ctx, result, onProgress); err != nil {
			return result, err
		}
	}

	a.logger.Info("analysis complete",
		"run", result.RunID,
		"packages", result.Processed,
		"vulnerable", result.VulnerablePackages,
		"findings", result.TotalFindings())
	return result, nil
}

// Resume continues a run from its stored checkpoint. A completed run is
// returned as stored.
func (a *Aggregator) Resume(ctx context.Context, runID string, nodes []models.DependencyNode, onProgress ProgressFunc, checkpointEvery int) (*models.AnalysisResult, error) {
	prev, err := a.store.GetCheckpoint(ctx, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resume run %s", runID)
	}
	if prev.Final && prev.Status == models.StatusCompleted {
		return prev, nil
	}

	prev.Final = false
	return a.Process(ctx, prev, nodes, onProgress, checkpointEvery)
}

func (a *Aggregator) fold(result *models.AnalysisResult, r correlator.Result) error {
	findings := r.Findings
	if r.Err != nil {
		result.Diagnostics.FailedNodes++
		a.logger.Warn("recording no findings for package after feed failure",
			"package", r.Node.String(), "error", r.Err)
		findings = nil
	}
	return result.Record(r.Node, findings)
}

func (a *Aggregator) checkpoint(ctx context.Context, result *models.AnalysisResult, onProgress ProgressFunc) error {
	// the write must land even if the caller is cancelling
	if err := a.store.PutCheckpoint(context.WithoutCancel(ctx), result.RunID, result); err != nil {
		return &CheckpointError{RunID: result.RunID, Processed: result.Processed, Err: err}
	}

	a.logger.Debug("checkpoint written", "run", result.RunID, "processed", result.Processed, "total", result.TotalPackages)
	if onProgress != nil {
		onProgress(Progress{
			Processed: result.Processed,
			Total:     result.TotalPackages,
			Status:    statusLine(result),
		})
	}
	return nil
}

func (a *Aggregator) cancel(result *models.AnalysisResult) *models.AnalysisResult {
	a.logger.Warn("analysis cancelled, last checkpoint is the durable result",
		"run", result.RunID, "processed", result.Processed, "total", result.TotalPackages)
	result.Freeze(models.StatusCancelled)
	return result
}

func statusLine(result *models.AnalysisResult) string {
	if result.Final {
		return fmt.Sprintf("Analysis complete: %d packages, %d vulnerable", result.Processed, result.VulnerablePackages)
	}
	return fmt.Sprintf("Correlated %d of %d packages (%d vulnerable)", result.Processed, result.TotalPackages, result.VulnerablePackages)
}
