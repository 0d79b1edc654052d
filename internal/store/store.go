// Package store persists analysis checkpoints keyed by run id.
//
// Backends give last-write-wins semantics per run id and nothing more.
package store

import (
	"context"
	"io"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var (
	// ErrNotFound is returned when no checkpoint exists for a run
	ErrNotFound = errors.New("checkpoint not found")
	// ErrInvalidRunID is returned for run ids that cannot be used as keys
	ErrInvalidRunID = errors.New("invalid run id")
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// CheckpointStore is the key-value interface the aggregator persists through
type CheckpointStore interface {
	PutCheckpoint(ctx context.Context, runID string, result *models.AnalysisResult) error
	GetCheckpoint(ctx context.Context, runID string) (*models.AnalysisResult, error)
}

// Store is a CheckpointStore that holds resources
type Store interface {
	CheckpointStore
	io.Closer
}

// Open creates the backend named by cfg.Store
func Open(cfg *models.Config) (Store, error) {
	switch cfg.Store {
	case "file", "":
		return NewFileStore(afero.NewOsFs(), filepath.Join(cfg.StorePath, "checkpoints")), nil
	case "sqlite":
		return OpenSQLite(filepath.Join(cfg.StorePath, "sbomgraph.db"))
	case "none":
		return NewMemory(), nil
	default:
		return nil, errors.Errorf("unknown store %q", cfg.Store)
	}
}

// ValidateRunID rejects ids that are unsafe as file names or keys
func ValidateRunID(runID string) error {
	if !runIDPattern.MatchString(runID) {
		return errors.Wrapf(ErrInvalidRunID, "%q", runID)
	}
	return nil
}

// Memory keeps checkpoints in process. Stored results are copies.
type Memory struct {
	mu    sync.Mutex
	items map[string]*models.AnalysisResult
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{items: make(map[string]*models.AnalysisResult)}
}

// PutCheckpoint stores a copy of result
func (m *Memory) PutCheckpoint(_ context.Context, runID string, result *models.AnalysisResult) error {
	if err := ValidateRunID(runID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[runID] = result.Clone()
	return nil
}

// GetCheckpoint returns a copy of the latest checkpoint
func (m *Memory) GetCheckpoint(_ context.Context, runID string) (*models.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}
