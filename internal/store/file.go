package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// FileStore writes one JSON document per run id into a directory
type FileStore struct {
	fs  afero.Fs
	dir string
}

// NewFileStore creates a store rooted at dir on fs
func NewFileStore(fs afero.Fs, dir string) *FileStore {
	return &FileStore{fs: fs, dir: dir}
}

// Path returns the checkpoint file for a run
func (s *FileStore) Path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// PutCheckpoint replaces the run's checkpoint. The file is written beside the
// target and renamed over it, so readers never see a partial document.
func (s *FileStore) PutCheckpoint(ctx context.Context, runID string, result *models.AnalysisResult) error {
	if err := ValidateRunID(runID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return errors.Wrap(err, "unable to create checkpoint directory")
	}

	tmp := s.Path(runID) + ".tmp"
	if err := s.writeJSON(tmp, result); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, s.Path(runID)); err != nil {
		return errors.Wrap(err, "unable to replace checkpoint")
	}
	return nil
}

// GetCheckpoint reads the run's latest checkpoint
func (s *FileStore) GetCheckpoint(_ context.Context, runID string) (*models.AnalysisResult, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}

	b, err := afero.ReadFile(s.fs, s.Path(runID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "unable to read checkpoint")
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, errors.Wrapf(err, "checkpoint %s is corrupt", runID)
	}
	return &result, nil
}

// Close is a no-op
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) writeJSON(filePath string, data interface{}) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}

	f, err := s.fs.Create(filePath)
	if err != nil {
		return errors.Wrap(err, "unable to open a file")
	}
	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to save a file")
	}
	// buffered data may only fail to reach the disk on close
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to save a file")
	}
	return nil
}
