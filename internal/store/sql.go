package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Checkpoint is the persisted row for one run. The row doubles as the
// analysis session record.
type Checkpoint struct {
	RunID         string           `gorm:"primaryKey" json:"runId"`
	Source        string           `json:"source"`
	Status        models.RunStatus `gorm:"index" json:"status"`
	Processed     int              `json:"processed"`
	TotalPackages int              `json:"totalPackages"`
	Payload       []byte           `json:"-"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// TableName overrides the table name used by gorm
func (Checkpoint) TableName() string {
	return "checkpoints"
}

// SQLStore keeps checkpoints in a SQLite database
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "unable to create database directory")
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not open checkpoint database")
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewSQLStore(db)
}

// NewSQLStore wraps an open connection and migrates the schema
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&Checkpoint{}); err != nil {
		return nil, errors.Wrap(err, "could not migrate checkpoint schema")
	}
	return &SQLStore{db: db}, nil
}

// PutCheckpoint upserts the run's checkpoint
func (s *SQLStore) PutCheckpoint(ctx context.Context, runID string, result *models.AnalysisResult) error {
	if err := ValidateRunID(runID); err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint")
	}

	row := Checkpoint{
		RunID:         runID,
		Source:        result.Source,
		Status:        result.Status,
		Processed:     result.Processed,
		TotalPackages: result.TotalPackages,
		Payload:       payload,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"source", "status", "processed", "total_packages", "payload", "updated_at"}),
		}).
		Create(&row).Error
	return errors.Wrap(err, "could not save checkpoint")
}

// GetCheckpoint loads the run's checkpoint
func (s *SQLStore) GetCheckpoint(ctx context.Context, runID string) (*models.AnalysisResult, error) {
	var row Checkpoint
	err := s.db.WithContext(ctx).First(&row, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "could not load checkpoint")
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(row.Payload, &result); err != nil {
		return nil, errors.Wrapf(err, "checkpoint %s is corrupt", runID)
	}
	return &result, nil
}

// Sessions lists the recorded runs, most recently updated first
func (s *SQLStore) Sessions(ctx context.Context) ([]Checkpoint, error) {
	var rows []Checkpoint
	err := s.db.WithContext(ctx).
		Omit("payload").
		Order("updated_at desc").
		Find(&rows).Error
	return rows, errors.Wrap(err, "could not list sessions")
}

// Close closes the underlying connection
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
