// Package store wraps the gorm handle shared by the orchestrator and
// workflow executor processes, with typed queries over the entity model.
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/videoba/pipe/internal/model"
)

// Store is the shared persistence handle, passed down explicitly rather
// than held as a package-level singleton.
type Store struct {
	DB *gorm.DB
}

// Driver selects the gorm backend: sqlite suits a single-node deployment,
// postgres a shared one.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open connects and migrates the schema for VideoSource, Workflow,
// Algorithm, and Alert. Migration here covers the entity model only.
func Open(driver Driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	if err := db.AutoMigrate(&model.VideoSource{}, &model.Workflow{}, &model.Algorithm{}, &model.Alert{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{DB: db}, nil
}

// ListVideoSources returns every VideoSource row.
func (s *Store) ListVideoSources() ([]model.VideoSource, error) {
	var sources []model.VideoSource
	if err := s.DB.Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("store: list video sources: %w", err)
	}
	return sources, nil
}

// GetVideoSource loads one VideoSource by id.
func (s *Store) GetVideoSource(id uint) (*model.VideoSource, error) {
	var src model.VideoSource
	if err := s.DB.First(&src, id).Error; err != nil {
		return nil, fmt.Errorf("store: get video source %d: %w", id, err)
	}
	return &src, nil
}

// SetSourceRunning records that the orchestrator started a decoder for
// this source. decoder_pid is set iff status is RUNNING.
func (s *Store) SetSourceRunning(id uint, pid int) error {
	return s.DB.Model(&model.VideoSource{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.SourceRunning, "decoder_pid": pid}).Error
}

// SetSourceStopped clears status and pid together; a non-RUNNING row
// never keeps a pid.
func (s *Store) SetSourceStopped(id uint) error {
	return s.DB.Model(&model.VideoSource{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.SourceStopped, "decoder_pid": nil}).Error
}

// SetSourceFailed marks a source failed and clears its pid, same as
// SetSourceStopped. The next reconciliation tick treats an enabled,
// FAILED source the same as a STOPPED one and restarts it.
func (s *Store) SetSourceFailed(id uint) error {
	return s.DB.Model(&model.VideoSource{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.SourceFailed, "decoder_pid": nil}).Error
}

// ResetStaleRunningSources resets every RUNNING row to STOPPED with a null
// pid. Called once at orchestrator startup for crash recovery.
func (s *Store) ResetStaleRunningSources() error {
	return s.DB.Model(&model.VideoSource{}).Where("status = ?", model.SourceRunning).
		Updates(map[string]interface{}{"status": model.SourceStopped, "decoder_pid": nil}).Error
}

// GetWorkflow loads one workflow by id.
func (s *Store) GetWorkflow(id uint) (*model.Workflow, error) {
	var wf model.Workflow
	if err := s.DB.First(&wf, id).Error; err != nil {
		return nil, fmt.Errorf("store: get workflow %d: %w", id, err)
	}
	return &wf, nil
}

// GetAlgorithm loads one algorithm by id.
func (s *Store) GetAlgorithm(id uint) (*model.Algorithm, error) {
	var alg model.Algorithm
	if err := s.DB.First(&alg, id).Error; err != nil {
		return nil, fmt.Errorf("store: get algorithm %d: %w", id, err)
	}
	return &alg, nil
}

// CreateAlert persists an alert row.
func (s *Store) CreateAlert(a *model.Alert) error {
	if a.AlertTime.IsZero() {
		a.AlertTime = time.Now()
	}
	if err := s.DB.Create(a).Error; err != nil {
		return fmt.Errorf("store: create alert: %w", err)
	}
	return nil
}

// UpdateAlertVideo sets alert_video once the recorder finishes encoding
// the clip asynchronously.
func (s *Store) UpdateAlertVideo(alertID uint, path string) error {
	return s.DB.Model(&model.Alert{}).Where("id = ?", alertID).Update("alert_video", path).Error
}

// Close releases the underlying database connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return sqlDB.Close()
}
