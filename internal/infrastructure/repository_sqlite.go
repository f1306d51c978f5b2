package infrastructure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yourusername/episode-offline-go/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteJobRepository implements JobRepository using SQLite.
// The database is opened lazily by the first operation.
type SQLiteJobRepository struct {
	dbPath string

	mu sync.Mutex
	db *gorm.DB
}

// NewSQLiteJobRepository creates a new SQLite repository without touching the disk
func NewSQLiteJobRepository(dbPath string) *SQLiteJobRepository {
	return &SQLiteJobRepository{dbPath: dbPath}
}

// open returns the shared handle, opening and migrating it on first use.
// Concurrent first callers wait on the same open; a failed open is retried by the next caller.
func (r *SQLiteJobRepository) open() (*gorm.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return r.db, nil
	}

	if r.dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(r.dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(r.dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; a single connection also keeps ":memory:" databases shared
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	// Indexes on parent_id and status are declared on the model so they exist from the first open
	if err := db.AutoMigrate(&domain.Job{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	r.db = db
	return db, nil
}

// Upsert writes the full record for job.ID
func (r *SQLiteJobRepository) Upsert(job *domain.Job) error {
	db, err := r.open()
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(job).Error
}

// Get finds a job by ID
// Returns nil if not found
func (r *SQLiteJobRepository) Get(id string) (*domain.Job, error) {
	db, err := r.open()
	if err != nil {
		return nil, err
	}

	var job domain.Job
	err = db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// ListAll returns every job ordered by start time
func (r *SQLiteJobRepository) ListAll() ([]*domain.Job, error) {
	db, err := r.open()
	if err != nil {
		return nil, err
	}

	var jobs []*domain.Job
	err = db.Order("started_at ASC").Find(&jobs).Error
	return jobs, err
}

// ListByParent returns the jobs of one collection ordered by ordinal
func (r *SQLiteJobRepository) ListByParent(parentID string) ([]*domain.Job, error) {
	db, err := r.open()
	if err != nil {
		return nil, err
	}

	var jobs []*domain.Job
	err = db.Where("parent_id = ?", parentID).Order("ordinal ASC").Find(&jobs).Error
	return jobs, err
}

// ListByStatus returns jobs in any of the given statuses ordered by start time
func (r *SQLiteJobRepository) ListByStatus(statuses ...domain.JobStatus) ([]*domain.Job, error) {
	db, err := r.open()
	if err != nil {
		return nil, err
	}

	var jobs []*domain.Job
	if len(statuses) == 0 {
		return jobs, nil
	}
	err = db.Where("status IN ?", statuses).Order("started_at ASC").Find(&jobs).Error
	return jobs, err
}

// Delete deletes a job by ID
func (r *SQLiteJobRepository) Delete(id string) error {
	db, err := r.open()
	if err != nil {
		return err
	}
	return db.Delete(&domain.Job{}, "id = ?", id).Error
}

// SetProgress updates percent and segment count, completing the job at 100%
func (r *SQLiteJobRepository) SetProgress(id string, percent float64, segmentsDone int) error {
	db, err := r.open()
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"progress_percent": percent,
		"segments_done":    segmentsDone,
		"updated_at":       time.Now(),
	}
	if percent >= 100 {
		updates["progress_percent"] = float64(100)
		updates["status"] = domain.StatusCompleted
		updates["completed_at"] = time.Now()
	}

	return db.Model(&domain.Job{}).Where("id = ?", id).Updates(updates).Error
}

// SetStatus updates the status and error message
func (r *SQLiteJobRepository) SetStatus(id string, status domain.JobStatus, errMsg string) error {
	db, err := r.open()
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":     status,
			"error":      errMsg,
			"updated_at": time.Now(),
		}
		if err := tx.Model(&domain.Job{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if status != domain.StatusCompleted {
			return nil
		}
		return tx.Model(&domain.Job{}).
			Where("id = ? AND completed_at IS NULL", id).
			Update("completed_at", time.Now()).Error
	})
}

// SetSegmentTotal records how many segments the manifest listed
func (r *SQLiteJobRepository) SetSegmentTotal(id string, total int) error {
	db, err := r.open()
	if err != nil {
		return err
	}
	return db.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"segment_total": total,
		"updated_at":    time.Now(),
	}).Error
}

// SetTransfer records byte counters and skipped segments
func (r *SQLiteJobRepository) SetTransfer(id string, stats domain.TransferStats) error {
	db, err := r.open()
	if err != nil {
		return err
	}
	return db.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"bytes_done":      stats.BytesDone,
		"bytes_total":     stats.BytesTotal,
		"segments_failed": stats.SegmentsFailed,
		"updated_at":      time.Now(),
	}).Error
}

// GetStats returns job statistics
func (r *SQLiteJobRepository) GetStats() (*domain.JobStats, error) {
	db, err := r.open()
	if err != nil {
		return nil, err
	}

	stats := &domain.JobStats{}

	if err := db.Model(&domain.Job{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	statusCounts := []struct {
		Status domain.JobStatus
		Count  int64
	}{}

	if err := db.Model(&domain.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range statusCounts {
		switch sc.Status {
		case domain.StatusPending:
			stats.Pending = sc.Count
		case domain.StatusRunning:
			stats.Running = sc.Count
		case domain.StatusCompleted:
			stats.Completed = sc.Count
		case domain.StatusFailed:
			stats.Failed = sc.Count
		case domain.StatusCancelled:
			stats.Cancelled = sc.Count
		}
	}

	return stats, nil
}

// Close closes the database connection if it was ever opened
func (r *SQLiteJobRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	r.db = nil
	return sqlDB.Close()
}
