package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/grasshopper/pkg/config"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateTestRun persists a new active run. The id and start time are
// assigned here when unset.
func (s *store) CreateTestRun(ctx context.Context, run *TestRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}

	run.EndTime = nil

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating test run: %w", err)
	}

	return nil
}

func (s *store) GetTestRun(ctx context.Context, id string) (*TestRun, error) {
	var run TestRun
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting test run: %w", notFound(err))
	}

	return &run, nil
}

// ListTestRuns returns the runs owned by userID, newest first.
func (s *store) ListTestRuns(ctx context.Context, userID uint) ([]TestRun, error) {
	var runs []TestRun
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing test runs: %w", err)
	}

	return runs, nil
}

// FinishTestRun sets the end time of a run if it has none yet. Finishing a
// stopped run again returns it unchanged. The end time is never earlier
// than the start time. The flag is true only for the call that ended the run.
func (s *store) FinishTestRun(
	ctx context.Context, id string, now time.Time,
) (*TestRun, bool, error) {
	var (
		run     TestRun
		stopped bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockRun(tx).
			Where("id = ?", id).
			First(&run).Error; err != nil {
			return notFound(err)
		}

		if !run.IsActive() {
			return nil
		}

		end := now.UTC()
		if end.Before(run.StartTime) {
			end = run.StartTime
		}

		result := tx.Model(&TestRun{}).
			Where("id = ? AND end_time IS NULL", id).
			Update("end_time", end)
		if result.Error != nil {
			return result.Error
		}

		stopped = result.RowsAffected == 1

		return tx.Where("id = ?", id).First(&run).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("finishing test run: %w", err)
	}

	return &run, stopped, nil
}

// RecordCPUUsage appends a sample to an active run. The sample is stamped
// with now, moved forward to the latest existing sample if the clock went
// backwards, so each run's series stays ordered.
func (s *store) RecordCPUUsage(
	ctx context.Context,
	runID string,
	usage float64,
	now time.Time,
) (*CPUUsage, error) {
	sample := CPUUsage{
		TestRunID: runID,
		Timestamp: now.UTC(),
		Usage:     usage,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run TestRun
		if err := s.lockRun(tx).
			Where("id = ?", runID).
			First(&run).Error; err != nil {
			return notFound(err)
		}

		if !run.IsActive() {
			return ErrRunFinished
		}

		var last CPUUsage

		result := tx.Where("test_run_id = ?", runID).
			Order("timestamp DESC").
			Order("id DESC").
			Limit(1).
			Find(&last)
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected > 0 && sample.Timestamp.Before(last.Timestamp) {
			sample.Timestamp = last.Timestamp
		}

		return tx.Create(&sample).Error
	})
	if err != nil {
		return nil, fmt.Errorf("recording cpu usage: %w", err)
	}

	return &sample, nil
}

// ListCPUUsage returns a run's samples in timestamp order.
func (s *store) ListCPUUsage(ctx context.Context, runID string) ([]CPUUsage, error) {
	var samples []CPUUsage
	if err := s.db.WithContext(ctx).
		Where("test_run_id = ?", runID).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("listing cpu usage: %w", err)
	}

	return samples, nil
}

// lockRun takes a row lock on the selected run where the database supports
// it. SQLite transactions are already serialized on one connection.
func (s *store) lockRun(tx *gorm.DB) *gorm.DB {
	if s.cfg.Driver == config.DriverPostgres {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	return tx
}
