package store

import (
	"time"
)

// User source constants.
const (
	SourceConfig = "config"
)

// User represents an authenticated user in the system.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Source       string    `gorm:"not null" json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is an issued bearer token.
type Session struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Token        string     `gorm:"uniqueIndex;not null" json:"-"`
	UserID       uint       `gorm:"not null;index" json:"user_id"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at"`
}

// TestRun is one registered execution of a workload. It is active while
// EndTime is nil.
type TestRun struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	UserID      uint       `gorm:"not null;index" json:"user_id"`
	Name        string     `gorm:"not null" json:"name"`
	Description string     `json:"description"`
	Threshold   float64    `gorm:"not null" json:"threshold"`
	StartTime   time.Time  `gorm:"not null;index" json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
}

// IsActive reports whether the run has not been stopped yet.
func (r *TestRun) IsActive() bool {
	return r.EndTime == nil
}

// Duration is the stopped run's length, or the time elapsed so far for an
// active one.
func (r *TestRun) Duration(now time.Time) time.Duration {
	end := now
	if r.EndTime != nil {
		end = *r.EndTime
	}

	if end.Before(r.StartTime) {
		return 0
	}

	return end.Sub(r.StartTime)
}

// CPUUsage is a single CPU utilization sample of a test run.
type CPUUsage struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	TestRunID string    `gorm:"not null;size:36;index:idx_cpu_usage_run_ts,priority:1" json:"-"`
	Timestamp time.Time `gorm:"not null;index:idx_cpu_usage_run_ts,priority:2" json:"timestamp"`
	Usage     float64   `gorm:"not null" json:"usage"`
}

// TableName keeps the sample table name stable.
func (CPUUsage) TableName() string {
	return "cpu_usages"
}
