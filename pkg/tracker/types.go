package tracker

import "time"

// API path constants shared by the client and the tracking service.
const (
	APIPrefix    = "/v1/api"
	HealthPath   = APIPrefix + "/health"
	AuthPath     = APIPrefix + "/auth"
	TestRunsPath = APIPrefix + "/testrun"
)

// AuthRequest exchanges credentials for a bearer token.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse carries an issued bearer token.
type AuthResponse struct {
	Token string `json:"token"`
}

// CreateRunRequest registers a new test run.
type CreateRunRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Threshold   float64 `json:"threshold"`
}

// Run identifies a registered test run.
type Run struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
}

// RecordUsageRequest reports one CPU usage observation. The tracking service
// also accepts a numeric string for Usage.
type RecordUsageRequest struct {
	Usage float64 `json:"usage"`
}

// RunSummary describes a test run without statistics.
type RunSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Threshold   float64    `json:"threshold"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Active      bool       `json:"active"`
}

// RunStats is the computed statistics view of a test run. Durations are
// expressed in seconds.
type RunStats struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	Threshold          float64    `json:"threshold"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            *time.Time `json:"end_time"`
	Measurements       int        `json:"measurements"`
	TimeAboveThreshold float64    `json:"time_above_threshold"`
	TotalTime          float64    `json:"total_time"`
	Duration           float64    `json:"duration"`
	PassedThreshold    bool       `json:"passed_threshold"`
}

// TimeAbove returns TimeAboveThreshold as a duration.
func (s *RunStats) TimeAbove() time.Duration {
	return secondsToDuration(s.TimeAboveThreshold)
}

// Total returns TotalTime as a duration.
func (s *RunStats) Total() time.Duration {
	return secondsToDuration(s.TotalTime)
}

// ThresholdResponse answers the live "has it already breached?" query.
type ThresholdResponse struct {
	ID        string  `json:"id"`
	Threshold float64 `json:"threshold"`
	MaxUsage  float64 `json:"max_usage"`
	Passed    bool    `json:"passed"`
}

// UsageSample is one recorded observation as returned by the service.
type UsageSample struct {
	Timestamp time.Time `json:"timestamp"`
	Usage     float64   `json:"usage"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Seconds converts a duration to the float seconds used on the wire.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
