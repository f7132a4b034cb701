package usage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoData is returned when statistics are requested for an empty series.
	ErrNoData = errors.New("no cpu usage data")

	// ErrUnordered is returned when a series is not timestamp-ascending.
	ErrUnordered = errors.New("cpu usage samples are not ordered by timestamp")
)

// Sample is a single CPU utilization observation.
type Sample struct {
	Timestamp time.Time
	Usage     float64 // Percentage, conventionally 0-100 but not clamped.
}

// Stats summarizes a sample series against a threshold.
type Stats struct {
	Measurements       int
	TimeAboveThreshold time.Duration
	TotalTime          time.Duration
}

// MaxUsage returns the highest usage value in the series.
func MaxUsage(samples []Sample) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrNoData
	}

	highest := samples[0].Usage

	for _, s := range samples[1:] {
		if s.Usage > highest {
			highest = s.Usage
		}
	}

	return highest, nil
}

// HasPassedThreshold reports whether any sample strictly exceeds threshold.
func HasPassedThreshold(samples []Sample, threshold float64) (bool, error) {
	highest, err := MaxUsage(samples)
	if err != nil {
		return false, err
	}

	return highest > threshold, nil
}

// ComputeStats derives threshold statistics from a timestamp-ascending series.
//
// Each gap between consecutive samples is attributed to the usage observed at
// the start of the gap. Time after the last sample is never counted, so a
// series with fewer than two samples has no time above the threshold.
// runDuration is reported as TotalTime unchanged.
func ComputeStats(
	samples []Sample,
	threshold float64,
	runDuration time.Duration,
) (*Stats, error) {
	if len(samples) == 0 {
		return nil, ErrNoData
	}

	var above time.Duration

	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]

		if cur.Timestamp.Before(prev.Timestamp) {
			return nil, fmt.Errorf(
				"%w: sample %d (%s) precedes sample %d (%s)",
				ErrUnordered,
				i, cur.Timestamp.Format(time.RFC3339Nano),
				i-1, prev.Timestamp.Format(time.RFC3339Nano),
			)
		}

		if prev.Usage > threshold {
			above += cur.Timestamp.Sub(prev.Timestamp)
		}
	}

	return &Stats{
		Measurements:       len(samples),
		TimeAboveThreshold: above,
		TotalTime:          runDuration,
	}, nil
}
