package usage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(start time.Time, points ...[2]float64) []Sample {
	samples := make([]Sample, 0, len(points))
	for _, p := range points {
		samples = append(samples, Sample{
			Timestamp: start.Add(time.Duration(p[0] * float64(time.Second))),
			Usage:     p[1],
		})
	}

	return samples
}

func TestHasPassedThreshold(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		samples   []Sample
		threshold float64
		expected  bool
		wantErr   error
	}{
		{
			name:      "empty series",
			samples:   nil,
			threshold: 10,
			wantErr:   ErrNoData,
		},
		{
			name:      "single sample above",
			samples:   series(start, [2]float64{0, 42}),
			threshold: 41.9,
			expected:  true,
		},
		{
			name:      "single sample equal is not above",
			samples:   series(start, [2]float64{0, 42}),
			threshold: 42,
			expected:  false,
		},
		{
			name:      "peak in the middle",
			samples:   series(start, [2]float64{0, 5}, [2]float64{1, 95}, [2]float64{2, 5}),
			threshold: 90,
			expected:  true,
		},
		{
			name:      "usage above 100 is not clamped",
			samples:   series(start, [2]float64{0, 180}),
			threshold: 100,
			expected:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passed, err := HasPassedThreshold(tt.samples, tt.threshold)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, passed)
		})
	}
}

func TestComputeStats_StepAttribution(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Run created at t=0 and stopped at t=3.
	samples := series(start,
		[2]float64{0, 80},
		[2]float64{1, 80},
		[2]float64{2, 20},
		[2]float64{3, 20},
	)

	stats, err := ComputeStats(samples, 50.0, 3*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Measurements)
	assert.Equal(t, 2*time.Second, stats.TimeAboveThreshold)
	assert.Equal(t, 3*time.Second, stats.TotalTime)
}

func TestComputeStats_TrailingTimeIgnored(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// The last sample is above the threshold but nothing follows it.
	samples := series(start,
		[2]float64{0, 10},
		[2]float64{1, 10},
		[2]float64{2, 99},
	)

	stats, err := ComputeStats(samples, 50, 10*time.Second)
	require.NoError(t, err)
	assert.Zero(t, stats.TimeAboveThreshold)
	assert.Equal(t, 10*time.Second, stats.TotalTime)
}

func TestComputeStats_LeftEndpointOnly(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// A drop below the threshold is only seen at the right endpoint, so the
	// whole first gap counts as above.
	samples := series(start,
		[2]float64{0, 70},
		[2]float64{4, 0},
		[2]float64{5, 70},
		[2]float64{5.5, 70},
	)

	stats, err := ComputeStats(samples, 50, 6*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4500*time.Millisecond, stats.TimeAboveThreshold)
}

func TestComputeStats_InfiniteThresholds(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	samples := series(start,
		[2]float64{0, 0},
		[2]float64{0.5, 100},
		[2]float64{1.25, -3},
		[2]float64{4, 250},
		[2]float64{4, 12},
	)

	gap := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp)

	high, err := ComputeStats(samples, math.Inf(1), time.Minute)
	require.NoError(t, err)
	assert.Zero(t, high.TimeAboveThreshold)

	low, err := ComputeStats(samples, math.Inf(-1), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, gap, low.TimeAboveThreshold)
}

func TestComputeStats_Errors(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("empty series", func(t *testing.T) {
		_, err := ComputeStats(nil, 1, time.Second)
		require.ErrorIs(t, err, ErrNoData)
	})

	t.Run("unordered series", func(t *testing.T) {
		samples := series(start, [2]float64{2, 80}, [2]float64{1, 80})

		_, err := ComputeStats(samples, 1, time.Second)
		require.ErrorIs(t, err, ErrUnordered)
	})

	t.Run("single sample", func(t *testing.T) {
		stats, err := ComputeStats(series(start, [2]float64{0, 99}), 1, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Measurements)
		assert.Zero(t, stats.TimeAboveThreshold)
	})
}
