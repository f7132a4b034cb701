package stats

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Sampler sources.
const (
	SourceHost   = "host"
	SourceCgroup = "cgroup"
)

// Sampler reads the current CPU utilization as a percentage.
// Implemented by hostSampler (gopsutil) and cgroupSampler (cgroup v2).
type Sampler interface {
	// Sample returns utilization since the previous call. The first call
	// measures against the moment the sampler was created.
	Sample(ctx context.Context) (float64, error)
	// Close releases any resources held by the sampler.
	Close() error
	// Type returns the sampler implementation type for logging.
	Type() string
}

// Config selects and configures a sampler.
type Config struct {
	Source     string
	CgroupPath string
}

// NewSampler creates the sampler for the configured source. An empty source
// means the whole host.
func NewSampler(log logrus.FieldLogger, cfg *Config) (Sampler, error) {
	switch cfg.Source {
	case "", SourceHost:
		log.Debug("Using host cpu sampler")

		return newHostSampler(log)
	case SourceCgroup:
		if !isValidCgroupPath(cfg.CgroupPath) {
			return nil, fmt.Errorf("invalid cgroup v2 path %q", cfg.CgroupPath)
		}

		log.WithField("path", cfg.CgroupPath).Info("Using cgroup v2 cpu sampler")

		return newCgroupSampler(log, cfg.CgroupPath)
	default:
		return nil, fmt.Errorf("unknown sampler source %q", cfg.Source)
	}
}

// clampPercent bounds a computed utilization to [0, 100]. Deltas can come
// out marginally outside that range due to counter granularity.
func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
