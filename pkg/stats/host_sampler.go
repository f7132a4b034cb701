package stats

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/sirupsen/logrus"
)

// hostSampler implements Sampler over the aggregate host CPU times.
type hostSampler struct {
	log logrus.FieldLogger

	mu   sync.Mutex
	last cpu.TimesStat
}

// Ensure interface compliance.
var _ Sampler = (*hostSampler)(nil)

func newHostSampler(log logrus.FieldLogger) (*hostSampler, error) {
	times, err := readHostTimes(context.Background())
	if err != nil {
		return nil, err
	}

	return &hostSampler{
		log:  log.WithField("sampler", SourceHost),
		last: times,
	}, nil
}

// Type returns the sampler implementation type.
func (s *hostSampler) Type() string {
	return SourceHost
}

// Close releases any resources held by the sampler.
func (s *hostSampler) Close() error {
	return nil
}

// Sample returns host-wide utilization since the previous call.
func (s *hostSampler) Sample(ctx context.Context) (float64, error) {
	times, err := readHostTimes(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	percent := busyPercent(s.last, times)
	s.last = times

	return percent, nil
}

func readHostTimes(ctx context.Context) (cpu.TimesStat, error) {
	all, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return cpu.TimesStat{}, fmt.Errorf("reading cpu times: %w", err)
	}

	if len(all) == 0 {
		return cpu.TimesStat{}, fmt.Errorf("reading cpu times: no data")
	}

	return all[0], nil
}

// busyTimes returns total and busy seconds. Idle and iowait count as idle.
func busyTimes(t cpu.TimesStat) (total, busy float64) {
	total = t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq +
		t.Softirq + t.Steal

	return total, total - t.Idle - t.Iowait
}

// busyPercent computes utilization between two cumulative snapshots.
func busyPercent(before, after cpu.TimesStat) float64 {
	total1, busy1 := busyTimes(before)
	total2, busy2 := busyTimes(after)

	if busy2 <= busy1 {
		return 0
	}

	if total2 <= total1 {
		return 100
	}

	return clampPercent((busy2 - busy1) / (total2 - total1) * 100)
}
