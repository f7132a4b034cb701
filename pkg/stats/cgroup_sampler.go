package stats

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/sirupsen/logrus"
)

// cgroupSampler implements Sampler using the cgroup v2 cpu.stat file.
// Utilization is normalized to the host's logical CPU count so it is
// comparable with the host sampler.
type cgroupSampler struct {
	log        logrus.FieldLogger
	cgroupPath string
	numCPU     int
	now        func() time.Time

	mu        sync.Mutex
	lastUsage uint64
	lastAt    time.Time
}

// Ensure interface compliance.
var _ Sampler = (*cgroupSampler)(nil)

func newCgroupSampler(log logrus.FieldLogger, cgroupPath string) (*cgroupSampler, error) {
	numCPU, err := cpu.Counts(true)
	if err != nil || numCPU < 1 {
		numCPU = 1
	}

	s := &cgroupSampler{
		log:        log.WithField("sampler", SourceCgroup),
		cgroupPath: cgroupPath,
		numCPU:     numCPU,
		now:        time.Now,
	}

	usage, err := s.readCPUUsage()
	if err != nil {
		return nil, err
	}

	s.lastUsage = usage
	s.lastAt = s.now()

	return s, nil
}

// Type returns the sampler implementation type.
func (s *cgroupSampler) Type() string {
	return SourceCgroup
}

// Close releases any resources held by the sampler.
func (s *cgroupSampler) Close() error {
	return nil
}

// Sample returns cgroup utilization since the previous call.
func (s *cgroupSampler) Sample(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	usage, err := s.readCPUUsage()
	if err != nil {
		return 0, err
	}

	at := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	wall := at.Sub(s.lastAt)

	var percent float64
	if wall > 0 && usage >= s.lastUsage {
		used := time.Duration(usage-s.lastUsage) * time.Microsecond
		percent = clampPercent(
			float64(used) / (float64(wall) * float64(s.numCPU)) * 100,
		)
	}

	s.lastUsage = usage
	s.lastAt = at

	return percent, nil
}

// readCPUUsage reads usage_usec from cpu.stat.
// Format: usage_usec 12345
func (s *cgroupSampler) readCPUUsage() (uint64, error) {
	path := filepath.Join(s.cgroupPath, "cpu.stat")

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening cpu.stat: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) >= 2 && parts[0] == "usage_usec" {
			value, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parsing usage_usec: %w", err)
			}

			return value, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scanning cpu.stat: %w", err)
	}

	return 0, fmt.Errorf("usage_usec not found in cpu.stat")
}

// isValidCgroupPath checks if a path is a cgroup v2 directory exposing cpu.stat.
func isValidCgroupPath(path string) bool {
	if path == "" {
		return false
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}

	_, err = os.Stat(filepath.Join(path, "cpu.stat"))

	return err == nil
}
