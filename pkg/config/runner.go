package config

import (
	"fmt"
	"math"
	"net/url"
	"time"
)

const (
	// DefaultServer is the tracking service the runner reports to.
	DefaultServer = "http://127.0.0.1:5000"

	// DefaultThreshold is the CPU usage percentage runs are measured against.
	DefaultThreshold = 1.0

	// DefaultPollInterval is the time between two CPU samples.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultRequestTimeout bounds a single tracking service request.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultReportTimeout bounds a single usage report.
	DefaultReportTimeout = 5 * time.Second

	// DefaultStopTimeout bounds the stop notification including retries.
	DefaultStopTimeout = 30 * time.Second

	// DefaultStopRetries is how often a failed stop notification is retried.
	DefaultStopRetries = 3

	// DefaultKillGrace is how long a cancelled workload may take to exit.
	DefaultKillGrace = 5 * time.Second

	// DefaultSamplerSource samples the whole host.
	DefaultSamplerSource = "host"

	// DefaultUploadPrefix is the S3 key prefix for run reports.
	DefaultUploadPrefix = "grasshopper/runs"
)

// RunnerConfig configures `grasshopper run`.
type RunnerConfig struct {
	Server         string        `yaml:"server" mapstructure:"server"`
	Token          string        `yaml:"token" mapstructure:"token"`
	Threshold      float64       `yaml:"threshold" mapstructure:"threshold"`
	PollInterval   time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	ReportTimeout  time.Duration `yaml:"report_timeout" mapstructure:"report_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout"`
	StopRetries    uint64        `yaml:"stop_retries" mapstructure:"stop_retries"`
	KillGrace      time.Duration `yaml:"kill_grace" mapstructure:"kill_grace"`
	Sampler        SamplerConfig `yaml:"sampler" mapstructure:"sampler"`
	Upload         *UploadConfig `yaml:"upload,omitempty" mapstructure:"upload"`
}

// SamplerConfig selects where CPU usage is read from.
type SamplerConfig struct {
	// Source is "host" or "cgroup".
	Source     string `yaml:"source" mapstructure:"source"`
	CgroupPath string `yaml:"cgroup_path,omitempty" mapstructure:"cgroup_path"`
}

// UploadConfig configures archival of the final run report.
type UploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// S3 returns the S3 upload settings when archival is enabled, nil otherwise.
func (c *RunnerConfig) S3() *S3UploadConfig {
	if c.Upload == nil || c.Upload.S3 == nil || !c.Upload.S3.Enabled {
		return nil
	}

	return c.Upload.S3
}

func (c *RunnerConfig) applyDefaults() {
	if c.Server == "" {
		c.Server = DefaultServer
	}

	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}

	if c.ReportTimeout == 0 {
		c.ReportTimeout = DefaultReportTimeout
	}

	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}

	if c.KillGrace == 0 {
		c.KillGrace = DefaultKillGrace
	}

	if c.Sampler.Source == "" {
		c.Sampler.Source = DefaultSamplerSource
	}

	if s3 := c.S3(); s3 != nil && s3.Prefix == "" {
		s3.Prefix = DefaultUploadPrefix
	}
}

// Validate checks the runner configuration for errors.
func (c *RunnerConfig) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("runner.server: invalid url %q", c.Server)
	}

	if math.IsNaN(c.Threshold) {
		return fmt.Errorf("runner.threshold: must be a number")
	}

	if c.Threshold < 0 {
		return fmt.Errorf("runner.threshold: must not be negative, got %v", c.Threshold)
	}

	for name, d := range map[string]time.Duration{
		"runner.poll_interval":   c.PollInterval,
		"runner.request_timeout": c.RequestTimeout,
		"runner.report_timeout":  c.ReportTimeout,
		"runner.stop_timeout":    c.StopTimeout,
		"runner.kill_grace":      c.KillGrace,
	} {
		if err := validatePositive(name, d); err != nil {
			return err
		}
	}

	switch c.Sampler.Source {
	case "host":
	case "cgroup":
		if c.Sampler.CgroupPath == "" {
			return fmt.Errorf("runner.sampler.cgroup_path: required for cgroup source")
		}
	default:
		return fmt.Errorf("runner.sampler.source: unknown source %q", c.Sampler.Source)
	}

	if s3 := c.S3(); s3 != nil && s3.Bucket == "" {
		return fmt.Errorf("runner.upload.s3.bucket: required when s3 upload is enabled")
	}

	return nil
}
