package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// GRASSHOPPER_RUNNER_SERVER overrides runner.server.
	EnvPrefix = "GRASSHOPPER"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"
)

// Config is the root configuration for grasshopper.
type Config struct {
	Global  GlobalConfig  `yaml:"global" mapstructure:"global"`
	Runner  RunnerConfig  `yaml:"runner" mapstructure:"runner"`
	Tracker TrackerConfig `yaml:"tracker" mapstructure:"tracker"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// Load reads the given YAML files in order, later files overriding earlier
// ones, then applies GRASSHOPPER_* environment overrides. Loading no files
// yields the defaults.
func Load(paths ...string) (*Config, error) {
	v := newViper()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}

		if err := v.MergeConfigMap(raw); err != nil {
			return nil, fmt.Errorf("merging config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := decode(v.AllSettings(), &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// newViper returns a viper instance with every known key defaulted, so that
// AutomaticEnv can resolve overrides for keys absent from the files.
func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("runner.server", DefaultServer)
	v.SetDefault("runner.token", "")
	v.SetDefault("runner.threshold", DefaultThreshold)
	v.SetDefault("runner.poll_interval", DefaultPollInterval)
	v.SetDefault("runner.request_timeout", DefaultRequestTimeout)
	v.SetDefault("runner.report_timeout", DefaultReportTimeout)
	v.SetDefault("runner.stop_timeout", DefaultStopTimeout)
	v.SetDefault("runner.stop_retries", DefaultStopRetries)
	v.SetDefault("runner.kill_grace", DefaultKillGrace)
	v.SetDefault("runner.sampler.source", DefaultSamplerSource)
	v.SetDefault("runner.sampler.cgroup_path", "")

	v.SetDefault("tracker.server.listen", DefaultListen)
	v.SetDefault("tracker.server.cors_origins", []string{})
	v.SetDefault("tracker.server.rate_limit.enabled", true)
	v.SetDefault("tracker.server.rate_limit.auth.requests_per_minute", DefaultAuthRequestsPerMinute)
	v.SetDefault("tracker.auth.session_ttl", DefaultSessionTTL)
	v.SetDefault("tracker.database.driver", DriverSQLite)
	v.SetDefault("tracker.database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("tracker.database.postgres.host", "")
	v.SetDefault("tracker.database.postgres.port", DefaultPostgresPort)
	v.SetDefault("tracker.database.postgres.user", "")
	v.SetDefault("tracker.database.postgres.password", "")
	v.SetDefault("tracker.database.postgres.database", "")
	v.SetDefault("tracker.database.postgres.ssl_mode", "")
	v.SetDefault("tracker.metrics.enabled", false)
	v.SetDefault("tracker.metrics.path", DefaultMetricsPath)
}

func decode(input map[string]any, out *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}

	return decoder.Decode(input)
}

// applyDefaults sets default values for options that decoded to zero.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	c.Runner.applyDefaults()
	c.Tracker.applyDefaults()
}

// ValidateRunner checks the settings used by the run command.
func (c *Config) ValidateRunner() error {
	return c.Runner.Validate()
}

// ValidateTracker checks the settings used by the tracking service.
func (c *Config) ValidateTracker() error {
	return c.Tracker.Validate()
}

func validatePositive(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}

	return nil
}
