package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
global:
  log_level: info
runner:
  server: http://tracker.example.com:5000
  threshold: 25
  poll_interval: 1s
  sampler:
    source: host
tracker:
  server:
    listen: ":8080"
  auth:
    session_ttl: 30m
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "http://tracker.example.com:5000", cfg.Runner.Server)
				assert.InDelta(t, 25.0, cfg.Runner.Threshold, 0.0001)
				assert.Equal(t, time.Second, cfg.Runner.PollInterval)
				assert.Equal(t, ":8080", cfg.Tracker.Server.Listen)
				assert.Equal(t, 30*time.Minute, cfg.Tracker.Auth.SessionTTL)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"GRASSHOPPER_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "float override - threshold",
			envVars: map[string]string{
				"GRASSHOPPER_RUNNER_THRESHOLD": "72.5",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.InDelta(t, 72.5, cfg.Runner.Threshold, 0.0001)
			},
		},
		{
			name: "duration override - poll_interval",
			envVars: map[string]string{
				"GRASSHOPPER_RUNNER_POLL_INTERVAL": "250ms",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 250*time.Millisecond, cfg.Runner.PollInterval)
			},
		},
		{
			name: "override of a key absent from the file",
			envVars: map[string]string{
				"GRASSHOPPER_RUNNER_TOKEN": "secret-token",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "secret-token", cfg.Runner.Token)
			},
		},
		{
			name: "boolean override - metrics",
			envVars: map[string]string{
				"GRASSHOPPER_TRACKER_METRICS_ENABLED": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Tracker.Metrics.Enabled)
			},
		},
		{
			name: "multiple overrides",
			envVars: map[string]string{
				"GRASSHOPPER_TRACKER_DATABASE_DRIVER":        "postgres",
				"GRASSHOPPER_TRACKER_DATABASE_POSTGRES_HOST": "db.internal",
				"GRASSHOPPER_TRACKER_DATABASE_POSTGRES_PORT": "6543",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DriverPostgres, cfg.Tracker.Database.Driver)
				assert.Equal(t, "db.internal", cfg.Tracker.Database.Postgres.Host)
				assert.Equal(t, 6543, cfg.Tracker.Database.Postgres.Port)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWithoutFiles(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultServer, cfg.Runner.Server)
	assert.InDelta(t, DefaultThreshold, cfg.Runner.Threshold, 0.0001)
	assert.Equal(t, DefaultPollInterval, cfg.Runner.PollInterval)
	assert.Equal(t, DefaultStopTimeout, cfg.Runner.StopTimeout)
	assert.Equal(t, uint64(DefaultStopRetries), cfg.Runner.StopRetries)
	assert.Equal(t, DefaultSamplerSource, cfg.Runner.Sampler.Source)
	assert.Nil(t, cfg.Runner.S3())

	assert.Equal(t, DefaultListen, cfg.Tracker.Server.Listen)
	assert.Equal(t, DefaultSessionTTL, cfg.Tracker.Auth.SessionTTL)
	assert.Equal(t, DriverSQLite, cfg.Tracker.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Tracker.Database.SQLite.Path)
	assert.Equal(t, DefaultMetricsPath, cfg.Tracker.Metrics.Path)

	require.NoError(t, cfg.ValidateRunner())
	require.NoError(t, cfg.ValidateTracker())
}

func TestLoad_LaterFilesOverrideEarlier(t *testing.T) {
	base := writeConfig(t, `
runner:
  server: http://base:5000
  threshold: 10
tracker:
  auth:
    users:
      - username: alice
        password: wonderland
`)
	override := writeConfig(t, `
runner:
  threshold: 90
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "http://base:5000", cfg.Runner.Server)
	assert.InDelta(t, 90.0, cfg.Runner.Threshold, 0.0001)
	require.Len(t, cfg.Tracker.Auth.Users, 1)
	assert.Equal(t, "alice", cfg.Tracker.Auth.Users[0].Username)
}

func TestLoad_S3Upload(t *testing.T) {
	configPath := writeConfig(t, `
runner:
  upload:
    s3:
      enabled: true
      bucket: reports
      region: eu-west-1
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	s3 := cfg.Runner.S3()
	require.NotNil(t, s3)
	assert.Equal(t, "reports", s3.Bucket)
	assert.Equal(t, DefaultUploadPrefix, s3.Prefix)
	require.NoError(t, cfg.ValidateRunner())
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "runner: [unclosed")

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
runner:
  poll_interval: soon
`)

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding config")
}

func TestRunnerConfig_Validate(t *testing.T) {
	valid := func() RunnerConfig {
		cfg := RunnerConfig{}
		cfg.applyDefaults()

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *RunnerConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *RunnerConfig) {},
		},
		{
			name:    "server without scheme",
			mutate:  func(c *RunnerConfig) { c.Server = "127.0.0.1:5000" },
			wantErr: "runner.server",
		},
		{
			name:    "unsupported scheme",
			mutate:  func(c *RunnerConfig) { c.Server = "ftp://host" },
			wantErr: "runner.server",
		},
		{
			name:    "negative threshold",
			mutate:  func(c *RunnerConfig) { c.Threshold = -1 },
			wantErr: "runner.threshold",
		},
		{
			name:    "zero threshold is allowed",
			mutate:  func(c *RunnerConfig) { c.Threshold = 0 },
			wantErr: "",
		},
		{
			name:    "negative poll interval",
			mutate:  func(c *RunnerConfig) { c.PollInterval = -time.Second },
			wantErr: "runner.poll_interval",
		},
		{
			name:    "cgroup source without path",
			mutate:  func(c *RunnerConfig) { c.Sampler.Source = "cgroup" },
			wantErr: "runner.sampler.cgroup_path",
		},
		{
			name:    "unknown sampler source",
			mutate:  func(c *RunnerConfig) { c.Sampler.Source = "gpu" },
			wantErr: "runner.sampler.source",
		},
		{
			name: "s3 enabled without bucket",
			mutate: func(c *RunnerConfig) {
				c.Upload = &UploadConfig{S3: &S3UploadConfig{Enabled: true}}
			},
			wantErr: "runner.upload.s3.bucket",
		},
		{
			name: "disabled s3 is ignored",
			mutate: func(c *RunnerConfig) {
				c.Upload = &UploadConfig{S3: &S3UploadConfig{Enabled: false}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTrackerConfig_Validate(t *testing.T) {
	valid := func() TrackerConfig {
		cfg := TrackerConfig{}
		cfg.applyDefaults()

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *TrackerConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *TrackerConfig) {},
		},
		{
			name: "user without password",
			mutate: func(c *TrackerConfig) {
				c.Auth.Users = []UserConfig{{Username: "alice"}}
			},
			wantErr: "password is required",
		},
		{
			name: "duplicate users",
			mutate: func(c *TrackerConfig) {
				c.Auth.Users = []UserConfig{
					{Username: "alice", Password: "a"},
					{Username: "alice", Password: "b"},
				}
			},
			wantErr: "duplicate username",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *TrackerConfig) { c.Database.Driver = "mysql" },
			wantErr: "unsupported driver",
		},
		{
			name:    "postgres without host",
			mutate:  func(c *TrackerConfig) { c.Database.Driver = DriverPostgres },
			wantErr: "tracker.database.postgres.host",
		},
		{
			name:    "negative session ttl",
			mutate:  func(c *TrackerConfig) { c.Auth.SessionTTL = -time.Minute },
			wantErr: "tracker.auth.session_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
