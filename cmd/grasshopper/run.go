package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/grasshopper/pkg/config"
	"github.com/ethpandaops/grasshopper/pkg/runner"
	"github.com/ethpandaops/grasshopper/pkg/stats"
	"github.com/ethpandaops/grasshopper/pkg/tracker"
	"github.com/ethpandaops/grasshopper/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	defaultRunName        = "Unnamed testrun"
	defaultRunDescription = "No description"

	// interruptedExitCode is returned when the workload was killed by an
	// interrupt, following the shell convention for SIGINT.
	interruptedExitCode = 130

	statsTimeout  = 30 * time.Second
	uploadTimeout = 2 * time.Minute
)

var (
	errCommandConflict = errors.New("--no-command cannot be combined with a command")
	errCommandMissing  = errors.New("a command is required unless --no-command is set")
)

var (
	runToken        string
	runName         string
	runDescription  string
	runThreshold    float64
	runPollInterval time.Duration
	runServer       string
	runNoCommand    bool
	runShell        bool
	runDebug        bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...]",
	Short: "Run a workload and track its CPU usage",
	Long: `Register a test run, execute the command while sampling CPU usage at a
fixed interval, stop the run and print the threshold report. With
--no-command the host is monitored until interrupted.`,
	Args: cobra.ArbitraryArgs,
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.StringVar(&runToken, "token", "", "bearer token for the tracking service")
	flags.StringVar(&runToken, "jwt", "", "alias of --token")
	flags.StringVar(&runName, "name", "", "test run name (defaults to the command)")
	flags.StringVar(&runDescription, "description", "",
		"test run description (defaults to the command arguments)")
	flags.Float64Var(&runThreshold, "threshold", config.DefaultThreshold,
		"cpu usage percentage to measure against")
	flags.DurationVar(&runPollInterval, "poll-interval", config.DefaultPollInterval,
		"time between cpu usage samples")
	flags.StringVar(&runServer, "server", config.DefaultServer, "tracking service base url")
	flags.BoolVar(&runNoCommand, "no-command", false,
		"monitor cpu usage until interrupted instead of running a command")
	flags.BoolVar(&runShell, "shell", false, "run the command through sh -c")
	flags.BoolVar(&runDebug, "debug", false, "enable debug logging")
}

func runTest(cmd *cobra.Command, args []string) error {
	command, err := resolveCommand(args, runNoCommand, runShell)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if runDebug {
		log.SetLevel(logrus.DebugLevel)
	}

	applyRunFlags(cmd, &cfg.Runner)

	if err := cfg.ValidateRunner(); err != nil {
		return fmt.Errorf("validating runner config: %w", err)
	}

	if cfg.Runner.Token == "" {
		return fmt.Errorf("a bearer token is required (--token or GRASSHOPPER_RUNNER_TOKEN)")
	}

	name, description := defaultMetadata(args, runName, runDescription)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := tracker.NewClient(log, &tracker.ClientConfig{
		ServerURL:      cfg.Runner.Server,
		Token:          cfg.Runner.Token,
		RequestTimeout: cfg.Runner.RequestTimeout,
		StopRetries:    cfg.Runner.StopRetries,
	})
	if err != nil {
		return fmt.Errorf("creating tracker client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("tracking service at %s: %w", cfg.Runner.Server, err)
	}

	uploader, err := newUploader(ctx, &cfg.Runner)
	if err != nil {
		return err
	}

	sampler, err := stats.NewSampler(log, &stats.Config{
		Source:     cfg.Runner.Sampler.Source,
		CgroupPath: cfg.Runner.Sampler.CgroupPath,
	})
	if err != nil {
		return fmt.Errorf("creating cpu sampler: %w", err)
	}

	defer func() {
		if err := sampler.Close(); err != nil {
			log.WithError(err).Warn("Failed to close cpu sampler")
		}
	}()

	r := runner.NewRunner(log, &runner.Config{
		Name:          name,
		Description:   description,
		Threshold:     cfg.Runner.Threshold,
		Command:       command,
		Interval:      cfg.Runner.PollInterval,
		ReportTimeout: cfg.Runner.ReportTimeout,
		StopTimeout:   cfg.Runner.StopTimeout,
		KillGrace:     cfg.Runner.KillGrace,
	}, client, sampler)

	result, err := r.Run(ctx)
	if err != nil {
		return err
	}

	report := fetchReport(client, result)

	if err := printReport(cmd.OutOrStdout(), report); err != nil {
		log.WithError(err).Warn("Failed to print report")
	}

	if uploader != nil {
		archiveReport(uploader, report)
	}

	return workloadExit(result, len(command) > 0)
}

// resolveCommand validates the command/--no-command choice and returns the
// command line to execute.
func resolveCommand(args []string, noCommand, shell bool) ([]string, error) {
	switch {
	case noCommand && len(args) > 0:
		return nil, errCommandConflict
	case !noCommand && len(args) == 0:
		return nil, errCommandMissing
	case noCommand:
		return nil, nil
	case shell:
		return []string{"sh", "-c", strings.Join(args, " ")}, nil
	default:
		return args, nil
	}
}

// defaultMetadata names an unnamed run after its command: the program
// becomes the name and, unless a description was given, its arguments the
// description. An empty description is filled in by the tracking service.
func defaultMetadata(args []string, name, description string) (string, string) {
	if name != "" {
		return name, description
	}

	if len(args) == 0 {
		if description == "" {
			description = defaultRunDescription
		}

		return defaultRunName, description
	}

	if description == "" {
		description = strings.Join(args[1:], " ")
	}

	return args[0], description
}

// applyRunFlags overrides configuration with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.RunnerConfig) {
	flags := cmd.Flags()

	if flags.Changed("token") || flags.Changed("jwt") {
		cfg.Token = runToken
	}

	if flags.Changed("server") {
		cfg.Server = runServer
	}

	if flags.Changed("threshold") {
		cfg.Threshold = runThreshold
	}

	if flags.Changed("poll-interval") {
		cfg.PollInterval = runPollInterval
	}
}

func newUploader(ctx context.Context, cfg *config.RunnerConfig) (upload.Uploader, error) {
	s3Cfg := cfg.S3()
	if s3Cfg == nil {
		return nil, nil
	}

	uploader, err := upload.NewS3Uploader(log, s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("creating s3 uploader: %w", err)
	}

	if err := uploader.Preflight(ctx); err != nil {
		return nil, fmt.Errorf("s3 preflight: %w", err)
	}

	return uploader, nil
}

// fetchReport collects the server-side statistics. Missing statistics only
// degrade the report.
func fetchReport(client tracker.Client, result *runner.Result) *runReport {
	report := &runReport{Result: result}

	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	runStats, err := client.GetRunStats(ctx, result.Run.ID)

	switch {
	case errors.Is(err, tracker.ErrNoData):
		log.WithField("run_id", result.Run.ID).Warn("No cpu usage was recorded for this run")
	case err != nil:
		log.WithError(err).Warn("Failed to fetch run statistics")
	default:
		report.Stats = runStats
	}

	return report
}

func archiveReport(uploader upload.Uploader, report *runReport) {
	files, err := report.files()
	if err != nil {
		log.WithError(err).Warn("Failed to render report for upload")

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	keys, err := uploader.UploadReport(ctx, report.Result.Run.ID, files)
	if err != nil {
		log.WithError(err).Warn("Failed to upload report")

		return
	}

	log.WithField("keys", keys).Info("Report archived")
}

// workloadExit propagates the workload's exit status.
func workloadExit(result *runner.Result, hadCommand bool) error {
	switch {
	case !hadCommand:
		return nil
	case result.ExitCode > 0:
		return &exitCodeError{code: result.ExitCode}
	case result.ExitCode < 0 && result.Interrupted:
		return &exitCodeError{code: interruptedExitCode}
	default:
		return nil
	}
}
