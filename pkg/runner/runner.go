package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethpandaops/grasshopper/pkg/stats"
	"github.com/ethpandaops/grasshopper/pkg/tracker"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInterval is the default time between two usage samples.
	DefaultInterval = 500 * time.Millisecond

	// DefaultReportTimeout bounds a single usage report.
	DefaultReportTimeout = 5 * time.Second

	// DefaultStopTimeout bounds the stop notification, retries included.
	DefaultStopTimeout = 30 * time.Second

	// DefaultKillGrace is how long a cancelled workload may take to exit
	// after SIGTERM before it is killed.
	DefaultKillGrace = 5 * time.Second
)

// RegistrationError is returned when the test run could not be registered.
// Nothing else has been started when it is returned.
type RegistrationError struct {
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering test run: %v", e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// Runner drives one test run end to end.
type Runner interface {
	// Run registers the run, executes the workload while sampling CPU usage
	// and marks the run finished exactly once before returning.
	Run(ctx context.Context) (*Result, error)
}

// Config for the runner.
type Config struct {
	Name        string
	Description string
	Threshold   float64

	// Command is the workload. Empty means monitor until interrupted.
	Command []string

	Interval      time.Duration
	ReportTimeout time.Duration
	StopTimeout   time.Duration
	KillGrace     time.Duration

	// Signals that interrupt the run. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Result summarizes a finished run.
type Result struct {
	Run *tracker.Run `json:"run"`

	// ExitCode of the workload, -1 when there was none or it was killed.
	ExitCode int `json:"exit_code"`

	// Interrupted is true when the run ended on a signal or cancellation
	// rather than on workload completion.
	Interrupted bool `json:"interrupted"`

	Samples        int `json:"samples"`
	ReportFailures int `json:"report_failures"`
}

// NewRunner creates a new runner instance.
func NewRunner(
	log logrus.FieldLogger,
	cfg *Config,
	client tracker.Client,
	sampler stats.Sampler,
) Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = DefaultReportTimeout
	}

	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}

	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}

	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	return &runner{
		log:     log.WithField("component", "runner"),
		cfg:     cfg,
		client:  client,
		sampler: sampler,
	}
}

type runner struct {
	log     logrus.FieldLogger
	cfg     *Config
	client  tracker.Client
	sampler stats.Sampler
}

// Ensure interface compliance.
var _ Runner = (*runner)(nil)

// Run executes one test run.
func (r *runner) Run(ctx context.Context) (*Result, error) {
	run, err := r.client.CreateRun(ctx, &tracker.CreateRunRequest{
		Name:        r.cfg.Name,
		Description: r.cfg.Description,
		Threshold:   r.cfg.Threshold,
	})
	if err != nil {
		return nil, &RegistrationError{Err: err}
	}

	log := r.log.WithField("run_id", run.ID)
	log.WithField("start_time", run.StartTime).Info("Registered test run")

	// The signal registration covers the workload and sampler; releasing it
	// restores whatever disposition was installed before.
	sigCtx, releaseSignals := signal.NotifyContext(ctx, r.cfg.Signals...)
	defer releaseSignals()

	runCtx, endRun := context.WithCancel(sigCtx)
	defer endRun()

	result := &Result{Run: run, ExitCode: -1}

	var (
		g          errgroup.Group
		finishOnce sync.Once
	)

	finish := func() {
		finishOnce.Do(func() { r.stopRun(log, run.ID) })
	}

	g.Go(func() error {
		r.sample(runCtx, log, run.ID, result)

		return nil
	})

	g.Go(func() error {
		// Whatever ends the workload ends the run, which stops the sampler.
		defer endRun()

		return r.execute(runCtx, log, result)
	})

	workErr := g.Wait()

	result.Interrupted = sigCtx.Err() != nil
	if result.Interrupted {
		log.Info("Test run interrupted")
	}

	// Another interrupt while the stop notification is pending gets the
	// previous disposition back, so it can end the process.
	releaseSignals()

	finish()

	if workErr != nil {
		return result, workErr
	}

	return result, nil
}

// sample reports CPU usage every interval until ctx is done. Failures only
// degrade telemetry and never end the loop.
func (r *runner) sample(
	ctx context.Context,
	log logrus.FieldLogger,
	runID string,
	result *Result,
) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		r.sampleOnce(ctx, log, runID, result)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *runner) sampleOnce(
	ctx context.Context,
	log logrus.FieldLogger,
	runID string,
	result *Result,
) {
	usage, err := r.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warn("Failed to read cpu usage")
		}

		return
	}

	reportCtx, cancel := context.WithTimeout(ctx, r.cfg.ReportTimeout)
	defer cancel()

	if err := r.client.RecordUsage(reportCtx, runID, usage); err != nil {
		if ctx.Err() != nil {
			log.WithError(err).Debug("Usage report cancelled by shutdown")

			return
		}

		result.ReportFailures++

		log.WithError(err).
			WithField("usage", usage).
			Warn("Failed to report cpu usage")

		return
	}

	result.Samples++

	log.WithField("usage", usage).Debug("Reported cpu usage")
}

// execute runs the workload to completion, or idles until ctx is done when
// no command was given.
func (r *runner) execute(
	ctx context.Context,
	log logrus.FieldLogger,
	result *Result,
) error {
	if len(r.cfg.Command) == 0 {
		log.Info("No command given, monitoring cpu usage until interrupted")
		<-ctx.Done()

		return nil
	}

	cmd := exec.CommandContext(ctx, r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Stdin = r.cfg.Stdin
	cmd.Stdout = r.cfg.Stdout
	cmd.Stderr = r.cfg.Stderr
	configureCancel(cmd, r.cfg.KillGrace)

	log = log.WithField("command", strings.Join(r.cfg.Command, " "))
	log.Info("Starting workload")

	start := time.Now()

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("starting workload: %w", err)
	}

	err := cmd.Wait()

	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	log = log.WithFields(logrus.Fields{
		"exit_code": result.ExitCode,
		"duration":  time.Since(start),
	})

	var exitErr *exec.ExitError

	switch {
	case err == nil:
		log.Info("Workload completed")
	case ctx.Err() != nil:
		log.Info("Workload cancelled")
	case errors.As(err, &exitErr):
		log.Warn("Workload exited with non-zero status")
	default:
		log.WithError(err).Warn("Waiting for workload failed")
	}

	return nil
}

// stopRun notifies the tracker that the run is over. It runs on a fresh
// context so it still happens after an interrupt.
func (r *runner) stopRun(log logrus.FieldLogger, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StopTimeout)
	defer cancel()

	if err := r.client.StopRun(ctx, runID); err != nil {
		log.WithError(err).Warn("Failed to stop test run")

		return
	}

	log.Info("Test run stopped")
}
