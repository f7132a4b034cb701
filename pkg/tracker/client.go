package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRequestTimeout bounds every call to the tracking service.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultStopRetries is the number of retries after a failed stop.
	DefaultStopRetries = 3

	// DefaultRetryInitialInterval is the first backoff delay between stop attempts.
	DefaultRetryInitialInterval = 250 * time.Millisecond

	maxResponseBytes = 1 << 20
)

// Client talks to the tracking service. Implementations must be safe for
// concurrent use: the runner reports usage from one goroutine while it may
// stop the run from another.
type Client interface {
	// Ping checks that the service answers at all.
	Ping(ctx context.Context) error

	// Authenticate exchanges credentials for a bearer token.
	Authenticate(ctx context.Context, username, password string) (string, error)

	// CreateRun registers a new test run.
	CreateRun(ctx context.Context, req *CreateRunRequest) (*Run, error)

	// RecordUsage reports one CPU usage sample for a run.
	RecordUsage(ctx context.Context, runID string, usage float64) error

	// StopRun marks a run finished, retrying transient failures.
	StopRun(ctx context.Context, runID string) error

	// GetRunStats fetches the computed statistics of a run.
	GetRunStats(ctx context.Context, runID string) (*RunStats, error)
}

// ClientConfig configures the HTTP tracking client.
type ClientConfig struct {
	ServerURL            string
	Token                string
	RequestTimeout       time.Duration
	StopRetries          uint64
	RetryInitialInterval time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

type client struct {
	log     logrus.FieldLogger
	cfg     ClientConfig
	baseURL string
	http    *http.Client
}

// Ensure interface compliance.
var _ Client = (*client)(nil)

// NewClient creates a tracking service client.
func NewClient(log logrus.FieldLogger, cfg *ClientConfig) (Client, error) {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must use http or https", cfg.ServerURL)
	}

	c := &client{
		log:     log.WithField("component", "tracker-client"),
		cfg:     *cfg,
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    cfg.HTTPClient,
	}

	if c.cfg.RequestTimeout <= 0 {
		c.cfg.RequestTimeout = DefaultRequestTimeout
	}

	if c.cfg.StopRetries == 0 {
		c.cfg.StopRetries = DefaultStopRetries
	}

	if c.cfg.RetryInitialInterval <= 0 {
		c.cfg.RetryInitialInterval = DefaultRetryInitialInterval
	}

	if c.http == nil {
		c.http = &http.Client{}
	}

	return c, nil
}

// Ping checks the health endpoint.
func (c *client) Ping(ctx context.Context) error {
	return c.do(ctx, "pinging tracker", http.MethodGet, HealthPath,
		nil, http.StatusOK, nil, nil)
}

// Authenticate exchanges credentials for a bearer token.
func (c *client) Authenticate(
	ctx context.Context, username, password string,
) (string, error) {
	var resp AuthResponse

	if err := c.do(ctx, "authenticating", http.MethodPost, AuthPath,
		&AuthRequest{Username: username, Password: password},
		http.StatusOK, &resp, nil); err != nil {
		return "", err
	}

	return resp.Token, nil
}

// CreateRun registers a new test run. Any non-201 answer is ErrRunCreateFailed.
func (c *client) CreateRun(
	ctx context.Context, req *CreateRunRequest,
) (*Run, error) {
	var run Run

	if err := c.do(ctx, "creating test run", http.MethodPost, TestRunsPath,
		req, http.StatusCreated, &run, ErrRunCreateFailed); err != nil {
		var se *StatusError
		if errors.As(err, &se) && !errors.Is(err, ErrRunCreateFailed) {
			return nil, fmt.Errorf("%w: %w", ErrRunCreateFailed, err)
		}

		return nil, err
	}

	if run.ID == "" {
		return nil, fmt.Errorf("%w: response carried no run id", ErrRunCreateFailed)
	}

	return &run, nil
}

// RecordUsage reports one CPU usage sample.
func (c *client) RecordUsage(
	ctx context.Context, runID string, usage float64,
) error {
	return c.do(ctx, "recording usage", http.MethodPost,
		runPath(runID, "usage"), &RecordUsageRequest{Usage: usage},
		http.StatusCreated, nil, nil)
}

// StopRun marks a run finished. Transient failures are retried with
// exponential backoff; client errors other than 408 and 429 are not.
func (c *client) StopRun(ctx context.Context, runID string) error {
	attempt := 0

	op := func() error {
		attempt++

		err := c.do(ctx, "stopping test run", http.MethodPost,
			runPath(runID, "stop"), nil, http.StatusOK, nil, nil)
		if err == nil {
			return nil
		}

		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return backoff.Permanent(err)
		}

		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}

		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialInterval
	b.MaxInterval = 8 * c.cfg.RetryInitialInterval
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(b, c.cfg.StopRetries), ctx,
	)

	return backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		c.log.WithError(err).
			WithField("run_id", runID).
			WithField("attempt", attempt).
			WithField("retry_in", next).
			Warn("Failed to stop test run, retrying")
	})
}

// GetRunStats fetches the computed statistics of a run.
func (c *client) GetRunStats(
	ctx context.Context, runID string,
) (*RunStats, error) {
	var stats RunStats

	if err := c.do(ctx, "getting test run stats", http.MethodGet,
		runPath(runID, ""), nil, http.StatusOK, &stats, nil); err != nil {
		return nil, err
	}

	return &stats, nil
}

func runPath(runID, action string) string {
	p := TestRunsPath + "/" + url.PathEscape(runID)
	if action != "" {
		p += "/" + action
	}

	return p
}

// do performs one bounded request. want is the only accepted status; out,
// when non-nil, receives the decoded JSON body. fallback is the error kind
// for statuses without a dedicated one.
func (c *client) do(
	ctx context.Context,
	op, method, path string,
	in any,
	want int,
	out any,
	fallback error,
) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", op, err)
		}

		return fmt.Errorf("%s: %w: %w", op, ErrServiceUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", op, err)
	}

	if resp.StatusCode != want {
		var errResp ErrorResponse
		if jsonErr := json.Unmarshal(data, &errResp); jsonErr != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(data))
		}

		return newStatusError(op, resp.StatusCode, errResp.Error, fallback)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}

	return nil
}
