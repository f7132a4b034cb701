package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	c, err := NewClient(log, &ClientConfig{
		ServerURL:            srv.URL,
		Token:                "secret-token",
		RequestTimeout:       2 * time.Second,
		RetryInitialInterval: time.Millisecond,
	})
	require.NoError(t, err)

	return c
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(logrus.New(), &ClientConfig{ServerURL: "ftp://example.com"})
	require.Error(t, err)

	_, err = NewClient(logrus.New(), &ClientConfig{ServerURL: "://nope"})
	require.Error(t, err)
}

func TestClient_CreateRun(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, TestRunsPath, r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var req CreateRunRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "unit", req.Name)
		assert.Equal(t, 42.5, req.Threshold)

		writeTestJSON(w, http.StatusCreated, Run{ID: "run-1", StartTime: start})
	}))

	run, err := c.CreateRun(context.Background(), &CreateRunRequest{
		Name:      "unit",
		Threshold: 42.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.True(t, start.Equal(run.StartTime))
}

func TestClient_CreateRunFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr []error
	}{
		{name: "server error", status: http.StatusInternalServerError, wantErr: []error{ErrRunCreateFailed}},
		{name: "bad token", status: http.StatusUnauthorized, wantErr: []error{ErrRunCreateFailed, ErrUnauthorized}},
		{name: "ok instead of created", status: http.StatusOK, wantErr: []error{ErrRunCreateFailed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeTestJSON(w, tt.status, ErrorResponse{Error: "nope"})
			}))

			_, err := c.CreateRun(context.Background(), &CreateRunRequest{Name: "x"})
			require.Error(t, err)

			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(logrus.New(), &ClientConfig{ServerURL: url, Token: "t"})
	require.NoError(t, err)

	err = c.Ping(context.Background())
	require.ErrorIs(t, err, ErrServiceUnreachable)

	_, err = c.CreateRun(context.Background(), &CreateRunRequest{Name: "x"})
	require.ErrorIs(t, err, ErrServiceUnreachable)
}

func TestClient_StopRunRetries(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TestRunsPath+"/run-1/stop", r.URL.Path)

		if calls.Add(1) == 1 {
			writeTestJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "busy"})

			return
		}

		writeTestJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	}))

	require.NoError(t, c.StopRun(context.Background(), "run-1"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_StopRunGivesUp(t *testing.T) {
	t.Run("permanent client error is not retried", func(t *testing.T) {
		var calls atomic.Int32

		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			writeTestJSON(w, http.StatusNotFound, ErrorResponse{Error: "no testrun found"})
		}))

		err := c.StopRun(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("retries are bounded", func(t *testing.T) {
		var calls atomic.Int32

		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			writeTestJSON(w, http.StatusBadGateway, ErrorResponse{Error: "down"})
		}))

		err := c.StopRun(context.Background(), "run-1")
		require.Error(t, err)
		assert.Equal(t, int32(1+DefaultStopRetries), calls.Load())
	})
}

func TestClient_GetRunStats(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case TestRunsPath + "/empty":
			writeTestJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "no cpu usage data"})
		case TestRunsPath + "/other":
			writeTestJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		default:
			writeTestJSON(w, http.StatusOK, RunStats{
				ID:                 "run-1",
				Measurements:       4,
				TimeAboveThreshold: 2,
				TotalTime:          3,
			})
		}
	}))

	stats, err := c.GetRunStats(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Measurements)
	assert.Equal(t, 2*time.Second, stats.TimeAbove())
	assert.Equal(t, 3*time.Second, stats.Total())

	_, err = c.GetRunStats(context.Background(), "empty")
	require.ErrorIs(t, err, ErrNoData)

	_, err = c.GetRunStats(context.Background(), "other")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestClient_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, err := NewClient(logrus.New(), &ClientConfig{
		ServerURL:      srv.URL,
		Token:          "t",
		RequestTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	err = c.RecordUsage(context.Background(), "run-1", 10)
	require.ErrorIs(t, err, ErrServiceUnreachable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_ConcurrentRecordUsage(t *testing.T) {
	var (
		mu     sync.Mutex
		values []float64
	)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RecordUsageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		mu.Lock()
		values = append(values, req.Usage)
		mu.Unlock()

		w.WriteHeader(http.StatusCreated)
	}))

	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func(v float64) {
			defer wg.Done()
			assert.NoError(t, c.RecordUsage(context.Background(), "run-1", v))
		}(float64(i))
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, values, 20)
}

func TestClient_Authenticate(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AuthRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Password != "hunter2" {
			writeTestJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "bad username or password"})

			return
		}

		writeTestJSON(w, http.StatusOK, AuthResponse{Token: "tok"})
	}))

	token, err := c.Authenticate(context.Background(), "ana", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	_, err = c.Authenticate(context.Background(), "ana", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
}
