package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethpandaops/grasshopper/pkg/api/store"
	"github.com/ethpandaops/grasshopper/pkg/tracker"
	"github.com/ethpandaops/grasshopper/pkg/usage"
	"github.com/sirupsen/logrus"
)

const (
	defaultRunName        = "Unnamed testrun"
	defaultRunDescription = "No description"
)

var errInvalidUsage = errors.New("invalid usage value")

// recordUsageRequest keeps usage raw so both numbers and numeric strings
// can be accepted.
type recordUsageRequest struct {
	Usage json.RawMessage `json:"usage"`
}

// parseUsage accepts a JSON number or a string holding one. Non-finite
// values are rejected. Values are not clamped.
func parseUsage(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, errInvalidUsage
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, errInvalidUsage
	}

	var text string

	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
	default:
		return 0, errInvalidUsage
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errInvalidUsage
	}

	return f, nil
}

func toRunSummary(run *store.TestRun) tracker.RunSummary {
	return tracker.RunSummary{
		ID:          run.ID,
		Name:        run.Name,
		Description: run.Description,
		Threshold:   run.Threshold,
		StartTime:   run.StartTime,
		EndTime:     run.EndTime,
		Active:      run.IsActive(),
	}
}

func toUsageSamples(rows []store.CPUUsage) []usage.Sample {
	samples := make([]usage.Sample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, usage.Sample{
			Timestamp: row.Timestamp,
			Usage:     row.Usage,
		})
	}

	return samples
}

// handleCreateTestRun registers a new active run for the caller.
func (s *server) handleCreateTestRun(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req tracker.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if math.IsNaN(req.Threshold) || math.IsInf(req.Threshold, 0) || req.Threshold < 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"threshold must be a non-negative number"})

		return
	}

	if strings.TrimSpace(req.Name) == "" {
		req.Name = defaultRunName
	}

	if strings.TrimSpace(req.Description) == "" {
		req.Description = defaultRunDescription
	}

	run := &store.TestRun{
		UserID:      user.ID,
		Name:        req.Name,
		Description: req.Description,
		Threshold:   req.Threshold,
		StartTime:   s.now().UTC(),
	}

	if err := s.store.CreateTestRun(r.Context(), run); err != nil {
		s.log.WithError(err).Error("Failed to create test run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	s.metrics.runsCreated.Inc()

	s.log.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"user":      user.Username,
		"threshold": run.Threshold,
	}).Info("Test run created")

	writeJSON(w, http.StatusCreated, tracker.Run{
		ID:        run.ID,
		StartTime: run.StartTime,
	})
}

// handleListTestRuns lists the caller's runs, newest first.
func (s *server) handleListTestRuns(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	runs, err := s.store.ListTestRuns(r.Context(), user.ID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list test runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]tracker.RunSummary, 0, len(runs))
	for i := range runs {
		resp = append(resp, toRunSummary(&runs[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleRecordUsage appends one CPU usage sample to an active run.
func (s *server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	run := runFromContext(r.Context())

	var req recordUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.samplesRejected.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest,
			errorResponse{errInvalidUsage.Error()})

		return
	}

	value, err := parseUsage(req.Usage)
	if err != nil {
		s.metrics.samplesRejected.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	sample, err := s.store.RecordCPUUsage(r.Context(), run.ID, value, s.now())

	switch {
	case errors.Is(err, store.ErrRunFinished):
		s.metrics.samplesRejected.WithLabelValues("finished").Inc()
		writeJSON(w, http.StatusConflict,
			errorResponse{"test run already finished"})

		return
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound,
			errorResponse{"test run not found"})

		return
	case err != nil:
		s.log.WithError(err).Error("Failed to record cpu usage")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	s.metrics.samplesRecorded.Inc()

	writeJSON(w, http.StatusCreated, tracker.UsageSample{
		Timestamp: sample.Timestamp,
		Usage:     sample.Usage,
	})
}

// handleListUsage returns a run's samples in timestamp order.
func (s *server) handleListUsage(w http.ResponseWriter, r *http.Request) {
	run := runFromContext(r.Context())

	rows, err := s.store.ListCPUUsage(r.Context(), run.ID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list cpu usage")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]tracker.UsageSample, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, tracker.UsageSample{
			Timestamp: row.Timestamp,
			Usage:     row.Usage,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStopTestRun marks a run finished. Stopping twice is not an error and
// keeps the first end time.
func (s *server) handleStopTestRun(w http.ResponseWriter, r *http.Request) {
	run := runFromContext(r.Context())

	finished, stopped, err := s.store.FinishTestRun(r.Context(), run.ID, s.now())
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"test run not found"})

		return
	}

	if err != nil {
		s.log.WithError(err).Error("Failed to stop test run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if stopped {
		s.metrics.runsStopped.Inc()

		s.log.WithFields(logrus.Fields{
			"run_id":   finished.ID,
			"duration": finished.Duration(s.now()),
		}).Info("Test run stopped")
	}

	writeJSON(w, http.StatusOK, toRunSummary(finished))
}

// handleGetRunStats computes threshold statistics for a run.
func (s *server) handleGetRunStats(w http.ResponseWriter, r *http.Request) {
	run := runFromContext(r.Context())

	samples, ok := s.loadSamples(w, r, run)
	if !ok {
		return
	}

	duration := run.Duration(s.now())

	stats, err := usage.ComputeStats(samples, run.Threshold, duration)
	if err != nil {
		s.writeUsageError(w, run, err)

		return
	}

	passed, err := usage.HasPassedThreshold(samples, run.Threshold)
	if err != nil {
		s.writeUsageError(w, run, err)

		return
	}

	writeJSON(w, http.StatusOK, tracker.RunStats{
		ID:                 run.ID,
		Name:               run.Name,
		Description:        run.Description,
		Threshold:          run.Threshold,
		StartTime:          run.StartTime,
		EndTime:            run.EndTime,
		Measurements:       stats.Measurements,
		TimeAboveThreshold: tracker.Seconds(stats.TimeAboveThreshold),
		TotalTime:          tracker.Seconds(stats.TotalTime),
		Duration:           tracker.Seconds(duration),
		PassedThreshold:    passed,
	})
}

// handleThreshold answers whether a run has breached its threshold so far.
func (s *server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	run := runFromContext(r.Context())

	samples, ok := s.loadSamples(w, r, run)
	if !ok {
		return
	}

	highest, err := usage.MaxUsage(samples)
	if err != nil {
		s.writeUsageError(w, run, err)

		return
	}

	writeJSON(w, http.StatusOK, tracker.ThresholdResponse{
		ID:        run.ID,
		Threshold: run.Threshold,
		MaxUsage:  highest,
		Passed:    highest > run.Threshold,
	})
}

func (s *server) loadSamples(
	w http.ResponseWriter,
	r *http.Request,
	run *store.TestRun,
) ([]usage.Sample, bool) {
	rows, err := s.store.ListCPUUsage(r.Context(), run.ID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list cpu usage")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return nil, false
	}

	return toUsageSamples(rows), true
}

// writeUsageError maps analyzer errors to responses. An empty series is a
// client-visible condition, never a server failure.
func (s *server) writeUsageError(
	w http.ResponseWriter,
	run *store.TestRun,
	err error,
) {
	if errors.Is(err, usage.ErrNoData) {
		writeJSON(w, http.StatusUnprocessableEntity,
			errorResponse{fmt.Sprintf("no cpu usage data for test run %s", run.ID)})

		return
	}

	s.log.WithError(err).
		WithField("run_id", run.ID).
		Error("Failed to compute run statistics")
	writeJSON(w, http.StatusInternalServerError,
		errorResponse{"internal error"})
}
