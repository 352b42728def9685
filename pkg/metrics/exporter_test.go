package metrics_test

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kff-recon/pkg/metrics"
)

const openMetricsContentType = "application/openmetrics-text; version=1.0.0; charset=utf-8"

var errFailingWriter = errors.New("metrics: failing writer")

func TestExporterRenderProducesOpenMetrics(t *testing.T) {
	t.Parallel()

	exporter := metrics.NewExporter()
	exporter.ObserveRun(true, time.Unix(1_700_001_234, 0))
	exporter.SetMinutesProcessed(120)
	exporter.SetEpisodeCount(3)
	exporter.SetOccupancyPeak(42.5)
	exporter.SetWaitP95Minutes(7.25)
	exporter.SetSolverIterations(180)
	exporter.SetWorkerCount(4)

	body, err := exporter.Render()
	if err != nil {
		t.Fatalf("Render() returned error: %v", err)
	}

	got := string(body)
	expected := strings.Join([]string{
		"# HELP kffrecon_last_run_success Whether the last EstimateQueue call returned without error.",
		"# TYPE kffrecon_last_run_success gauge",
		"kffrecon_last_run_success 1",
		"# HELP kffrecon_last_run_epoch Unix epoch seconds of the last reconciliation run.",
		"# TYPE kffrecon_last_run_epoch gauge",
		"kffrecon_last_run_epoch 1700001234",
		"# HELP kffrecon_minutes_processed Number of minute buckets in the last reconciled grid.",
		"# TYPE kffrecon_minutes_processed gauge",
		"kffrecon_minutes_processed 120",
		"# HELP kffrecon_episode_count Number of busy episodes detected in the last run.",
		"# TYPE kffrecon_episode_count gauge",
		"kffrecon_episode_count 3",
		"# HELP kffrecon_occupancy_peak Maximum reconciled queue occupancy in the last run.",
		"# TYPE kffrecon_occupancy_peak gauge",
		"kffrecon_occupancy_peak 42.5000",
		"# HELP kffrecon_wait_p95_minutes 95th percentile FIFO wait time in the last run.",
		"# TYPE kffrecon_wait_p95_minutes gauge",
		"kffrecon_wait_p95_minutes 7.2500",
		"# HELP kffrecon_solver_iterations Iteration count of the slowest episode solve.",
		"# TYPE kffrecon_solver_iterations gauge",
		"kffrecon_solver_iterations 180",
		"# HELP kffrecon_worker_count Worker pool size used for the last run.",
		"# TYPE kffrecon_worker_count gauge",
		"kffrecon_worker_count 4",
		"# EOF",
		"",
	}, "\n")

	if got != expected {
		t.Fatalf("unexpected metrics output:\nexpected:\n%s\n\nactual:\n%s", expected, got)
	}
}

func TestExporterServeHTTPWritesContentType(t *testing.T) {
	t.Parallel()

	exporter := metrics.NewExporter()
	exporter.ObserveRun(false, time.Now())

	recorder := httptest.NewRecorder()
	exporter.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", recorder.Code)
	}

	if got := recorder.Header().Get("Content-Type"); got != openMetricsContentType {
		t.Fatalf("unexpected content type: %q", got)
	}
}

func TestExporterWriteToPropagatesWriterErrors(t *testing.T) {
	t.Parallel()

	exporter := metrics.NewExporter()

	_, err := exporter.WriteTo(failingWriter{})
	if err == nil {
		t.Fatal("expected error from WriteTo")
	}

	if !strings.Contains(err.Error(), "write metrics") {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestExporterGuardsAgainstInvalidInputs(t *testing.T) {
	t.Parallel()

	exporter := metrics.NewExporter()
	exporter.SetMinutesProcessed(-5)
	exporter.SetEpisodeCount(-1)
	exporter.SetOccupancyPeak(math.NaN())
	exporter.SetWaitP95Minutes(math.Inf(1))
	exporter.SetSolverIterations(-10)
	exporter.SetWorkerCount(-2)

	data, err := exporter.Render()
	if err != nil {
		t.Fatalf("Render() returned error: %v", err)
	}

	output := string(data)
	if !strings.Contains(output, "kffrecon_minutes_processed 0") {
		t.Fatalf("expected minutes_processed clamped to zero, got %s", output)
	}

	if !strings.Contains(output, "kffrecon_episode_count 0") {
		t.Fatalf("expected episode_count clamped to zero, got %s", output)
	}

	if !strings.Contains(output, "kffrecon_occupancy_peak 0.0000") {
		t.Fatalf("expected occupancy_peak clamped to zero, got %s", output)
	}

	if !strings.Contains(output, "kffrecon_wait_p95_minutes 0.0000") {
		t.Fatalf("expected wait_p95_minutes clamped to zero, got %s", output)
	}

	if !strings.Contains(output, "kffrecon_worker_count 0") {
		t.Fatalf("expected worker_count clamped to zero, got %s", output)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errFailingWriter
}
