package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"kff-recon/pkg/imds"
	"kff-recon/pkg/ocipublish"
)

var errStubLoggerBoom = errors.New("logger failure")

func TestParseArgsRequiresInAndOut(t *testing.T) {
	t.Parallel()

	if _, err := parseArgs(nil); !errors.Is(err, errMissingInPath) {
		t.Fatalf("expected errMissingInPath, got %v", err)
	}

	if _, err := parseArgs([]string{"-in", "a.txt"}); !errors.Is(err, errMissingOutPath) {
		t.Fatalf("expected errMissingOutPath, got %v", err)
	}
}

func TestParseArgsDefaults(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs([]string{"-in", "in.txt", "-out", "out.txt"})
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if opts.configPath != defaultConfigPath {
		t.Fatalf("expected default config path, got %q", opts.configPath)
	}

	if opts.logLevel != defaultLogLevel {
		t.Fatalf("expected default log level, got %q", opts.logLevel)
	}

	if opts.outCSVPath != "-" {
		t.Fatalf("expected default table path of -, got %q", opts.outCSVPath)
	}
}

func TestParseArgsRequiresCompartmentForPublish(t *testing.T) {
	t.Parallel()

	_, err := parseArgs([]string{"-in", "in.txt", "-out", "out.txt", "-publish-oci"})
	if !errors.Is(err, errMissingCompartment) {
		t.Fatalf("expected errMissingCompartment, got %v", err)
	}
}

func TestRunEndToEndWritesCSV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.txt")
	outPath := filepath.Join(dir, "out.txt")
	tablePath := filepath.Join(dir, "table.csv")

	writeLines(t, inPath, []string{
		"2024-01-01T00:00:00Z",
		"2024-01-01T00:01:00Z",
	})
	writeLines(t, outPath, []string{
		"2024-01-01T00:02:00Z",
		"2024-01-01T00:03:00Z",
	})

	args := []string{"-in", inPath, "-out", outPath, "-table", tablePath}

	deps := runDeps{
		newLogger:    func(string) (*zap.Logger, error) { return zap.NewNop(), nil },
		newIMDS:      imds.NewDummyClient,
		newOCIClient: func(string) (ociPublisher, error) { return fakeOCIClient{}, nil },
		loadConfig:   loadConfig,
		readLines:    readLines,
	}

	var stdout, stderr bytes.Buffer

	code := run(context.Background(), args, deps, &stdout, &stderr)
	if code != exitCodeSuccess {
		t.Fatalf("expected success exit code, got %d (stderr=%q)", code, stderr.String())
	}

	raw, err := os.ReadFile(tablePath) //nolint:gosec // fixed test-generated path
	if err != nil {
		t.Fatalf("read table: %v", err)
	}

	if !strings.HasPrefix(string(raw), "Tid,Pax i kö,Pax in i kö,Pax ur kö,Väntetid\n") {
		t.Fatalf("unexpected table header: %q", string(raw))
	}
}

func TestRunFailsWhenLoggerConstructionFails(t *testing.T) {
	t.Parallel()

	deps := runDeps{
		newLogger:    func(string) (*zap.Logger, error) { return nil, errStubLoggerBoom },
		newIMDS:      imds.NewDummyClient,
		newOCIClient: func(string) (ociPublisher, error) { return fakeOCIClient{}, nil },
		loadConfig:   loadConfig,
		readLines:    readLines,
	}

	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-in", "a", "-out", "b"}, deps, &stdout, &stderr)
	if code != exitCodeRuntimeError {
		t.Fatalf("expected runtime error exit code, got %d", code)
	}
}

func TestRunFailsWhenInputFileMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	deps := runDeps{
		newLogger:    func(string) (*zap.Logger, error) { return zap.NewNop(), nil },
		newIMDS:      imds.NewDummyClient,
		newOCIClient: func(string) (ociPublisher, error) { return fakeOCIClient{}, nil },
		loadConfig:   loadConfig,
		readLines:    readLines,
	}

	args := []string{
		"-in", filepath.Join(dir, "missing-in.txt"),
		"-out", filepath.Join(dir, "missing-out.txt"),
	}

	var stdout, stderr bytes.Buffer

	code := run(context.Background(), args, deps, &stdout, &stderr)
	if code != exitCodeRuntimeError {
		t.Fatalf("expected runtime error exit code, got %d", code)
	}
}

func TestRunReporterReflectsConstructedSnapshot(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	boom := errors.New("reconciliation boom")

	reporter := newRunReporter(at, boom, 3)

	if !reporter.LastRunAt().Equal(at) {
		t.Fatalf("expected LastRunAt %v, got %v", at, reporter.LastRunAt())
	}

	if !errors.Is(reporter.LastRunError(), boom) {
		t.Fatalf("expected LastRunError %v, got %v", boom, reporter.LastRunError())
	}

	if reporter.LastEpisodeCount() != 3 {
		t.Fatalf("expected episode count 3, got %d", reporter.LastEpisodeCount())
	}
}

type fakeOCIClient struct{}

func (fakeOCIClient) Publish(context.Context, string, ocipublish.Summary) error {
	return nil
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()

	body := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}
