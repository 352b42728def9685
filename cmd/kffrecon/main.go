// Package main wires the kffrecon CLI entrypoint: it reads raw entry/exit
// timestamp files, runs the reconstruction pipeline, writes the corrected
// table as CSV, and optionally publishes a summary to OCI Monitoring.
//
//nolint:depguard // main wires project-internal modules and zap logging
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kff-recon/internal/buildinfo"
	"kff-recon/pkg/imds"
	"kff-recon/pkg/metrics"
	"kff-recon/pkg/ocipublish"
	"kff-recon/pkg/recon"
	"kff-recon/pkg/status"
)

const (
	defaultConfigPath = "/etc/kffrecon/config.yaml"
	defaultLogLevel   = "info"

	exitCodeSuccess      = 0
	exitCodeRuntimeError = 1
	exitCodeParseError   = 2
)

func main() {
	code := run(context.Background(), os.Args[1:], defaultRunDeps(), os.Stdout, os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

type runDeps struct {
	newLogger    func(level string) (*zap.Logger, error)
	newIMDS      func() imds.Client
	newOCIClient func(compartmentID string) (ociPublisher, error)
	loadConfig   func(path string) (runtimeConfig, error)
	readLines    func(path string) ([]string, error)
}

type ociPublisher interface {
	Publish(ctx context.Context, resourceID string, summary ocipublish.Summary) error
}

func defaultRunDeps() runDeps {
	return runDeps{
		newLogger:    newLogger,
		newIMDS:      imds.NewDummyClient,
		newOCIClient: defaultOCIFactory,
		loadConfig:   loadConfig,
		readLines:    readLines,
	}
}

//nolint:ireturn // factory intentionally hides the OCI client implementation
func defaultOCIFactory(compartmentID string) (ociPublisher, error) {
	return ocipublish.NewInstancePrincipalClient(compartmentID)
}

func run(ctx context.Context, args []string, deps runDeps, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)

		return exitCodeParseError
	}

	logger, err := deps.newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "failed to configure logger: %v\n", err)

		return exitCodeRuntimeError
	}

	defer func() { _ = logger.Sync() }()

	info := buildinfo.Current()
	logger.Info("starting kffrecon",
		zap.String("version", info.Version),
		zap.String("commit", info.GitCommit),
		zap.String("configPath", opts.configPath),
		zap.String("inPath", opts.inPath),
		zap.String("outPath", opts.outPath),
	)

	cfg, err := deps.loadConfig(opts.configPath)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))

		return exitCodeRuntimeError
	}

	inRaw, err := deps.readLines(opts.inPath)
	if err != nil {
		logger.Error("failed to read entry timestamps", zap.Error(err))

		return exitCodeRuntimeError
	}

	outRaw, err := deps.readLines(opts.outPath)
	if err != nil {
		logger.Error("failed to read exit timestamps", zap.Error(err))

		return exitCodeRuntimeError
	}

	exporter := metrics.NewExporter()

	table, err := recon.EstimateQueueDebug(ctx, inRaw, outRaw,
		recon.WithEpisodeConfig(cfg.Episode),
		recon.WithQPConfig(cfg.QP),
		recon.WithFIFOConfig(cfg.FIFO),
		recon.WithWorkers(cfg.Pool.Workers),
		recon.WithLogger(logger),
	)

	exporter.ObserveRun(err == nil, timeNow())

	if err != nil {
		logger.Error("reconciliation failed", zap.Error(err))

		return exitCodeRuntimeError
	}

	observeTable(exporter, table)

	if err := writeTableCSV(opts.outCSVPath, table, stdout); err != nil {
		logger.Error("failed to write output table", zap.Error(err))

		return exitCodeRuntimeError
	}

	if opts.publishOCI {
		if err := publishSummary(ctx, deps, opts, table); err != nil {
			logger.Error("failed to publish OCI summary", zap.Error(err))

			return exitCodeRuntimeError
		}
	}

	if opts.statusAddr != "" {
		serveStatus(logger, opts.statusAddr, newRunReporter(timeNow(), nil, episodeCount(table)))
	}

	return exitCodeSuccess
}

// runReporter is a fixed-point status.Reporter snapshot of the single run
// main just completed: there is no background refresh, so every accessor
// returns the same values for the life of the process.
type runReporter struct {
	mu           sync.RWMutex
	lastRunAt    time.Time
	lastRunErr   error
	episodeCount int
}

func newRunReporter(at time.Time, runErr error, episodes int) *runReporter {
	return &runReporter{lastRunAt: at, lastRunErr: runErr, episodeCount: episodes}
}

func (r *runReporter) LastRunAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastRunAt
}

func (r *runReporter) LastRunError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastRunErr
}

func (r *runReporter) LastEpisodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.episodeCount
}

// serveStatus blocks serving a health endpoint over the reconciled run, the
// way a CronJob sidecar or probe would scrape it before the pod is reaped.
// It never returns control to run except on listener failure, since the
// whole point of -status-addr is to keep the process alive to be scraped.
func serveStatus(logger *zap.Logger, addr string, reporter *runReporter) {
	mux := http.NewServeMux()
	mux.Handle("/healthz", status.NewHandler(reporter))

	logger.Info("serving status endpoint", zap.String("addr", addr))

	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) { //nolint:gosec // local status endpoint, no remote exposure expected
		logger.Error("status server exited", zap.Error(err))
	}
}

func publishSummary(ctx context.Context, deps runDeps, opts options, table recon.DebugTable) error {
	client, err := deps.newOCIClient(opts.compartmentID)
	if err != nil {
		return fmt.Errorf("build OCI Monitoring client: %w", err)
	}

	summary := summarize(table)

	resourceID := opts.resourceID
	if resourceID == "" {
		imdsClient := deps.newIMDS()

		id, idErr := imdsClient.InstanceID(ctx)
		if idErr == nil {
			resourceID = id
		}
	}

	if err := client.Publish(ctx, resourceID, summary); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}

	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}

	cfg := zap.NewProductionConfig()

	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger, nil
}

type options struct {
	configPath    string
	logLevel      string
	inPath        string
	outPath       string
	outCSVPath    string
	publishOCI    bool
	compartmentID string
	resourceID    string
	statusAddr    string
}

func parseArgs(args []string) (options, error) {
	var opts options

	flagSet := flag.NewFlagSet("kffrecon", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	flagSet.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to the kffrecon configuration file")
	flagSet.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Structured log level (debug, info, warn, error)")
	flagSet.StringVar(&opts.inPath, "in", "", "Path to a file of newline-delimited entry timestamps")
	flagSet.StringVar(&opts.outPath, "out", "", "Path to a file of newline-delimited exit timestamps")
	flagSet.StringVar(&opts.outCSVPath, "table", "-", "Path to write the reconciled CSV table to (- for stdout)")
	flagSet.BoolVar(&opts.publishOCI, "publish-oci", false, "Publish a run summary to OCI Monitoring")
	flagSet.StringVar(&opts.compartmentID, "compartment", "", "Compartment OCID for --publish-oci")
	flagSet.StringVar(&opts.resourceID, "resource-id", "", "Resource OCID dimension for --publish-oci (defaults to IMDS instance ID)")
	flagSet.StringVar(&opts.statusAddr, "status-addr", "", "If set, serve /healthz on this address after the run completes, for a sidecar or probe to scrape")

	if err := flagSet.Parse(args); err != nil {
		return options{}, fmt.Errorf("parse CLI arguments: %w", err)
	}

	opts.inPath = strings.TrimSpace(opts.inPath)
	opts.outPath = strings.TrimSpace(opts.outPath)
	opts.statusAddr = strings.TrimSpace(opts.statusAddr)

	if opts.inPath == "" {
		return options{}, errMissingInPath
	}

	if opts.outPath == "" {
		return options{}, errMissingOutPath
	}

	opts.logLevel = strings.TrimSpace(opts.logLevel)
	if opts.logLevel == "" {
		opts.logLevel = defaultLogLevel
	}

	opts.configPath = strings.TrimSpace(opts.configPath)
	if opts.configPath == "" {
		opts.configPath = defaultConfigPath
	}

	if opts.publishOCI && opts.compartmentID == "" {
		return options{}, errMissingCompartment
	}

	return opts, nil
}

var (
	errInvalidLogLevel    = errors.New("invalid log level")
	errMissingInPath      = errors.New("kffrecon: -in is required")
	errMissingOutPath     = errors.New("kffrecon: -out is required")
	errMissingCompartment = errors.New("kffrecon: -compartment is required with -publish-oci")
)
