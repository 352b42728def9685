// Package recon wires the minute-grid builder, episode detector, QP
// reconciler, and FIFO wait reconstructor into the single public entrypoint
// external callers use: EstimateQueue. It plays the role cmd/shaper/main.go's
// dependency-injected run function plays for the teacher — the place where
// every collaborator package gets assembled into one call — except here the
// assembly is a library function rather than a CLI process.
package recon

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kff-recon/pkg/episode"
	"kff-recon/pkg/fifo"
	"kff-recon/pkg/qpsolve"
)

// ErrContract is returned when the caller's input violates the entrypoint's
// structural contract (mismatched lengths, nonsensical combinations) rather
// than a tunable parameter being out of range.
var ErrContract = errors.New("recon: contract violation")

// ErrConfiguration is returned when an Option produces an invalid
// downstream Config, wrapping the originating package's own sentinel.
var ErrConfiguration = errors.New("recon: invalid configuration")

// ErrSolver is returned when the QP backend fails to converge for an
// episode, wrapping qpsolve.ErrSolver so callers can errors.Is against
// either sentinel.
var ErrSolver = qpsolve.ErrSolver

// Options collects every tunable of the reconstruction pipeline. Build one
// with defaultOptions and apply Option values on top of it, the same
// functional-options shape used by pkg/grid and pkg/episode.
type Options struct {
	Episode episode.Config
	QP      qpsolve.Config
	FIFO    fifo.Config
	Solver  qpsolve.Solver
	Workers int
	Debug   bool
	Logger  *zap.Logger

	// UseEpisodeSplitting selects spec.md §4.5 step 2 (busy-window detection,
	// one independent QP solve per episode) when true, or step 3 (a single
	// QP solve over the whole grid) when false.
	UseEpisodeSplitting bool

	// IncludeFifoWait selects whether C4 runs at all. When false, Väntetid
	// is absent from every row regardless of corrected outflow.
	IncludeFifoWait bool
}

// Option mutates an Options value under construction.
type Option func(*Options)

// WithEpisodeConfig overrides the busy-window detection parameters.
func WithEpisodeConfig(cfg episode.Config) Option {
	return func(o *Options) { o.Episode = cfg }
}

// WithQPConfig overrides the reconciliation parameters.
func WithQPConfig(cfg qpsolve.Config) Option {
	return func(o *Options) { o.QP = cfg }
}

// WithFIFOConfig overrides the wait-reconstruction parameters.
func WithFIFOConfig(cfg fifo.Config) Option {
	return func(o *Options) { o.FIFO = cfg }
}

// WithSolver overrides the QP backend. Tests commonly supply a fake here.
func WithSolver(solver qpsolve.Solver) Option {
	return func(o *Options) { o.Solver = solver }
}

// WithWorkers sets the number of goroutines used to solve independent
// episodes concurrently. A value <= 0 lets the pool size itself to the host.
func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

// WithDebug requests that EstimateQueueDebug attach measured values and
// per-minute episode bookkeeping to its output, at the cost of a larger
// result.
func WithDebug(debug bool) Option {
	return func(o *Options) { o.Debug = debug }
}

// WithLogger overrides the structured logger used across the pipeline.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithUseEpisodeSplitting toggles busy-window detection (spec.md §6,
// default true). When false, C3 runs once over the whole grid instead of
// once per detected episode.
func WithUseEpisodeSplitting(enabled bool) Option {
	return func(o *Options) { o.UseEpisodeSplitting = enabled }
}

// WithIncludeFifoWait toggles FIFO wait reconstruction (spec.md §6, default
// true). When false, Väntetid is absent from every row and C4 never runs.
func WithIncludeFifoWait(enabled bool) Option {
	return func(o *Options) { o.IncludeFifoWait = enabled }
}

func defaultOptions() Options {
	return Options{
		Episode:             episode.DefaultConfig(),
		QP:                  qpsolve.DefaultConfig(),
		FIFO:                fifo.DefaultConfig(),
		Solver:              qpsolve.NewADMMSolver(),
		Workers:             0,
		Debug:               false,
		Logger:              zap.NewNop(),
		UseEpisodeSplitting: true,
		IncludeFifoWait:     true,
	}
}

func resolveOptions(opts []Option) (Options, error) {
	resolved := defaultOptions()
	for _, opt := range opts {
		opt(&resolved)
	}

	if resolved.Solver == nil {
		return Options{}, errors.New("recon: solver option must not be nil")
	}

	if err := resolved.Episode.Validate(); err != nil {
		return Options{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if err := resolved.QP.Validate(); err != nil {
		return Options{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if err := resolved.FIFO.Validate(); err != nil {
		return Options{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return resolved, nil
}
