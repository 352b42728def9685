// Command eventgen emits synthetic entry/exit timestamp files for
// integration tests: a single busy window of Poisson-ish arrivals, each
// served after an exponential delay, preceded and followed by quiet
// minutes. It is a test-only collaborator, never imported by the
// reconstruction core, grounded on the teacher's
// tests/integration/cmd/cpu-hog in flag-driven, duration-bounded structure
// (a worker loop there, a synthetic event loop here).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	defaultQuietMinutes = 10
	defaultBusyMinutes  = 30
	defaultArrivalRate  = 2.0 // arrivals per minute during the busy window
	defaultServiceMean  = 4.0 // minutes
)

func main() {
	cfg := parseFlags()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "eventgen: %v\n", err)
		os.Exit(1)
	}
}

type genConfig struct {
	outDir       string
	seed         int64
	start        time.Time
	quietMinutes int
	busyMinutes  int
	arrivalRate  float64
	serviceMean  float64
}

func parseFlags() genConfig {
	var cfg genConfig

	var startRaw string

	flag.StringVar(&cfg.outDir, "out-dir", ".", "Directory to write entries.txt and exits.txt into")
	flag.Int64Var(&cfg.seed, "seed", 1, "Deterministic random seed")
	flag.StringVar(&startRaw, "start", "", "RFC3339 start timestamp (defaults to a fixed minute-aligned instant)")
	flag.IntVar(&cfg.quietMinutes, "quiet-minutes", defaultQuietMinutes, "Quiet minutes padding each side of the busy window")
	flag.IntVar(&cfg.busyMinutes, "busy-minutes", defaultBusyMinutes, "Length of the busy window in minutes")
	flag.Float64Var(&cfg.arrivalRate, "arrival-rate", defaultArrivalRate, "Mean arrivals per minute during the busy window")
	flag.Float64Var(&cfg.serviceMean, "service-mean", defaultServiceMean, "Mean minutes a unit waits before departing")

	flag.Parse()

	if cfg.quietMinutes < 0 {
		cfg.quietMinutes = 0
	}

	if cfg.busyMinutes < 1 {
		cfg.busyMinutes = 1
	}

	if cfg.arrivalRate <= 0 {
		cfg.arrivalRate = defaultArrivalRate
	}

	if cfg.serviceMean <= 0 {
		cfg.serviceMean = defaultServiceMean
	}

	if startRaw == "" {
		cfg.start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	} else if parsed, err := time.Parse(time.RFC3339, startRaw); err == nil {
		cfg.start = parsed.UTC()
	} else {
		cfg.start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	return cfg
}

func run(cfg genConfig) error {
	entries, exits := generate(cfg)

	if err := writeTimestamps(filepath.Join(cfg.outDir, "entries.txt"), entries); err != nil {
		return fmt.Errorf("write entries: %w", err)
	}

	if err := writeTimestamps(filepath.Join(cfg.outDir, "exits.txt"), exits); err != nil {
		return fmt.Errorf("write exits: %w", err)
	}

	return nil
}

// generate produces entry timestamps uniformly scattered across the busy
// window at the configured rate, and a matching exit timestamp for each
// entry after an exponentially distributed service delay. Quiet minutes on
// either side never receive events, so the true demand is exactly zero
// there (useful for exercising the adaptive-inflow-prior quiet-period
// property against a known-zero baseline).
func generate(cfg genConfig) ([]time.Time, []time.Time) {
	rng := rand.New(rand.NewSource(cfg.seed)) //nolint:gosec // deterministic synthetic fixture generator

	busyStart := cfg.start.Add(time.Duration(cfg.quietMinutes) * time.Minute)
	busyEnd := busyStart.Add(time.Duration(cfg.busyMinutes) * time.Minute)

	expectedArrivals := int(cfg.arrivalRate * float64(cfg.busyMinutes))

	entries := make([]time.Time, 0, expectedArrivals)
	exits := make([]time.Time, 0, expectedArrivals)

	windowSeconds := busyEnd.Sub(busyStart).Seconds()

	for i := 0; i < expectedArrivals; i++ {
		offsetSeconds := rng.Float64() * windowSeconds
		arrival := busyStart.Add(time.Duration(offsetSeconds * float64(time.Second)))

		serviceMinutes := -cfg.serviceMean * logUniform(rng)
		departure := arrival.Add(time.Duration(serviceMinutes * float64(time.Minute)))

		entries = append(entries, arrival)
		exits = append(exits, departure)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Before(entries[j]) })
	sort.Slice(exits, func(i, j int) bool { return exits[i].Before(exits[j]) })

	return entries, exits
}

// logUniform draws ln(U) for U uniform in (0, 1], the standard inverse-CDF
// building block for an exponential draw (sign and scale applied by the
// caller).
func logUniform(rng *rand.Rand) float64 {
	u := rng.Float64()
	if u <= 0 {
		u = 1e-9
	}

	return math.Log(u)
}

func writeTimestamps(path string, timestamps []time.Time) error {
	file, err := os.Create(path) //nolint:gosec // fixture path is caller-controlled
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	writer := bufio.NewWriter(file)

	for _, ts := range timestamps {
		if _, err := fmt.Fprintln(writer, ts.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("write timestamp: %w", err)
		}
	}

	return writer.Flush()
}
