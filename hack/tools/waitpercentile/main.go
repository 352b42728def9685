// Command waitpercentile reads a kffrecon CSV table (as written by
// cmd/kffrecon -table) and prints a percentile of the Väntetid column. It is
// a CLI collaborator, not part of the reconstruction core, grounded on the
// teacher's hack/tools/p95query in flag-parsing shape: a small single-query
// tool with required/optional flags and a log.Fatal-free error path.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
)

const waitColumnName = "Väntetid"

var (
	errMissingPath   = errors.New("waitpercentile: -table is required")
	errInvalidP      = errors.New("waitpercentile: -p must be in (0, 1]")
	errNoWaitColumn  = errors.New("waitpercentile: input has no Väntetid column")
	errNoWaitSamples = errors.New("waitpercentile: no defined wait samples found")
)

type queryConfig struct {
	tablePath string
	p         float64
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		logFatal(err)
	}

	value, err := runQuery(cfg, os.Stdin)
	if err != nil {
		logFatal(err)
	}

	log.Printf("p%.2f wait time: %.2f minutes", cfg.p*100, value)
}

func parseConfig(args []string) (queryConfig, error) {
	var cfg queryConfig

	flags := flag.NewFlagSet("waitpercentile", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	flags.StringVar(&cfg.tablePath, "table", "", "Path to a kffrecon CSV table (- for stdin)")
	flags.Float64Var(&cfg.p, "p", 0.95, "Percentile to report, in (0, 1]")

	if err := flags.Parse(args); err != nil {
		return queryConfig{}, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.tablePath == "" {
		return queryConfig{}, errMissingPath
	}

	if cfg.p <= 0 || cfg.p > 1 {
		return queryConfig{}, errInvalidP
	}

	return cfg, nil
}

func runQuery(cfg queryConfig, stdin io.Reader) (float64, error) {
	var (
		src io.Reader
		err error
	)

	if cfg.tablePath == "-" {
		src = stdin
	} else {
		file, openErr := os.Open(cfg.tablePath) //nolint:gosec // CLI-provided path is operator-controlled
		if openErr != nil {
			return 0, fmt.Errorf("open %q: %w", cfg.tablePath, openErr)
		}
		defer func() { _ = file.Close() }()

		src = file
	}

	samples, err := readWaitSamples(src)
	if err != nil {
		return 0, err
	}

	if len(samples) == 0 {
		return 0, errNoWaitSamples
	}

	sort.Float64s(samples)

	idx := int(cfg.p * float64(len(samples)-1))
	if idx < 0 {
		idx = 0
	}

	if idx >= len(samples) {
		idx = len(samples) - 1
	}

	return samples[idx], nil
}

func readWaitSamples(src io.Reader) ([]float64, error) {
	scanner := bufio.NewScanner(src)
	if !scanner.Scan() {
		return nil, errNoWaitColumn
	}

	header := strings.Split(scanner.Text(), ",")

	waitIdx := -1

	for i, column := range header {
		if column == waitColumnName {
			waitIdx = i

			break
		}
	}

	if waitIdx < 0 {
		return nil, errNoWaitColumn
	}

	var samples []float64

	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ",")
		if waitIdx >= len(fields) {
			continue
		}

		raw := strings.TrimSpace(fields[waitIdx])
		if raw == "" {
			continue
		}

		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}

		samples = append(samples, value)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan table: %w", err)
	}

	return samples, nil
}

func logFatal(err error) {
	log.Printf("error: %v", err)
	os.Exit(1)
}
