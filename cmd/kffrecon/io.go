package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"kff-recon/pkg/metrics"
	"kff-recon/pkg/ocipublish"
	"kff-recon/pkg/recon"
)

var timeNow = time.Now //nolint:gochecknoglobals // test seam for deterministic timestamps

// readLines reads one raw timestamp per line, discarding blank lines. It is
// deliberately permissive: malformed lines are left for grid.ParseTimestamps
// to drop, matching the "parse errors are dropped silently" contract of C1.
func readLines(path string) ([]string, error) {
	file, err := os.Open(path) //nolint:gosec // CLI-provided path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var lines []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", path, err)
	}

	return lines, nil
}

// writeTableCSV renders a reconciled DebugTable's public columns as CSV to
// the given path, or to stdout when path is "-". This CSV layout is the
// CLI's collaborator surface from spec.md §6, not part of the
// reconstruction core itself.
func writeTableCSV(path string, table recon.DebugTable, stdout io.Writer) error {
	var (
		dst    io.Writer
		closer func() error
	)

	if path == "" || path == "-" {
		dst = stdout
		closer = func() error { return nil }
	} else {
		file, err := os.Create(path) //nolint:gosec // CLI-provided path is operator-controlled
		if err != nil {
			return fmt.Errorf("create %q: %w", path, err)
		}

		dst = file
		closer = file.Close
	}

	writer := bufio.NewWriter(dst)

	if _, err := io.WriteString(writer, "Tid,Pax i kö,Pax in i kö,Pax ur kö,Väntetid\n"); err != nil {
		_ = closer()

		return fmt.Errorf("write header: %w", err)
	}

	for _, row := range table.Rows {
		wait := ""
		if row.Vantetid != nil {
			wait = strconv.FormatFloat(*row.Vantetid, 'f', -1, 64)
		}

		line := fmt.Sprintf("%s,%s,%s,%s,%s\n",
			row.Tid.UTC().Format(time.RFC3339),
			strconv.FormatFloat(row.PaxIKo, 'f', -1, 64),
			strconv.FormatFloat(row.PaxInIKo, 'f', -1, 64),
			strconv.FormatFloat(row.PaxUrKo, 'f', -1, 64),
			wait,
		)

		if _, err := io.WriteString(writer, line); err != nil {
			_ = closer()

			return fmt.Errorf("write row: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		_ = closer()

		return fmt.Errorf("flush output: %w", err)
	}

	return closer()
}

// observeTable folds a reconciled DebugTable's headline figures into the
// process-local metrics exporter.
func observeTable(exporter *metrics.Exporter, table recon.DebugTable) {
	exporter.SetMinutesProcessed(len(table.Rows))
	exporter.SetOccupancyPeak(peakOccupancy(table))
	exporter.SetWaitP95Minutes(percentile(waitValues(table), 0.95))
	exporter.SetEpisodeCount(episodeCount(table))
}

// summarize reduces a DebugTable to the fields ocipublish.Summary carries.
func summarize(table recon.DebugTable) ocipublish.Summary {
	return ocipublish.Summary{
		At:           timeNow().UTC(),
		Occupancy:    peakOccupancy(table),
		WaitP95:      percentile(waitValues(table), 0.95),
		EpisodeCount: float64(episodeCount(table)),
	}
}

func peakOccupancy(table recon.DebugTable) float64 {
	peak := 0.0

	for _, row := range table.Rows {
		if row.PaxIKo > peak {
			peak = row.PaxIKo
		}
	}

	return peak
}

func waitValues(table recon.DebugTable) []float64 {
	waits := make([]float64, 0, len(table.Rows))

	for _, row := range table.Rows {
		if row.Vantetid != nil {
			waits = append(waits, *row.Vantetid)
		}
	}

	return waits
}

func episodeCount(table recon.DebugTable) int {
	seen := map[int]struct{}{}

	for _, row := range table.Rows {
		if row.InEpisode && row.EpisodeID != nil {
			seen[*row.EpisodeID] = struct{}{}
		}
	}

	return len(seen)
}

// percentile returns the p-th percentile (0 <= p <= 1) of values using
// nearest-rank interpolation. Returns 0 for an empty slice.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}

	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}
