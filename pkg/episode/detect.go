package episode

import (
	"go.uber.org/zap"

	"kff-recon/pkg/queuemodel"
)

type options struct {
	logger *zap.Logger
}

// Option configures episode detection diagnostics.
type Option func(*options)

// WithLogger attaches a structured logger for detection diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func resolveOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return o
}

// run is a maximal contiguous index interval [start, end] (inclusive) sharing
// one activity state.
type run struct {
	start, end int
}

// Detect partitions g into episodes per the algorithm in spec.md §4.2:
// activity thresholding, short-gap bridging between active runs, minimum
// active-run length filtering, buffer padding, and a final minimum-episode
// length filter. Returns ErrInvalidConfig (wrapped) if cfg is out of range.
func Detect(g queuemodel.Grid, cfg Config, opts ...Option) ([]queuemodel.Episode, error) {
	o := resolveOptions(opts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := g.Len()
	if n == 0 {
		return nil, nil
	}

	active := activityMask(g, cfg.ActiveThreshold)
	bridgeGaps(active, cfg.MaxGapMinutes)

	episodes := buildEpisodes(active, cfg, n)

	o.logger.Debug("episode: detection complete",
		zap.Int("minutes", n),
		zap.Int("episodes", len(episodes)),
	)

	return episodes, nil
}

func activityMask(g queuemodel.Grid, threshold float64) []bool {
	active := make([]bool, g.Len())
	for k := range active {
		active[k] = g.In[k]+g.Out[k] >= threshold
	}

	return active
}

// bridgeGaps flips strictly-interior inactive runs of length <= maxGap to
// active, provided both their left and right neighbors are active. The
// decision is made against the original active mask in one pass (first- and
// last-pass inactive runs, which have no active neighbor on one side, are
// never bridged).
func bridgeGaps(active []bool, maxGap int) {
	if maxGap <= 0 || len(active) == 0 {
		return
	}

	for _, r := range inactiveRuns(active) {
		length := r.end - r.start + 1
		if length > maxGap {
			continue
		}

		leftActive := r.start > 0 && active[r.start-1]
		rightActive := r.end < len(active)-1 && active[r.end+1]

		if leftActive && rightActive {
			for k := r.start; k <= r.end; k++ {
				active[k] = true
			}
		}
	}
}

func inactiveRuns(active []bool) []run {
	return runsWhere(active, false)
}

func activeRuns(active []bool) []run {
	return runsWhere(active, true)
}

func runsWhere(active []bool, want bool) []run {
	var runs []run

	start := -1

	for k, v := range active {
		if v == want {
			if start == -1 {
				start = k
			}

			continue
		}

		if start != -1 {
			runs = append(runs, run{start: start, end: k - 1})
			start = -1
		}
	}

	if start != -1 {
		runs = append(runs, run{start: start, end: len(active) - 1})
	}

	return runs
}

func buildEpisodes(active []bool, cfg Config, n int) []queuemodel.Episode {
	var episodes []queuemodel.Episode

	id := 0

	for _, r := range activeRuns(active) {
		rawLen := r.end - r.start + 1
		if rawLen < cfg.MinActiveMinutes {
			continue
		}

		start := max(0, r.start-cfg.BufferMinutes)
		end := min(n-1, r.end+cfg.BufferMinutes)

		if end-start+1 < cfg.MinEpisodeMinutes {
			continue
		}

		id++
		episodes = append(episodes, queuemodel.Episode{ID: id, Start: start, End: end})
	}

	return episodes
}
