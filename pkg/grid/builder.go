// Package grid buckets raw entry/exit timestamp streams onto a dense,
// contiguous UTC minute grid. It plays the role the teacher's est.Sampler
// plays for CPU jiffy counters: turn noisy raw observations into a clean,
// regularly spaced series the rest of the pipeline can reason about.
package grid

import (
	"time"

	"go.uber.org/zap"

	"kff-recon/pkg/queuemodel"
)

type options struct {
	logger *zap.Logger
}

// Option configures the minute-grid builder.
type Option func(*options)

// WithLogger attaches a structured logger for build diagnostics.
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

// Build buckets inTimes and outTimes onto a dense per-minute UTC grid. The
// first bucket is the floor-to-minute of the earliest timestamp seen in
// either input; the last is the floor-to-minute of the latest. Determinism:
// the same multiset of inputs always yields the same grid regardless of
// input order. Empty inputs yield an empty grid.
func Build(inTimes, outTimes []time.Time, opts ...Option) queuemodel.Grid {
	o := resolveOptions(opts)

	if len(inTimes) == 0 && len(outTimes) == 0 {
		o.logger.Debug("grid: empty inputs, returning empty grid")

		return queuemodel.Grid{}
	}

	t0, tEnd, ok := bucketBounds(inTimes, outTimes)
	if !ok {
		return queuemodel.Grid{}
	}

	n := int(tEnd.Sub(t0)/time.Minute) + 1
	g := queuemodel.NewGrid(t0, n)

	for _, ts := range inTimes {
		k := bucketIndex(ts, t0, n)
		if k >= 0 {
			g.In[k]++
		}
	}

	for _, ts := range outTimes {
		k := bucketIndex(ts, t0, n)
		if k >= 0 {
			g.Out[k]++
		}
	}

	o.logger.Debug("grid: built minute grid",
		zap.Time("start", t0),
		zap.Int("minutes", n),
		zap.Int("inCount", len(inTimes)),
		zap.Int("outCount", len(outTimes)),
	)

	return g
}

// bucketBounds computes the floor-to-minute start and end of the combined
// timestamp inputs. ok is false only when both inputs are empty.
func bucketBounds(inTimes, outTimes []time.Time) (start, end time.Time, ok bool) {
	first := true

	consider := func(ts time.Time) {
		floored := floorMinute(ts)
		if first {
			start, end = floored, floored
			first = false

			return
		}

		if floored.Before(start) {
			start = floored
		}

		if floored.After(end) {
			end = floored
		}
	}

	for _, ts := range inTimes {
		consider(ts)
	}

	for _, ts := range outTimes {
		consider(ts)
	}

	return start, end, !first
}

func floorMinute(ts time.Time) time.Time {
	utc := ts.UTC()

	return time.Date(utc.Year(), utc.Month(), utc.Day(), utc.Hour(), utc.Minute(), 0, 0, time.UTC)
}

func bucketIndex(ts time.Time, t0 time.Time, n int) int {
	k := int(floorMinute(ts).Sub(t0) / time.Minute)
	if k < 0 || k >= n {
		return -1
	}

	return k
}
