// Package fifo reconstructs per-minute wait times from reconciled entry/exit
// flows (C4), matching departures to the earliest unmatched arrivals under a
// first-in-first-out assumption. It plays the role the teacher's est.Sampler
// plays for CPU jiffy counters: a small stateful loop that advances a
// monotonic cursor over cumulative counters and never rewinds it, the same
// shape as est.diffCounter's "counters only move forward" contract.
package fifo

import (
	"errors"
	"fmt"

	"kff-recon/pkg/queuemodel"
)

// ErrInvalidConfig is returned when a Config field is out of its valid range.
var ErrInvalidConfig = errors.New("fifo: invalid configuration")

// Config tunes the cumulative-count matching used to reconstruct wait times.
type Config struct {
	// EpsOut is the minimum per-minute outflow below which a minute is
	// treated as having no departures worth reporting a wait for.
	EpsOut float64

	// Delta is the cumulative-count slack tolerated when deciding an
	// arrival minute's units are fully consumed, absorbing the rounding
	// noise inherent in reconciled (not integer) flows.
	Delta float64
}

// DefaultConfig returns the wait-reconstruction defaults.
func DefaultConfig() Config {
	return Config{EpsOut: 1e-9, Delta: 1e-6}
}

// Validate checks that every field is within its documented valid range.
func (c Config) Validate() error {
	if c.EpsOut < 0 {
		return fmt.Errorf("%w: eps_out must be >= 0, got %v", ErrInvalidConfig, c.EpsOut)
	}

	if c.Delta < 0 {
		return fmt.Errorf("%w: delta must be >= 0, got %v", ErrInvalidConfig, c.Delta)
	}

	return nil
}

// Reconstruct computes a per-minute wait-time series from r's reconciled
// in/out flows, scoped independently to each episode in episodes: the
// matching cursor resets at every episode boundary, since minutes outside
// any episode carry no FIFO ordering guarantee with minutes inside one.
func Reconstruct(r queuemodel.Reconciled, episodes []queuemodel.Episode, cfg Config) (queuemodel.Wait, error) {
	if err := cfg.Validate(); err != nil {
		return queuemodel.Wait{}, err
	}

	wait := queuemodel.NewWait(r.Len())

	for _, ep := range episodes {
		reconstructEpisode(r, ep, cfg, wait)
	}

	return wait, nil
}

// reconstructEpisode implements spec.md §4.4's single-cursor algorithm over
// [ep.Start, ep.End]: cumulative inflow/outflow are compared at each exit
// minute against a cursor u that only ever advances, and the emitted wait is
// the integer minute gap k-u, not a volume-weighted blend across arrival
// minutes.
func reconstructEpisode(r queuemodel.Reconciled, ep queuemodel.Episode, cfg Config, wait queuemodel.Wait) {
	end := ep.End
	if end >= r.Len() {
		end = r.Len() - 1
	}

	if end < ep.Start {
		return
	}

	m := end - ep.Start + 1

	cumIn := make([]float64, m)
	cumOut := make([]float64, m)

	var runningIn, runningOut float64

	for k := ep.Start; k <= end; k++ {
		runningIn += r.In[k]
		runningOut += r.Out[k]

		cumIn[k-ep.Start] = runningIn
		cumOut[k-ep.Start] = runningOut
	}

	u := 0

	for k := ep.Start; k <= end; k++ {
		if r.Out[k] <= cfg.EpsOut {
			continue
		}

		kk := k - ep.Start

		for u < m-1 && cumIn[u] < cumOut[kk]-cfg.Delta {
			u++
		}

		if cumIn[u]+cfg.Delta >= cumOut[kk] {
			wait.Minutes[k] = float64(kk - u)
		}
	}
}
