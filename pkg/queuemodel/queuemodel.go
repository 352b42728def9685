// Package queuemodel holds the value types shared by the reconstruction
// pipeline: the measured minute grid, detected episodes, the reconciled
// series, and FIFO wait annotations. Every stage owns its output; later
// stages only ever read earlier ones.
package queuemodel

import (
	"math"
	"time"
)

// Grid is a dense, contiguous UTC minute-indexed series of measured entry
// and exit counts. Timestamps[k+1] - Timestamps[k] == time.Minute for all k.
type Grid struct {
	Timestamps []time.Time
	In         []float64 // measured entries a_k
	Out        []float64 // measured exits b_k
}

// Len reports the number of minute buckets in the grid.
func (g Grid) Len() int {
	return len(g.Timestamps)
}

// NewGrid allocates a zeroed Grid of n minutes starting at t0.
func NewGrid(t0 time.Time, n int) Grid {
	g := Grid{
		Timestamps: make([]time.Time, n),
		In:         make([]float64, n),
		Out:        make([]float64, n),
	}
	for k := range g.Timestamps {
		g.Timestamps[k] = t0.Add(time.Duration(k) * time.Minute)
	}

	return g
}

// Episode is a half-open index interval [Start, End] (End inclusive) into a
// Grid identifying one contiguous busy window. Episodes are pairwise
// disjoint and numbered in ascending Start order, 1-based.
type Episode struct {
	ID    int
	Start int
	End   int
}

// Len reports the number of minutes spanned by the episode.
func (e Episode) Len() int {
	return e.End - e.Start + 1
}

// Reconciled is the corrected counterpart of a Grid: same length and
// timestamps, plus corrected entries/exits/occupancy and episode bookkeeping.
type Reconciled struct {
	Timestamps []time.Time
	In         []float64 // corrected entries i_k
	Out        []float64 // corrected exits o_k
	Occupancy  []float64 // occupancy q_k
	EpisodeID  []int     // meaningful only where InEpisode[k] is true
	InEpisode  []bool
}

// Len reports the number of minutes in the reconciled series.
func (r Reconciled) Len() int {
	return len(r.Timestamps)
}

// NewReconciled allocates a Reconciled series mirroring the shape of g, with
// measurements copied through as the identity correction and occupancy at
// zero (the convention for minutes outside any episode).
func NewReconciled(g Grid) Reconciled {
	n := g.Len()
	r := Reconciled{
		Timestamps: make([]time.Time, n),
		In:         make([]float64, n),
		Out:        make([]float64, n),
		Occupancy:  make([]float64, n),
		EpisodeID:  make([]int, n),
		InEpisode:  make([]bool, n),
	}
	copy(r.Timestamps, g.Timestamps)
	copy(r.In, g.In)
	copy(r.Out, g.Out)

	return r
}

// Wait holds FIFO waiting-time annotations, one per minute of a Reconciled
// series. A NaN entry means the wait is undefined for that minute (no
// positive corrected outflow, or no matching entry could be found).
type Wait struct {
	Minutes []float64
}

// NewWait allocates a Wait series of length n with every entry undefined.
func NewWait(n int) Wait {
	w := Wait{Minutes: make([]float64, n)}
	for k := range w.Minutes {
		w.Minutes[k] = math.NaN()
	}

	return w
}

// IsDefined reports whether the wait value at minute k is defined.
func (w Wait) IsDefined(k int) bool {
	return !math.IsNaN(w.Minutes[k])
}
