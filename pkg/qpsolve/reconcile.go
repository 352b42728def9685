package qpsolve

import (
	"context"
	"fmt"
	"math"
)

// Window is the portion of the per-minute grid handed to a single QP solve —
// normally one episode, buffered per episode/detect.Config.
type Window struct {
	In  []float64
	Out []float64
}

// Result is the reconciled output of a single window solve: corrected flows
// plus the occupancy trace they imply under the stock-flow identity.
type Result struct {
	In         []float64
	Out        []float64
	Occupancy  []float64
	Status     Status
	Iterations int
}

// Reconcile builds the QP for window under cfg, starting from occupancy
// qInit at the window's first minute, solves it with solver, and returns the
// corrected flows and the occupancy they produce. qInit is normally 0 at an
// episode's leading edge, consistent with treating each episode as starting
// from an empty resource.
func Reconcile(ctx context.Context, solver Solver, window Window, cfg Config, qInit float64) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	m := len(window.In)
	if m != len(window.Out) {
		return Result{}, fmt.Errorf("qpsolve: window in/out length mismatch: %d vs %d", m, len(window.Out))
	}

	if m == 0 {
		return Result{}, nil
	}

	problem := buildProblem(window, cfg, qInit)

	solution, err := solver.Solve(ctx, problem, cfg.Tolerances)
	if err != nil {
		return Result{}, fmt.Errorf("qpsolve: reconcile: %w", err)
	}

	in := make([]float64, m)
	out := make([]float64, m)
	occupancy := make([]float64, m)

	q := qInit

	for k := 0; k < m; k++ {
		in[k] = math.Max(0, solution.X[k])
		out[k] = math.Max(0, solution.X[m+k])

		q += in[k] - out[k]
		if q < 0 {
			q = 0
		}

		occupancy[k] = q
	}

	return Result{
		In:         in,
		Out:        out,
		Occupancy:  occupancy,
		Status:     solution.Status,
		Iterations: solution.Iterations,
	}, nil
}

// buildProblem assembles the QP for one window. Variables are laid out as
// [i_0..i_{m-1}, o_0..o_{m-1}]; occupancy is not a decision variable, it is
// eliminated by substituting the cumulative stock-flow identity
// q_k = qInit + sum_{j<=k}(i_j - o_j), which turns the non-negativity
// invariant q_k >= 0 into m prefix-sum rows of the constraint matrix instead
// of an explicit equality constraint.
func buildProblem(window Window, cfg Config, qInit float64) Problem {
	m := len(window.In)
	n := 2 * m

	p := make([][]float64, n)
	for i := range p {
		p[i] = make([]float64, n)
	}

	q := make([]float64, n)

	inScale := inflowTrustScale(window, cfg)

	for k := 0; k < m; k++ {
		iv := k
		ov := m + k

		wIn := cfg.WIn * inScale[k]
		p[iv][iv] += 2 * wIn
		q[iv] += -2 * wIn * window.In[k]

		wOut := cfg.WOut
		p[ov][ov] += 2 * wOut
		q[ov] += -2 * wOut * window.Out[k]
	}

	addSmoothing(p, 0, m, cfg.SmoothIn)
	addSmoothing(p, m, m, cfg.SmoothOut)

	a, l, u := buildConstraints(m, qInit, cfg.NonnegativeFlows)

	return Problem{P: p, Q: q, A: a, L: l, U: u}
}

// addSmoothing adds lambda * sum (x_k - x_{k-1})^2 to the quadratic form for
// the length-m block of variables starting at offset.
func addSmoothing(p [][]float64, offset, m int, lambda float64) {
	if lambda <= 0 {
		return
	}

	for k := 1; k < m; k++ {
		a := offset + k - 1
		b := offset + k

		p[a][a] += 2 * lambda
		p[b][b] += 2 * lambda
		p[a][b] += -2 * lambda
		p[b][a] += -2 * lambda
	}
}

// buildConstraints emits the m conservation/non-negativity rows
// (sum_{j<=k} i_j - sum_{j<=k} o_j >= -qInit, i.e. q_k >= 0) and, when
// nonneg is set, 2m box rows pinning each flow to be non-negative.
func buildConstraints(m int, qInit float64, nonneg bool) (a [][]float64, l, u []float64) {
	n := 2 * m

	rows := m
	if nonneg {
		rows += 2 * m
	}

	a = make([][]float64, 0, rows)
	l = make([]float64, 0, rows)
	u = make([]float64, 0, rows)

	inf := math.Inf(1)

	for k := 0; k < m; k++ {
		row := make([]float64, n)
		for j := 0; j <= k; j++ {
			row[j] = 1
			row[m+j] = -1
		}

		a = append(a, row)
		l = append(l, -qInit)
		u = append(u, inf)
	}

	if nonneg {
		for k := 0; k < m; k++ {
			row := make([]float64, n)
			row[k] = 1
			a = append(a, row)
			l = append(l, 0)
			u = append(u, inf)
		}

		for k := 0; k < m; k++ {
			row := make([]float64, n)
			row[m+k] = 1
			a = append(a, row)
			l = append(l, 0)
			u = append(u, inf)
		}
	}

	return a, l, u
}

// inflowTrustScale returns the per-minute multiplier applied to WIn. With
// AdaptiveInflowPrior off every entry is 1 (no change in behavior). When on,
// the scale is inversely proportional to surrounding activity (spec.md
// §4.3): quiet minutes get a larger scale, making it more expensive for the
// solver to invent inflow there, while busy minutes get a smaller scale so
// the measurement is trusted more readily. The mean scale is renormalized to
// 1 so the overall strength of WIn is unchanged by turning this on, then the
// result is clamped to [InflowWeightMinScale, InflowWeightMaxScale] so a
// single noisy minute can't dominate or zero out the objective term.
func inflowTrustScale(window Window, cfg Config) []float64 {
	m := len(window.In)

	scale := make([]float64, m)
	for k := range scale {
		scale[k] = 1
	}

	if !cfg.AdaptiveInflowPrior || m == 0 {
		return scale
	}

	activity := activitySeries(window, cfg.ActivitySource)
	avg := centeredMovingAverage(activity, cfg.ActivityWindow)

	raw := make([]float64, m)

	var sum float64

	for k, a := range avg {
		raw[k] = 1 / (a + cfg.ActivityEps)
		sum += raw[k]
	}

	mean := sum / float64(m)

	for k, r := range raw {
		scale[k] = clip(r/mean, cfg.InflowWeightMinScale, cfg.InflowWeightMaxScale)
	}

	return scale
}

func activitySeries(window Window, source ActivitySource) []float64 {
	m := len(window.In)
	out := make([]float64, m)

	for k := 0; k < m; k++ {
		switch source {
		case ActivityIn:
			out[k] = window.In[k]
		case ActivityOut:
			out[k] = window.Out[k]
		case ActivitySum:
			out[k] = window.In[k] + window.Out[k]
		case ActivityMaxIO:
			fallthrough
		default:
			out[k] = math.Max(window.In[k], window.Out[k])
		}
	}

	return out
}

// centeredMovingAverage averages a centered window of half-width span/2
// around each index, shrinking the window near the boundaries rather than
// padding with zeros, so edge minutes aren't biased toward a low scale.
func centeredMovingAverage(series []float64, span int) []float64 {
	n := len(series)
	out := make([]float64, n)

	half := span / 2

	for k := 0; k < n; k++ {
		lo := max(0, k-half)
		hi := min(n-1, k+half)

		var sum float64
		for j := lo; j <= hi; j++ {
			sum += series[j]
		}

		out[k] = sum / float64(hi-lo+1)
	}

	return out
}
