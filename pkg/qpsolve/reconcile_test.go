//nolint:testpackage // tests exercise unexported problem-construction internals directly
package qpsolve

import (
	"context"
	"math"
	"testing"
)

func TestReconcileConservesStockFlowIdentity(t *testing.T) {
	t.Parallel()

	window := Window{
		In:  []float64{5, 3, 0, 2},
		Out: []float64{1, 2, 4, 1},
	}

	cfg := DefaultConfig()

	result, err := Reconcile(context.Background(), NewADMMSolver(), window, cfg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q := 0.0
	for k := range result.In {
		q += result.In[k] - result.Out[k]

		if q < -1e-6 {
			t.Fatalf("occupancy went negative at minute %d: %v", k, q)
		}

		if math.Abs(result.Occupancy[k]-math.Max(q, 0)) > 1e-4 {
			t.Fatalf("minute %d: occupancy %v does not match cumulative flow %v", k, result.Occupancy[k], q)
		}
	}
}

func TestReconcileClampsNegativeMeasuredOutflow(t *testing.T) {
	t.Parallel()

	window := Window{
		In:  []float64{0, 0, 0},
		Out: []float64{-5, -5, -5},
	}

	cfg := DefaultConfig()

	result, err := Reconcile(context.Background(), NewADMMSolver(), window, cfg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for k, o := range result.Out {
		if o < -1e-9 {
			t.Fatalf("minute %d: expected non-negative corrected outflow, got %v", k, o)
		}
	}
}

func TestReconcileRejectsMismatchedWindowLengths(t *testing.T) {
	t.Parallel()

	window := Window{In: []float64{1, 2}, Out: []float64{1}}

	_, err := Reconcile(context.Background(), NewADMMSolver(), window, DefaultConfig(), 0)
	if err == nil {
		t.Fatalf("expected an error for mismatched in/out lengths")
	}
}

func TestReconcileEmptyWindowIsNoop(t *testing.T) {
	t.Parallel()

	result, err := Reconcile(context.Background(), NewADMMSolver(), Window{}, DefaultConfig(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.In != nil || result.Out != nil {
		t.Fatalf("expected a zero Result for an empty window, got %+v", result)
	}
}

func TestReconcileRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	window := Window{In: []float64{1}, Out: []float64{1}}

	_, err := Reconcile(context.Background(), NewADMMSolver(), window, Config{}, 0)
	if err == nil {
		t.Fatalf("expected an error for a zero-value config")
	}
}

func TestInflowTrustScaleIsIdentityWhenAdaptivePriorDisabled(t *testing.T) {
	t.Parallel()

	window := Window{In: []float64{0, 10, 0, 10}, Out: []float64{0, 0, 0, 0}}
	cfg := DefaultConfig()

	scale := inflowTrustScale(window, cfg)
	for k, s := range scale {
		if s != 1 {
			t.Fatalf("minute %d: expected scale 1.0 with adaptive prior disabled, got %v", k, s)
		}
	}
}

func TestInflowTrustScaleFallsWithActivity(t *testing.T) {
	t.Parallel()

	window := Window{
		In:  []float64{0, 0, 0, 0, 0, 10, 10, 10, 10, 10},
		Out: []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	}

	cfg := DefaultConfig()
	cfg.AdaptiveInflowPrior = true
	cfg.ActivityWindow = 3
	cfg.ActivityEps = 1.0

	scale := inflowTrustScale(window, cfg)

	if scale[1] <= scale[8] {
		t.Fatalf("expected a quiet minute to get a larger scale than a busy one: quiet=%v busy=%v", scale[1], scale[8])
	}

	for _, s := range scale {
		if s < cfg.InflowWeightMinScale-1e-9 || s > cfg.InflowWeightMaxScale+1e-9 {
			t.Fatalf("scale %v out of configured bounds [%v,%v]", s, cfg.InflowWeightMinScale, cfg.InflowWeightMaxScale)
		}
	}
}

func TestBuildConstraintsProducesOneConservationRowPerMinute(t *testing.T) {
	t.Parallel()

	a, l, u := buildConstraints(3, 2, false)

	if len(a) != 3 {
		t.Fatalf("expected 3 conservation rows, got %d", len(a))
	}

	for k, row := range a {
		for j := 0; j <= k; j++ {
			if row[j] != 1 || row[3+j] != -1 {
				t.Fatalf("row %d missing expected prefix-sum coefficients", k)
			}
		}

		if l[k] != -2 {
			t.Fatalf("row %d: expected lower bound -qInit = -2, got %v", k, l[k])
		}

		if !math.IsInf(u[k], 1) {
			t.Fatalf("row %d: expected unbounded upper bound", k)
		}
	}
}

func TestBuildConstraintsAddsBoxRowsWhenNonnegativeFlowsSet(t *testing.T) {
	t.Parallel()

	a, _, _ := buildConstraints(2, 0, true)

	if len(a) != 2+4 {
		t.Fatalf("expected 2 conservation rows + 4 box rows, got %d", len(a))
	}
}
