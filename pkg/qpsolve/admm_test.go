//nolint:testpackage // tests exercise unexported ADMM internals directly
package qpsolve

import (
	"context"
	"math"
	"testing"
)

func TestADMMSolvesUnconstrainedQuadratic(t *testing.T) {
	t.Parallel()

	problem := Problem{
		P: [][]float64{{1}},
		Q: []float64{-3},
		A: [][]float64{},
		L: []float64{},
		U: []float64{},
	}

	solution, err := NewADMMSolver().Solve(context.Background(), problem, DefaultTolerances())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !solution.Status.Converged() {
		t.Fatalf("expected a converged status, got %v", solution.Status)
	}

	if math.Abs(solution.X[0]-3) > 1e-3 {
		t.Fatalf("expected x ~= 3, got %v", solution.X[0])
	}
}

func TestADMMRespectsInequalityConstraint(t *testing.T) {
	t.Parallel()

	problem := Problem{
		P: [][]float64{{1}},
		Q: []float64{0},
		A: [][]float64{{1}},
		L: []float64{1},
		U: []float64{math.Inf(1)},
	}

	solution, err := NewADMMSolver().Solve(context.Background(), problem, DefaultTolerances())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if math.Abs(solution.X[0]-1) > 1e-3 {
		t.Fatalf("expected the constraint to bind at x = 1, got %v", solution.X[0])
	}
}

func TestADMMReturnsErrSolverWhenIterationBudgetExhausted(t *testing.T) {
	t.Parallel()

	problem := Problem{
		P: [][]float64{{1}},
		Q: []float64{-100},
		A: [][]float64{},
		L: []float64{},
		U: []float64{},
	}

	tol := Tolerances{EpsAbs: 1e-12, EpsRel: 1e-12, MaxIter: 1}

	_, err := NewADMMSolver().Solve(context.Background(), problem, tol)
	if err == nil {
		t.Fatalf("expected an error for an exhausted iteration budget")
	}
}

func TestADMMCancelledContextStopsEarly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	problem := Problem{
		P: [][]float64{{1}},
		Q: []float64{-3},
		A: [][]float64{},
		L: []float64{},
		U: []float64{},
	}

	_, err := NewADMMSolver().Solve(ctx, problem, DefaultTolerances())
	if err == nil {
		t.Fatalf("expected an error from a pre-cancelled context")
	}
}
