package qpsolve

import (
	"context"
	"fmt"
	"math"
)

// ADMMSolver is the default QP backend: a dense operator-splitting (ADMM)
// solver in the style of OSQP, specialized to nothing except dense
// matrices — the reconciler only ever needs to solve problems sized to one
// episode window, which the corpus contains no bundled convex-QP library to
// do instead (see DESIGN.md). Sigma/Rho/Alpha follow OSQP's published
// defaults for the regularization, penalty, and over-relaxation parameters.
type ADMMSolver struct {
	Sigma float64
	Rho   float64
	Alpha float64

	// residualCheckEvery trades convergence-check overhead against wasted
	// iterations past the point of convergence.
	residualCheckEvery int
}

// NewADMMSolver constructs an ADMMSolver with OSQP-standard defaults.
func NewADMMSolver() *ADMMSolver {
	return &ADMMSolver{
		Sigma:              1e-6,
		Rho:                1.0,
		Alpha:              1.6,
		residualCheckEvery: 10,
	}
}

// Solve runs ADMM on problem until the primal/dual residuals fall within
// tol, the context is cancelled, or tol.MaxIter is exhausted.
func (s *ADMMSolver) Solve(ctx context.Context, problem Problem, tol Tolerances) (Solution, error) {
	n := problem.NumVars()
	mC := problem.NumConstraints()

	if n == 0 {
		return Solution{X: nil, Status: StatusOptimal}, nil
	}

	sigma := s.sigma()
	rho := s.rho()
	alpha := s.alpha()

	m := buildSystemMatrix(problem.P, problem.A, sigma, rho, n)

	factor, err := cholesky(m)
	if err != nil {
		return Solution{}, fmt.Errorf("qpsolve: admm: factorize KKT system: %w", err)
	}

	x := make([]float64, n)
	z := make([]float64, mC)
	y := make([]float64, mC)

	maxIter := tol.MaxIter
	if maxIter < 1 {
		maxIter = 1
	}

	iter := 0

	for ; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return Solution{}, fmt.Errorf("qpsolve: admm: %w", err)
		}

		rhs := make([]float64, n)
		atZY := matTVec(problem.A, axpy(rho, z, scale(-1, y)), n)

		for i := range rhs {
			rhs[i] = sigma*x[i] - problem.Q[i] + atZY[i]
		}

		xNew := choleskySolve(factor, rhs)

		ax := matVec(problem.A, xNew)
		axRelaxed := axpy(alpha, ax, scale(1-alpha, z))

		zNew := make([]float64, mC)
		for i := range zNew {
			zNew[i] = clip(axRelaxed[i]+y[i]/rho, problem.L[i], problem.U[i])
		}

		yNew := make([]float64, mC)
		for i := range yNew {
			yNew[i] = y[i] + rho*(axRelaxed[i]-zNew[i])
		}

		x, z, y = xNew, zNew, yNew

		if (iter+1)%s.checkEvery() == 0 || iter == maxIter-1 {
			if converged(problem, x, z, y, tol) {
				return Solution{X: x, Status: StatusOptimal, Iterations: iter + 1}, nil
			}
		}
	}

	if converged(problem, x, z, y, loosen(tol)) {
		return Solution{X: x, Status: StatusOptimalInaccurate, Iterations: iter}, nil
	}

	return Solution{}, fmt.Errorf(
		"%w: status=%s after %d iterations",
		ErrSolver, StatusMaxIterReached, iter,
	)
}

func (s *ADMMSolver) sigma() float64 {
	if s.Sigma > 0 {
		return s.Sigma
	}

	return 1e-6
}

func (s *ADMMSolver) rho() float64 {
	if s.Rho > 0 {
		return s.Rho
	}

	return 1.0
}

func (s *ADMMSolver) alpha() float64 {
	if s.Alpha > 0 {
		return s.Alpha
	}

	return 1.6
}

func (s *ADMMSolver) checkEvery() int {
	if s.residualCheckEvery > 0 {
		return s.residualCheckEvery
	}

	return 10
}

func loosen(tol Tolerances) Tolerances {
	return Tolerances{
		EpsAbs:  tol.EpsAbs * 1e3,
		EpsRel:  tol.EpsRel * 1e3,
		MaxIter: tol.MaxIter,
	}
}

// buildSystemMatrix forms P + sigma*I + rho*A^T A.
func buildSystemMatrix(p, a [][]float64, sigma, rho float64, n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		copy(m[i], p[i])
		m[i][i] += sigma
	}

	for _, row := range a {
		for i, vi := range row {
			if vi == 0 {
				continue
			}

			for j, vj := range row {
				if vj == 0 {
					continue
				}

				m[i][j] += rho * vi * vj
			}
		}
	}

	return m
}

func axpy(alpha float64, x, y []float64) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = alpha*x[i] + y[i]
	}

	return out
}

func scale(alpha float64, x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = alpha * v
	}

	return out
}

func converged(problem Problem, x, z, y []float64, tol Tolerances) bool {
	ax := matVec(problem.A, x)

	primalResidual := make([]float64, len(ax))
	for i := range primalResidual {
		primalResidual[i] = ax[i] - z[i]
	}

	px := matVec(problem.P, x)
	aty := matTVec(problem.A, y, len(x))

	dualResidual := make([]float64, len(x))
	for i := range dualResidual {
		dualResidual[i] = px[i] + problem.Q[i] + aty[i]
	}

	epsPrimal := tol.EpsAbs + tol.EpsRel*math.Max(normInf(ax), normInf(z))
	epsDual := tol.EpsAbs + tol.EpsRel*math.Max(math.Max(normInf(px), normInf(aty)), normInf(problem.Q))

	return normInf(primalResidual) <= epsPrimal && normInf(dualResidual) <= epsDual
}
