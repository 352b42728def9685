package recon

import (
	"context"
	"fmt"
	"math"
	"sort"

	"kff-recon/pkg/episode"
	"kff-recon/pkg/fifo"
	"kff-recon/pkg/grid"
	"kff-recon/pkg/qpsolve"
	"kff-recon/pkg/queuemodel"
)

// EstimateQueue is the public entrypoint: given raw entry and exit
// timestamp strings, it builds the minute grid, detects episodes,
// reconciles flows within each one, reconstructs wait times, and returns a
// dense per-minute Table spanning the observed time range.
func EstimateQueue(ctx context.Context, tIn, tOut []string, opts ...Option) (Table, error) {
	result, err := run(ctx, tIn, tOut, opts)
	if err != nil {
		return Table{}, err
	}

	return toTable(result), nil
}

// EstimateQueueDebug runs the same pipeline as EstimateQueue but returns the
// measured values and episode bookkeeping alongside the reconciled output.
func EstimateQueueDebug(ctx context.Context, tIn, tOut []string, opts ...Option) (DebugTable, error) {
	result, err := run(ctx, tIn, tOut, opts)
	if err != nil {
		return DebugTable{}, err
	}

	return toDebugTable(result), nil
}

type pipelineResult struct {
	grid       queuemodel.Grid
	reconciled queuemodel.Reconciled
	wait       queuemodel.Wait
	episodes   []queuemodel.Episode
}

func run(ctx context.Context, rawIn, rawOut []string, optFns []Option) (pipelineResult, error) {
	options, err := resolveOptions(optFns)
	if err != nil {
		return pipelineResult{}, err
	}

	inTimes := grid.ParseTimestamps(rawIn)
	outTimes := grid.ParseTimestamps(rawOut)

	g := grid.Build(inTimes, outTimes, grid.WithLogger(options.Logger))

	reconciled := queuemodel.NewReconciled(g)

	var episodes []queuemodel.Episode

	var fifoScope []queuemodel.Episode

	if options.UseEpisodeSplitting {
		var err error

		episodes, err = episode.Detect(g, options.Episode, episode.WithLogger(options.Logger))
		if err != nil {
			return pipelineResult{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}

		episodes = coalesceOverlapping(episodes)

		if len(episodes) > 0 {
			if err := solveEpisodes(ctx, g, episodes, options, reconciled); err != nil {
				return pipelineResult{}, err
			}
		}

		fifoScope = episodes
	} else {
		if g.Len() > 0 {
			if err := solveWholeGrid(ctx, g, options, reconciled); err != nil {
				return pipelineResult{}, err
			}

			fifoScope = []queuemodel.Episode{{ID: 1, Start: 0, End: g.Len() - 1}}
		}
	}

	wait := queuemodel.NewWait(g.Len())

	if options.IncludeFifoWait {
		var err error

		wait, err = fifo.Reconstruct(reconciled, fifoScope, options.FIFO)
		if err != nil {
			return pipelineResult{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	return pipelineResult{grid: g, reconciled: reconciled, wait: wait, episodes: episodes}, nil
}

// solveWholeGrid runs C3 once over the full grid (spec.md §4.5 step 3, used
// when episode splitting is disabled), writing corrected flows and occupancy
// for every minute but leaving episode bookkeeping (EpisodeID/InEpisode)
// untouched since no episode was actually detected.
func solveWholeGrid(ctx context.Context, g queuemodel.Grid, options Options, reconciled queuemodel.Reconciled) error {
	whole := queuemodel.Episode{ID: 1, Start: 0, End: g.Len() - 1}

	jobs := []qpsolve.Job{{
		Index: 0,
		Window: qpsolve.Window{
			In:  append([]float64(nil), g.In...),
			Out: append([]float64(nil), g.Out...),
		},
		QInit: options.QP.Q0,
	}}

	pool := qpsolve.NewPool(options.Workers, options.Solver, options.QP)

	results, err := pool.Run(ctx, jobs)
	if err != nil {
		return fmt.Errorf("recon: solving whole grid: %w", err)
	}

	jr := results[0]
	if jr.Err != nil {
		return fmt.Errorf("%w: whole grid: %w", ErrSolver, jr.Err)
	}

	for k := whole.Start; k <= whole.End; k++ {
		reconciled.In[k] = jr.Result.In[k]
		reconciled.Out[k] = jr.Result.Out[k]
		reconciled.Occupancy[k] = jr.Result.Occupancy[k]
	}

	return nil
}

// solveEpisodes reconciles every episode's window concurrently through a
// qpsolve.Pool, then writes each episode's corrected flows and occupancy
// back into the shared reconciled series at its own disjoint index range —
// safe without further synchronization since episodes never overlap after
// coalesceOverlapping runs.
func solveEpisodes(
	ctx context.Context,
	g queuemodel.Grid,
	episodes []queuemodel.Episode,
	options Options,
	reconciled queuemodel.Reconciled,
) error {
	jobs := make([]qpsolve.Job, len(episodes))
	for i, ep := range episodes {
		jobs[i] = qpsolve.Job{
			Index: i,
			Window: qpsolve.Window{
				In:  append([]float64(nil), g.In[ep.Start:ep.End+1]...),
				Out: append([]float64(nil), g.Out[ep.Start:ep.End+1]...),
			},
			QInit: options.QP.Q0,
		}
	}

	pool := qpsolve.NewPool(options.Workers, options.Solver, options.QP)

	results, err := pool.Run(ctx, jobs)
	if err != nil {
		return fmt.Errorf("recon: solving episodes: %w", err)
	}

	for i, ep := range episodes {
		jr := results[i]
		if jr.Err != nil {
			return fmt.Errorf("%w: episode %d: %w", ErrSolver, ep.ID, jr.Err)
		}

		for k := ep.Start; k <= ep.End; k++ {
			offset := k - ep.Start
			reconciled.In[k] = jr.Result.In[offset]
			reconciled.Out[k] = jr.Result.Out[offset]
			reconciled.Occupancy[k] = jr.Result.Occupancy[offset]
			reconciled.EpisodeID[k] = ep.ID
			reconciled.InEpisode[k] = true
		}
	}

	return nil
}

// coalesceOverlapping merges episodes whose buffered windows ended up
// touching or overlapping (buffering two nearby active runs can close the
// gap between them even when it exceeded the bridging threshold) and
// renumbers the survivors in ascending order starting at 1.
func coalesceOverlapping(episodes []queuemodel.Episode) []queuemodel.Episode {
	if len(episodes) == 0 {
		return episodes
	}

	sorted := append([]queuemodel.Episode(nil), episodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := make([]queuemodel.Episode, 0, len(sorted))
	current := sorted[0]

	for _, ep := range sorted[1:] {
		if ep.Start <= current.End+1 {
			if ep.End > current.End {
				current.End = ep.End
			}

			continue
		}

		merged = append(merged, current)
		current = ep
	}

	merged = append(merged, current)

	for i := range merged {
		merged[i].ID = i + 1
	}

	return merged
}

func toTable(result pipelineResult) Table {
	n := result.reconciled.Len()
	rows := make([]Row, n)

	for k := 0; k < n; k++ {
		rows[k] = Row{
			Tid:      result.reconciled.Timestamps[k],
			PaxIKo:   result.reconciled.Occupancy[k],
			PaxInIKo: result.reconciled.In[k],
			PaxUrKo:  result.reconciled.Out[k],
			Vantetid: waitPointer(result.wait, k),
		}
	}

	return Table{Rows: rows}
}

func toDebugTable(result pipelineResult) DebugTable {
	base := toTable(result)

	rows := make([]DebugRow, len(base.Rows))
	for k, row := range base.Rows {
		rows[k] = DebugRow{
			Row:         row,
			MeasuredIn:  result.grid.In[k],
			MeasuredOut: result.grid.Out[k],
			EpisodeID:   episodeIDPointer(result.reconciled, k),
			InEpisode:   result.reconciled.InEpisode[k],
		}
	}

	return DebugTable{Rows: rows}
}

// episodeIDPointer returns r's episode id at k, or nil outside any episode —
// EpisodeID is only meaningful where InEpisode is true (spec.md §6 debug
// schema: "episode_id (nullable)").
func episodeIDPointer(r queuemodel.Reconciled, k int) *int {
	if !r.InEpisode[k] {
		return nil
	}

	id := r.EpisodeID[k]

	return &id
}

func waitPointer(w queuemodel.Wait, k int) *float64 {
	if k >= len(w.Minutes) || math.IsNaN(w.Minutes[k]) {
		return nil
	}

	v := w.Minutes[k]

	return &v
}
