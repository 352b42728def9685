package recon

import "time"

// Row is one minute of the reconciled output table. Field names follow the
// Swedish display names the pipeline was built to produce (documented per
// field): PaxIKo is "Pax i kö" (people in queue), PaxInIKo is "Pax in i kö"
// (people entering the queue), PaxUrKo is "Pax ur kö" (people leaving the
// queue), and Vantetid is "Väntetid" (wait time), present only when the
// minute falls inside a detected episode with a defined FIFO match.
type Row struct {
	Tid      time.Time
	PaxIKo   float64
	PaxInIKo float64
	PaxUrKo  float64
	Vantetid *float64
}

// Table is the public output of EstimateQueue: one Row per minute of the
// input span, dense and gap-free.
type Table struct {
	Rows []Row
}

// DebugRow extends Row with the measured values and episode bookkeeping
// EstimateQueueDebug exposes for diagnosing a reconstruction. EpisodeID is
// nil outside any episode.
type DebugRow struct {
	Row

	MeasuredIn  float64
	MeasuredOut float64
	EpisodeID   *int
	InEpisode   bool
}

// DebugTable is the diagnostic counterpart of Table, returned by
// EstimateQueueDebug.
type DebugTable struct {
	Rows []DebugRow
}
