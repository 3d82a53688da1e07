package config

import "time"

// Defaults applied when a limit is left unset or non-positive. Load fills the same values
// from struct tags; internal/runtime and internal/workbooks fall back to these when built
// without a Config.
const (
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenWorkbooks      = 4
	DefaultParallelism           = 4

	DefaultMaxPayloadBytes    = 128 << 10
	DefaultMaxRowsPerOp       = 200_000
	DefaultMaxSegmentsPerPage = 25

	// DefaultMaxStage is "10 - Completato".
	DefaultMaxStage = 10

	DefaultSummaryModel       = "gpt-4o-mini"
	DefaultSummaryTokenBudget = 512

	DefaultOperationTimeout      = 30 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second
	DefaultWorkbookIdleTTL       = 10 * time.Minute
	DefaultWorkbookCleanupPeriod = time.Minute
)
