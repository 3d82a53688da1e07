package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.EnableWrites)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, DefaultMaxStage, cfg.MaxStage)
	require.Equal(t, DefaultParallelism, cfg.Parallelism)
	require.Equal(t, DefaultMaxRowsPerOp, cfg.MaxRowsPerOp)
	require.Equal(t, DefaultOperationTimeout, cfg.OperationTimeout)
	require.Equal(t, DefaultWorkbookIdleTTL, cfg.WorkbookIdleTTL)
	require.Equal(t, DefaultSummaryModel, cfg.SummaryModel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEADFUNNEL_ALLOWED_DIRS", "/data/a,/data/b")
	t.Setenv("LEADFUNNEL_ENABLE_WRITES", "true")
	t.Setenv("LEADFUNNEL_MAX_STAGE", "6")
	t.Setenv("LEADFUNNEL_OPERATION_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"/data/a", "/data/b"}, cfg.AllowedDirs)
	require.True(t, cfg.EnableWrites)
	require.Equal(t, 6, cfg.MaxStage)
	require.Equal(t, 5*time.Second, cfg.OperationTimeout)
}

func TestLoad_Rejects(t *testing.T) {
	t.Setenv("LEADFUNNEL_PARALLELISM", "0")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("LEADFUNNEL_PARALLELISM", "2")
	t.Setenv("LEADFUNNEL_MAX_STAGE", "ten")
	_, err = Load()
	require.Error(t, err)
}
