package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/leadfunnel/config"
)

func TestController_AdmitRelease(t *testing.T) {
	limits := NewLimits(1, 1)
	limits.AcquireRequestTimeout = 10 * time.Millisecond
	c := NewController(limits)
	require.Equal(t, limits, c.Limits())

	release, err := c.Admit(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, c.InFlight())

	_, err = c.Admit(context.Background())
	require.ErrorIs(t, err, ErrBusy)

	release()
	release()
	require.EqualValues(t, 0, c.InFlight())

	again, err := c.Admit(context.Background())
	require.NoError(t, err)
	again()
}

func TestController_WorkbookSlots(t *testing.T) {
	c := NewController(NewLimits(1, 1))
	require.NoError(t, c.AcquireWorkbook(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, c.AcquireWorkbook(ctx))

	c.ReleaseWorkbook()
	require.NoError(t, c.AcquireWorkbook(context.Background()))
	c.ReleaseWorkbook()
}

func TestController_Bound(t *testing.T) {
	limits := NewLimits(1, 1)
	limits.OperationTimeout = time.Minute
	ctx, cancel := NewController(limits).Bound(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	require.True(t, ok)

	limits.OperationTimeout = 0
	ctx, cancel = NewController(limits).Bound(context.Background())
	defer cancel()
	_, ok = ctx.Deadline()
	require.False(t, ok)
}

func TestLimitsFromConfig(t *testing.T) {
	cfg := &config.Config{MaxConcurrentRequests: 3, MaxRowsPerOp: 50, Parallelism: 2, MaxPayloadBytes: 4096}
	l := LimitsFromConfig(cfg)
	require.Equal(t, 3, l.MaxConcurrentRequests)
	require.Equal(t, config.DefaultMaxOpenWorkbooks, l.MaxOpenWorkbooks)
	require.Equal(t, 50, l.MaxRowsPerOp)
	require.Equal(t, 2, l.Parallelism)
	require.Equal(t, 4096, l.MaxPayloadBytes)
	require.Equal(t, config.DefaultMaxSegmentsPerPage, l.MaxSegmentsPerPage)
	require.Equal(t, config.DefaultOperationTimeout, l.OperationTimeout)
}
