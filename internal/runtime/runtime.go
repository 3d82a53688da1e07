package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vinodismyname/leadfunnel/config"
)

// ErrBusy is returned by Admit when no request slot frees up within AcquireRequestTimeout.
var ErrBusy = errors.New("runtime: request capacity exhausted")

// Limits are the guardrails every analysis runs under.
type Limits struct {
	MaxConcurrentRequests int
	MaxOpenWorkbooks      int
	// Parallelism bounds the segment columns computed at once inside one call.
	Parallelism int

	// MaxPayloadBytes caps the JSON size of one structured tool result.
	MaxPayloadBytes    int
	MaxRowsPerOp       int
	MaxSegmentsPerPage int

	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
}

// NewLimits returns the default limits with the two capacity caps overridden when positive.
func NewLimits(maxConcurrentRequests, maxOpenWorkbooks int) Limits {
	l := Limits{
		MaxConcurrentRequests: config.DefaultMaxConcurrentRequests,
		MaxOpenWorkbooks:      config.DefaultMaxOpenWorkbooks,
		Parallelism:           config.DefaultParallelism,
		MaxPayloadBytes:       config.DefaultMaxPayloadBytes,
		MaxRowsPerOp:          config.DefaultMaxRowsPerOp,
		MaxSegmentsPerPage:    config.DefaultMaxSegmentsPerPage,
		OperationTimeout:      config.DefaultOperationTimeout,
		AcquireRequestTimeout: config.DefaultAcquireRequestTimeout,
	}
	override(&l.MaxConcurrentRequests, maxConcurrentRequests)
	override(&l.MaxOpenWorkbooks, maxOpenWorkbooks)
	return l
}

// LimitsFromConfig maps the loaded configuration onto Limits; zero values keep the defaults.
func LimitsFromConfig(cfg *config.Config) Limits {
	l := NewLimits(cfg.MaxConcurrentRequests, cfg.MaxOpenWorkbooks)
	override(&l.Parallelism, cfg.Parallelism)
	override(&l.MaxPayloadBytes, cfg.MaxPayloadBytes)
	override(&l.MaxRowsPerOp, cfg.MaxRowsPerOp)
	override(&l.MaxSegmentsPerPage, cfg.MaxSegmentsPerPage)
	override(&l.OperationTimeout, cfg.OperationTimeout)
	override(&l.AcquireRequestTimeout, cfg.AcquireRequestTimeout)
	return l
}

func override[T int | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// Controller hands out request and open-workbook capacity from two weighted semaphores.
type Controller struct {
	limits    Limits
	requests  *semaphore.Weighted
	workbooks *semaphore.Weighted
	inFlight  atomic.Int64
}

// NewController sizes the semaphores from limits.
func NewController(limits Limits) *Controller {
	return &Controller{
		limits:    limits,
		requests:  semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		workbooks: semaphore.NewWeighted(int64(limits.MaxOpenWorkbooks)),
	}
}

// Limits returns the limits the controller was built with.
func (c *Controller) Limits() Limits {
	return c.limits
}

// Admit waits up to AcquireRequestTimeout for a request slot. The returned func releases it
// and must be called exactly once.
func (c *Controller) Admit(ctx context.Context) (func(), error) {
	if c.limits.AcquireRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.limits.AcquireRequestTimeout)
		defer cancel()
	}
	if err := c.requests.Acquire(ctx, 1); err != nil {
		return nil, ErrBusy
	}
	c.inFlight.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			c.inFlight.Add(-1)
			c.requests.Release(1)
		}
	}, nil
}

// Bound applies OperationTimeout to ctx.
func (c *Controller) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.limits.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.limits.OperationTimeout)
}

// InFlight reports how many admitted requests have not been released yet.
func (c *Controller) InFlight() int64 {
	return c.inFlight.Load()
}

// AcquireWorkbook reserves an open-workbook slot, waiting until ctx is done.
func (c *Controller) AcquireWorkbook(ctx context.Context) error {
	return c.workbooks.Acquire(ctx, 1)
}

// ReleaseWorkbook frees an open-workbook slot.
func (c *Controller) ReleaseWorkbook() {
	c.workbooks.Release(1)
}
