package runtime

import (
	"context"
	"time"

	"github.com/mcpsheets/mcpsheets/config"
	"golang.org/x/sync/semaphore"
)

// Limits holds every guardrail the server enforces at runtime: concurrency
// caps, payload and cell ceilings, query-engine row bounds, and timeouts.
// A single Limits value is built at startup and shared read-only.
type Limits struct {
	// Concurrency caps
	MaxConcurrentRequests int
	MaxOpenWorkbooks      int

	// Payload and row bounds
	MaxPayloadBytes int
	MaxCellsPerOp   int
	PreviewRowLimit int

	// Query engine bounds
	MaxQueryRows     int
	MaxWorkbookBytes int64

	// Timeouts
	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
}

// NewLimits builds a Limits from the two tunable caps, falling back to the
// config defaults for anything non-positive or not exposed as a parameter.
func NewLimits(maxConcurrentRequests, maxOpenWorkbooks int) Limits {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = config.DefaultMaxConcurrentRequests
	}
	if maxOpenWorkbooks <= 0 {
		maxOpenWorkbooks = config.DefaultMaxOpenWorkbooks
	}

	return Limits{
		MaxConcurrentRequests: maxConcurrentRequests,
		MaxOpenWorkbooks:      maxOpenWorkbooks,
		MaxPayloadBytes:       config.DefaultMaxPayloadBytes,
		MaxCellsPerOp:         config.DefaultMaxCellsPerOp,
		PreviewRowLimit:       config.DefaultPreviewRowLimit,
		MaxQueryRows:          config.DefaultMaxQueryRows,
		MaxWorkbookBytes:      config.DefaultMaxWorkbookBytes,
		OperationTimeout:      config.DefaultOperationTimeout,
		AcquireRequestTimeout: config.DefaultAcquireRequestTimeout,
	}
}

// Controller meters the two scarce resources, in-flight requests and open
// workbook handles, with weighted semaphores.
type Controller struct {
	limits            Limits
	requestSemaphore  *semaphore.Weighted
	workbookSemaphore *semaphore.Weighted
}

// NewController sizes the semaphores from the given Limits.
func NewController(limits Limits) *Controller {
	return &Controller{
		limits:            limits,
		requestSemaphore:  semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		workbookSemaphore: semaphore.NewWeighted(int64(limits.MaxOpenWorkbooks)),
	}
}

// AcquireRequest blocks until a request slot is free or ctx is done.
func (c *Controller) AcquireRequest(ctx context.Context) error {
	return c.requestSemaphore.Acquire(ctx, 1)
}

// ReleaseRequest returns a request slot.
func (c *Controller) ReleaseRequest() {
	c.requestSemaphore.Release(1)
}

// AcquireWorkbook blocks until an open-workbook slot is free or ctx is done.
func (c *Controller) AcquireWorkbook(ctx context.Context) error {
	return c.workbookSemaphore.Acquire(ctx, 1)
}

// ReleaseWorkbook returns an open-workbook slot.
func (c *Controller) ReleaseWorkbook() {
	c.workbookSemaphore.Release(1)
}

// LimitsSnapshot exposes the configured guardrails for logging and discovery.
func (c *Controller) LimitsSnapshot() Limits {
	return c.limits
}
