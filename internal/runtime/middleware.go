package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Middleware wraps every tool handler with the Controller's guardrails:
// a bounded wait for a request slot and a per-call operation timeout.
type Middleware struct {
	ctrl *Controller
}

// NewMiddleware binds a Middleware to the given Controller.
func NewMiddleware(ctrl *Controller) *Middleware {
	return &Middleware{ctrl: ctrl}
}

// ToolMiddleware is installed via server.WithToolHandlerMiddleware. Slot
// exhaustion and deadline expiry surface as tool-level errors rather than
// protocol errors so clients can retry on their own.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		acquireCtx := ctx
		if d := m.ctrl.limits.AcquireRequestTimeout; d > 0 {
			var cancel context.CancelFunc
			acquireCtx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		if err := m.ctrl.AcquireRequest(acquireCtx); err != nil {
			msg := fmt.Sprintf("BUSY_RESOURCE: concurrent request limit reached (max=%d). Please retry shortly.", m.ctrl.limits.MaxConcurrentRequests)
			return mcp.NewToolResultError(msg), nil
		}
		defer m.ctrl.ReleaseRequest()

		callCtx := ctx
		cancel := func() {}
		if d := m.ctrl.limits.OperationTimeout; d > 0 {
			callCtx, cancel = context.WithTimeout(ctx, d)
		}
		defer cancel()

		res, err := next(callCtx, req)

		if errors.Is(err, context.DeadlineExceeded) ||
			(err == nil && res == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)) {
			return mcp.NewToolResultError("TIMEOUT: operation exceeded configured time limit"), nil
		}
		return res, err
	}
}
