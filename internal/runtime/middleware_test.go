package runtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
)

func wrap(ctrl *Controller, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return NewMiddleware(ctrl).ToolMiddleware(next)
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestToolMiddlewareRunsUnderDeadline(t *testing.T) {
	limits := NewLimits(2, 2)
	limits.OperationTimeout = 500 * time.Millisecond
	ctrl := NewController(limits)

	var sawDeadline bool
	handler := wrap(ctrl, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, sawDeadline = ctx.Deadline()
		return mcp.NewToolResultText(fmt.Sprintf("rows<=%d", ctrl.LimitsSnapshot().MaxQueryRows)), nil
	})

	res, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.True(t, sawDeadline)
	// The handler sees the same guardrails the server was configured with.
	require.Equal(t, fmt.Sprintf("rows<=%d", limits.MaxQueryRows), resultText(t, res))
}

func TestToolMiddlewareBusyWhenSaturated(t *testing.T) {
	limits := NewLimits(1, 1)
	limits.AcquireRequestTimeout = 10 * time.Millisecond
	ctrl := NewController(limits)

	// Hold the only request slot so the wrapped call cannot get one.
	require.NoError(t, ctrl.AcquireRequest(context.Background()))
	defer ctrl.ReleaseRequest()

	handler := wrap(ctrl, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t.Fatal("handler must not run while the server is saturated")
		return nil, nil
	})

	res, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, resultText(t, res), "BUSY_RESOURCE")
}

func TestToolMiddlewareReportsTimeout(t *testing.T) {
	limits := NewLimits(1, 1)
	limits.OperationTimeout = 20 * time.Millisecond
	limits.AcquireRequestTimeout = 20 * time.Millisecond
	ctrl := NewController(limits)

	handler := wrap(ctrl, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, resultText(t, res), "TIMEOUT")
}

func TestToolMiddlewareReleasesSlotAfterCall(t *testing.T) {
	limits := NewLimits(1, 1)
	limits.AcquireRequestTimeout = 50 * time.Millisecond
	ctrl := NewController(limits)

	handler := wrap(ctrl, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	})

	// Two sequential calls through a single-slot controller both succeed
	// only if the middleware releases the slot it acquired.
	for i := 0; i < 2; i++ {
		res, err := handler(context.Background(), mcp.CallToolRequest{})
		require.NoError(t, err)
		require.False(t, res.IsError)
	}
}
