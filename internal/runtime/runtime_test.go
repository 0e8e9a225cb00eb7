package runtime

import (
	"context"
	"testing"

	"github.com/mcpsheets/mcpsheets/config"
	"github.com/stretchr/testify/require"
)

func TestControllerAcquireRelease(t *testing.T) {
	limits := NewLimits(1, 1)
	controller := NewController(limits)

	require.Equal(t, limits, controller.LimitsSnapshot())

	require.NoError(t, controller.AcquireRequest(context.Background()))
	controller.ReleaseRequest()

	require.NoError(t, controller.AcquireWorkbook(context.Background()))
	controller.ReleaseWorkbook()
}

func TestNewLimitsDefaults(t *testing.T) {
	limits := NewLimits(0, 0)
	require.Equal(t, config.DefaultMaxConcurrentRequests, limits.MaxConcurrentRequests)
	require.Equal(t, config.DefaultMaxOpenWorkbooks, limits.MaxOpenWorkbooks)
	require.Equal(t, config.DefaultMaxQueryRows, limits.MaxQueryRows)
	require.Equal(t, int64(config.DefaultMaxWorkbookBytes), limits.MaxWorkbookBytes)
}
