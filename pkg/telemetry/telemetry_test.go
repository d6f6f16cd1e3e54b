package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNew_Disabled verifies that the disabled configuration hands out usable
// no-op instruments so callers never have to branch on telemetry being off.
func TestNew_Disabled(t *testing.T) {
	tel, err := New(Config{Enabled: false, ServiceName: "soradb"})
	require.NoError(t, err)
	require.NotNil(t, tel.Tracer)
	require.NotNil(t, tel.Meter)
	require.NotNil(t, tel.Engine)

	// Counters on the no-op meter accept adds without side effects.
	tel.Engine.PoolHits.Add(context.Background(), 1)
	tel.Engine.TreeSplits.Add(context.Background(), 1)

	require.NoError(t, tel.Shutdown(context.Background()))
	// Shutdown is idempotent on a disabled plane.
	require.NoError(t, tel.Shutdown(context.Background()))
}

// TestNewEngineMetrics_Instruments verifies every engine counter is
// registered.
func TestNewEngineMetrics_Instruments(t *testing.T) {
	tel, err := New(Config{Enabled: false})
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	em, err := NewEngineMetrics(tel.Meter)
	require.NoError(t, err)
	require.NotNil(t, em.PoolHits)
	require.NotNil(t, em.PoolMisses)
	require.NotNil(t, em.PoolEvictions)
	require.NotNil(t, em.DiskReads)
	require.NotNil(t, em.DiskWrites)
	require.NotNil(t, em.TreeSplits)
	require.NotNil(t, em.TreeCoalesces)
}
