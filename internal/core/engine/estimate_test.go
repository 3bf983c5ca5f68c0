package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCostEstimator(t *testing.T) {
	est := DefaultCostEstimator()

	// "ping" is 4 chars -> 1 unit, plus the base overhead.
	require.Equal(t, 51.0, est.Request("ping", nil, nil))
	require.Equal(t, 51.0+512, est.Estimate("ping", nil, nil))

	args := map[string]any{"node": "alice"}
	// {"node":"alice"} is 16 chars; with "ln_getinfo" that is 26 -> 6 units.
	require.Equal(t, 6.0+50+10, est.Request("ln_getinfo", nil, args))

	actual := est.Actual("ping", nil, nil, 400)
	require.Equal(t, 51.0+100, actual)
}

func TestCostEstimatorZeroValue(t *testing.T) {
	var est CostEstimator
	require.Equal(t, 2.0, est.Request("12345678", nil, nil))
}
