package nodeagent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"trafficfabric/internal/apperrors"
	"trafficfabric/internal/routing"
)

func TestTableCacheNoRouteForUnknownDestination(t *testing.T) {
	c := NewTableCache()

	_, err := c.Sample("ghost")
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindNoRoute, kind)
}

func TestTableCacheSampleRespectsWeights(t *testing.T) {
	c := NewTableCache()
	c.Store(routing.Table{
		"B": []routing.Choice{
			{NextHop: "B", Prob: 1.0},
		},
	})

	for i := 0; i < 20; i++ {
		hop, err := c.Sample("B")
		require.NoError(t, err)
		require.Equal(t, "B", hop)
	}
}

func TestTableCacheSampleCoversAllChoices(t *testing.T) {
	c := NewTableCache()
	c.Store(routing.Table{
		"D": []routing.Choice{
			{NextHop: "X", Prob: 0.5},
			{NextHop: "Y", Prob: 0.5},
		},
	})

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		hop, err := c.Sample("D")
		require.NoError(t, err)
		seen[hop] = true
	}
	require.True(t, seen["X"])
	require.True(t, seen["Y"])
}

func TestTableCacheStoreReplacesAtomically(t *testing.T) {
	c := NewTableCache()
	c.Store(routing.Table{"B": []routing.Choice{{NextHop: "B", Prob: 1}}})
	_, err := c.Sample("B")
	require.NoError(t, err)

	c.Store(routing.Table{"C": []routing.Choice{{NextHop: "C", Prob: 1}}})
	_, err = c.Sample("B")
	require.Error(t, err)
	hop, err := c.Sample("C")
	require.NoError(t, err)
	require.Equal(t, "C", hop)
}
