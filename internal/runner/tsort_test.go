package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTsortEmptyGraph(t *testing.T) {
	layers, err := tsort(map[string][]string{}, "test")
	require.NoError(t, err)
	assert.Empty(t, layers)
}

func TestTsortEdgelessGraph(t *testing.T) {
	graph := map[string][]string{"A": nil, "B": nil, "C": nil}
	layers, err := tsort(graph, "test")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A", "B", "C"}}, layers)
}

func TestTsortChainGraph(t *testing.T) {
	graph := map[string][]string{"A": nil, "B": {"A"}, "C": {"B"}}
	layers, err := tsort(graph, "test")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"B"}, {"C"}}, layers)
}

func TestTsortTree(t *testing.T) {
	graph := map[string][]string{"A": nil, "B": {"A"}, "C": {"B"}, "D": {"A"}}
	layers, err := tsort(graph, "test")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"B", "D"}, {"C"}}, layers)
}

func TestTsortDiamond(t *testing.T) {
	graph := map[string][]string{"A": nil, "B": {"A"}, "C": {"A"}, "D": {"B", "C"}}
	layers, err := tsort(graph, "test")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"B", "C"}, {"D"}}, layers)
}

func TestTsortCycle(t *testing.T) {
	graph := map[string][]string{"A": {"B"}, "B": {"A"}}
	_, err := tsort(graph, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test")
}
