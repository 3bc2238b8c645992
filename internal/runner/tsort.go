package runner

import (
	"sort"

	"github.com/Obirvalger/lineup/internal/errs"
)

// tsort layers a dependency graph: every layer holds the nodes whose
// edges are all satisfied by earlier layers. An empty layer while nodes
// remain means a cycle.
func tsort(graph map[string][]string, place string) ([][]string, error) {
	nodes := make(map[string]map[string]bool, len(graph))
	for node, edges := range graph {
		set := make(map[string]bool, len(edges))
		for _, edge := range edges {
			set[edge] = true
		}
		nodes[node] = set
	}

	var layers [][]string
	for len(nodes) > 0 {
		var layer []string
		for node, edges := range nodes {
			if len(edges) == 0 {
				layer = append(layer, node)
			}
		}
		if len(layer) == 0 {
			return nil, errs.New(errs.DependencyCycle, "failed tsort in %s", place)
		}
		sort.Strings(layer)
		for _, node := range layer {
			delete(nodes, node)
		}
		for _, edges := range nodes {
			for _, node := range layer {
				delete(edges, node)
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
