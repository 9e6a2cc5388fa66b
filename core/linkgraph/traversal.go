package linkgraph

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/model"
)

// neighborsOf returns the adjacent node ids of a node: forward-link
// targets for documents and backlink sources for any node. Caller holds
// mu for reading.
func (i *Index) neighborsOf(nodeID uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	seen := map[uuid.UUID]bool{nodeID: true}

	for _, link := range i.forward[nodeID] {
		if !link.Resolved() || seen[link.TargetID] {
			continue
		}
		seen[link.TargetID] = true
		out = append(out, link.TargetID)
	}
	for source := range i.back[nodeID] {
		if seen[source] {
			continue
		}
		seen[source] = true
		out = append(out, source)
	}
	return out
}

// Neighbors performs a bounded breadth-first traversal from a node,
// returning every node within depth hops. Depth is capped by the caller's
// configuration to bound worst-case cost on densely linked corpora.
func (i *Index) Neighbors(nodeID uuid.UUID, depth int) []model.GraphNeighbor {
	if depth < 1 {
		return nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	visited := map[uuid.UUID]bool{nodeID: true}
	queue := []model.GraphNeighbor{{ID: nodeID, Kind: i.kinds[nodeID], Distance: 0}}
	var results []model.GraphNeighbor

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.Distance > 0 {
			results = append(results, current)
		}
		if current.Distance >= depth {
			continue
		}

		for _, next := range i.neighborsOf(current.ID) {
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, model.GraphNeighbor{
				ID:       next,
				Kind:     i.kinds[next],
				Distance: current.Distance + 1,
			})
		}
	}

	return results
}

// ShortestPath returns the first shortest path between two nodes found
// within maxDepth hops, or model.ErrNoPath.
func (i *Index) ShortestPath(a, b uuid.UUID, maxDepth int) (model.GraphPath, error) {
	if a == b {
		return model.GraphPath{Nodes: []uuid.UUID{a}}, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	type node struct {
		id   uuid.UUID
		path []uuid.UUID
	}

	visited := map[uuid.UUID]bool{a: true}
	queue := []node{{id: a, path: []uuid.UUID{a}}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if len(current.path)-1 >= maxDepth {
			continue
		}

		for _, next := range i.neighborsOf(current.id) {
			if visited[next] {
				continue
			}
			visited[next] = true

			path := make([]uuid.UUID, len(current.path), len(current.path)+1)
			copy(path, current.path)
			path = append(path, next)

			if next == b {
				return model.GraphPath{Nodes: path}, nil
			}
			queue = append(queue, node{id: next, path: path})
		}
	}

	return model.GraphPath{}, fmt.Errorf("no path between %s and %s within %d hops: %w", a, b, maxDepth, model.ErrNoPath)
}
