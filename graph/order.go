package graph

import (
	"fmt"

	"github.com/agentmesh/mcs/store"
)

// TopologicalOrder returns tasks in dependency order using Kahn's
// algorithm, adapted from the pack's action-graph execution-order helper.
// The resolver itself never needs a full order (only completion-set
// membership); this is used solely to render a human-readable execution
// plan in the workflow summary artifact.
func TopologicalOrder(tasks []*store.Task) ([]*store.Task, error) {
	adjacency := make(map[string][]*store.Task)
	inDegree := make(map[string]int, len(tasks))
	byID := make(map[string]*store.Task, len(tasks))

	for _, t := range tasks {
		byID[t.ID] = t
		inDegree[t.ID] = 0
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			adjacency[dep] = append(adjacency[dep], t)
			inDegree[t.ID]++
		}
	}

	var queue []*store.Task
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			queue = append(queue, t)
		}
	}

	var ordered []*store.Task
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		ordered = append(ordered, current)

		for _, dependent := range adjacency[current.ID] {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) != len(tasks) {
		return nil, fmt.Errorf("circular dependency detected in task graph")
	}
	return ordered, nil
}
