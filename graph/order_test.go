package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/mcs/store"
)

func TestTopologicalOrderDiamond(t *testing.T) {
	a := &store.Task{ID: "TID0000000001"}
	b := &store.Task{ID: "TID0000000002", Dependencies: []string{a.ID}}
	c := &store.Task{ID: "TID0000000003", Dependencies: []string{a.ID}}
	d := &store.Task{ID: "TID0000000004", Dependencies: []string{b.ID, c.ID}}

	ordered, err := TopologicalOrder([]*store.Task{d, c, b, a})
	require.NoError(t, err)
	require.Len(t, ordered, 4)

	pos := make(map[string]int, len(ordered))
	for i, t := range ordered {
		pos[t.ID] = i
	}
	assert.Less(t, pos[a.ID], pos[b.ID])
	assert.Less(t, pos[a.ID], pos[c.ID])
	assert.Less(t, pos[b.ID], pos[d.ID])
	assert.Less(t, pos[c.ID], pos[d.ID])
}

func TestTopologicalOrderDetectsCycle(t *testing.T) {
	a := &store.Task{ID: "a", Dependencies: []string{"b"}}
	b := &store.Task{ID: "b", Dependencies: []string{"a"}}

	_, err := TopologicalOrder([]*store.Task{a, b})
	assert.Error(t, err)
}
