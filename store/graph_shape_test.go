package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGraphShapeRejectsUnknownDependency(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Dependencies: nil},
		{ID: "b", Dependencies: []string{"ghost"}},
	}
	err := validateGraphShape(tasks)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestValidateGraphShapeRejectsCycle(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	err := validateGraphShape(tasks)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestValidateGraphShapeAcceptsDiamond(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Dependencies: nil},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
		{ID: "d", Dependencies: []string{"b", "c"}},
	}
	assert.NoError(t, validateGraphShape(tasks))
}

func TestTaskStatusValid(t *testing.T) {
	assert.True(t, TaskReady.Valid())
	assert.False(t, TaskStatus("BOGUS").Valid())
}

func TestErrorKindClassification(t *testing.T) {
	err := NotFound("workflow WID00000001")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "NOT_FOUND", KindOf(err).String())

	wrapped := Internal("load", err)
	assert.Equal(t, KindInternal, KindOf(wrapped))
}
