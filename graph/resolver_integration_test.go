//go:build integration

package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentmesh/mcs/store"
)

func setupStore(t *testing.T) (*store.Store, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "mcs",
			"POSTGRES_PASSWORD": "mcs",
			"POSTGRES_DB":       "mcs",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req, Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://mcs:mcs@%s:%s/mcs?sslmode=disable", host, port.Port())
	pool, err := store.NewPool(ctx, dsn, 10)
	require.NoError(t, err)

	s := store.New(pool, nil)
	require.NoError(t, s.EnsureSchema(ctx))

	return s, func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
}

// TestCheckAndDispatchReadyTasksPropagatesAcrossLayers exercises P2: a
// PENDING task whose only dependency just completed flips to READY, a
// task with a still-incomplete dependency does not, and the dispatch
// reports exactly one transition.
func TestCheckAndDispatchReadyTasksPropagatesAcrossLayers(t *testing.T) {
	s, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	proj, err := s.CreateProject(ctx, "readiness")
	require.NoError(t, err)

	wf := &store.Workflow{
		ProjectID: proj.ID,
		Tasks: []*store.Task{
			{ID: "a", AssignedAgent: store.RoleResearcher},
			{ID: "b", AssignedAgent: store.RoleAnalyst, Dependencies: []string{"a"}},
			{ID: "c", AssignedAgent: store.RoleWriter, Dependencies: []string{"b"}},
		},
	}
	workflowID, err := s.SaveTaskGraph(ctx, wf)
	require.NoError(t, err)

	loaded, err := s.GetTaskGraph(ctx, workflowID)
	require.NoError(t, err)
	byDepCount := map[int]*store.Task{}
	for _, task := range loaded.Tasks {
		byDepCount[len(task.Dependencies)] = task
	}
	taskA, taskB, taskC := byDepCount[0], byDepCount[1], byDepCount[2]
	require.NotNil(t, taskA)
	require.NotNil(t, taskB)
	require.NotNil(t, taskC)
	assert.Equal(t, store.TaskReady, taskA.Status)
	assert.Equal(t, store.TaskPending, taskB.Status)
	assert.Equal(t, store.TaskPending, taskC.Status)

	r := New(s.Pool())

	// Completing c's grandparent dependency, a, must not ready c: b is
	// still PENDING.
	ok, err := s.SaveTaskResult(ctx, &store.Result{
		TaskID: taskA.ID, WorkflowID: workflowID, FinalResult: "done",
		SourceAgent: store.RoleResearcher, ClientID: "client-1",
	})
	require.NoError(t, err)
	require.True(t, ok)

	transitions, err := r.CheckAndDispatchReadyTasks(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, 1, transitions)

	loaded, err = s.GetTaskGraph(ctx, workflowID)
	require.NoError(t, err)
	for _, task := range loaded.Tasks {
		if task.ID == taskB.ID {
			assert.Equal(t, store.TaskReady, task.Status)
		}
		if task.ID == taskC.ID {
			assert.Equal(t, store.TaskPending, task.Status, "c must stay PENDING until b completes")
		}
	}

	complete, err := s.IsWorkflowComplete(ctx, workflowID)
	require.NoError(t, err)
	assert.False(t, complete)
}

// TestWorkflowAndProjectCompletionCascade exercises P4: completing the
// last task in a workflow flips the workflow to COMPLETED and returns the
// owning project id, and completing the last workflow in a project
// cascades the project to COMPLETED too. A workflow with incomplete tasks
// must not flip, and a project with other in-progress workflows must not
// flip either.
func TestWorkflowAndProjectCompletionCascade(t *testing.T) {
	s, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	proj, err := s.CreateProject(ctx, "cascade")
	require.NoError(t, err)

	wf1ID, err := s.SaveTaskGraph(ctx, &store.Workflow{
		ProjectID: proj.ID,
		Tasks:     []*store.Task{{ID: "a", AssignedAgent: store.RoleResearcher}},
	})
	require.NoError(t, err)
	wf2ID, err := s.SaveTaskGraph(ctx, &store.Workflow{
		ProjectID: proj.ID,
		Tasks:     []*store.Task{{ID: "a", AssignedAgent: store.RoleWriter}},
	})
	require.NoError(t, err)

	loaded1, err := s.GetTaskGraph(ctx, wf1ID)
	require.NoError(t, err)
	loaded2, err := s.GetTaskGraph(ctx, wf2ID)
	require.NoError(t, err)

	ok, err := s.SaveTaskResult(ctx, &store.Result{
		TaskID: loaded1.Tasks[0].ID, WorkflowID: wf1ID, FinalResult: "done",
		SourceAgent: store.RoleResearcher, ClientID: "client-1",
	})
	require.NoError(t, err)
	require.True(t, ok)

	completed, projectID, err := s.UpdateWorkflowStatusIfComplete(ctx, wf1ID)
	require.NoError(t, err)
	require.True(t, completed)
	require.Equal(t, proj.ID, projectID)

	projCompleted, err := s.UpdateProjectStatusIfComplete(ctx, projectID)
	require.NoError(t, err)
	assert.False(t, projCompleted, "project must not complete while wf2 is still in progress")

	ok, err = s.SaveTaskResult(ctx, &store.Result{
		TaskID: loaded2.Tasks[0].ID, WorkflowID: wf2ID, FinalResult: "done",
		SourceAgent: store.RoleWriter, ClientID: "client-2",
	})
	require.NoError(t, err)
	require.True(t, ok)

	completed, projectID, err = s.UpdateWorkflowStatusIfComplete(ctx, wf2ID)
	require.NoError(t, err)
	require.True(t, completed)

	projCompleted, err = s.UpdateProjectStatusIfComplete(ctx, projectID)
	require.NoError(t, err)
	assert.True(t, projCompleted)
}
