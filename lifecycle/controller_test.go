package lifecycle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/mcs/llm"
	"github.com/agentmesh/mcs/store"
)

func TestRemapRolePassesThroughRecognized(t *testing.T) {
	assert.Equal(t, store.RoleResearcher, RemapRole("researcher"))
	assert.Equal(t, store.RoleWriter, RemapRole("writer"))
}

func TestRemapRoleCorrectsUnrecognized(t *testing.T) {
	assert.Equal(t, store.RoleAnalyst, RemapRole("reviewer"))
	assert.Equal(t, store.RoleArchitect, RemapRole("planner"))
	assert.Equal(t, store.RoleArchitect, RemapRole("coordinator"))
	assert.Equal(t, store.RoleArchitect, RemapRole("manager"))
	assert.Equal(t, store.RoleAnalyst, RemapRole("something_unheard_of"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "research_the_latest_ai", sanitizeName("Research the latest AI!!"))
	assert.Equal(t, "workflow", sanitizeName("???"))
}

// TestPlanGraphOrFallbackOnGatewayFailure verifies P7/S5: when the
// planning LLM raises on every retry, the controller still produces a
// single-task READY fallback workflow instead of propagating an error.
func TestPlanGraphOrFallbackOnGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`server on fire`))
	}))
	defer srv.Close()

	gw := llm.New(llm.Config{BaseURL: srv.URL, Model: "gpt-4", MaxRetries: 1}, nil)
	c := New(Config{Gateway: gw}, nil)

	wf := c.planGraphOrFallback(context.Background(), "research the latest developments in AI and summarize")
	require.Len(t, wf.Tasks, 1)
	assert.Equal(t, store.TaskReady, wf.Tasks[0].Status)
	assert.Equal(t, "research the latest developments in AI and summarize", wf.Tasks[0].Description)
	assert.Equal(t, store.RoleAnalyst, wf.Tasks[0].AssignedAgent)
}

func TestPlanGraphOrFallbackOnEmptyTaskList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"tasks\":[],\"metadata\":{}}"}}]}`))
	}))
	defer srv.Close()

	gw := llm.New(llm.Config{BaseURL: srv.URL, Model: "gpt-4"}, nil)
	c := New(Config{Gateway: gw}, nil)

	wf := c.planGraphOrFallback(context.Background(), "do something")
	require.Len(t, wf.Tasks, 1)
	assert.Equal(t, "fallback_task", wf.Tasks[0].ID)
}
