package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/agentmesh/mcs/cache"
	"github.com/agentmesh/mcs/claim"
	"github.com/agentmesh/mcs/lifecycle"
	"github.com/agentmesh/mcs/store"
)

// API holds every dependency a route handler needs.
type API struct {
	store     *store.Store
	claim     *claim.Coordinator
	lifecycle *lifecycle.Controller
	cache     *cache.Cache
}

// New builds an API with caching disabled; use NewWithCache to enable
// best-effort caching of hot read paths like workflow status.
func New(s *store.Store, c *claim.Coordinator, l *lifecycle.Controller) *API {
	return &API{store: s, claim: c, lifecycle: l, cache: cache.New("", 0, nil)}
}

// NewWithCache builds an API whose workflow-status reads are served from
// rc when available, falling back transparently to the store on a miss.
func NewWithCache(s *store.Store, c *claim.Coordinator, l *lifecycle.Controller, rc *cache.Cache) *API {
	return &API{store: s, claim: c, lifecycle: l, cache: rc}
}

func workflowStatusCacheKey(id string) string { return fmt.Sprintf("workflow_status:%s", id) }

// statusForKind maps a store.Kind to the HTTP status spec.md section 7
// assigns it. Handlers that need a different mapping for one specific
// Kind (e.g. GET /tasks/ready swallowing everything into 200+null)
// override this locally instead of calling it.
func statusForKind(k store.Kind) int {
	switch k {
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindValidation:
		return http.StatusUnprocessableEntity
	case store.KindConflict:
		return http.StatusConflict
	case store.KindLockTimeout:
		return http.StatusServiceUnavailable
	case store.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func storeErrorResponse(c echo.Context, err error) error {
	return echo.NewHTTPError(statusForKind(store.KindOf(err)), err.Error())
}

type createTaskRequest struct {
	UserRequest  string         `json:"user_request"`
	WorkflowName string         `json:"workflow_name"`
	ProjectID    string         `json:"project_id"`
	FastMode     bool           `json:"fast_mode"`
	Metadata     map[string]any `json:"metadata"`
}

// CreateTasks handles POST /tasks: plans a task graph from a natural
// language request and persists it.
func (a *API) CreateTasks(c echo.Context) error {
	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "malformed request body")
	}
	if req.UserRequest == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "user_request is required")
	}

	meta := req.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	if req.WorkflowName != "" {
		meta["workflow_name"] = req.WorkflowName
	}
	meta["fast_mode"] = req.FastMode

	workflowID, err := a.lifecycle.PlanAndSave(c.Request().Context(), req.UserRequest, meta)
	if err != nil {
		return storeErrorResponse(c, err)
	}

	wf, err := a.store.GetTaskGraph(c.Request().Context(), workflowID)
	if err != nil {
		return storeErrorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// GetReadyTask handles GET /tasks/ready: a worker's poll for its next
// unit of work. Per spec.md section 6, internal failures degrade to a
// 200 with a null body rather than leaking a 500 to a polling worker.
func (a *API) GetReadyTask(c echo.Context) error {
	agentID := c.QueryParam("agent_id")
	capabilities := c.QueryParams()["agent_capabilities"]
	if len(capabilities) == 0 {
		capabilities = c.QueryParams()["agent_capabilities[]"]
	}
	preferred := c.QueryParam("preferred_task_id")

	task, err := a.claim.GetAndClaimReadyTask(c.Request().Context(), capabilities, agentID, preferred)
	if err != nil {
		return c.JSON(http.StatusOK, nil)
	}
	return c.JSON(http.StatusOK, task)
}

type iterationPayload struct {
	Thought         string `json:"thought"`
	Action          string `json:"action"`
	Observation     string `json:"observation,omitempty"`
	IterationNumber int    `json:"iteration_number"`
}

type resultEnvelope struct {
	WorkflowID string `json:"workflow_id"`
	TaskID     string `json:"task_id"`
	RAHistory  struct {
		Iterations    []iterationPayload `json:"iterations"`
		FinalResult   string             `json:"final_result"`
		SourceAgent   string             `json:"source_agent"`
		ExecutionTime float64            `json:"execution_time"`
		ClientID      string             `json:"client_id"`
	} `json:"ra_history"`
}

// SubmitResult handles POST /results: persists a worker's completed task
// result and drives the workflow lifecycle forward.
func (a *API) SubmitResult(c echo.Context) error {
	var env resultEnvelope
	if err := c.Bind(&env); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "malformed request body")
	}

	iterations := make([]store.Iteration, len(env.RAHistory.Iterations))
	for i, it := range env.RAHistory.Iterations {
		iterations[i] = store.Iteration{
			Thought:         it.Thought,
			Action:          it.Action,
			Observation:     it.Observation,
			IterationNumber: it.IterationNumber,
		}
	}

	result := &store.Result{
		TaskID:        env.TaskID,
		WorkflowID:    env.WorkflowID,
		Iterations:    iterations,
		FinalResult:   env.RAHistory.FinalResult,
		SourceAgent:   store.AgentRole(env.RAHistory.SourceAgent),
		ExecutionTime: time.Duration(env.RAHistory.ExecutionTime * float64(time.Second)),
		ClientID:      env.RAHistory.ClientID,
	}

	saved, err := a.lifecycle.SubmitResult(c.Request().Context(), result)
	if err != nil {
		return storeErrorResponse(c, err)
	}
	if !saved {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	a.cache.Invalidate(c.Request().Context(), workflowStatusCacheKey(env.WorkflowID))
	return c.NoContent(http.StatusNoContent)
}

type workflowStatusView struct {
	WorkflowID string                   `json:"workflow_id"`
	Status     store.WorkflowStatus     `json:"status"`
	TaskCounts map[store.TaskStatus]int `json:"task_counts"`
}

// WorkflowStatus handles GET /workflows/{id}/status. A poller hitting
// this endpoint repeatedly while a workflow is in progress is the
// hottest read path in this server, so it is served from the cache
// when one is configured; a completed workflow's entry is left to
// expire naturally since its status never changes again.
func (a *API) WorkflowStatus(c echo.Context) error {
	id := c.Param("id")
	key := workflowStatusCacheKey(id)

	var cached workflowStatusView
	if a.cache.Get(c.Request().Context(), key, &cached) {
		return c.JSON(http.StatusOK, cached)
	}

	status, counts, err := a.store.GetWorkflowStatus(c.Request().Context(), id)
	if err != nil {
		return storeErrorResponse(c, err)
	}
	view := workflowStatusView{WorkflowID: id, Status: status, TaskCounts: counts}
	a.cache.Set(c.Request().Context(), key, view)
	return c.JSON(http.StatusOK, view)
}

// WorkflowResult handles GET /workflows/{id}/result: returns the
// synthesized final text; null if the workflow has not completed yet;
// 404 if it completed with no results to synthesize. Mirrors the
// is_complete branch in the original endpoint before deciding between
// null and 404.
func (a *API) WorkflowResult(c echo.Context) error {
	id := c.Param("id")
	if _, _, err := a.store.GetWorkflowStatus(c.Request().Context(), id); err != nil {
		return storeErrorResponse(c, err)
	}
	complete, err := a.store.IsWorkflowComplete(c.Request().Context(), id)
	if err != nil {
		return storeErrorResponse(c, err)
	}
	if !complete {
		return c.JSON(http.StatusOK, nil)
	}
	results, err := a.store.GetWorkflowResults(c.Request().Context(), id)
	if err != nil {
		return storeErrorResponse(c, err)
	}
	if len(results) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "workflow completed with no results")
	}
	final, err := a.lifecycle.SynthesizeResults(c.Request().Context(), id)
	if err != nil {
		return storeErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"result": final})
}

// WorkflowAudit handles GET /workflows/{id}/audit.
func (a *API) WorkflowAudit(c echo.Context) error {
	id := c.Param("id")
	reports, err := a.store.GetAuditReports(c.Request().Context(), id)
	if err != nil {
		return storeErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, reports)
}

// ResetWorkflow handles POST /workflows/{id}/reset.
func (a *API) ResetWorkflow(c echo.Context) error {
	id := c.Param("id")
	var suggestions []string
	if err := c.Bind(&suggestions); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "malformed request body")
	}
	found, err := a.store.ResetTasksForRework(c.Request().Context(), id, suggestions)
	if err != nil {
		return storeErrorResponse(c, err)
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	a.cache.Invalidate(c.Request().Context(), workflowStatusCacheKey(id))
	return c.NoContent(http.StatusNoContent)
}

// WorkersStatus handles GET /workers/status.
func (a *API) WorkersStatus(c echo.Context) error {
	byClient, err := a.store.ActiveTasksByClient(c.Request().Context())
	if err != nil {
		return storeErrorResponse(c, err)
	}
	total := 0
	for _, tasks := range byClient {
		total += len(tasks)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"worker_tasks": byClient,
		"total_active": total,
	})
}

// Health handles GET /health.
func (a *API) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
