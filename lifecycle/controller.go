// Package lifecycle owns the workflow state machine: planning a task
// graph from a user request, auditing completed work, resetting a
// workflow for rework, and synthesizing a final result. It is grounded
// on the original AgentManager/AuditorAgent orchestration, rewritten
// against this server's persistence and LLM gateway interfaces.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/agentmesh/mcs/graph"
	"github.com/agentmesh/mcs/llm"
	"github.com/agentmesh/mcs/store"
)

// lockReleaser is satisfied by claim.Coordinator. Declared locally to
// avoid an import cycle (claim does not depend on lifecycle): the
// controller only needs to tell the claim coordinator that a task's file
// locks can be released, not anything about claiming itself.
type lockReleaser interface {
	ReleaseTaskLocks(taskID string)
}

// Controller is the central orchestrator described in the component
// design as the Workflow Lifecycle Controller.
type Controller struct {
	store          *store.Store
	resolver       *graph.Resolver
	gateway        *llm.Gateway
	locks          lockReleaser
	projectsRoot   string
	auditThreshold float64
	log            *logrus.Entry

	completionGroup singleflight.Group
}

// Config configures one Controller. Locks may be nil, in which case
// SubmitResult skips the file-lock release step.
type Config struct {
	Store          *store.Store
	Resolver       *graph.Resolver
	Gateway        *llm.Gateway
	Locks          lockReleaser
	ProjectsRoot   string
	AuditThreshold float64 // default 0.8
}

func New(cfg Config, log *logrus.Entry) *Controller {
	if cfg.AuditThreshold <= 0 {
		cfg.AuditThreshold = 0.8
	}
	if cfg.ProjectsRoot == "" {
		cfg.ProjectsRoot = "./projects"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		store:          cfg.Store,
		resolver:       cfg.Resolver,
		gateway:        cfg.Gateway,
		locks:          cfg.Locks,
		projectsRoot:   cfg.ProjectsRoot,
		auditThreshold: cfg.AuditThreshold,
		log:            log.WithField("component", "lifecycle"),
	}
}

// planStep and planGraph mirror the JSON shape demanded of the planning
// LLM, matching the original TaskGraph/TaskStep schema fields this
// server actually uses.
type planStep struct {
	StepID        string   `json:"step_id"`
	Description   string   `json:"task_description"`
	AssignedAgent string   `json:"assigned_agent"`
	Dependencies  []string `json:"dependencies"`
}

type planGraph struct {
	Tasks    []planStep     `json:"tasks"`
	Metadata map[string]any `json:"metadata"`
}

const planningSystemPrompt = `You are an expert workflow planner in a multi-agent coordination system.

Your role is to break down complex user requests into executable tasks with proper dependencies and agent assignments.

AVAILABLE AGENT TYPES AND CAPABILITIES:
` + capabilitiesText + `

DEPENDENCY RULES:
- Research tasks often come first to gather information.
- Analysis tasks depend on research or data gathering.
- Writing tasks depend on research and analysis.
- Planning tasks help coordinate complex workflows.

RESPONSE FORMAT: respond with a single JSON object:
{
  "tasks": [
    {"step_id": "unique_step_id", "task_description": "...", "assigned_agent": "researcher|writer|analyst|architect", "dependencies": ["other_step_ids"]}
  ],
  "metadata": {"complexity": "low|medium|high", "priority": "normal|high|urgent"}
}

Dependencies must reference valid step_ids from other tasks in the same response. Tasks with no dependencies will be marked ready to start immediately.`

// PlanAndSave renders the planning prompt, validates and remaps the
// LLM's output, and persists the resulting task graph. Planning failure
// is never surfaced to the caller: per spec.md section 4.5 step 6, a
// single-task fallback workflow is saved instead.
func (c *Controller) PlanAndSave(ctx context.Context, userRequest string, metadata map[string]any) (string, error) {
	project, err := c.store.CreateProject(ctx, deriveProjectName(userRequest))
	if err != nil {
		return "", err
	}

	projectPath := filepath.Join(c.projectsRoot, fmt.Sprintf("%s_%s", project.ID, sanitizeName(project.Name)))
	if err := os.MkdirAll(filepath.Join(projectPath, "src"), 0o755); err != nil {
		c.log.WithError(err).Warn("failed to create project src directory")
	}
	if err := os.MkdirAll(filepath.Join(projectPath, "tests"), 0o755); err != nil {
		c.log.WithError(err).Warn("failed to create project tests directory")
	}
	if err := c.store.SetProjectPath(ctx, project.ID, projectPath); err != nil {
		c.log.WithError(err).Warn("failed to persist project path")
	}

	wf := c.planGraphOrFallback(ctx, userRequest)
	wf.ProjectID = project.ID
	wf.UserRequest = userRequest
	if wf.Metadata == nil {
		wf.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		wf.Metadata[k] = v
	}
	wf.Metadata["user_request"] = userRequest
	for _, t := range wf.Tasks {
		t.ProjectPath = projectPath
	}

	return c.store.SaveTaskGraph(ctx, wf)
}

func (c *Controller) planGraphOrFallback(ctx context.Context, userRequest string) *store.Workflow {
	var plan planGraph
	err := c.gateway.RunForStructured(ctx, planningSystemPrompt, preparePlanningInput(userRequest), &plan)
	if err != nil {
		c.log.WithError(err).Warn("planning failed, falling back to single-task workflow")
		return fallbackWorkflow(userRequest)
	}
	if len(plan.Tasks) == 0 {
		c.log.Warn("planning returned zero tasks, falling back to single-task workflow")
		return fallbackWorkflow(userRequest)
	}

	tasks := make([]*store.Task, 0, len(plan.Tasks))
	for _, s := range plan.Tasks {
		if s.StepID == "" {
			c.log.Warn("planning emitted a task with no step_id, falling back")
			return fallbackWorkflow(userRequest)
		}
		tasks = append(tasks, &store.Task{
			ID:            s.StepID,
			Description:   s.Description,
			AssignedAgent: RemapRole(s.AssignedAgent),
			Dependencies:  s.Dependencies,
		})
	}

	return &store.Workflow{
		Name:     "Untitled Workflow",
		Status:   store.WorkflowInProgress,
		Tasks:    tasks,
		Metadata: plan.Metadata,
	}
}

func fallbackWorkflow(userRequest string) *store.Workflow {
	return &store.Workflow{
		Name:   "Fallback Workflow",
		Status: store.WorkflowInProgress,
		Tasks: []*store.Task{
			{
				ID:            "fallback_task",
				Description:   userRequest,
				AssignedAgent: store.RoleAnalyst,
				Dependencies:  []string{},
				Status:        store.TaskReady,
			},
		},
		Metadata: map[string]any{"fallback": true},
	}
}

func preparePlanningInput(userRequest string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "USER REQUEST: %s\n\n", userRequest)
	b.WriteString("Please analyze this request and create a comprehensive workflow plan with proper task dependencies.")
	return b.String()
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func sanitizeName(name string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "workflow"
	}
	if len(s) > 60 {
		s = s[:60]
	}
	return s
}

func deriveProjectName(userRequest string) string {
	words := strings.Fields(userRequest)
	if len(words) > 8 {
		words = words[:8]
	}
	name := strings.Join(words, " ")
	if name == "" {
		return "Untitled Project"
	}
	return name
}
