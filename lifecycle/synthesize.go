package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/agentmesh/mcs/graph"
	"github.com/agentmesh/mcs/store"
)

const synthesisPromptHeader = `You are synthesizing the final deliverable for a completed multi-agent workflow.

Integrate all task results coherently, address the original request completely, and present a polished, professional final response.

TASK RESULTS TO SYNTHESIZE:
`

// SynthesizeResults feeds every task's final result into the LLM gateway
// for a consolidated response, falling back to deterministic
// concatenation when the gateway call fails, then persists the
// synthesized text and per-task markdown artifacts to the project
// directory.
func (c *Controller) SynthesizeResults(ctx context.Context, workflowID string) (string, error) {
	results, err := c.store.GetWorkflowResults(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("Workflow %s completed but no results to synthesize.", workflowID), nil
	}

	final, err := c.gateway.RunSimplePrompt(ctx, synthesisPrompt(workflowID, results))
	if err != nil {
		c.log.WithError(err).Warn("synthesis gateway call failed, falling back to deterministic concatenation")
		final = fallbackSynthesis(workflowID, results)
	}

	if err := c.writeProjectArtifacts(ctx, workflowID, results, final); err != nil {
		c.log.WithError(err).Warn("failed to write project artifacts")
	}

	return final, nil
}

func synthesisPrompt(workflowID string, results []*store.Result) string {
	var b strings.Builder
	b.WriteString(synthesisPromptHeader)
	for i, r := range results {
		fmt.Fprintf(&b, "\nTASK %d (%s):\n%s\n---\n", i+1, r.SourceAgent, r.FinalResult)
	}
	return b.String()
}

func fallbackSynthesis(workflowID string, results []*store.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %s Results Summary\n%s\n\n", workflowID, strings.Repeat("=", 50))
	for i, r := range results {
		fmt.Fprintf(&b, "Task %d (%s):\n%s\n\n", i+1, r.SourceAgent, r.FinalResult)
	}
	return b.String()
}

// writeProjectArtifacts persists the per-task markdown files, final
// output, and workflow summary under the project directory, matching
// the persisted project layout spec.md section 6 describes.
func (c *Controller) writeProjectArtifacts(ctx context.Context, workflowID string, results []*store.Result, final string) error {
	wf, err := c.store.GetTaskGraph(ctx, workflowID)
	if err != nil {
		return err
	}
	projectPath := ""
	for _, t := range wf.Tasks {
		if t.ProjectPath != "" {
			projectPath = t.ProjectPath
			break
		}
	}
	if projectPath == "" {
		return nil
	}

	resultByTask := make(map[string]*store.Result, len(results))
	for _, r := range results {
		resultByTask[r.TaskID] = r
	}

	for _, t := range wf.Tasks {
		r, ok := resultByTask[t.ID]
		if !ok {
			continue
		}
		md := taskArtifactMarkdown(t, r)
		path := filepath.Join(projectPath, "src", fmt.Sprintf("%s.md", t.ID))
		if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
			return fmt.Errorf("write task artifact %s: %w", t.ID, err)
		}
	}

	if err := os.WriteFile(filepath.Join(projectPath, "FINAL_OUTPUT.md"), []byte(final), 0o644); err != nil {
		return fmt.Errorf("write final output: %w", err)
	}

	summary := workflowSummary(wf, results)
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workflow summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(projectPath, "workflow_summary.json"), summaryJSON, 0o644); err != nil {
		return fmt.Errorf("write workflow summary: %w", err)
	}
	return nil
}

func taskArtifactMarkdown(t *store.Task, r *store.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.ID)
	fmt.Fprintf(&b, "**Agent:** %s\n**Execution time:** %s\n**Completed:** %s\n**Client:** %s\n\n",
		t.AssignedAgent, humanize.RelTime(r.CreatedAt.Add(-r.ExecutionTime), r.CreatedAt, "ago", "from now"), humanize.Time(r.CreatedAt), r.ClientID)
	b.WriteString("## Description\n\n")
	b.WriteString(t.Description)
	b.WriteString("\n\n## Result\n\n")
	b.WriteString(r.FinalResult)
	b.WriteString("\n")
	return b.String()
}

type workflowSummaryView struct {
	WorkflowID     string                 `json:"workflow_id"`
	TaskCount      int                    `json:"task_count"`
	Tasks          []taskSummaryView      `json:"tasks"`
	ExecutionOrder []string               `json:"execution_order,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

type taskSummaryView struct {
	TaskID        string `json:"task_id"`
	AssignedAgent string `json:"assigned_agent"`
	Status        string `json:"status"`
	ExecutionTime string `json:"execution_time,omitempty"`
}

func workflowSummary(wf *store.Workflow, results []*store.Result) workflowSummaryView {
	execByTask := make(map[string]string, len(results))
	for _, r := range results {
		execByTask[r.TaskID] = humanize.RelTime(r.CreatedAt.Add(-r.ExecutionTime), r.CreatedAt, "ago", "from now")
	}
	tasks := make([]taskSummaryView, 0, len(wf.Tasks))
	for _, t := range wf.Tasks {
		tasks = append(tasks, taskSummaryView{
			TaskID:        t.ID,
			AssignedAgent: string(t.AssignedAgent),
			Status:        string(t.Status),
			ExecutionTime: execByTask[t.ID],
		})
	}

	var order []string
	if ordered, err := graph.TopologicalOrder(wf.Tasks); err == nil {
		order = make([]string, len(ordered))
		for i, t := range ordered {
			order[i] = t.ID
		}
	}

	return workflowSummaryView{
		WorkflowID:     wf.ID,
		TaskCount:      len(wf.Tasks),
		Tasks:          tasks,
		ExecutionOrder: order,
		Metadata:       wf.Metadata,
	}
}

// SubmitResult is the orchestration entry point for POST /results: it
// saves the result, propagates readiness to dependent tasks, and
// cascades workflow/project completion, triggering an audit and
// synthesis when the workflow just completed. Returns (false, nil) if
// the task was not found, matching the persistence layer's failure
// semantics so the HTTP handler can map it to 404 without a type
// assertion on a sentinel error.
func (c *Controller) SubmitResult(ctx context.Context, r *store.Result) (bool, error) {
	saved, err := c.store.SaveTaskResult(ctx, r)
	if err != nil || !saved {
		return saved, err
	}

	if c.locks != nil {
		c.locks.ReleaseTaskLocks(r.TaskID)
	}

	if _, err := c.resolver.CheckAndDispatchReadyTasks(ctx, r.WorkflowID); err != nil {
		c.log.WithError(err).Error("readiness propagation failed after result submission")
	}

	// Sibling tasks in the same workflow can finish within the same
	// completion wave, each triggering this cascade concurrently;
	// singleflight collapses those into one actual check per workflow
	// per wave instead of one per task.
	type cascadeResult struct {
		completed bool
		projectID string
	}
	v, err, _ := c.completionGroup.Do(r.WorkflowID, func() (any, error) {
		completed, projectID, err := c.store.UpdateWorkflowStatusIfComplete(ctx, r.WorkflowID)
		return cascadeResult{completed, projectID}, err
	})
	if err != nil {
		c.log.WithError(err).Error("workflow completion check failed")
		return true, nil
	}
	completed, projectID := v.(cascadeResult).completed, v.(cascadeResult).projectID
	if !completed {
		return true, nil
	}

	if projectID != "" {
		if _, err := c.store.UpdateProjectStatusIfComplete(ctx, projectID); err != nil {
			c.log.WithError(err).Error("project completion cascade failed")
		}
	}

	if _, err := c.TriggerAudit(ctx, r.WorkflowID); err != nil {
		c.log.WithError(err).Error("audit failed after workflow completion")
	}
	if _, err := c.SynthesizeResults(ctx, r.WorkflowID); err != nil {
		c.log.WithError(err).Error("synthesis failed after workflow completion")
	}

	return true, nil
}
