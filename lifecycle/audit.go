package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentmesh/mcs/store"
)

var defaultAuditCriteria = []string{
	"Completeness: all task requirements are fully addressed",
	"Accuracy: information and conclusions are factually correct",
	"Clarity: content is clear, well-organized, and easy to understand",
	"Relevance: all content directly relates to the original request",
	"Quality: work demonstrates professionalism and attention to detail",
	"Consistency: style and approach are consistent throughout",
	"Actionability: deliverables are practical and implementable",
}

const auditSystemPromptTemplate = `You are a rigorous quality auditor in a multi-agent coordination system.

Your role is CRITICAL: you are the final quality gate that determines whether completed work meets professional standards.

QUALITY CRITERIA:
%s

RESPONSE FORMAT: respond with a single JSON object:
{
  "is_successful": boolean,
  "feedback": "detailed evaluation with specific examples",
  "rework_suggestions": ["specific actionable improvements"],
  "confidence_score": 0.0-1.0
}

Only approve work that truly meets high professional standards. Be specific with concrete examples and actionable suggestions.`

type auditResponse struct {
	IsSuccessful      bool     `json:"is_successful"`
	Feedback          string   `json:"feedback"`
	ReworkSuggestions []string `json:"rework_suggestions"`
	ConfidenceScore   float64  `json:"confidence_score"`
}

// TriggerAudit fetches every result for the workflow, invokes the LLM
// gateway for a structured quality assessment, applies the confidence
// threshold, saves the report, and on failure resets the workflow for
// rework. An audit that itself fails (gateway exhausted) produces a
// synthetic failed report rather than propagating the error, matching
// the original AuditorAgent's except-path fallback.
func (c *Controller) TriggerAudit(ctx context.Context, workflowID string) (*store.AuditReport, error) {
	results, err := c.store.GetWorkflowResults(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var resp auditResponse
	systemPrompt := fmt.Sprintf(auditSystemPromptTemplate, formatCriteria(defaultAuditCriteria))
	err = c.gateway.RunForStructured(ctx, systemPrompt, prepareAuditInput(workflowID, results), &resp)

	var report *store.AuditReport
	if err != nil {
		c.log.WithError(err).Warn("audit gateway call failed, recording synthetic failed report")
		report = &store.AuditReport{
			WorkflowID:        workflowID,
			IsSuccessful:      false,
			Feedback:          fmt.Sprintf("audit process encountered an error: %v. Manual review required.", err),
			ReworkSuggestions: []string{"review workflow execution for technical issues", "verify data integrity and completeness"},
			ConfidenceScore:   0.0,
			ReviewedTaskIDs:   reviewedTaskIDs(results),
			AuditCriteria:     defaultAuditCriteria,
		}
	} else {
		report = &store.AuditReport{
			WorkflowID:        workflowID,
			IsSuccessful:      resp.IsSuccessful,
			Feedback:          resp.Feedback,
			ReworkSuggestions: resp.ReworkSuggestions,
			ConfidenceScore:   resp.ConfidenceScore,
			ReviewedTaskIDs:   reviewedTaskIDs(results),
			AuditCriteria:     defaultAuditCriteria,
		}
		if report.ConfidenceScore < c.auditThreshold {
			report.IsSuccessful = false
			if !strings.Contains(strings.ToLower(report.Feedback), "low confidence") {
				report.Feedback += fmt.Sprintf(" NOTE: confidence score (%.2f) below threshold (%.2f).", report.ConfidenceScore, c.auditThreshold)
			}
		}
	}

	if err := c.store.SaveAuditReport(ctx, report); err != nil {
		return nil, err
	}

	if !report.IsSuccessful {
		if _, err := c.store.ResetTasksForRework(ctx, workflowID, report.ReworkSuggestions); err != nil {
			return report, err
		}
	}

	return report, nil
}

func reviewedTaskIDs(results []*store.Result) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.TaskID)
	}
	return ids
}

func formatCriteria(criteria []string) string {
	var b strings.Builder
	for _, c := range criteria {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	return b.String()
}

func prepareAuditInput(workflowID string, results []*store.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "WORKFLOW AUDIT REQUEST\nWorkflow ID: %s\nTotal Tasks: %d\n\n", workflowID, len(results))
	b.WriteString("COMPLETED TASK RESULTS FOR REVIEW:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "TASK %d (%s, client %s, %s):\n", i+1, r.SourceAgent, r.ClientID, r.ExecutionTime)
		for j, it := range r.Iterations {
			fmt.Fprintf(&b, "  iteration %d: thought=%q action=%q", j+1, it.Thought, it.Action)
			if it.Observation != "" {
				fmt.Fprintf(&b, " observation=%q", it.Observation)
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "  final result:\n  %s\n\n", r.FinalResult)
	}
	return b.String()
}
