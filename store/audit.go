package store

import "context"

// SaveAuditReport is insert-only: audit reports are immutable once written,
// and a workflow accumulates one per audit attempt (rework produces more).
func (s *Store) SaveAuditReport(ctx context.Context, r *AuditReport) error {
	suggestions, err := marshalJSON(r.ReworkSuggestions)
	if err != nil {
		return Validation("encode rework suggestions")
	}
	reviewed, err := marshalJSON(r.ReviewedTaskIDs)
	if err != nil {
		return Validation("encode reviewed task ids")
	}
	criteria, err := marshalJSON(r.AuditCriteria)
	if err != nil {
		return Validation("encode audit criteria")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO audit_reports (workflow_id, is_successful, feedback, rework_suggestions,
		    confidence_score, reviewed_task_ids, audit_criteria)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		r.WorkflowID, r.IsSuccessful, r.Feedback, suggestions, r.ConfidenceScore, reviewed, criteria,
	).Scan(&r.Key, &r.CreatedAt)
	if err != nil {
		return Internal("insert audit report", err)
	}
	return nil
}

// GetAuditReports returns every audit attempt recorded for a workflow, in
// the order they were produced.
func (s *Store) GetAuditReports(ctx context.Context, workflowID string) ([]*AuditReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workflow_id, is_successful, feedback, rework_suggestions, confidence_score,
		    reviewed_task_ids, audit_criteria, created_at
		 FROM audit_reports WHERE workflow_id = $1 ORDER BY created_at ASC`,
		workflowID,
	)
	if err != nil {
		return nil, Internal("load audit reports", err)
	}
	defer rows.Close()

	var out []*AuditReport
	for rows.Next() {
		r := &AuditReport{}
		var suggestions, reviewed, criteria []byte
		if err := rows.Scan(&r.WorkflowID, &r.IsSuccessful, &r.Feedback, &suggestions,
			&r.ConfidenceScore, &reviewed, &criteria, &r.CreatedAt); err != nil {
			return nil, Internal("scan audit report", err)
		}
		if err := unmarshalStrings(suggestions, &r.ReworkSuggestions); err != nil {
			return nil, Internal("decode rework suggestions", err)
		}
		if err := unmarshalStrings(reviewed, &r.ReviewedTaskIDs); err != nil {
			return nil, Internal("decode reviewed task ids", err)
		}
		if err := unmarshalStrings(criteria, &r.AuditCriteria); err != nil {
			return nil, Internal("decode audit criteria", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
