package store

import "time"

// TaskStatus is the closed set of variants a task's status column may hold.
// A task row read back with an unknown value is rejected by the store's
// task scanner rather than passed on as a free-form string.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskReady      TaskStatus = "READY"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	// TaskFailed is reserved: no code path in this server assigns it.
	TaskFailed TaskStatus = "FAILED"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskReady, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// WorkflowStatus mirrors the lifecycle controller's workflow state machine.
type WorkflowStatus string

const (
	WorkflowInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowCompleted  WorkflowStatus = "COMPLETED"
	WorkflowFailed     WorkflowStatus = "FAILED"
)

// ProjectStatus mirrors aggregate status derived from a project's workflows.
type ProjectStatus string

const (
	ProjectInProgress ProjectStatus = "IN_PROGRESS"
	ProjectCompleted  ProjectStatus = "COMPLETED"
)

// AccessType is the closed set of file-lock access modes.
type AccessType string

const (
	AccessRead      AccessType = "read"
	AccessWrite     AccessType = "write"
	AccessExclusive AccessType = "exclusive"
)

// AgentRole is the closed set of recognized assigned-agent values. Anything
// else is remapped at planning time (see lifecycle.RemapRole).
type AgentRole string

const (
	RoleResearcher AgentRole = "researcher"
	RoleWriter     AgentRole = "writer"
	RoleAnalyst    AgentRole = "analyst"
	RoleArchitect  AgentRole = "architect"
)

func (a AgentRole) String() string { return string(a) }

// Project groups workflows and owns a filesystem path.
type Project struct {
	Key       int64     `json:"-"`
	ID        string    `json:"project_id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Status    ProjectStatus `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Workflow is one planning unit produced from one user request.
type Workflow struct {
	Key       int64          `json:"-"`
	ID        string         `json:"workflow_id"`
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	Status    WorkflowStatus `json:"status"`
	UserRequest string       `json:"user_request"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Tasks     []*Task        `json:"tasks,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Task is the atomic unit of work.
type Task struct {
	Key              int64      `json:"-"`
	ID               string     `json:"task_id"`
	WorkflowID       string     `json:"workflow_id"`
	Name             string     `json:"name,omitempty"`
	Description      string     `json:"description"`
	AssignedAgent    AgentRole  `json:"assigned_agent"`
	Dependencies     []string   `json:"dependencies"`
	FileDependencies []string   `json:"file_dependencies,omitempty"`
	AccessType       AccessType `json:"access_type,omitempty"`
	Status           TaskStatus `json:"status"`
	ClientID         *string    `json:"client_id,omitempty"`
	ProjectPath      string     `json:"project_path,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Iteration is one (thought, action, observation) tuple a worker recorded.
type Iteration struct {
	Thought         string `json:"thought"`
	Action          string `json:"action"`
	Observation     string `json:"observation,omitempty"`
	IterationNumber int    `json:"iteration_number"`
}

// Result is the outcome of one successful task completion.
type Result struct {
	TaskID        string        `json:"task_id"`
	WorkflowID    string        `json:"workflow_id"`
	Iterations    []Iteration   `json:"iterations"`
	FinalResult   string        `json:"final_result"`
	SourceAgent   AgentRole     `json:"source_agent"`
	ExecutionTime time.Duration `json:"execution_time"`
	ClientID      string        `json:"client_id"`
	CreatedAt     time.Time     `json:"created_at"`
}

// AuditReport is one audit attempt on a workflow.
type AuditReport struct {
	Key               int64     `json:"-"`
	WorkflowID        string    `json:"workflow_id"`
	IsSuccessful      bool      `json:"is_successful"`
	Feedback          string    `json:"feedback"`
	ReworkSuggestions []string  `json:"rework_suggestions,omitempty"`
	ConfidenceScore   float64   `json:"confidence_score"`
	ReviewedTaskIDs   []string  `json:"reviewed_task_ids"`
	AuditCriteria     []string  `json:"audit_criteria"`
	CreatedAt         time.Time `json:"created_at"`
}

// FileLockRecord is the advisory, database-visible record of one active
// file acquisition. The authoritative conflict check lives in the
// filelock package; this record exists for external observers.
type FileLockRecord struct {
	Key        int64      `json:"-" gorm:"primaryKey;column:id"`
	Path       string     `json:"path"`
	ClientID   string     `json:"client_id"`
	TaskID     *string    `json:"task_id,omitempty"`
	WorkflowID *string    `json:"workflow_id,omitempty"`
	AccessType AccessType `json:"access_type"`
	AcquiredAt time.Time  `json:"acquired_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Active     bool       `json:"active"`
}

// TableName satisfies gorm's Tabler interface.
func (FileLockRecord) TableName() string { return "file_lock_records" }
