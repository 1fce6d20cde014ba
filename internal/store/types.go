package store

import "time"

// TaskStatus is the lifecycle state of a queued task.
// Transitions are pending -> in_progress -> {done, failed} only.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// RunStatus is the lifecycle state of one assistant invocation.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run reached a final state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Tool-call categories reconstructed from assistant output.
const (
	CategoryFileOperation    = "file_operation"
	CategoryCommandExecution = "command_execution"
	CategorySearch           = "search"
	CategorySkillUsage       = "skill_usage"
	CategoryAgentInvocation  = "agent_invocation"
	CategoryOther            = "other"
)

// Failure categories assigned by the self-evaluator.
const (
	FailureToolUsage         = "tool_usage_error"
	FailureSkillIneffective  = "skill_ineffective"
	FailureAgentMisconfig    = "agent_misconfigured"
	FailurePermission        = "permission_error"
	FailureLogic             = "logic_error"
	FailureTimeout           = "timeout"
	FailureUnknown           = "unknown"
)

// Improvement trigger types.
const (
	TriggerConsecutiveFailures = "consecutive_failures"
	TriggerLowScore            = "low_score"
)

// Knowledge asset types for files authored under .claude/.
const (
	AssetSkill          = "skill"
	AssetAgent          = "agent"
	AssetSubagentConfig = "subagent_config"
	AssetOther          = "other"
)

// Project is the static per-project configuration row.
type Project struct {
	ID             string
	LocalDirectory string
	SessionName    string
	RepositoryURL  string
}

// Task is one unit of work enqueued by the dashboard.
type Task struct {
	ID             int64
	ProjectID      string
	Title          string
	Description    string
	Status         TaskStatus
	CompletionNote string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// Run records one assistant subprocess invocation serving a task.
type Run struct {
	ID              int64
	TaskID          int64
	ProjectID       string
	Instruction     string
	Status          RunStatus
	ExitCode        int
	StdoutPreview   string
	FullOutputPath  string
	DurationSeconds int
	TimeoutSeconds  int
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// ToolCall is a best-effort reconstruction of one primitive action the
// assistant reported performing within a run.
type ToolCall struct {
	RunID          int64
	SequenceNumber int
	ToolName       string
	Parameters     map[string]string
	Category       string
	Success        bool
}

// Evaluation is the self-evaluator's grade of a run.
// FailureCategory is empty when no failure was classified.
type Evaluation struct {
	RunID                  int64
	TaskID                 int64
	OverallScore           float64
	FailureCategory        string
	EvaluationDetails      string
	ImprovementSuggestions []string
	ToolUsageAnalysis      map[string]any
	ErrorPatterns          []string
	Evaluator              string
}

// ProjectSummary is the one-row-per-project rolling status, upserted on
// each successful run.
type ProjectSummary struct {
	ProjectID      string
	CurrentStatus  string
	NextMilestone  string
	RecentProgress string
	UpdatedAt      time.Time
}

// Suggestion is an append-only proposed next action for a project.
type Suggestion struct {
	ProjectID   string
	Title       string
	Description string
	Source      string
	Priority    int
	CreatedBy   string
	CreatedAt   time.Time
}

// Improvement is one applied improvement recorded for a project.
type Improvement struct {
	ID             int64
	ProjectID      string
	TriggerType    string
	TriggerDetails string
	TargetFiles    []string
	ChangesSummary string
	BeforeAvgScore float64
	AppliedAt      time.Time
}

// KnowledgeAsset captures a file authored under .claude/ during an
// improvement, content-hashed for replay.
type KnowledgeAsset struct {
	ProjectID     string
	AssetType     string
	FilePath      string
	Content       string
	ContentHash   string
	Version       int
	AutoGenerated bool
	CreatedBy     string
	CreatedAt     time.Time
}
