package events

import (
	"time"

	"github.com/elisa-build/elisa/pkg/models"
)

// Payloads marshal to one JSON document per frame. Every payload carries
// its Type tag; the bus serializes them in publication order.

// SessionStartedPayload is emitted by the server on WebSocket open.
type SessionStartedPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// PlanningStartedPayload announces the planner phase.
type PlanningStartedPayload struct {
	Type string `json:"type"`
	Goal string `json:"goal,omitempty"`
}

// PlanReadyPayload carries the planned graph.
type PlanReadyPayload struct {
	Type        string         `json:"type"`
	Tasks       []models.Task  `json:"tasks"`
	Agents      []models.Agent `json:"agents"`
	Explanation string         `json:"explanation,omitempty"`
}

// TaskStartedPayload marks a task entering in_progress.
type TaskStartedPayload struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id"`
	TaskName  string `json:"task_name,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
	Attempt   int    `json:"attempt"`
}

// TaskCompletedPayload marks a task done.
type TaskCompletedPayload struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Summary string `json:"summary,omitempty"`
}

// TaskFailedPayload marks a task terminally failed.
type TaskFailedPayload struct {
	Type       string `json:"type"`
	TaskID     string `json:"task_id"`
	Reason     string `json:"reason,omitempty"`
	RetryCount int    `json:"retry_count"`
}

// AgentSpawnedPayload announces a declared agent joining the run.
type AgentSpawnedPayload struct {
	Type  string       `json:"type"`
	Agent models.Agent `json:"agent"`
}

// AgentStatusPayload reports an agent status transition.
type AgentStatusPayload struct {
	Type      string             `json:"type"`
	AgentName string             `json:"agent_name"`
	Status    models.AgentStatus `json:"status"`
	TaskID    string             `json:"task_id,omitempty"`
}

// AgentOutputPayload is a debounced chunk of streamed assistant text.
type AgentOutputPayload struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Content string `json:"content"`
}

// AgentMessagePayload is a complete assistant message.
type AgentMessagePayload struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Content string `json:"content"`
}

// AgentQuestionPayload suspends a dispatch pending answers from the client.
type AgentQuestionPayload struct {
	Type      string   `json:"type"`
	TaskID    string   `json:"task_id"`
	Questions []string `json:"questions"`
}

// ToolUsePayload reports a tool invocation inside a dispatch.
type ToolUsePayload struct {
	Type     string `json:"type"`
	TaskID   string `json:"task_id"`
	Tool     string `json:"tool"`
	CallID   string `json:"call_id,omitempty"`
	Argument string `json:"argument,omitempty"`
}

// ToolResultPayload reports the (truncated) outcome of a tool invocation.
type ToolResultPayload struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Tool    string `json:"tool"`
	CallID  string `json:"call_id,omitempty"`
	IsError bool   `json:"is_error"`
}

// CodeGeneratedPayload reports files changed by a task commit.
type CodeGeneratedPayload struct {
	Type   string   `json:"type"`
	TaskID string   `json:"task_id"`
	Files  []string `json:"files"`
}

// CodeReviewPayload covers code_review_started / code_review_complete.
type CodeReviewPayload struct {
	Type     string `json:"type"`
	Reviewer string `json:"reviewer,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// TestStartedPayload announces the test phase.
type TestStartedPayload struct {
	Type string `json:"type"`
}

// TestResultPayload is one normalized test outcome.
type TestResultPayload struct {
	Type   string            `json:"type"`
	Result models.TestResult `json:"result"`
}

// TestPhaseCompletePayload is the test phase summary.
type TestPhaseCompletePayload struct {
	Type   string            `json:"type"`
	Report models.TestReport `json:"report"`
}

// DeployPayload covers deploy_started / deploy_progress / deploy_complete.
type DeployPayload struct {
	Type    string `json:"type"`
	Target  string `json:"target"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
}

// TeachingMomentPayload is a kid-friendly explanation of a completed task.
type TeachingMomentPayload struct {
	Type        string `json:"type"`
	TaskID      string `json:"task_id"`
	Concept     string `json:"concept"`
	Explanation string `json:"explanation"`
}

// WorkspaceCreatedPayload is emitted once per session.
type WorkspaceCreatedPayload struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// CommitCreatedPayload reports one version-store commit.
type CommitCreatedPayload struct {
	Type   string        `json:"type"`
	Commit models.Commit `json:"commit"`
}

// JudgeStartedPayload announces the judge phase.
type JudgeStartedPayload struct {
	Type string `json:"type"`
}

// JudgeResultPayload carries the judge verdict.
type JudgeResultPayload struct {
	Type   string             `json:"type"`
	Result models.JudgeResult `json:"result"`
}

// HumanGatePayload blocks the pipeline on a human decision.
// TaskID JudgeGateTaskID is reserved for judge override.
type HumanGatePayload struct {
	Type       string `json:"type"`
	TaskID     string `json:"task_id"`
	Question   string `json:"question"`
	Context    string `json:"context,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// SessionCompletePayload is the final non-error event of a session.
type SessionCompletePayload struct {
	Type        string               `json:"type"`
	Summary     string               `json:"summary"`
	Judge       *models.JudgeResult  `json:"judge,omitempty"`
	Suggestions []string             `json:"suggestions,omitempty"`
	Tokens      models.TokenSnapshot `json:"tokens"`
	CompletedAt time.Time            `json:"completed_at"`
}

// ErrorPayload reports an error. After recoverable=false no further events
// are emitted on the session channel.
type ErrorPayload struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}
