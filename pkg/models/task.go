// Package models defines the core domain types shared across the build
// pipeline: tasks, agents, commits, test reports, and judge verdicts.
package models

import "time"

// TaskStatus represents the lifecycle state of a task.
// Transitions are monotonic: pending → in_progress → done|failed.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is a terminal state within a run.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// FailureReasonPredecessor marks tasks failed because a predecessor failed
// terminally, not because their own dispatch failed.
const FailureReasonPredecessor = "predecessor_failed"

// Task is a node in the session's dependency graph, assigned to one agent.
type Task struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	Status             TaskStatus `json:"status"`
	AgentName          string     `json:"agent_name"`
	DependsOn          []string   `json:"dependencies,omitempty"`
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty"`

	// RetryCount is the number of retries consumed before the task reached
	// a terminal state. Zero for first-attempt successes.
	RetryCount int `json:"retry_count,omitempty"`

	// FailureReason is set on failed tasks. FailureReasonPredecessor marks
	// cascade failures.
	FailureReason string `json:"failure_reason,omitempty"`
}

// Commit records one version-store commit produced by a successful task.
// Commits are ordered by creation; deletion is not modeled.
type Commit struct {
	Hash      string    `json:"hash"`
	ShortHash string    `json:"short_hash"`
	Message   string    `json:"message"`
	AgentName string    `json:"agent_name"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Files     []string  `json:"files,omitempty"`
}
