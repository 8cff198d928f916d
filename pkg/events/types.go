// Package events provides the per-session ordered event channel: a typed
// event vocabulary, a serializing bus, the WebSocket connection manager,
// and a reconnecting subscriber client.
//
// Ordering contract: events from one session are totally ordered; the
// order observed at the subscriber equals the order of publication. The
// bus does not buffer across disconnects; delivery is at-least-once within
// a live connection only.
package events

// Event type vocabulary. One JSON document per WebSocket frame, tagged by
// a "type" field drawn from this set.
const (
	TypeSessionStarted     = "session_started"
	TypePlanningStarted    = "planning_started"
	TypePlanReady          = "plan_ready"
	TypeTaskStarted        = "task_started"
	TypeTaskCompleted      = "task_completed"
	TypeTaskFailed         = "task_failed"
	TypeAgentSpawned       = "agent_spawned"
	TypeAgentStatus        = "agent_status"
	TypeAgentOutput        = "agent_output"
	TypeAgentMessage       = "agent_message"
	TypeAgentQuestion      = "agent_question"
	TypeToolUse            = "tool_use"
	TypeToolResult         = "tool_result"
	TypeCodeGenerated      = "code_generated"
	TypeCodeReviewStarted  = "code_review_started"
	TypeCodeReviewComplete = "code_review_complete"
	TypeTestStarted        = "test_started"
	TypeTestResult         = "test_result"
	TypeTestPhaseComplete  = "test_phase_complete"
	TypeDeployStarted      = "deploy_started"
	TypeDeployProgress     = "deploy_progress"
	TypeDeployComplete     = "deploy_complete"
	TypeTeachingMoment     = "teaching_moment"
	TypeWorkspaceCreated   = "workspace_created"
	TypeCommitCreated      = "commit_created"
	TypeJudgeStarted       = "judge_started"
	TypeJudgeResult        = "judge_result"
	TypeHumanGate          = "human_gate"
	TypeSessionComplete    = "session_complete"
	TypeError              = "error"
)

// JudgeGateTaskID is the reserved human_gate task id for judge override.
const JudgeGateTaskID = "__judge__"
