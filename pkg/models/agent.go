package models

// AgentRole identifies the prompt template an agent dispatches with.
type AgentRole string

const (
	RoleBuilder  AgentRole = "builder"
	RoleTester   AgentRole = "tester"
	RoleReviewer AgentRole = "reviewer"
	RoleCustom   AgentRole = "custom"
)

// ParseAgentRole coerces a free-form role string to a known role.
// Unknown values map to RoleCustom.
func ParseAgentRole(s string) AgentRole {
	switch AgentRole(s) {
	case RoleBuilder, RoleTester, RoleReviewer:
		return AgentRole(s)
	default:
		return RoleCustom
	}
}

// AgentStatus is the coarse working state surfaced via agent_status events.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentDone    AgentStatus = "done"
	AgentError   AgentStatus = "error"
)

// Agent is a role-typed persona whose prompts are dispatched to the language
// model. Not a process, purely a prompt identity. Name is unique within a
// session.
type Agent struct {
	Name    string      `json:"name"`
	Role    AgentRole   `json:"role"`
	Persona string      `json:"persona,omitempty"`
	Status  AgentStatus `json:"status"`
}
