package session

import (
	"strings"

	"github.com/carrydev/carrycode/pkg/tool"
)

// AgentMode selects the system-prompt template for a session.
type AgentMode string

const (
	ModePlan  AgentMode = "plan"
	ModeBuild AgentMode = "build"
)

// ParseAgentMode maps a string to an agent mode, defaulting to build.
func ParseAgentMode(s string) AgentMode {
	if strings.ToLower(s) == string(ModePlan) {
		return ModePlan
	}
	return ModeBuild
}

// ApprovalMode controls which tool kinds need human confirmation.
type ApprovalMode string

const (
	ApprovalReadOnly  ApprovalMode = "read-only"
	ApprovalAgent     ApprovalMode = "agent"
	ApprovalAgentFull ApprovalMode = "agent-full"
)

// ParseApprovalMode maps a string to an approval mode, defaulting to
// agent.
func ParseApprovalMode(s string) ApprovalMode {
	switch strings.ToLower(s) {
	case string(ApprovalReadOnly):
		return ApprovalReadOnly
	case string(ApprovalAgentFull):
		return ApprovalAgentFull
	}
	return ApprovalAgent
}

// ConfirmationStatus is the cached decision for a (tool, key path)
// pair.
type ConfirmationStatus int

const (
	ConfirmAsk ConfirmationStatus = iota
	ConfirmAllowForSession
)

// RequiresConfirmation reports whether a tool kind needs a human
// decision under the given approval mode. Only read-only mode gates
// anything; mutating and executing kinds are in the confirm set.
func RequiresConfirmation(mode ApprovalMode, kind tool.Kind) bool {
	if mode != ApprovalReadOnly {
		return false
	}
	switch kind {
	case tool.KindEdit, tool.KindDelete, tool.KindMove, tool.KindExecute, tool.KindFetch, tool.KindOther:
		return true
	}
	return false
}
