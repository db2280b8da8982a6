package tool

import (
	"github.com/carrydev/carrycode/pkg/provider"
)

// Kind classifies a tool's side effects for approval policy.
type Kind string

const (
	KindRead    Kind = "Read"
	KindEdit    Kind = "Edit"
	KindDelete  Kind = "Delete"
	KindMove    Kind = "Move"
	KindSearch  Kind = "Search"
	KindExecute Kind = "Execute"
	KindThink   Kind = "Think"
	KindFetch   Kind = "Fetch"
	KindTodo    Kind = "Todo"
	KindOther   Kind = "Other"
)

// Operation is the high-level category shown while a tool runs.
type Operation string

const (
	OpBash     Operation = "Bash"
	OpExplored Operation = "Explored"
	OpEdited   Operation = "Edited"
	OpTodo     Operation = "Todo"
	OpOther    Operation = "Other"
)

// Tag returns the stage marker emitted while the operation is active.
func (o Operation) Tag() string {
	switch o {
	case OpBash:
		return "__BASH__"
	case OpExplored:
		return "__EXPLORED__"
	case OpEdited:
		return "__EDITED__"
	case OpTodo:
		return "__TODO__"
	}
	return "__OTHER__"
}

// EndTag returns the stage marker emitted when the operation finishes.
func (o Operation) EndTag() string {
	switch o {
	case OpBash:
		return "__BASH_END__"
	case OpExplored:
		return "__EXPLORED_END__"
	case OpEdited:
		return "__EDITED_END__"
	case OpTodo:
		return "__TODO_END__"
	}
	return "__OTHER_END__"
}

// Tool is one callable capability exposed to the agent. Implementations
// live outside this module; the runtime consumes them through this
// interface.
type Tool interface {
	// Name returns the tool name referenced in tool calls.
	Name() string

	// Description returns the model-facing description.
	Description() string

	// Kind returns the side-effect classification.
	Kind() Kind

	// Operation returns the display/policy category.
	Operation() Operation

	// Definition returns the OpenAI-style function declaration.
	Definition() provider.ToolDefinition

	// Execute runs the tool with JSON-encoded arguments and returns a
	// JSON-encoded result (ideally a Result, but any payload is
	// tolerated by the loop's normalization).
	Execute(arguments string) (string, error)
}
