package tool

import (
	"encoding/json"
)

// ResultVersion tags the normalized result schema.
const ResultVersion = 1

// Result is the normalized record of one tool execution. Version-tagged
// so untyped payloads from foreign tools can be told apart.
type Result struct {
	Version              int             `json:"version"`
	ToolName             string          `json:"tool_name"`
	Kind                 Kind            `json:"kind"`
	Operation            Operation       `json:"operation"`
	KeyPath              string          `json:"key_path"`
	Success              bool            `json:"success"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Executed             bool            `json:"executed"`
	ResponseSummary      string          `json:"response_summary,omitempty"`
	Stdout               string          `json:"stdout"`
	Stderr               string          `json:"stderr"`
	ToolCallID           string          `json:"tool_call_id,omitempty"`
	Data                 json.RawMessage `json:"data,omitempty"`
}

// OkResult builds a successful result.
func OkResult(toolName string, kind Kind, op Operation, stdout string) Result {
	return Result{
		Version:   ResultVersion,
		ToolName:  toolName,
		Kind:      kind,
		Operation: op,
		Success:   true,
		Executed:  true,
		Stdout:    stdout,
	}
}

// ErrResult builds a failed result; stderr doubles as the summary.
func ErrResult(toolName string, kind Kind, op Operation, stderr string) Result {
	return Result{
		Version:         ResultVersion,
		ToolName:        toolName,
		Kind:            kind,
		Operation:       op,
		Success:         false,
		Executed:        true,
		ResponseSummary: stderr,
		Stderr:          stderr,
	}
}

// Summary returns the response summary, falling back to "no output".
func (r Result) Summary() string {
	if r.ResponseSummary != "" {
		return r.ResponseSummary
	}
	return "no output"
}

// WithSummary sets the response summary.
func (r Result) WithSummary(summary string) Result {
	r.ResponseSummary = summary
	return r
}

// Output is the loose per-tool output shape tools may return instead
// of a full Result.
type Output struct {
	Command              string `json:"command"`
	Stdout               string `json:"stdout"`
	Stderr               string `json:"stderr"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Executed             bool   `json:"executed"`
	ResponseSummary      string `json:"response_summary,omitempty"`
}

// SuccessOutput builds a successful tool output.
func SuccessOutput(command, stdout string) Output {
	return Output{
		Command:  command,
		Stdout:   stdout,
		Executed: true,
	}
}

// ErrorOutput builds an error tool output.
func ErrorOutput(command, stderr string) Output {
	return Output{
		Command:  command,
		Stderr:   stderr,
		Executed: true,
	}
}
