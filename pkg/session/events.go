package session

// ProtocolVersion tags the streaming event envelope.
const ProtocolVersion = 1

// EventType discriminates streaming and control events.
type EventType string

const (
	EventText                  EventType = "Text"
	EventStageStart            EventType = "StageStart"
	EventStageEnd              EventType = "StageEnd"
	EventToolStart             EventType = "ToolStart"
	EventToolOutput            EventType = "ToolOutput"
	EventToolEnd               EventType = "ToolEnd"
	EventEnd                   EventType = "End"
	EventConfirmationRequested EventType = "ConfirmationRequested"
	EventError                 EventType = "Error"
)

// Stage tags carried by StageStart/StageEnd events.
const (
	StageTagThinking  = "__THINKING__"
	StageTagAnswering = "__ANSWERING__"
	StageTagEnd       = "__END__"
)

// ConfirmationRequest is the payload of a ConfirmationRequested event.
type ConfirmationRequest struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments"`
	Kind      string `json:"kind"`
	KeyPath   string `json:"key_path"`
}

// Event is the single envelope a UI needs to implement. Seq increases
// monotonically per session so receivers can detect gaps.
type Event struct {
	ProtocolVersion int                  `json:"protocol_version"`
	SessionID       string               `json:"session_id"`
	TsMs            int64                `json:"ts_ms"`
	EventType       EventType            `json:"event_type"`
	Seq             int64                `json:"seq"`
	Text            string               `json:"text,omitempty"`
	Stage           string               `json:"stage,omitempty"`
	ToolOperation   string               `json:"tool_operation,omitempty"`
	ToolName        string               `json:"tool_name,omitempty"`
	KeyPath         string               `json:"key_path,omitempty"`
	Kind            string               `json:"kind,omitempty"`
	ArgsSummary     string               `json:"args_summary,omitempty"`
	ResponseSummary string               `json:"response_summary,omitempty"`
	DisplayText     string               `json:"display_text,omitempty"`
	Success         *bool                `json:"success,omitempty"`
	Confirm         *ConfirmationRequest `json:"confirm,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
}

// EventSink receives session events in emission order.
type EventSink interface {
	Handle(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(event Event)

// Handle calls the function.
func (f EventSinkFunc) Handle(event Event) { f(event) }
