package agent

import (
	"encoding/json"

	"github.com/carrydev/carrycode/pkg/tool"
)

// normalizeExecution converts whatever a tool execution produced into a
// versioned Result: a Result passes through, an Output is lifted, any
// other JSON or raw text becomes a success record, an error becomes a
// failure record.
func normalizeExecution(t tool.Tool, raw string, execErr error) tool.Result {
	if execErr != nil {
		return tool.ErrResult(t.Name(), t.Kind(), t.Operation(), execErr.Error())
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err == nil {
		if version, ok := probe["version"]; ok {
			var v int
			if json.Unmarshal(version, &v) == nil && v == tool.ResultVersion {
				var res tool.Result
				if json.Unmarshal([]byte(raw), &res) == nil {
					if res.ToolName == "" {
						res.ToolName = t.Name()
					}
					return res
				}
			}
		}
		if hasAny(probe, "stdout", "stderr", "command") {
			var out tool.Output
			if json.Unmarshal([]byte(raw), &out) == nil {
				return resultFromOutput(t, out)
			}
		}
	}

	if json.Valid([]byte(raw)) {
		res := tool.OkResult(t.Name(), t.Kind(), t.Operation(), raw)
		res.Data = json.RawMessage(raw)
		return res
	}
	return tool.OkResult(t.Name(), t.Kind(), t.Operation(), raw)
}

func hasAny(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func resultFromOutput(t tool.Tool, out tool.Output) tool.Result {
	return tool.Result{
		Version:              tool.ResultVersion,
		ToolName:             t.Name(),
		Kind:                 t.Kind(),
		Operation:            t.Operation(),
		Success:              out.Stderr == "",
		RequiresConfirmation: out.RequiresConfirmation,
		Executed:             out.Executed,
		ResponseSummary:      out.ResponseSummary,
		Stdout:               out.Stdout,
		Stderr:               out.Stderr,
	}
}

// mustEncodeResult marshals a tool result for the history boundary.
func mustEncodeResult(res tool.Result) string {
	data, err := json.Marshal(res)
	if err != nil {
		return "{}"
	}
	return string(data)
}
