package tool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrydev/carrycode/pkg/provider"
)

type fakeTool struct {
	name   string
	kind   Kind
	op     Operation
	params map[string]any
}

func (f *fakeTool) Name() string         { return f.name }
func (f *fakeTool) Description() string  { return "fake tool" }
func (f *fakeTool) Kind() Kind           { return f.kind }
func (f *fakeTool) Operation() Operation { return f.op }

func (f *fakeTool) Definition() provider.ToolDefinition {
	return provider.ToolDefinition{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        f.name,
			Description: "fake tool",
			Parameters:  f.params,
		},
	}
}

func (f *fakeTool) Execute(arguments string) (string, error) {
	return `{"ok":true}`, nil
}

func TestOperationTags(t *testing.T) {
	tests := []struct {
		op     Operation
		tag    string
		endTag string
	}{
		{OpBash, "__BASH__", "__BASH_END__"},
		{OpExplored, "__EXPLORED__", "__EXPLORED_END__"},
		{OpEdited, "__EDITED__", "__EDITED_END__"},
		{OpTodo, "__TODO__", "__TODO_END__"},
		{OpOther, "__OTHER__", "__OTHER_END__"},
		{Operation("Mystery"), "__OTHER__", "__OTHER_END__"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.tag, tt.op.Tag())
		assert.Equal(t, tt.endTag, tt.op.EndTag())
	}
}

func TestOkAndErrResults(t *testing.T) {
	ok := OkResult("bash", KindExecute, OpBash, "hello\n")
	assert.Equal(t, ResultVersion, ok.Version)
	assert.True(t, ok.Success)
	assert.True(t, ok.Executed)
	assert.Equal(t, "hello\n", ok.Stdout)
	assert.Empty(t, ok.Stderr)

	failed := ErrResult("edit", KindEdit, OpEdited, "file not found")
	assert.False(t, failed.Success)
	assert.True(t, failed.Executed)
	assert.Equal(t, "file not found", failed.Stderr)
	assert.Equal(t, "file not found", failed.ResponseSummary)
}

func TestResultJSONShape(t *testing.T) {
	r := OkResult("grep", KindSearch, OpExplored, "match")
	r.KeyPath = "/tmp"

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, float64(1), m["version"])
	assert.Equal(t, "grep", m["tool_name"])
	assert.Equal(t, "Search", m["kind"])
	assert.Equal(t, "Explored", m["operation"])
	assert.Equal(t, "/tmp", m["key_path"])
	assert.NotContains(t, m, "response_summary")
	assert.NotContains(t, m, "tool_call_id")
}

func TestOutputConstructors(t *testing.T) {
	ok := SuccessOutput("ls", "a b c")
	assert.True(t, ok.Executed)
	assert.Empty(t, ok.Stderr)

	bad := ErrorOutput("rm x", "permission denied")
	assert.True(t, bad.Executed)
	assert.Equal(t, "permission denied", bad.Stderr)
	assert.Empty(t, bad.Stdout)
}

func TestValidateArguments(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []string{"command"},
		"properties": map[string]any{
			"command": map[string]any{"type": "string"},
		},
	}
	ft := &fakeTool{name: "bash", kind: KindExecute, op: OpBash, params: schema}

	assert.NoError(t, ValidateArguments(ft, `{"command":"ls"}`))

	err := ValidateArguments(ft, `{"command":42}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation errors")

	err = ValidateArguments(ft, "")
	require.Error(t, err)

	noSchema := &fakeTool{name: "free", kind: KindOther, op: OpOther}
	assert.NoError(t, ValidateArguments(noSchema, "anything"))
}
