package tool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPathFromArgs(t *testing.T) {
	abs := func(p string) string {
		a, err := filepath.Abs(p)
		if err != nil {
			t.Fatalf("abs %q: %v", p, err)
		}
		return a
	}

	tests := []struct {
		name     string
		tool     string
		args     string
		expected string
	}{
		{"bash command", "bash", `{"command":"ls -la"}`, "ls -la"},
		{"bash missing command", "bash", `{}`, "*"},
		{"edit file path", "edit", `{"file_path":"src/main.go"}`, abs("src/main.go")},
		{"view file path", "view", `{"file_path":"/etc/hosts"}`, "/etc/hosts"},
		{"write file path", "write", `{"file_path":"out.txt"}`, abs("out.txt")},
		{"diagnostics file path", "diagnostics", `{"file_path":"a.go"}`, abs("a.go")},
		{"fetch url", "fetch", `{"url":"https://example.com/doc"}`, "https://example.com/doc"},
		{"ls path", "ls", `{"path":"cmd"}`, abs("cmd")},
		{"grep path", "grep", `{"path":"/tmp","pattern":"x"}`, "/tmp"},
		{"glob pattern", "glob", `{"pattern":"**/*.go"}`, "**/*.go"},
		{"todo_write wildcard", "todo_write", `{"todos":[]}`, "*"},
		{"fallback path", "custom", `{"path":"data"}`, abs("data")},
		{"fallback file_path", "custom", `{"file_path":"data.json"}`, abs("data.json")},
		{"fallback command", "custom", `{"command":"echo hi"}`, "echo hi"},
		{"fallback nothing", "custom", `{"query":"x"}`, "*"},
		{"wildcard path stays wildcard", "custom", `{"path":"*"}`, "*"},
		{"unparsable args", "bash", `not json`, "*"},
		{"non-string value skipped", "custom", `{"path":7,"command":"ok"}`, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KeyPathFromArgs(tt.tool, tt.args))
		})
	}
}
