package tool

import (
	"encoding/json"
	"path/filepath"
)

// KeyPathFromArgs derives the confirmation cache key from a tool's
// arguments: the command for shell tools, the absolute target path for
// file tools, the URL or pattern for the rest, and "*" when nothing
// more specific applies (including unparsable arguments).
func KeyPathFromArgs(toolName, argsJSON string) string {
	var args map[string]json.RawMessage
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "*"
	}

	str := func(key string) (string, bool) {
		raw, ok := args[key]
		if !ok {
			return "", false
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}

	toAbs := func(p string) string {
		if p == "*" {
			return "*"
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return p
		}
		return abs
	}

	switch toolName {
	case "bash":
		if cmd, ok := str("command"); ok {
			return cmd
		}
		return "*"
	case "edit", "view", "write", "diagnostics":
		if p, ok := str("file_path"); ok {
			return toAbs(p)
		}
		return "*"
	case "fetch":
		if u, ok := str("url"); ok {
			return u
		}
		return "*"
	case "ls", "grep":
		if p, ok := str("path"); ok {
			return toAbs(p)
		}
		return "*"
	case "glob":
		if p, ok := str("pattern"); ok {
			return p
		}
		return "*"
	case "todo_write":
		return "*"
	}

	if p, ok := str("path"); ok {
		return toAbs(p)
	}
	if p, ok := str("file_path"); ok {
		return toAbs(p)
	}
	if cmd, ok := str("command"); ok {
		return cmd
	}
	return "*"
}
