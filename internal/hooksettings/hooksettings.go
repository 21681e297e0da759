// Package hooksettings idempotently installs banjo's permission hook
// into Claude Code's settings.json (spec.md §6 "Settings file"). Merging
// is field-preserving: unknown keys in the user's file are never
// touched, and re-running the insertion is a no-op.
package hooksettings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// HookCommand is the literal command string banjo installs. Duplicate
// detection is a substring match against this value on the command
// field of every existing PreToolUse hook entry.
const HookCommand = "banjo hook permission"

// DefaultSettingsPath returns $HOME/.claude/settings.json.
func DefaultSettingsPath(home string) string {
	return filepath.Join(home, ".claude", "settings.json")
}

// Outcome reports what EnsurePreToolUseHook did to the settings file.
type Outcome string

const (
	// OutcomeInstalled means a new hook entry was written.
	OutcomeInstalled Outcome = "installed"

	// OutcomeAlreadyConfigured means an entry invoking HookCommand was
	// already present and the file was left untouched.
	OutcomeAlreadyConfigured Outcome = "already_configured"
)

// EnsurePreToolUseHook reads the settings file at path (treating a
// missing file as "{}"), inserts a PreToolUse entry invoking
// HookCommand if one isn't already present, and writes the result back
// pretty-printed with a trailing newline. It never touches keys other
// than hooks.PreToolUse. A second call is a no-op reporting
// OutcomeAlreadyConfigured.
func EnsurePreToolUseHook(path string) (Outcome, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("hooksettings: read %s: %w", path, err)
		}
		raw = []byte("{}")
	}

	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("hooksettings: %s is not valid JSON", path)
	}

	if hasHookEntry(raw) {
		return OutcomeAlreadyConfigured, nil
	}

	entry := map[string]any{
		"matcher": "",
		"hooks": []map[string]any{
			{"type": "command", "command": HookCommand},
		},
	}

	updated, err := sjson.SetRaw(string(raw), "hooks.PreToolUse.-1", marshalEntry(entry))
	if err != nil {
		return "", fmt.Errorf("hooksettings: insert hook entry: %w", err)
	}

	out := pretty.Pretty([]byte(updated))
	if len(out) == 0 || out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("hooksettings: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("hooksettings: write %s: %w", path, err)
	}
	return OutcomeInstalled, nil
}

// hasHookEntry reports whether any hooks.PreToolUse[*].hooks[*].command
// field contains HookCommand.
func hasHookEntry(raw []byte) bool {
	found := false
	gjson.GetBytes(raw, "hooks.PreToolUse").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("hooks").ForEach(func(_, h gjson.Result) bool {
			if strings.Contains(h.Get("command").String(), HookCommand) {
				found = true
				return false
			}
			return true
		})
		return !found
	})
	return found
}

func marshalEntry(entry map[string]any) string {
	data, _ := json.Marshal(entry)
	return string(data)
}
