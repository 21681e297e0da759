package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/dmora/banjo"
	"github.com/spf13/cobra"
)

// hookDialTimeout bounds the external hook's connect-and-round-trip
// against the daemon's permission socket.
const hookDialTimeout = 5 * time.Second

func hookCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "external hook helpers invoked by an agent CLI",
	}
	cmd.AddCommand(hookPermissionCommand())
	return cmd
}

// claudeHookInput is the subset of Claude Code's PreToolUse hook stdin
// payload this command consumes.
type claudeHookInput struct {
	ToolName      string          `json:"tool_name"`
	ToolInput     json.RawMessage `json:"tool_input"`
	ToolUseID     string          `json:"tool_use_id"`
	SessionID     string          `json:"session_id"`
	HookEventName string          `json:"hook_event_name"`
}

// claudeHookOutput is Claude Code's hookSpecificOutput envelope for a
// PreToolUse decision.
type claudeHookOutput struct {
	HookSpecificOutput struct {
		HookEventName            string `json:"hookEventName"`
		PermissionDecision       string `json:"permissionDecision"`
		PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
	} `json:"hookSpecificOutput"`
}

func hookPermissionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "permission",
		Short: "forward a PreToolUse hook request to the daemon's permission socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHookPermission(cmd)
		},
	}
}

// runHookPermission reads one Claude Code PreToolUse payload from stdin,
// forwards it to BANJO_PERMISSION_SOCKET as a banjo.HookRequest, and
// prints the daemon's decision translated into Claude Code's
// hookSpecificOutput schema. A daemon that cannot be reached fails open
// (decision "allow") since the hook's own process is not the authority.
func runHookPermission(cmd *cobra.Command) error {
	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("banjod: read hook stdin: %w", err)
	}

	var in claudeHookInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return writeHookDecision(cmd, banjo.HookResponse{Decision: banjo.HookDeny, Reason: "malformed hook input"})
	}

	socketPath := os.Getenv("BANJO_PERMISSION_SOCKET")
	if socketPath == "" {
		return writeHookDecision(cmd, banjo.HookResponse{Decision: banjo.HookAllow, Reason: "no permission socket configured"})
	}

	resp, err := askPermissionSocket(socketPath, banjo.HookRequest{
		ToolName:  in.ToolName,
		ToolInput: in.ToolInput,
		ToolUseID: in.ToolUseID,
		SessionID: in.SessionID,
	})
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "banjod: permission socket unreachable:", err)
		resp = banjo.HookResponse{Decision: banjo.HookAllow, Reason: "daemon unreachable"}
	}
	return writeHookDecision(cmd, resp)
}

func askPermissionSocket(path string, req banjo.HookRequest) (banjo.HookResponse, error) {
	conn, err := net.DialTimeout("unix", path, hookDialTimeout)
	if err != nil {
		return banjo.HookResponse{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(hookDialTimeout))

	data, err := json.Marshal(req)
	if err != nil {
		return banjo.HookResponse{}, err
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return banjo.HookResponse{}, err
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return banjo.HookResponse{}, err
	}

	var resp banjo.HookResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return banjo.HookResponse{}, err
	}
	return resp, nil
}

func writeHookDecision(cmd *cobra.Command, resp banjo.HookResponse) error {
	out := claudeHookOutput{}
	out.HookSpecificOutput.HookEventName = "PreToolUse"
	out.HookSpecificOutput.PermissionDecision = string(resp.Decision)
	out.HookSpecificOutput.PermissionDecisionReason = resp.Reason

	enc := json.NewEncoder(cmd.OutOrStdout())
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("banjod: write hook decision: %w", err)
	}
	return nil
}
