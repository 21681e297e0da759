package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmora/banjo"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestAskPermissionSocket_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		var req banjo.HookRequest
		_ = json.Unmarshal([]byte(line), &req)
		resp := banjo.HookResponse{Decision: banjo.HookAllow, Reason: "looks fine"}
		data, _ := json.Marshal(resp)
		data = append(data, '\n')
		_, _ = conn.Write(data)
	}()

	resp, err := askPermissionSocket(path, banjo.HookRequest{ToolName: "Bash", ToolUseID: "t1"})
	require.NoError(t, err)
	require.Equal(t, banjo.HookAllow, resp.Decision)
	require.Equal(t, "looks fine", resp.Reason)
}

func TestAskPermissionSocket_NoListener(t *testing.T) {
	_, err := askPermissionSocket(filepath.Join(t.TempDir(), "missing.sock"), banjo.HookRequest{})
	require.Error(t, err)
}

func TestRunHookPermission_NoSocketConfiguredAllowsOpen(t *testing.T) {
	t.Setenv("BANJO_PERMISSION_SOCKET", "")

	cmd := &cobra.Command{}
	in := bytes.NewBufferString(`{"tool_name":"Bash","tool_use_id":"t1","session_id":"s1"}`)
	out := &bytes.Buffer{}
	cmd.SetIn(in)
	cmd.SetOut(out)

	require.NoError(t, runHookPermission(cmd))

	var decoded claudeHookOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Equal(t, "allow", decoded.HookSpecificOutput.PermissionDecision)
}

func TestRunHookPermission_MalformedInputDenies(t *testing.T) {
	cmd := &cobra.Command{}
	in := bytes.NewBufferString("not json")
	out := &bytes.Buffer{}
	cmd.SetIn(in)
	cmd.SetOut(out)

	require.NoError(t, runHookPermission(cmd))

	var decoded claudeHookOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Equal(t, "deny", decoded.HookSpecificOutput.PermissionDecision)
}

func TestRunHookPermission_DialsConfiguredSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hook.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		_, _ = bufio.NewReader(conn).ReadString('\n')
		resp := banjo.HookResponse{Decision: banjo.HookDeny, Reason: "blocked by policy"}
		data, _ := json.Marshal(resp)
		data = append(data, '\n')
		_, _ = conn.Write(data)
	}()

	t.Setenv("BANJO_PERMISSION_SOCKET", path)

	cmd := &cobra.Command{}
	in := bytes.NewBufferString(`{"tool_name":"Bash","tool_use_id":"t1","session_id":"s1"}`)
	out := &bytes.Buffer{}
	cmd.SetIn(in)
	cmd.SetOut(out)

	require.NoError(t, runHookPermission(cmd))

	var decoded claudeHookOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Equal(t, "deny", decoded.HookSpecificOutput.PermissionDecision)
	require.Equal(t, "blocked by policy", decoded.HookSpecificOutput.PermissionDecisionReason)
}
