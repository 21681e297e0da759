// Command banjod is the agent-mediation broker daemon: it spawns a
// Claude or Codex CLI subprocess, normalizes its event stream, and
// mediates tool-use permission requests over a local Unix socket
// (spec.md §1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "banjod",
		Short: "local agent-mediation broker for Claude Code and Codex",
	}
	root.AddCommand(serveCommand())
	root.AddCommand(hookCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
