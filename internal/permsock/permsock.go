// Package permsock implements the per-session Unix socket that lets a
// subprocess's permission hook ask the daemon for a tool-call decision
// (spec.md §4.8). One request, one response, then close.
package permsock

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/dmora/banjo"
	"github.com/dmora/banjo/internal/ioframe"
	"github.com/google/uuid"
)

// DefaultHookTimeout bounds how long the socket waits for a hook to send
// its request line before closing the connection.
const DefaultHookTimeout = 60 * time.Second

// acceptPollSlice bounds each non-blocking accept attempt, mirroring the
// polling shape used by the bounded queue's deadline pop.
const acceptPollSlice = 200 * time.Millisecond

// Decider answers one hook request. Implementations may block (e.g. to
// prompt the editor); the socket serializes handling across connections
// only to the extent the decider itself is not called concurrently from
// multiple goroutines, since Serve dispatches sequentially per accept.
type Decider func(banjo.HookRequest) banjo.HookResponse

// Socket owns one listening Unix socket bound to a session id.
type Socket struct {
	path        string
	ln          *net.UnixListener
	hookTimeout time.Duration
	logger      *slog.Logger
}

// SetLogger attaches a structured logger for per-connection diagnostics,
// returning s for chaining. Nil-safe: a Socket with no logger attached
// stays silent.
func (s *Socket) SetLogger(logger *slog.Logger) *Socket {
	s.logger = logger
	return s
}

// SocketPath returns the path a Socket would bind for sessionID, without
// creating anything. Useful for exporting BANJO_PERMISSION_SOCKET before
// the socket itself is ready.
func SocketPath(sessionID string) string {
	return fmt.Sprintf("/tmp/banjo-%s.sock", sessionID)
}

// New removes any stale socket file at the session's path and binds a
// fresh listener. hookTimeout <= 0 uses DefaultHookTimeout.
func New(sessionID string, hookTimeout time.Duration) (*Socket, error) {
	if hookTimeout <= 0 {
		hookTimeout = DefaultHookTimeout
	}
	path := SocketPath(sessionID)
	_ = os.Remove(path)

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("permsock: resolve %s: %w", path, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("permsock: listen %s: %w", path, err)
	}

	return &Socket{path: path, ln: ln, hookTimeout: hookTimeout}, nil
}

// Path returns the bound socket's filesystem path.
func (s *Socket) Path() string { return s.path }

// Close shuts down the listener and removes the socket file.
func (s *Socket) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

// Serve accepts connections one at a time until stop is closed,
// dispatching each to decide. A single accepted connection is fully
// handled (read, decide, respond, close) before the next Accept call,
// matching the spec's "one at a time per accept call" contract.
func (s *Socket) Serve(stop <-chan struct{}, decide Decider) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, ok, err := s.tryAccept()
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		s.handleConn(conn, decide)
	}
}

// tryAccept performs one non-blocking accept attempt bounded by
// acceptPollSlice, the idiomatic substitute for a raw non-blocking
// accept(2) loop (see internal/ioframe.WaitReadable for the analogous
// read-side primitive).
func (s *Socket) tryAccept() (net.Conn, bool, error) {
	if err := s.ln.SetDeadline(time.Now().Add(acceptPollSlice)); err != nil {
		return nil, false, err
	}
	conn, err := s.ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, false, nil
		}
		return nil, false, err
	}
	return conn, true, nil
}

// handleConn reads one request line, dispatches it, writes one response
// line, and closes. Malformed requests get a deny response rather than
// silently dropping the connection.
func (s *Socket) handleConn(conn net.Conn, decide Decider) {
	defer conn.Close()

	traceID := uuid.NewString()
	if s.logger != nil {
		s.logger.Debug("permsock: connection accepted", "trace_id", traceID)
	}

	_ = conn.SetDeadline(time.Now().Add(s.hookTimeout))

	reader := bufio.NewReaderSize(conn, ioframe.ReadLineBufSize)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return
	}

	var req banjo.HookRequest
	resp := banjo.HookResponse{Decision: banjo.HookDeny}
	if jsonErr := json.Unmarshal([]byte(line), &req); jsonErr != nil {
		resp.Reason = "malformed request"
	} else {
		resp = decide(req)
	}
	if s.logger != nil {
		s.logger.Debug("permsock: connection decided", "trace_id", traceID, "decision", resp.Decision)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
