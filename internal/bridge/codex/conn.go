package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dmora/banjo"
)

const defaultMaxMessageSize = 4 * 1024 * 1024

// Conn is a bidirectional JSON-RPC 2.0 multiplexer over newline-delimited
// JSON, matching the wire shape Codex's app-server speaks (spec.md §4.4).
//
// Outbound requests use monotonic int64 ids (atomic); a response is
// delivered to the Call goroutine waiting on a per-id channel. Inbound
// server-initiated method calls (approval requests) are dispatched to a
// registered handler running in its own goroutine so a slow or
// human-gated decision never blocks ReadLoop.
type Conn struct {
	mu  sync.Mutex
	enc *json.Encoder

	nextID  atomic.Int64
	pending map[int64]chan *rpcResponse

	notifyHandlers map[string]func(json.RawMessage)
	methodHandlers map[string]func(id json.RawMessage, params json.RawMessage)
	onParseError   func(line []byte, err error)

	scanner *bufio.Scanner

	done    chan struct{}
	readErr atomic.Value
}

type connConfig struct {
	maxMessageSize int
	onParseError   func(line []byte, err error)
}

func newConn(r io.Reader, w io.Writer, cfg connConfig) *Conn {
	maxSize := cfg.maxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	c := &Conn{
		enc:            json.NewEncoder(w),
		pending:        make(map[int64]chan *rpcResponse),
		notifyHandlers: make(map[string]func(json.RawMessage)),
		methodHandlers: make(map[string]func(json.RawMessage, json.RawMessage)),
		onParseError:   cfg.onParseError,
		done:           make(chan struct{}),
	}
	c.scanner = bufio.NewScanner(r)
	initCap := maxSize
	if initCap > 4096 {
		initCap = 4096
	}
	c.scanner.Buffer(make([]byte, 0, initCap), maxSize)
	return c
}

// OnNotification registers a handler for a JSON-RPC notification method.
// Must be called before ReadLoop starts.
func (c *Conn) OnNotification(method string, h func(json.RawMessage)) {
	c.notifyHandlers[method] = h
}

// OnMethod registers a handler for a server-initiated JSON-RPC method
// call (has an id, expects a response). h is responsible for eventually
// calling Conn.Respond with the same id. Must be called before ReadLoop.
func (c *Conn) OnMethod(method string, h func(id json.RawMessage, params json.RawMessage)) {
	c.methodHandlers[method] = h
}

// Call sends a JSON-RPC request and blocks until the response arrives or
// ctx expires.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)

	ch := make(chan *rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	req := &rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := c.send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("codex: send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		return c.handleCallResponse(resp, ok, method, result)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		select {
		case resp, ok := <-ch:
			return c.handleCallResponse(resp, ok, method, result)
		default:
			return ctx.Err()
		}
	}
}

func (c *Conn) handleCallResponse(resp *rpcResponse, ok bool, method string, result any) error {
	if !ok {
		return fmt.Errorf("codex: %s: connection closed", method)
	}
	if resp.Error != nil {
		// An error response naming one of the auth markers means the
		// Codex CLI wants the user to log in again; surface it as the
		// dedicated sentinel so callers can stop the turn (spec.md §4.4).
		if containsAuthMarker(resp.Error.Message) {
			return fmt.Errorf("%w: rpc error %d: %s", banjo.ErrAuthRequired, resp.Error.Code, resp.Error.Message)
		}
		return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("codex: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// Notify sends a JSON-RPC notification (no id, no response expected).
func (c *Conn) Notify(method string, params any) error {
	return c.send(&rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

// Respond sends a JSON-RPC response to a server-initiated method call,
// echoing the original request's id verbatim (its JSON encoding may be a
// number or a string; RespondApproval callers must preserve it).
func (c *Conn) Respond(id json.RawMessage, result any, rpcErr *RPCError) error {
	resp := &rawRPCResponse{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		resp.Error = &rpcError{Code: rpcErr.Code, Message: rpcErr.Message}
	} else {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("codex: marshal response result: %w", err)
		}
		resp.Result = data
	}
	return c.send(resp)
}

// ReadLoop reads and dispatches inbound JSON-RPC messages until the
// reader closes or an unrecoverable error occurs. On exit, every pending
// Call channel is closed so blocked callers unblock with an error. Must
// be called exactly once, from its own goroutine.
func (c *Conn) ReadLoop() {
	defer close(c.done)
	defer c.drainPending()

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			if c.onParseError != nil {
				c.onParseError(append([]byte(nil), line...), err)
			}
			continue
		}
		c.dispatch(&msg)
	}
	if err := c.scanner.Err(); err != nil {
		c.readErr.Store(err)
	}
}

func (c *Conn) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(v)
}

func (c *Conn) dispatch(msg *rpcMessage) {
	if msg.ID != nil && msg.Method == "" {
		c.handleResponse(msg)
		return
	}
	if msg.ID != nil && msg.Method != "" {
		c.handleMethodCall(msg)
		return
	}
	if msg.Method != "" {
		c.handleNotification(msg)
	}
}

func (c *Conn) handleResponse(msg *rpcMessage) {
	var numID int64
	if err := json.Unmarshal(msg.ID, &numID); err != nil {
		return // server-initiated ids aren't ours; nothing pending to deliver to
	}
	c.mu.Lock()
	ch, ok := c.pending[numID]
	if ok {
		delete(c.pending, numID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- &rpcResponse{Result: msg.Result, Error: msg.Error}
}

func (c *Conn) handleMethodCall(msg *rpcMessage) {
	h, ok := c.methodHandlers[msg.Method]
	if !ok {
		_ = c.Respond(msg.ID, nil, &RPCError{Code: -32601, Message: "method not found: " + msg.Method})
		return
	}
	id := msg.ID
	params := msg.Params
	go h(id, params)
}

func (c *Conn) handleNotification(msg *rpcMessage) {
	if h, ok := c.notifyHandlers[msg.Method]; ok {
		h(msg.Params)
	}
}

func (c *Conn) drainPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// --- Wire types ---

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage
	Error  *rpcError
}

type rawRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is an exported error type for JSON-RPC errors returned by Call.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("codex: rpc error %d: %s", e.Code, e.Message)
}

// IsAuthRequired reports whether an RPCError's message contains any of
// the auth markers from spec.md §7 (case-insensitive substring match).
func (e *RPCError) IsAuthRequired() bool {
	return containsAuthMarker(e.Message)
}
