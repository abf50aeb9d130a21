// Package inspector is a lowlevel.Debugger backend that speaks a
// Chrome-DevTools-Protocol-flavored JSON-RPC dialect over a websocket:
// requests and responses are correlated by numeric id, and asynchronous
// Debugger.paused notifications are dispatched to the registered
// pause handler as they arrive.
package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/liveprobe/agent/internal/capture"
	"github.com/liveprobe/agent/internal/lowlevel"
)

// Message is one CDP-style JSON-RPC envelope.
type Message struct {
	ID     int             `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is a CDP-style error payload.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type pausedParams struct {
	CallFrameID    string   `json:"callFrameId"`
	Reason         string   `json:"reason"`
	HitBreakpoints []string `json:"hitBreakpoints"`
}

type setBreakpointResult struct {
	BreakpointID string `json:"breakpointId"`
}

// Backend drives one websocket connection to a DevTools-URL-style
// debugger endpoint.
type Backend struct {
	conn *websocket.Conn

	nextID  int64
	mu      sync.Mutex
	pending map[int]chan Message

	handler func(lowlevel.PauseEvent)

	closeOnce sync.Once
	readDone  chan struct{}
}

// Dial connects to a ws:// DevTools endpoint (the value CDP reports as
// webSocketDebuggerUrl) and starts the read loop.
func Dial(ctx context.Context, wsURL string) (*Backend, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("inspector: dialing %s: %w", wsURL, err)
	}

	b := &Backend{
		conn:     conn,
		pending:  make(map[int]chan Message),
		readDone: make(chan struct{}),
	}
	go b.readLoop()

	return b, nil
}

func (b *Backend) readLoop() {
	defer close(b.readDone)
	for {
		var msg Message
		if err := b.conn.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Method == "Debugger.paused" {
			b.dispatchPause(msg.Params)
			continue
		}

		if msg.ID != 0 {
			b.mu.Lock()
			ch, ok := b.pending[msg.ID]
			if ok {
				delete(b.pending, msg.ID)
			}
			b.mu.Unlock()
			if ok {
				ch <- msg
			}
		}
	}
}

func (b *Backend) dispatchPause(raw json.RawMessage) {
	var params pausedParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return
	}
	// A pause that hit no installed breakpoint has nothing to dispatch.
	if len(params.HitBreakpoints) == 0 {
		return
	}

	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(lowlevel.PauseEvent{LowLevelID: params.HitBreakpoints[0], PauseID: params.CallFrameID})
	}
}

func (b *Backend) OnPause(handler func(lowlevel.PauseEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

// call sends a CDP method and blocks for its matching response.
func (b *Backend) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := int(atomic.AddInt64(&b.nextID, 1))

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	ch := make(chan Message, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	if err := b.conn.WriteJSON(Message{ID: id, Method: method, Params: paramsJSON}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-ch:
		if msg.Error != nil {
			return nil, fmt.Errorf("inspector: %s: %s", method, msg.Error.Message)
		}
		return msg.Result, nil
	}
}

// SetBreakpoint issues Debugger.setBreakpointByUrl, the CDP method that
// takes a script URL plus 0-based line/column directly, without first
// resolving a scriptId.
func (b *Backend) SetBreakpoint(ctx context.Context, scriptPath string, line, column int, condition string) (string, error) {
	result, err := b.call(ctx, "Debugger.setBreakpointByUrl", map[string]interface{}{
		"lineNumber":   line,
		"url":          scriptPath,
		"columnNumber": column,
		"condition":    condition,
	})
	if err != nil {
		return "", err
	}

	var out setBreakpointResult
	if err := json.Unmarshal(result, &out); err != nil {
		return "", err
	}
	return out.BreakpointID, nil
}

func (b *Backend) RemoveBreakpoint(ctx context.Context, id string) error {
	_, err := b.call(ctx, "Debugger.removeBreakpoint", map[string]string{"breakpointId": id})
	return err
}

type evaluateResult struct {
	Result struct {
		Value json.Number `json:"value"`
	} `json:"result"`
	ExceptionDetails *RPCError `json:"exceptionDetails,omitempty"`
}

// ModuleWrapPrefixLength asks a Node-style host runtime for the length
// of the function-expression preamble it wraps each CommonJS module's
// source in before executing it, via Runtime.evaluate. Runtimes that
// don't expose Node's "module" builtin (or wrap modules at all) fail
// this evaluation; callers should treat an error as "no wrapping".
func (b *Backend) ModuleWrapPrefixLength(ctx context.Context) (int, error) {
	result, err := b.call(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":    "require('module').wrapper[0].length",
		"returnByValue": true,
	})
	if err != nil {
		return 0, err
	}

	var out evaluateResult
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, fmt.Errorf("inspector: malformed Runtime.evaluate response: %w", err)
	}
	if out.ExceptionDetails != nil {
		return 0, fmt.Errorf("inspector: evaluating module wrap prefix length: %s", out.ExceptionDetails.Message)
	}

	n, err := out.Result.Value.Int64()
	if err != nil {
		return 0, fmt.Errorf("inspector: non-numeric module wrap prefix length: %w", err)
	}
	return int(n), nil
}

// Frames/EvalOnFrame translation from CDP's Runtime.RemoteObject wire
// shape into capture.Frame/capture.Value is specific to whichever
// runtime sits behind the inspector endpoint; this backend wires the
// connection, breakpoint lifecycle, and pause dispatch.
func (b *Backend) Frames(_ context.Context, pauseID string) ([]capture.Frame, error) {
	return nil, fmt.Errorf("inspector: Frames not implemented for pause %s", pauseID)
}

func (b *Backend) EvalOnFrame(_ context.Context, _ capture.Frame, expr string, _ bool) (capture.Value, error) {
	return nil, fmt.Errorf("inspector: EvalOnFrame not implemented for %q", expr)
}

func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.conn.Close()
	})
	return err
}
