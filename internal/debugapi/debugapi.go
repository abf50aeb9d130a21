// Package debugapi validates and installs breakpoints against a
// lowlevel.Debugger, routes pause events to the right listener, and
// drives a capture.Engine for snapshots and a throttled listener for
// log points.
//
// Low-level backends deliver pause events on their own goroutine
// (gdbmi's GDB/MI read loop, inspector's websocket read loop), so API
// guards its maps with one mutex, giving callers the same
// single-threaded-appearance guarantees a debug API built on a genuinely
// single-threaded runtime would provide for free.
package debugapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/liveprobe/agent/internal/capture"
	"github.com/liveprobe/agent/internal/config"
	"github.com/liveprobe/agent/internal/lowlevel"
	"github.com/liveprobe/agent/internal/scanner"
	"github.com/liveprobe/agent/internal/sourcemap"
	"github.com/liveprobe/agent/internal/types"
	"github.com/liveprobe/agent/internal/validator"
)

// entry is everything API tracks for one installed breakpoint.
type entry struct {
	bp         *types.Breakpoint
	lowLevelID string
	active     bool
	listener   *listener
}

// API is the concrete DebugAPI.
type API struct {
	debugger     lowlevel.Debugger
	scanner      *scanner.Scanner
	sourceMapper *sourcemap.Mapper
	engine       *capture.Engine

	appPathRelativeToRepository string
	moduleWrapPrefixLength      int
	maxLogsPerSecond            float64
	logDelaySeconds             int
	allowedCalls                validator.AllowedCall

	mu         sync.Mutex
	byID       map[string]*entry
	byLowLevel map[string]string // lowLevelID -> breakpoint id
}

// New builds an API and registers its single pause handler with debugger.
func New(cfg *config.Config, sc *scanner.Scanner, sm *sourcemap.Mapper, dbg lowlevel.Debugger, moduleWrapPrefixLength int) *API {
	a := &API{
		debugger:                    dbg,
		scanner:                     sc,
		sourceMapper:                sm,
		engine:                      capture.New(capture.Limits(cfg.Capture)),
		appPathRelativeToRepository: cfg.AppPathRelativeToRepository,
		moduleWrapPrefixLength:      moduleWrapPrefixLength,
		maxLogsPerSecond:            cfg.Log.MaxLogsPerSecond,
		logDelaySeconds:             cfg.Log.LogDelaySeconds,
		allowedCalls:                validator.DefaultAllowedCalls,
		byID:                        make(map[string]*entry),
		byLowLevel:                  make(map[string]string),
	}
	dbg.OnPause(a.onPause)
	return a
}

// Set validates bp and installs it against the low-level debugger.
func (a *API) Set(ctx context.Context, bp *types.Breakpoint) error {
	if bp.Location.Path == "" || bp.Location.Line <= 0 {
		return statusErr(types.NewErrorStatus(types.RefersUnspecified, "Invalid breakpoint: missing location"))
	}
	if !bp.IsCaptureAction() && bp.Action != types.ActionLog {
		return statusErr(types.NewErrorStatus(types.RefersUnspecified, "only actions are CAPTURE/LOG"))
	}

	if !validator.IsUnconditional(bp.Condition) {
		if res := validator.Validate(bp.Condition, a.allowedCalls); res.Err != nil {
			return statusErr(types.NewErrorStatus(types.RefersBreakpointCondition, res.Err.Error()))
		}
	}

	loc, status := a.resolveLocation(bp.Location)
	if status != nil {
		return statusErr(status)
	}

	lowLevelID, err := a.debugger.SetBreakpoint(ctx, loc.file, loc.line0, loc.column0, bp.Condition)
	if err != nil {
		return statusErr(types.NewErrorStatus(types.RefersSourceLocation, "Could not install breakpoint: $0", err.Error()))
	}

	bp.CreatedAt = time.Now().Unix()

	a.mu.Lock()
	a.byID[bp.ID] = &entry{bp: bp, lowLevelID: lowLevelID, active: true}
	a.byLowLevel[lowLevelID] = bp.ID
	a.mu.Unlock()

	return nil
}

// Clear removes the low-level hook and drops stored state for bp.ID.
// Clearing an unknown id is an error; clearing twice is safe (the second
// call returns the same error, having no further effect).
func (a *API) Clear(ctx context.Context, bpID string) error {
	a.mu.Lock()
	e, ok := a.byID[bpID]
	if ok {
		delete(a.byID, bpID)
		delete(a.byLowLevel, e.lowLevelID)
	}
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("debugapi: clear: unknown breakpoint %q", bpID)
	}
	return a.debugger.RemoveBreakpoint(ctx, e.lowLevelID)
}

// Wait registers a one-shot listener resolving cb with the first hit (bp
// populated) or an error. cb runs on a fresh goroutine so that a panic or
// error inside it never blocks or corrupts the pause-dispatch path.
func (a *API) Wait(bpID string, cb func(bp *types.Breakpoint, err error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.byID[bpID]
	if !ok {
		return fmt.Errorf("debugapi: wait: unknown breakpoint %q", bpID)
	}
	e.listener = newWaitListener(cb)
	return nil
}

// Log registers a persistent, throttled listener for a LOG breakpoint.
func (a *API) Log(bpID string, emit func(string), shouldStop func() bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.byID[bpID]
	if !ok {
		return fmt.Errorf("debugapi: log: unknown breakpoint %q", bpID)
	}
	e.listener = newLogListener(a.maxLogsPerSecond, a.logDelaySeconds, emit, shouldStop)
	return nil
}

// Disconnect tears down the low-level debugger session.
func (a *API) Disconnect() error {
	return a.debugger.Close()
}

// NumBreakpoints_ reports the number of currently installed breakpoints.
func (a *API) NumBreakpoints_() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byID)
}

// NumListeners_ reports the number of breakpoints that currently have a
// registered listener.
func (a *API) NumListeners_() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.byID {
		if e.listener != nil {
			n++
		}
	}
	return n
}

// onPause is the single handler registered with the low-level debugger.
// A pause whose low-level id has no entry (already cleared) is a no-op,
// so a race between Clear and an in-flight pause never fires a stale
// listener.
func (a *API) onPause(ev lowlevel.PauseEvent) {
	a.mu.Lock()
	bpID, ok := a.byLowLevel[ev.LowLevelID]
	var e *entry
	if ok {
		e = a.byID[bpID]
	}
	a.mu.Unlock()
	if e == nil {
		return
	}

	ctx := context.Background()
	frames, err := a.debugger.Frames(ctx, ev.PauseID)
	if err != nil {
		a.finishCapture(e, nil, fmt.Errorf("unable to capture state: %w", err))
		return
	}

	var top capture.Frame
	if len(frames) > 0 {
		top = frames[0]
	}

	if e.bp.Condition != "" && !validator.IsUnconditional(e.bp.Condition) {
		ok, err := a.evaluateCondition(ctx, e.bp.Condition, top)
		if err != nil || !ok {
			return
		}
	}

	if e.bp.IsCaptureAction() {
		a.dispatchCapture(ctx, e, frames)
	} else {
		a.dispatchLog(ctx, e, frames, top)
	}
}

func (a *API) evaluateCondition(ctx context.Context, condition string, top capture.Frame) (bool, error) {
	eval := &breakpointEvaluator{ctx: ctx, debugger: a.debugger, allowed: a.allowedCalls}
	outcome := eval.Evaluate(condition, top)
	if outcome.Kind != capture.EvalOK {
		return false, fmt.Errorf("%s", outcome.Message)
	}
	return truthy(outcome.Value), nil
}

func (a *API) dispatchCapture(ctx context.Context, e *entry, frames []capture.Frame) {
	eval := &breakpointEvaluator{ctx: ctx, debugger: a.debugger, allowed: a.allowedCalls}
	result := a.engine.Capture(frames, e.bp.Expressions, eval)

	e.bp.StackFrames = result.StackFrames
	e.bp.VariableTable = result.VariableTable
	e.bp.EvaluatedExpressions = result.EvaluatedExpressions

	a.finishCapture(e, e.bp, nil)
}

// finishCapture fires the wait listener, if any, on a fresh goroutine.
func (a *API) finishCapture(e *entry, bp *types.Breakpoint, err error) {
	a.mu.Lock()
	l := e.listener
	if l != nil && l.kind == listenerWait && !l.fired {
		l.fired = true
	} else {
		l = nil
	}
	a.mu.Unlock()

	if l == nil || l.waitCB == nil {
		return
	}
	go l.waitCB(bp, err)
}

func (a *API) dispatchLog(ctx context.Context, e *entry, frames []capture.Frame, top capture.Frame) {
	a.mu.Lock()
	l := e.listener
	a.mu.Unlock()
	if l == nil || l.kind != listenerLog {
		return
	}

	eval := &breakpointEvaluator{ctx: ctx, debugger: a.debugger, allowed: a.allowedCalls}
	stringified := make([]string, len(e.bp.Expressions))
	for i, expr := range e.bp.Expressions {
		outcome := eval.Evaluate(expr, top)
		if outcome.Kind == capture.EvalOK {
			stringified[i] = outcome.Value.StringValue()
		} else {
			stringified[i] = outcome.Message
		}
	}

	if l.dispatchLog(e.bp, stringified) {
		a.mu.Lock()
		if e.listener == l {
			e.listener = nil
		}
		a.mu.Unlock()
	}
}

func truthy(v capture.Value) bool {
	if v == nil {
		return false
	}
	if v.IsCompound() {
		return true
	}
	switch v.StringValue() {
	case "", "0", "false", "null", "undefined":
		return false
	default:
		return true
	}
}

type statusError struct {
	status *types.Status
}

func (e *statusError) Error() string { return e.status.Description.Format }

func (e *statusError) Status() *types.Status { return e.status }

func statusErr(s *types.Status) error { return &statusError{status: s} }

// StatusOf extracts the *types.Status a Set error carries, if any.
func StatusOf(err error) *types.Status {
	if se, ok := err.(*statusError); ok {
		return se.status
	}
	return nil
}
