// Package lowlevel defines the capability interface the debug-API layer
// drives against whichever low-level debugger backend the host runtime
// exposes. Concrete backends are selected once at startup and hidden
// behind this one interface, so the rest of the agent never branches on
// which backend is active.
package lowlevel

import (
	"context"

	"github.com/liveprobe/agent/internal/capture"
)

// PauseEvent is delivered when the host runtime pauses at an installed
// breakpoint.
type PauseEvent struct {
	// LowLevelID is the backend-assigned breakpoint id that fired.
	LowLevelID string
	// PauseID identifies this specific pause for a subsequent Frames call.
	PauseID string
}

// Debugger is the capability the debug-API layer needs from the host
// runtime's low-level debugger: install/remove breakpoints by source
// location, learn about pauses, and read paused-frame state.
type Debugger interface {
	// SetBreakpoint installs a breakpoint at (scriptPath, 0-based line,
	// 0-based column), with an optional source-language condition
	// string evaluated by the host runtime itself when non-empty.
	// Returns the backend-assigned id.
	SetBreakpoint(ctx context.Context, scriptPath string, line, column int, condition string) (id string, err error)

	// RemoveBreakpoint uninstalls a previously-set breakpoint. Removing
	// an unknown id is an error.
	RemoveBreakpoint(ctx context.Context, id string) error

	// OnPause registers the single dispatch function invoked,
	// synchronously with respect to the backend's own event loop, every
	// time any installed breakpoint fires. Only one handler is ever
	// registered — DebugAPI fans out to per-breakpoint listeners itself.
	OnPause(handler func(PauseEvent))

	// Frames returns the call stack (innermost first) for a pause
	// previously reported via OnPause.
	Frames(ctx context.Context, pauseID string) ([]capture.Frame, error)

	// EvalOnFrame evaluates expr against frame, rejecting the evaluation
	// if it would have a side effect and throwOnSideEffect is true.
	EvalOnFrame(ctx context.Context, frame capture.Frame, expr string, throwOnSideEffect bool) (capture.Value, error)

	// Close tears down the low-level debugger session.
	Close() error
}

// SideEffectError marks a failed EvalOnFrame call as a side-effect
// rejection rather than an ordinary evaluation failure.
type SideEffectError struct {
	Msg string
}

func (e *SideEffectError) Error() string { return e.Msg }

// ModuleWrapPrefixLengther is an optional capability a Debugger backend
// may implement when its host runtime wraps each module's source in a
// fixed prefix (e.g. a function-expression preamble) before executing
// it. debugapi uses this to shift a breakpoint's column on the first
// line of a file by the prefix's length. Backends that target a runtime
// with no such wrapping simply don't implement it.
type ModuleWrapPrefixLengther interface {
	ModuleWrapPrefixLength(ctx context.Context) (int, error)
}
