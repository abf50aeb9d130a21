// Package gdbmi is a lowlevel.Debugger backend built on GDB/MI via
// github.com/cyrus-and/gdb: it installs breakpoints by source location,
// turns GDB's asynchronous stop notifications into PauseEvents, and
// removes breakpoints by the id GDB assigned them.
package gdbmi

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/cyrus-and/gdb"
	"github.com/liveprobe/agent/internal/capture"
	"github.com/liveprobe/agent/internal/lowlevel"
)

// moduleWrapPrefixSymbol is the global a wrapped runtime's binary
// exports to record how many bytes of generated preamble it inserts
// before each module's own source. Targets that don't wrap modules
// simply have no such symbol.
const moduleWrapPrefixSymbol = "module_wrap_prefix_length"

// miSession is the subset of *gdb.Gdb this package drives. Extracted as
// an interface so tests can exercise Backend's dispatch and breakpoint
// logic against a fake MI stream instead of a live gdb process.
type miSession interface {
	Send(operation string, arguments ...string) (map[string]interface{}, error)
	Exit()
}

// Backend drives one GDB/MI session.
type Backend struct {
	mu      sync.Mutex
	session miSession
	handler func(lowlevel.PauseEvent)
}

// New starts gdbExecutable against target over an extended-remote
// connection to remoteAddr, with the MI interpreter enabled.
func New(gdbExecutable, target, remoteAddr string) (*Backend, error) {
	b := &Backend{}

	args := []string{gdbExecutable, "-l", "-1", "-ex", "target extended-remote " + remoteAddr, "--interpreter", "mi", target}
	session, err := gdb.NewCmd(args, b.dispatch)
	if err != nil {
		return nil, fmt.Errorf("gdbmi: starting %s: %w", gdbExecutable, err)
	}
	b.session = session

	return b, nil
}

// dispatch is GDB's async-notification callback. It recognizes
// *stopped,reason="breakpoint-hit" notifications and forwards a
// PauseEvent to the single registered handler.
func (b *Backend) dispatch(notification map[string]interface{}) {
	class, ok := notification["class"].(string)
	if !ok || class != "stopped" {
		return
	}
	payload, ok := notification["payload"].(map[string]interface{})
	if !ok {
		return
	}
	reason, ok := payload["reason"].(string)
	if !ok || reason != "breakpoint-hit" {
		return
	}
	bkptno, ok := payload["bkptno"].(string)
	if !ok {
		return
	}

	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(lowlevel.PauseEvent{LowLevelID: bkptno, PauseID: bkptno})
	}
}

func (b *Backend) OnPause(handler func(lowlevel.PauseEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

// SetBreakpoint issues a GDB/MI break-insert keyed by source path and
// 1-based line (GDB has no column granularity), with an optional "-c"
// condition clause.
func (b *Backend) SetBreakpoint(_ context.Context, scriptPath string, line, _ int, condition string) (string, error) {
	args := []string{"-f"}
	if condition != "" {
		args = append(args, "-c", condition)
	}
	args = append(args, "--source", scriptPath, "--line", fmt.Sprintf("%d", line+1))

	result, err := b.session.Send("break-insert", args...)
	if err != nil {
		return "", err
	}
	if result["class"] != "done" {
		return "", fmt.Errorf("gdbmi: break-insert failed for %s:%d", scriptPath, line+1)
	}

	payload, ok := result["payload"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("gdbmi: malformed break-insert response")
	}
	bkpt, ok := payload["bkpt"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("gdbmi: malformed break-insert response")
	}
	id, ok := bkpt["number"].(string)
	if !ok {
		return "", fmt.Errorf("gdbmi: malformed break-insert response")
	}

	return id, nil
}

// ModuleWrapPrefixLength reads moduleWrapPrefixSymbol out of the target
// via -data-evaluate-expression. A target built without the symbol (no
// module wrapping) reports an error class rather than "done"; that is
// treated as "no wrapping" (length 0), not a failure of the call itself.
func (b *Backend) ModuleWrapPrefixLength(_ context.Context) (int, error) {
	result, err := b.session.Send("data-evaluate-expression", moduleWrapPrefixSymbol)
	if err != nil {
		return 0, err
	}
	if result["class"] != "done" {
		return 0, nil
	}

	payload, ok := result["payload"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	valueStr, ok := payload["value"].(string)
	if !ok {
		return 0, nil
	}

	n, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (b *Backend) RemoveBreakpoint(_ context.Context, id string) error {
	result, err := b.session.Send("break-delete", id)
	if err != nil {
		return err
	}
	if result["class"] != "done" {
		return fmt.Errorf("gdbmi: break-delete failed for %s", id)
	}
	return nil
}

// Frames and EvalOnFrame are intentionally thin: translating a paused
// GDB frame/value into capture.Frame/capture.Value requires walking
// target-specific debug info (DWARF, PDB, ...) that varies per compiled
// target. This backend wires the breakpoint lifecycle and pause dispatch;
// a deployment targeting a specific language runtime supplies the
// Frames/EvalOnFrame translation for that runtime's debug info.
func (b *Backend) Frames(_ context.Context, pauseID string) ([]capture.Frame, error) {
	return nil, fmt.Errorf("gdbmi: Frames not implemented for pause %s", pauseID)
}

func (b *Backend) EvalOnFrame(_ context.Context, _ capture.Frame, expr string, _ bool) (capture.Value, error) {
	return nil, fmt.Errorf("gdbmi: EvalOnFrame not implemented for %q", expr)
}

func (b *Backend) Close() error {
	b.session.Exit()
	return nil
}
