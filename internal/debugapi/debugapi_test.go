package debugapi

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liveprobe/agent/internal/capture"
	"github.com/liveprobe/agent/internal/config"
	"github.com/liveprobe/agent/internal/lowlevel"
	"github.com/liveprobe/agent/internal/scanner"
	"github.com/liveprobe/agent/internal/types"
)

// fakeDebugger is an in-memory lowlevel.Debugger: SetBreakpoint assigns a
// sequential id, and tests fire pauses by calling Pause directly.
type fakeDebugger struct {
	mu      sync.Mutex
	next    int
	handler func(lowlevel.PauseEvent)
	frames  map[string][]capture.Frame // pauseID -> frames
	evalErr error
	evalVal capture.Value
}

func newFakeDebugger() *fakeDebugger {
	return &fakeDebugger{frames: make(map[string][]capture.Frame)}
}

func (f *fakeDebugger) SetBreakpoint(_ context.Context, _ string, _, _ int, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return "ll" + string(rune('0'+f.next)), nil
}

func (f *fakeDebugger) RemoveBreakpoint(_ context.Context, _ string) error { return nil }

func (f *fakeDebugger) OnPause(handler func(lowlevel.PauseEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeDebugger) Frames(_ context.Context, pauseID string) ([]capture.Frame, error) {
	return f.frames[pauseID], nil
}

func (f *fakeDebugger) EvalOnFrame(_ context.Context, _ capture.Frame, _ string, _ bool) (capture.Value, error) {
	return f.evalVal, f.evalErr
}

func (f *fakeDebugger) Close() error { return nil }

// pause fires the registered handler with lowLevelID, recording frames
// under pauseID == lowLevelID for simplicity.
func (f *fakeDebugger) pause(lowLevelID string, frames []capture.Frame) {
	f.mu.Lock()
	f.frames[lowLevelID] = frames
	h := f.handler
	f.mu.Unlock()
	h(lowlevel.PauseEvent{LowLevelID: lowLevelID, PauseID: lowLevelID})
}

func newTestAPI(t *testing.T, dbg *fakeDebugger) *API {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "foo.js"), []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sc, err := scanner.New(root, regexp.MustCompile(`\.js$`), regexp.MustCompile(`\.js\.map$`))
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Capture: config.Capture{MaxFrames: 20, MaxExpandFrames: 5, MaxProperties: 10, MaxDataSize: 1 << 20, MaxStringLength: 1024},
		Log:     config.Log{MaxLogsPerSecond: 1, LogDelaySeconds: 1},
	}

	return New(cfg, sc, nil, dbg, 0)
}

func TestSetAndClearRoundTrip(t *testing.T) {
	dbg := newFakeDebugger()
	api := newTestAPI(t, dbg)

	bp := &types.Breakpoint{ID: "test", Action: types.ActionCapture, Location: types.Location{Path: "foo.js", Line: 2}}
	require.NoError(t, api.Set(context.Background(), bp))
	require.Equal(t, 1, api.NumBreakpoints_())

	require.NoError(t, api.Clear(context.Background(), "test"))
	require.Equal(t, 0, api.NumBreakpoints_())
}

func TestSetRejectsLineBeyondFile(t *testing.T) {
	dbg := newFakeDebugger()
	api := newTestAPI(t, dbg)

	bp := &types.Breakpoint{ID: "test", Location: types.Location{Path: "foo.js", Line: 99}}
	err := api.Set(context.Background(), bp)
	require.Error(t, err)
	status := StatusOf(err)
	require.NotNil(t, status)
	require.Equal(t, types.RefersSourceLocation, status.RefersTo)
}

func TestWaitFiresOnCapture(t *testing.T) {
	dbg := newFakeDebugger()
	api := newTestAPI(t, dbg)

	bp := &types.Breakpoint{ID: "test", Action: types.ActionCapture, Location: types.Location{Path: "foo.js", Line: 2}}
	require.NoError(t, api.Set(context.Background(), bp))

	done := make(chan *types.Breakpoint, 1)
	require.NoError(t, api.Wait("test", func(captured *types.Breakpoint, err error) {
		done <- captured
	}))

	dbg.pause("ll1", []capture.Frame{{Function: "foo", Path: "foo.js", Line: 1}})

	select {
	case captured := <-done:
		require.NotNil(t, captured.StackFrames)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for capture callback")
	}
}

func TestClearMakesSubsequentPauseANoOp(t *testing.T) {
	dbg := newFakeDebugger()
	api := newTestAPI(t, dbg)

	bp := &types.Breakpoint{ID: "test", Action: types.ActionCapture, Location: types.Location{Path: "foo.js", Line: 2}}
	require.NoError(t, api.Set(context.Background(), bp))

	called := make(chan struct{}, 1)
	api.Wait("test", func(*types.Breakpoint, error) { called <- struct{}{} })

	require.NoError(t, api.Clear(context.Background(), "test"))

	dbg.pause("ll1", []capture.Frame{{Function: "foo"}})

	select {
	case <-called:
		t.Fatal("listener fired after clear")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLogThrottling(t *testing.T) {
	dbg := newFakeDebugger()
	api := newTestAPI(t, dbg)

	bp := &types.Breakpoint{ID: "testLog", Action: types.ActionLog, Location: types.Location{Path: "foo.js", Line: 2}, LogMessageFormat: "cat"}
	require.NoError(t, api.Set(context.Background(), bp))

	var mu sync.Mutex
	var emitted string
	stop := false
	require.NoError(t, api.Log("testLog", func(line string) {
		mu.Lock()
		emitted += line
		mu.Unlock()
	}, func() bool { return stop }))

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		dbg.pause("ll1", []capture.Frame{{Function: "foo"}})
		time.Sleep(100 * time.Millisecond)
	}

	mu.Lock()
	got := emitted
	mu.Unlock()
	require.Equal(t, "catcat", got)
}
