package debuglet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liveprobe/agent/internal/capture"
	"github.com/liveprobe/agent/internal/config"
	"github.com/liveprobe/agent/internal/controller"
	"github.com/liveprobe/agent/internal/debugapi"
	"github.com/liveprobe/agent/internal/lowlevel"
	"github.com/liveprobe/agent/internal/scanner"
	"github.com/liveprobe/agent/internal/types"
)

// fakeDebugger is a minimal lowlevel.Debugger that never pauses on its
// own; tests drive capture synchronously through debugapi where needed.
type fakeDebugger struct {
	mu   sync.Mutex
	next int
}

func (f *fakeDebugger) SetBreakpoint(_ context.Context, _ string, _, _ int, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return "ll", nil
}
func (f *fakeDebugger) RemoveBreakpoint(_ context.Context, _ string) error { return nil }
func (f *fakeDebugger) OnPause(func(lowlevel.PauseEvent))                 {}
func (f *fakeDebugger) Frames(context.Context, string) ([]capture.Frame, error) {
	return nil, nil
}
func (f *fakeDebugger) EvalOnFrame(context.Context, capture.Frame, string, bool) (capture.Value, error) {
	return nil, nil
}
func (f *fakeDebugger) Close() error { return nil }

func newTestAPI(t *testing.T) *debugapi.API {
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
		Log:     config.Log{MaxLogsPerSecond: 20, LogDelaySeconds: 1},
	}
	return debugapi.New(cfg, sc, nil, &fakeDebugger{}, 0)
}

// fakeController serves register/listBreakpoints/updateBreakpoint over
// an httptest.Server, with a scriptable breakpoint feed and a recorder
// of every PUT body.
type fakeController struct {
	mu        sync.Mutex
	feed      []json.RawMessage // one response body per GET, repeated after exhausted
	feedIdx   int
	updates   []map[string]interface{}
	srv       *httptest.Server
	getCalls  int32
}

func newFakeController(t *testing.T, feed ...string) *fakeController {
	fc := &fakeController{}
	for _, f := range feed {
		fc.feed = append(fc.feed, json.RawMessage(f))
	}

	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/debuggees/register":
			w.Write([]byte(`{"debuggee":{"id":"bar"},"activePeriodSec":3600}`))
		case r.Method == http.MethodGet:
			atomic.AddInt32(&fc.getCalls, 1)
			fc.mu.Lock()
			idx := fc.feedIdx
			if idx >= len(fc.feed) {
				idx = len(fc.feed) - 1
			}
			body := fc.feed[idx]
			if fc.feedIdx < len(fc.feed)-1 {
				fc.feedIdx++
			}
			fc.mu.Unlock()
			w.Write(body)
		case r.Method == http.MethodPut:
			var decoded map[string]interface{}
			json.NewDecoder(r.Body).Decode(&decoded)
			fc.mu.Lock()
			fc.updates = append(fc.updates, decoded)
			fc.mu.Unlock()
			w.Write([]byte(`{"kind":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeController) updateCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.updates)
}

func (fc *fakeController) lastUpdate() map[string]interface{} {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.updates) == 0 {
		return nil
	}
	return fc.updates[len(fc.updates)-1]
}

func TestFetchAndInstall(t *testing.T) {
	fc := newFakeController(t,
		`{"breakpoints":[{"id":"test","action":"CAPTURE","location":{"path":"foo.js","line":2}}]}`,
		`{"waitExpired":true}`,
	)

	api := newTestAPI(t)
	client := controller.New(fc.srv.URL, fc.srv.Client())
	dl := New(&config.Config{Project: "p", BreakpointExpiration: time.Hour}, client, api, &types.Debuggee{Project: "p"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go dl.Run(ctx)

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if dl.NumActive_() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Equal(t, 1, dl.NumActive_())
	require.Equal(t, 1, api.NumBreakpoints_())
	bp, ok := dl.ActiveBreakpoint_("test")
	require.True(t, ok)
	require.Equal(t, "test", bp.ID)
}

func TestRejectBadAction(t *testing.T) {
	fc := newFakeController(t,
		`{"breakpoints":[{"id":"testLog","action":"FOO","location":{"path":"foo.js","line":2}}]}`,
		`{"waitExpired":true}`,
	)

	api := newTestAPI(t)
	client := controller.New(fc.srv.URL, fc.srv.Client())
	dl := New(&config.Config{Project: "p", BreakpointExpiration: time.Hour}, client, api, &types.Debuggee{Project: "p"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go dl.Run(ctx)

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if fc.updateCount() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Equal(t, 1, fc.updateCount())
	_, ok := dl.ActiveBreakpoint_("testLog")
	require.False(t, ok, "expected testLog to never become active")
}

func TestExpiry(t *testing.T) {
	fc := newFakeController(t,
		`{"breakpoints":[{"id":"test","action":"CAPTURE","location":{"path":"foo.js","line":2}}]}`,
		`{"waitExpired":true}`,
	)

	api := newTestAPI(t)
	client := controller.New(fc.srv.URL, fc.srv.Client())
	dl := New(&config.Config{Project: "p", BreakpointExpiration: time.Second}, client, api, &types.Debuggee{Project: "p"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go dl.Run(ctx)

	deadline := time.Now().Add(1800 * time.Millisecond)
	for time.Now().Before(deadline) {
		if fc.updateCount() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	require.Equal(t, 1, fc.updateCount())
	update := fc.lastUpdate()
	bpField, _ := update["breakpoint"].(map[string]interface{})
	status, _ := bpField["status"].(map[string]interface{})
	desc, _ := status["description"].(map[string]interface{})
	require.Equal(t, "The snapshot has expired", desc["format"])
	require.Equal(t, 0, dl.NumActive_())
}
