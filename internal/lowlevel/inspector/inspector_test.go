package inspector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/liveprobe/agent/internal/lowlevel"
)

// fakeCDPServer is a websocket server that plays a scripted CDP-style
// session: for each inbound request it looks up a canned response by
// method name and writes it back tagged with the request's id. It can
// also push an unsolicited Debugger.paused notification on demand.
type fakeCDPServer struct {
	srv  *httptest.Server
	conn chan *websocket.Conn
}

func newFakeCDPServer(t *testing.T, responses map[string]json.RawMessage) *fakeCDPServer {
	upgrader := websocket.Upgrader{}
	f := &fakeCDPServer{conn: make(chan *websocket.Conn, 1)}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		f.conn <- conn

		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			payload, ok := responses[msg.Method]
			if !ok {
				payload = json.RawMessage(`{}`)
			}
			_ = conn.WriteJSON(Message{ID: msg.ID, Result: payload})
		}
	}))

	return f
}

func (f *fakeCDPServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeCDPServer) close() { f.srv.Close() }

func TestDialAndSetBreakpoint(t *testing.T) {
	srv := newFakeCDPServer(t, map[string]json.RawMessage{
		"Debugger.setBreakpointByUrl": json.RawMessage(`{"breakpointId":"bp-1"}`),
	})
	defer srv.close()

	b, err := Dial(context.Background(), srv.url())
	require.NoError(t, err)
	defer b.Close()

	id, err := b.SetBreakpoint(context.Background(), "foo.js", 10, 4, "")
	require.NoError(t, err)
	require.Equal(t, "bp-1", id)
}

func TestRemoveBreakpoint(t *testing.T) {
	srv := newFakeCDPServer(t, map[string]json.RawMessage{
		"Debugger.removeBreakpoint": json.RawMessage(`{}`),
	})
	defer srv.close()

	b, err := Dial(context.Background(), srv.url())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.RemoveBreakpoint(context.Background(), "bp-1"))
}

func TestModuleWrapPrefixLength(t *testing.T) {
	srv := newFakeCDPServer(t, map[string]json.RawMessage{
		"Runtime.evaluate": json.RawMessage(`{"result":{"value":42}}`),
	})
	defer srv.close()

	b, err := Dial(context.Background(), srv.url())
	require.NoError(t, err)
	defer b.Close()

	n, err := b.ModuleWrapPrefixLength(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, n)
}

func TestModuleWrapPrefixLengthException(t *testing.T) {
	srv := newFakeCDPServer(t, map[string]json.RawMessage{
		"Runtime.evaluate": json.RawMessage(`{"exceptionDetails":{"code":1,"message":"ReferenceError: require is not defined"}}`),
	})
	defer srv.close()

	b, err := Dial(context.Background(), srv.url())
	require.NoError(t, err)
	defer b.Close()

	_, err = b.ModuleWrapPrefixLength(context.Background())
	require.Error(t, err)
}

func TestPauseDispatch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		// Wait for the client's first request before pushing the
		// notification, so OnPause is guaranteed registered first.
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.WriteJSON(Message{ID: msg.ID, Result: json.RawMessage(`{}`)})

		params, _ := json.Marshal(map[string]interface{}{"callFrameId": "frame-1", "reason": "other", "hitBreakpoints": []string{"bp-1"}})
		require.NoError(t, conn.WriteJSON(Message{Method: "Debugger.paused", Params: params}))

		for {
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	b, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer b.Close()

	got := make(chan lowlevel.PauseEvent, 1)
	b.OnPause(func(ev lowlevel.PauseEvent) { got <- ev })

	// Any call nudges the server past its initial read, after which
	// it pushes the paused notification.
	go func() { _ = b.RemoveBreakpoint(context.Background(), "bp-1") }()

	select {
	case ev := <-got:
		require.Equal(t, "bp-1", ev.LowLevelID)
		require.Equal(t, "frame-1", ev.PauseID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Debugger.paused to dispatch a PauseEvent")
	}
}
