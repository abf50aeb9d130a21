package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveprobe/agent/internal/types"
)

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/debuggees/register", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"debuggee":{"id":"bar"},"activePeriodSec":3600}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	resp, err := c.Register(context.Background(), &types.Debuggee{Project: "p"})
	require.NoError(t, err)
	require.Equal(t, "bar", resp.Debuggee.ID)
}

func TestListBreakpointsWaitExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.URL.Query().Get("successOnTimeout"))
		w.Write([]byte(`{"waitExpired":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	resp, err := c.ListBreakpoints(context.Background(), "bar")
	require.NoError(t, err)
	require.True(t, resp.WaitExpired)
}

func TestListBreakpointsInvalidPayloadIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	resp, err := c.ListBreakpoints(context.Background(), "bar")
	require.NoError(t, err, "malformed payload must not surface as an error")
	require.Empty(t, resp.Breakpoints)
}

func TestUpdateBreakpointSendsDebuggeeID(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"kind":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	bp := &types.Breakpoint{ID: "testLog", IsFinalState: true, Status: types.NewErrorStatus(types.RefersUnspecified, "only actions are CAPTURE/LOG")}
	require.NoError(t, c.UpdateBreakpoint(context.Background(), "bar", bp))
	require.Equal(t, "bar", gotBody["debuggeeId"])
}
