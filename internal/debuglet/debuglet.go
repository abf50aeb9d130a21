// Package debuglet implements the top-level control loop: registration,
// long-poll reconciliation of the active breakpoint set, expiration, and
// per-breakpoint finalization back to the controller.
//
// States: INIT -> REGISTERED -> FETCHING <-> UPDATING, with error-retry
// edges back to REGISTERED, and a terminal STOPPED reached when the
// project id can't be resolved or the context is cancelled.
package debuglet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/liveprobe/agent/internal/config"
	"github.com/liveprobe/agent/internal/controller"
	"github.com/liveprobe/agent/internal/debugapi"
	"github.com/liveprobe/agent/internal/logging"
	"github.com/liveprobe/agent/internal/types"
)

// Emitter receives one rendered logpoint line.
type Emitter func(line string)

// Debuglet owns the active breakpoint set and drives Controller/DebugAPI.
type Debuglet struct {
	cfg      *config.Config
	client   *controller.Client
	api      *debugapi.API
	debuggee *types.Debuggee
	emit     Emitter

	mu         sync.Mutex
	debuggeeID string
	inactive   bool
	active     map[string]*types.Breakpoint
	finalized  map[string]bool // breakpoint ids finalized once, never re-installed
}

// New builds a Debuglet. emit receives rendered logpoint lines; a nil
// emit logs them via the logging package.
func New(cfg *config.Config, client *controller.Client, api *debugapi.API, debuggee *types.Debuggee, emit Emitter) *Debuglet {
	if emit == nil {
		emit = func(line string) { logging.Infoln(line) }
	}
	return &Debuglet{
		cfg:       cfg,
		client:    client,
		api:       api,
		debuggee:  debuggee,
		emit:      emit,
		active:    make(map[string]*types.Breakpoint),
		finalized: make(map[string]bool),
	}
}

// Run drives the control loop until ctx is cancelled or the project id
// can't be resolved.
func (d *Debuglet) Run(ctx context.Context) error {
	if d.cfg.Project == "" {
		return fmt.Errorf("debuglet: initError: no project id configured")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := d.register(ctx); err != nil {
			logging.Errorln("debuglet: register failed: ", err)
			if !sleep(ctx, 5*time.Second) {
				return ctx.Err()
			}
			continue
		}

		if d.inactive {
			logging.Infoln("debuglet: debuggee disabled by server, re-registering periodically")
			if !sleep(ctx, d.reregisterInterval()) {
				return ctx.Err()
			}
			continue
		}

		if err := d.fetchLoop(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warnln("debuglet: fetch loop ended, re-registering: ", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (d *Debuglet) register(ctx context.Context) error {
	resp, err := d.client.Register(ctx, d.debuggee)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.debuggeeID = resp.Debuggee.ID
	d.inactive = resp.Debuggee.IsDisabled
	d.mu.Unlock()

	logging.Infoln(fmt.Sprintf("debuglet: registered %q", resp.Debuggee.ID))
	return nil
}

func (d *Debuglet) reregisterInterval() time.Duration {
	return 60 * time.Second
}

// fetchLoop hanging-GETs breakpoints until the Controller returns an
// error, reconciling and expiring on every tick.
func (d *Debuglet) fetchLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := d.client.ListBreakpoints(ctx, d.debuggeeID)
		if err != nil {
			return err
		}

		if !resp.WaitExpired {
			d.reconcile(ctx, resp.Breakpoints)
		}
		d.expireStale(ctx)
	}
}

// reconcile diffs the server's breakpoint list against the locally
// active set: clear what's been removed, and install what's new
// (skipping ids already finalized, so a re-listed expired breakpoint
// is a no-op rather than being re-armed).
func (d *Debuglet) reconcile(ctx context.Context, serverBPs []*types.Breakpoint) {
	server := make(map[string]*types.Breakpoint, len(serverBPs))
	for _, bp := range serverBPs {
		server[bp.ID] = bp
	}

	d.mu.Lock()
	localIDs := make(map[string]bool, len(d.active))
	for id := range d.active {
		localIDs[id] = true
	}
	d.mu.Unlock()

	for id := range localIDs {
		if _, ok := server[id]; !ok {
			d.clearRemoved(ctx, id)
		}
	}

	for id, bp := range server {
		if localIDs[id] {
			continue
		}
		d.mu.Lock()
		already := d.finalized[id]
		d.mu.Unlock()
		if already {
			continue
		}
		d.install(ctx, bp)
	}
}

func (d *Debuglet) clearRemoved(ctx context.Context, id string) {
	d.api.Clear(ctx, id)
	d.mu.Lock()
	delete(d.active, id)
	d.mu.Unlock()
}

func (d *Debuglet) install(ctx context.Context, bp *types.Breakpoint) {
	if bp.Action != "" && bp.Action != types.ActionCapture && bp.Action != types.ActionLog {
		d.finalizeReject(ctx, bp)
		return
	}

	if err := d.api.Set(ctx, bp); err != nil {
		status := debugapi.StatusOf(err)
		if status == nil {
			status = types.NewErrorStatus(types.RefersUnspecified, err.Error())
		}
		d.finalizeWithStatus(ctx, bp, status)
		return
	}

	d.mu.Lock()
	d.active[bp.ID] = bp
	d.mu.Unlock()

	if bp.IsCaptureAction() {
		id := bp.ID
		d.api.Wait(id, func(captured *types.Breakpoint, err error) { d.onCaptured(ctx, id, captured, err) })
	} else {
		id := bp.ID
		d.api.Log(id, d.emit, func() bool {
			d.mu.Lock()
			defer d.mu.Unlock()
			_, ok := d.active[id]
			return !ok
		})
	}
}

func (d *Debuglet) finalizeReject(ctx context.Context, bp *types.Breakpoint) {
	d.finalizeWithStatus(ctx, bp, types.NewErrorStatus(types.RefersUnspecified, "only actions are CAPTURE/LOG"))
}

func (d *Debuglet) finalizeWithStatus(ctx context.Context, bp *types.Breakpoint, status *types.Status) {
	bp.IsFinalState = true
	bp.Status = status
	if err := d.client.UpdateBreakpoint(ctx, d.debuggeeID, bp); err != nil {
		logging.Errorln(fmt.Sprintf("debuglet: updateBreakpoint(%s) failed, dropping: %v", bp.ID, err))
	}
	d.mu.Lock()
	d.finalized[bp.ID] = true
	d.mu.Unlock()
}

// onCaptured is DebugAPI's wait callback: it finalizes a CAPTURE
// breakpoint exactly once, then clears it.
func (d *Debuglet) onCaptured(ctx context.Context, id string, captured *types.Breakpoint, err error) {
	d.mu.Lock()
	bp, ok := d.active[id]
	d.mu.Unlock()
	if !ok {
		return // already cleared/expired
	}

	if err != nil {
		bp.Status = types.NewErrorStatus(types.RefersVariableValue, "Unable to capture state: $0", err.Error())
	}

	d.finalizeWithStatus(ctx, bp, bp.Status)
	d.api.Clear(ctx, id)
	d.mu.Lock()
	delete(d.active, id)
	d.mu.Unlock()
}

// expireStale finalizes every active breakpoint past the configured
// expiration with "The snapshot has expired".
func (d *Debuglet) expireStale(ctx context.Context) {
	d.mu.Lock()
	snapshot := make(map[string]*types.Breakpoint, len(d.active))
	for id, bp := range d.active {
		snapshot[id] = bp
	}
	d.mu.Unlock()

	now := time.Now().Unix()
	ttl := int64(d.cfg.BreakpointExpiration.Seconds())

	for id, bp := range snapshot {
		if now-bp.CreatedAt < ttl {
			continue
		}
		d.finalizeWithStatus(ctx, bp, types.NewErrorStatus(types.RefersUnspecified, "The snapshot has expired"))
		d.api.Clear(ctx, id)
		d.mu.Lock()
		delete(d.active, id)
		d.mu.Unlock()
	}
}

// NumActive_ reports the size of the locally active breakpoint set, for
// tests.
func (d *Debuglet) NumActive_() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// ActiveBreakpoint_ returns the locally active breakpoint for id, for
// tests.
func (d *Debuglet) ActiveBreakpoint_(id string) (*types.Breakpoint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bp, ok := d.active[id]
	return bp, ok
}
