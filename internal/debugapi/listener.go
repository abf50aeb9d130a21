package debugapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/liveprobe/agent/internal/format"
	"github.com/liveprobe/agent/internal/types"
)

// listenerKind distinguishes the two listener shapes DebugAPI registers.
type listenerKind int

const (
	listenerWait listenerKind = iota
	listenerLog
)

// listener is the per-breakpoint dispatch target, keyed by low-level id.
type listener struct {
	kind listenerKind

	// wait (Snapshot)
	waitCB func(bp *types.Breakpoint, err error)
	fired  bool

	// log (Logpoint)
	emit       func(line string)
	shouldStop func() bool

	logDelay      time.Duration
	mu            sync.Mutex
	limiter       *rate.Limiter
	disabledUntil time.Time
}

// newWaitListener builds a one-shot listener for a CAPTURE breakpoint.
func newWaitListener(cb func(bp *types.Breakpoint, err error)) *listener {
	return &listener{kind: listenerWait, waitCB: cb}
}

// newLogListener builds a persistent, throttled listener for a LOG
// breakpoint. The token bucket is sized by maxLogsPerSecond with burst 1
// so that a single emission immediately exhausts it; a throttled hit then
// disables the listener for logDelaySeconds before the bucket is
// consulted again.
func newLogListener(maxLogsPerSecond float64, logDelaySeconds int, emit func(string), shouldStop func() bool) *listener {
	return &listener{
		kind:       listenerLog,
		emit:       emit,
		shouldStop: shouldStop,
		limiter:    rate.NewLimiter(rate.Limit(maxLogsPerSecond), 1),
		logDelay:   time.Duration(logDelaySeconds) * time.Second,
	}
}

// dispatchLog renders logMessageFormat with the already-stringified
// evaluated expressions and emits it, subject to throttling. Returns
// true if the listener should be detached (shouldStop()==true).
func (l *listener) dispatchLog(bp *types.Breakpoint, stringified []string) bool {
	if l.shouldStop() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Before(l.disabledUntil) {
		return false
	}

	if !l.limiter.Allow() {
		l.disabledUntil = now.Add(l.logDelay)
		return false
	}

	l.emit(format.Format(bp.LogMessageFormat, stringified))
	return false
}
