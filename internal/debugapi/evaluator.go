package debugapi

import (
	"context"
	"errors"

	"github.com/liveprobe/agent/internal/capture"
	"github.com/liveprobe/agent/internal/lowlevel"
	"github.com/liveprobe/agent/internal/validator"
)

// breakpointEvaluator adapts validator.Validate and lowlevel.Debugger
// into a capture.ExpressionEvaluator: validate first, then evaluate
// against the low-level debugger with side-effect rejection enabled.
type breakpointEvaluator struct {
	ctx      context.Context
	debugger lowlevel.Debugger
	allowed  validator.AllowedCall
}

func (e *breakpointEvaluator) Evaluate(expr string, top capture.Frame) capture.EvalOutcome {
	res := validator.Validate(expr, e.allowed)
	if res.Err != nil {
		return capture.EvalOutcome{Kind: capture.EvalParseOrValidationError, Message: res.Err.Error()}
	}

	v, err := e.debugger.EvalOnFrame(e.ctx, top, expr, true)
	if err != nil {
		var sideEffect *lowlevel.SideEffectError
		if errors.As(err, &sideEffect) {
			return capture.EvalOutcome{Kind: capture.EvalSideEffectRejected, Message: sideEffect.Error()}
		}
		return capture.EvalOutcome{Kind: capture.EvalCompileError, Message: "Error Compiling Expression"}
	}

	return capture.EvalOutcome{Kind: capture.EvalOK, Value: v}
}
