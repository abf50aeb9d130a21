package capture

import (
	"fmt"

	"github.com/liveprobe/agent/internal/types"
)

// Limits bounds how much a single capture can collect: frame count,
// how many of those frames have their locals expanded, and per-value
// property/string/size ceilings.
type Limits struct {
	MaxFrames       int
	MaxExpandFrames int
	MaxProperties   int
	MaxDataSize     int
	MaxStringLength int
}

// Engine runs the capture algorithm for one breakpoint hit.
type Engine struct {
	limits Limits
}

// New builds an Engine bound to limits. The Engine holds no per-capture
// state: each Capture call starts a fresh budget, so one Engine serves
// every hit.
func New(limits Limits) *Engine {
	return &Engine{limits: limits}
}

// EvalOutcomeKind classifies how evaluating one watch expression went.
type EvalOutcomeKind int

const (
	EvalOK EvalOutcomeKind = iota
	EvalCompileError
	EvalParseOrValidationError
	EvalSideEffectRejected
)

// EvalOutcome is the result of evaluating one watch expression.
type EvalOutcome struct {
	Kind    EvalOutcomeKind
	Value   Value  // set only when Kind == EvalOK
	Message string // set for every non-OK kind
}

// ExpressionEvaluator evaluates one already-selected watch expression
// against the top paused frame with side-effect guards on. DebugAPI is
// responsible for wiring this to source-map compile (if attached),
// ExpressionValidator (§4.3), and the low-level debugger's
// throwOnSideEffect evaluation.
type ExpressionEvaluator interface {
	Evaluate(expr string, top Frame) EvalOutcome
}

// Result is everything CaptureEngine produces for one hit.
type Result struct {
	StackFrames          []*types.StackFrame
	VariableTable        []*types.Variable
	EvaluatedExpressions []*types.Variable
}

// budget is the shared, per-capture mutable state: the interned
// variable table, the identity -> index map, and the remaining byte
// budget. It is shared across locals/arguments and watch expressions
// so the data-size limit bounds the capture as a whole, not each piece
// independently.
type budget struct {
	table      []*types.Variable
	identity   map[string]int
	remaining  int
}

func newBudget(maxDataSize int) *budget {
	return &budget{identity: make(map[string]int), remaining: maxDataSize}
}

// Capture runs the full algorithm: frames (innermost first) become
// bounded StackFrames, watchExpressions are evaluated against frames[0]
// via eval (nil means no expressions requested).
func (e *Engine) Capture(frames []Frame, watchExpressions []string, eval ExpressionEvaluator) Result {
	b := newBudget(e.limits.MaxDataSize)

	stackFrames := e.captureFrames(frames, b)
	evaluated := e.evaluateExpressions(frames, watchExpressions, eval, b)

	return Result{
		StackFrames:          stackFrames,
		VariableTable:        b.table,
		EvaluatedExpressions: evaluated,
	}
}

func (e *Engine) captureFrames(frames []Frame, b *budget) []*types.StackFrame {
	n := len(frames)
	if e.limits.MaxFrames > 0 && n > e.limits.MaxFrames {
		n = e.limits.MaxFrames
	}

	out := make([]*types.StackFrame, 0, n)
	for i := 0; i < n; i++ {
		f := frames[i]
		sf := &types.StackFrame{
			Function: f.Function,
			Location: types.Location{Path: f.Path, Line: f.Line, Column: f.Column},
		}

		if i < e.limits.MaxExpandFrames {
			sf.Arguments = e.captureNamedValues(f.Arguments, b)
			sf.Locals = e.captureNamedValues(f.Locals, b)
		} else {
			sf.Arguments = []*types.Variable{stubbedGroup("arguments", e.limits.MaxExpandFrames)}
			sf.Locals = []*types.Variable{stubbedGroup("locals", e.limits.MaxExpandFrames)}
		}

		out = append(out, sf)
	}
	return out
}

func stubbedGroup(name string, maxExpandFrames int) *types.Variable {
	return &types.Variable{
		Name: name,
		Status: types.NewErrorStatus(types.RefersSourceLocation,
			fmt.Sprintf("Locals and arguments are only displayed for the top %d stack frames.", maxExpandFrames)),
	}
}

func (e *Engine) captureNamedValues(nvs []NamedValue, b *budget) []*types.Variable {
	out := make([]*types.Variable, 0, len(nvs))
	for _, nv := range nvs {
		out = append(out, e.buildVariable(nv.Name, nv.Value, b, true))
	}
	return out
}

// buildVariable renders one named value, interning it into b.table if
// compound. limitProperties controls whether maxProperties/maxStringLength
// apply at this level — false for the top-level result of a watch
// expression, so its own value is never truncated, true everywhere
// else including all descendants.
func (e *Engine) buildVariable(name string, v Value, b *budget, limitProperties bool) *types.Variable {
	if v == nil {
		return &types.Variable{Name: name, Type: "undefined"}
	}

	if !v.IsCompound() {
		return e.buildPrimitive(name, v, limitProperties)
	}

	if idx, ok := b.identity[v.Identity()]; ok {
		i := idx
		return &types.Variable{Name: name, VarTableIndex: &i}
	}

	placeholder := &types.Variable{Type: v.TypeName()}
	idx := len(b.table)
	b.table = append(b.table, placeholder)
	b.identity[v.Identity()] = idx

	e.populateCompound(placeholder, v, b, limitProperties)

	i := idx
	return &types.Variable{Name: name, VarTableIndex: &i}
}

func (e *Engine) buildPrimitive(name string, v Value, limitLength bool) *types.Variable {
	val := v.StringValue()
	variable := &types.Variable{Name: name, Type: v.TypeName()}

	if limitLength && e.limits.MaxStringLength > 0 && len(val) > e.limits.MaxStringLength {
		truncated := val[:e.limits.MaxStringLength] + "..."
		variable.Value = truncated
		variable.Status = types.NewErrorStatus(types.RefersVariableValue,
			fmt.Sprintf("Only first %d chars were captured… of length %d", e.limits.MaxStringLength, len(val)))
		return variable
	}

	variable.Value = val
	return variable
}

func (e *Engine) populateCompound(placeholder *types.Variable, v Value, b *budget, limitProperties bool) {
	props, err := v.Properties()
	if err != nil {
		placeholder.Status = types.NewErrorStatus(types.RefersVariableValue, err.Error())
		return
	}

	maxProps := e.limits.MaxProperties
	emit := len(props)
	truncatedCount := 0
	if limitProperties && maxProps > 0 && len(props) > maxProps {
		emit = maxProps
		truncatedCount = len(props) - maxProps
	}

	members := make([]*types.Variable, 0, emit+1)
	for i := 0; i < emit; i++ {
		p := props[i]

		if b.remaining < 0 {
			placeholder.Status = types.NewErrorStatus(types.RefersVariableValue, "Max data size reached")
			placeholder.Members = members
			return
		}

		if p.ReadErr != nil {
			child := &types.Variable{
				Name:   p.Name,
				Status: types.NewErrorStatus(types.RefersVariableValue, p.ReadErr.Error()),
			}
			members = append(members, child)
			b.remaining -= sizeOf(child)
			continue
		}

		child := e.buildVariable(p.Name, p.Value, b, true)
		members = append(members, child)
		b.remaining -= sizeOf(child)
	}

	if truncatedCount > 0 {
		members = append(members, &types.Variable{
			Name: fmt.Sprintf("Only first %d of %d items (config.capture.maxProperties=%d)", maxProps, len(props), maxProps),
		})
	}

	placeholder.Members = members
}

func sizeOf(v *types.Variable) int {
	n := len(v.Name) + len(v.Value) + len(v.Type)
	for _, m := range v.Members {
		n += sizeOf(m)
	}
	return n
}

func (e *Engine) evaluateExpressions(frames []Frame, exprs []string, eval ExpressionEvaluator, b *budget) []*types.Variable {
	out := make([]*types.Variable, len(exprs))
	if len(exprs) == 0 {
		return out
	}

	var top Frame
	if len(frames) > 0 {
		top = frames[0]
	}

	for i, expr := range exprs {
		if eval == nil {
			out[i] = &types.Variable{
				Name:   expr,
				Status: types.NewErrorStatus(types.RefersBreakpointExpression, "Error Compiling Expression"),
			}
			continue
		}

		outcome := eval.Evaluate(expr, top)
		switch outcome.Kind {
		case EvalOK:
			// Top-level watch-expression values are not truncated by
			// maxStringLength and not limited by maxProperties (spec
			// §4.4 step 7); interior descendants and the byte budget
			// still apply via buildVariable's recursive limitProperties=true.
			out[i] = e.buildVariable(expr, outcome.Value, b, false)
		case EvalCompileError:
			out[i] = &types.Variable{Name: expr, Status: types.NewErrorStatus(types.RefersBreakpointExpression, "Error Compiling Expression")}
		case EvalParseOrValidationError:
			out[i] = &types.Variable{Name: expr, Status: types.NewErrorStatus(types.RefersBreakpointExpression, outcome.Message)}
		case EvalSideEffectRejected:
			out[i] = &types.Variable{Name: expr, Status: types.NewErrorStatus(types.RefersVariableValue, outcome.Message)}
		}
	}

	return out
}
