// Package types holds the wire-level data model shared by every
// component: Breakpoint, Debuggee, StackFrame and Variable. Field names
// and JSON tags follow the Controller's HTTP API exactly, since these
// structs are marshaled directly into register/update requests.
package types

// Action is the kind of work a Breakpoint performs.
type Action string

const (
	ActionCapture Action = "CAPTURE"
	ActionLog     Action = "LOG"
)

// RefersTo classifies what part of a Breakpoint a Status describes.
type RefersTo string

const (
	RefersUnspecified               RefersTo = "UNSPECIFIED"
	RefersSourceLocation            RefersTo = "BREAKPOINT_SOURCE_LOCATION"
	RefersBreakpointCondition       RefersTo = "BREAKPOINT_CONDITION"
	RefersBreakpointExpression      RefersTo = "BREAKPOINT_EXPRESSION"
	RefersVariableName              RefersTo = "VARIABLE_NAME"
	RefersVariableValue             RefersTo = "VARIABLE_VALUE"
)

// StatusMessage is a printf-like template plus positional parameters,
// matching the Controller's status.description wire shape.
type StatusMessage struct {
	Format     string   `json:"format"`
	Parameters []string `json:"parameters,omitempty"`
}

// Status describes a rejection or a runtime error attached to a
// Breakpoint, Variable or evaluated expression.
type Status struct {
	IsError     bool          `json:"isError"`
	RefersTo    RefersTo      `json:"refersTo,omitempty"`
	Description StatusMessage `json:"description"`
}

// NewErrorStatus builds an error Status. format and params are stored
// unrendered; $n placeholders in format refer to params by index.
func NewErrorStatus(refersTo RefersTo, format string, params ...string) *Status {
	return &Status{
		IsError:     true,
		RefersTo:    refersTo,
		Description: StatusMessage{Format: format, Parameters: params},
	}
}

// Location is a source position: path is user-supplied and possibly
// partial, line is 1-based, column is optional.
type Location struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// Variable is one named (or anonymous, inside an array) captured value.
// Compound objects are interned into the owning Breakpoint's
// VariableTable and referenced by VarTableIndex.
type Variable struct {
	Name          string      `json:"name,omitempty"`
	Value         string      `json:"value,omitempty"`
	Type          string      `json:"type,omitempty"`
	Members       []*Variable `json:"members,omitempty"`
	VarTableIndex *int        `json:"varTableIndex,omitempty"`
	Status        *Status     `json:"status,omitempty"`
}

// StackFrame is one captured frame: its function, source location, and
// the arguments/locals visible there (empty/stubbed beyond maxExpandFrames).
type StackFrame struct {
	Function  string      `json:"function"`
	Location  Location    `json:"location"`
	Arguments []*Variable `json:"arguments"`
	Locals    []*Variable `json:"locals"`
}

// Breakpoint is the unit of work exchanged with the Controller.
type Breakpoint struct {
	ID                   string      `json:"id"`
	Action               Action      `json:"action,omitempty"`
	Location             Location    `json:"location"`
	Condition            string      `json:"condition,omitempty"`
	Expressions          []string    `json:"expressions,omitempty"`
	LogMessageFormat     string      `json:"logMessageFormat,omitempty"`
	IsFinalState         bool        `json:"isFinalState"`
	Status               *Status     `json:"status,omitempty"`
	StackFrames          []*StackFrame `json:"stackFrames,omitempty"`
	EvaluatedExpressions []*Variable `json:"evaluatedExpressions,omitempty"`
	VariableTable        []*Variable `json:"variableTable,omitempty"`

	// CreatedAt is agent-local bookkeeping (not sent to the Controller)
	// used to drive breakpointExpirationSec. It is populated the moment
	// the agent first learns of the breakpoint, not by the wire payload.
	CreatedAt int64 `json:"-"`
}

// Clone returns a shallow copy of b: slices and pointers (Status,
// StackFrames, VariableTable, ...) are shared with the original.
func (b *Breakpoint) Clone() *Breakpoint {
	cp := *b
	return &cp
}

// IsCaptureAction reports whether the breakpoint requests a snapshot.
// A zero-value Action defaults to CAPTURE per the Breakpoint invariants.
func (b *Breakpoint) IsCaptureAction() bool {
	return b.Action == "" || b.Action == ActionCapture
}

// SourceContext describes where the deployed source came from (VCS
// metadata); opaque to the agent, passed through to the Controller.
type SourceContext map[string]interface{}

// Debuggee identifies one running agent instance to the Controller.
type Debuggee struct {
	ID             string            `json:"id,omitempty"`
	Project        string            `json:"project"`
	Uniquifier     string            `json:"uniquifier"`
	Description    string            `json:"description"`
	AgentVersion   string            `json:"agentVersion"`
	Labels         map[string]string `json:"labels,omitempty"`
	SourceContexts []SourceContext   `json:"sourceContexts,omitempty"`
	Status         *Status           `json:"status,omitempty"`
	IsDisabled     bool              `json:"isDisabled,omitempty"`
}
