package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseInit    Phase = "init"    // runtime initialization
	PhaseLoad    Phase = "load"    // module loading from a file
	PhaseCompile Phase = "compile" // compilation of source text
	PhaseCall    Phase = "call"    // function invocation
	PhaseReflect Phase = "reflect" // reflection queries
	PhaseEncode  Phase = "encode"  // Go to wire value
	PhaseDecode  Phase = "decode"  // wire value to Go
	PhaseForeign Phase = "foreign" // foreign module registration
	PhaseEngine  Phase = "engine"  // library backend setup
)

// Kind categorizes the error
type Kind string

const (
	KindInitialization Kind = "initialization"
	KindNotFound       Kind = "not_found"
	KindCompile        Kind = "compile"
	KindRuntime        Kind = "runtime"
	KindReflection     Kind = "reflection"
	KindProtocol       Kind = "protocol"
	KindUnsupported    Kind = "unsupported"
	KindOverflow       Kind = "overflow"
	KindInvalidUTF8    Kind = "invalid_utf8"
	KindAllocation     Kind = "allocation"
	KindNotInitialized Kind = "not_initialized"
	KindInvalidInput   Kind = "invalid_input"
	KindMissingExport  Kind = "missing_export"
)

// Sentinels for errors.Is. They carry no phase, so they match a kind
// raised in any phase.
var (
	ErrInitialization  = &Error{Kind: KindInitialization}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrCompile         = &Error{Kind: KindCompile}
	ErrRuntime         = &Error{Kind: KindRuntime}
	ErrReflection      = &Error{Kind: KindReflection}
	ErrProtocol        = &Error{Kind: KindProtocol}
	ErrUnsupportedType = &Error{Kind: KindUnsupported}
	ErrNotInitialized  = &Error{Kind: KindNotInitialized}
	ErrInvalidUTF8     = &Error{Kind: KindInvalidUTF8}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	GoType   string
	FlowType string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.FlowType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.FlowType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", Flow type ")
			b.WriteString(e.FlowType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("Flow type ")
			b.WriteString(e.FlowType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.FlowType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Message returns the detail text without the phase and kind prefix.
// Native error messages are carried here verbatim.
func (e *Error) Message() string {
	return e.Detail
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the argument or field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// FlowType sets the Flow type name
func (b *Builder) FlowType(t string) *Builder {
	b.err.FlowType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Failures reported by the native layer

// Initialization creates the error returned when the runtime fails to start
func Initialization(msg string) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindInitialization,
		Detail: msg,
	}
}

// Compile creates the error returned when a module fails to load or compile
func Compile(phase Phase, msg string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCompile,
		Detail: msg,
	}
}

// Runtime creates the error returned when a call fails
func Runtime(function, msg string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindRuntime,
		Path:   []string{function},
		Detail: msg,
	}
}

// Reflection creates a reflection query error
func Reflection(detail string) *Error {
	return &Error{
		Phase:  PhaseReflect,
		Kind:   KindReflection,
		Detail: detail,
	}
}

// Protocol creates an error for malformed data received from the library
func Protocol(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindProtocol,
		Detail: detail,
	}
}

// Host side failures

// UnsupportedType creates an error for a Go value with no wire form
func UnsupportedType(path []string, goType string) *Error {
	return &Error{
		Phase:  PhaseEncode,
		Kind:   KindUnsupported,
		Path:   path,
		GoType: goType,
		Detail: "no wire representation",
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindOverflow,
		Path:     path,
		FlowType: targetType,
		Detail:   fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:    value,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
	}
}

// NotInitialized creates an error for use of a released handle
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s is not loaded", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
		Value:  name,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// MissingExport creates an error for a guest that lacks a required export
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("required function %q is not exported", name),
		Value:  name,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
