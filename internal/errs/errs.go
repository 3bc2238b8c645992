// Package errs defines the error kinds the engine reports and the exit
// codes the process maps them to.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Parse
	Resolve
	Template
	TypeMismatch
	Prompt
	Backend
	CommandFailure
	RetryExhausted
	DependencyCycle
	Cancelled
	User
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "parse"
	case Resolve:
		return "resolve"
	case Template:
		return "template"
	case TypeMismatch:
		return "type mismatch"
	case Prompt:
		return "prompt"
	case Backend:
		return "backend"
	case CommandFailure:
		return "command failure"
	case RetryExhausted:
		return "retry exhausted"
	case DependencyCycle:
		return "dependency cycle"
	case Cancelled:
		return "cancelled"
	case User:
		return "user"
	}
	return "internal"
}

// Error carries a kind, an optional wrapped cause, context pairs shown
// under the message (stdin/stdout/stderr/rc/matches) and the
// taskset/taskline/item backtrace accumulated while unwinding.
type Error struct {
	Kind      Kind
	Msg       string
	Code      int  // exit code for User errors
	Trace     bool // whether a User error wants a backtrace
	Context   [][2]string
	Backtrace []string
	cause     error
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: err}
}

func NewUser(msg string, code int, trace bool) *Error {
	return &Error{Kind: User, Msg: msg, Code: code, Trace: trace}
}

func (e *Error) Error() string {
	if e.cause != nil {
		if e.Msg == "" {
			return e.cause.Error()
		}
		return e.Msg + ": " + e.cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithContext appends a context pair shown by the error reporter.
func (e *Error) WithContext(key, value string) *Error {
	e.Context = append(e.Context, [2]string{key, value})
	return e
}

// KindOf extracts the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// AsError returns the outermost *Error of err, wrapping err as Internal
// when there is none.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(Internal, err, "")
}

// PushBacktrace appends a frame to err's *Error, wrapping err when it
// has none. Frames are pushed while unwinding, so the innermost frame
// comes first.
func PushBacktrace(err error, frame string) error {
	e := AsError(err)
	e.Backtrace = append(e.Backtrace, frame)
	return e
}

// ExitCode maps an error to the process exit status: 0 on nil, the
// configured code for the error task, 2 for manifest parse/resolve
// errors, 130 on cancellation and 3 for every other runtime failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e := AsError(err)
	switch e.Kind {
	case User:
		return e.Code
	case Parse, Resolve:
		return 2
	case Cancelled:
		return 130
	}
	return 3
}
