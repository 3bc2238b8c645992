package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodes(t *testing.T) {
	data := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, 0},
		{"parse", New(Parse, "bad document"), 2},
		{"resolve", New(Resolve, "missing import"), 2},
		{"command failure", New(CommandFailure, "boom"), 3},
		{"template", New(Template, "boom"), 3},
		{"cancelled", New(Cancelled, "stop"), 130},
		{"user", NewUser("msg", 7, true), 7},
		{"plain error", fmt.Errorf("opaque"), 3},
		{"wrapped parse", fmt.Errorf("outer: %w", New(Parse, "inner")), 2},
	}
	for _, tt := range data {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ExitCode(tt.err))
		})
	}
}

func TestKindSurvivesBacktrace(t *testing.T) {
	err := New(CommandFailure, "command `x` failed")
	wrapped := PushBacktrace(err, "taskline: deploy")
	wrapped = PushBacktrace(wrapped, "taskset task: build")

	assert.Equal(t, CommandFailure, KindOf(wrapped))
	e := AsError(wrapped)
	assert.Equal(t, []string{"taskline: deploy", "taskset task: build"}, e.Backtrace)
}

func TestContextPairs(t *testing.T) {
	err := New(CommandFailure, "failed").
		WithContext("stderr", "bad things").
		WithContext("rc", "3")
	assert.Equal(t, [][2]string{{"stderr", "bad things"}, {"rc", "3"}}, err.Context)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(Backend, cause, "engine call")
	assert.Contains(t, err.Error(), "engine call")
	assert.Contains(t, err.Error(), "root cause")
	assert.ErrorIs(t, err, cause)
}
