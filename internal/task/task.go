// Package task defines the task data model: the tagged union of task
// bodies, the common fields and the command parameter set.
package task

import (
	"github.com/Obirvalger/lineup/internal/items"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/logging"
)

// Task is one unit of work: common fields plus a type-specific body.
type Task struct {
	Name       string
	Condition  string
	If         string
	Items      *items.Spec
	ItemsVar   string
	Table      []map[string]interface{}
	Parallel   *bool
	CleanVars  bool
	Vars       vars.ExtVars
	ExportVars []string
	Try        *Try
	Body       Body
}

// EffectiveParallel defaults to true for items-expanded tasks.
func (t *Task) EffectiveParallel() bool {
	if t.Parallel != nil {
		return *t.Parallel
	}
	return true
}

// Try configures retries: attempts, the sleep between them in seconds
// and an optional cleanup task run before every retry.
type Try struct {
	Attempts int
	Sleep    float64
	Cleanup  *Task
}

// Body is a task's type-specific payload. Dispatch happens in the
// runner with a switch at the boundary.
type Body interface {
	Tag() string
}

type Shell struct {
	Command string    `mapstructure:"command"`
	Params  CmdParams `mapstructure:",squash"`
}

func (*Shell) Tag() string { return "shell" }

type Exec struct {
	Args   []string  `mapstructure:"args"`
	Params CmdParams `mapstructure:",squash"`
}

func (*Exec) Tag() string { return "exec" }

type File struct {
	Dst     string `mapstructure:"dst"`
	Src     string `mapstructure:"src"`
	Content string `mapstructure:"content"`
	Chown   string `mapstructure:"chown"`
	Chmod   string `mapstructure:"chmod"`

	// HasContent distinguishes an empty content from an absent one.
	HasContent bool `mapstructure:"-"`
}

func (*File) Tag() string { return "file" }

type Get struct {
	Src string `mapstructure:"src"`
	Dst string `mapstructure:"dst"`
}

func (*Get) Tag() string { return "get" }

// Run refers to a taskline of the current manifest by name.
type Run struct {
	Taskline string
}

func (*Run) Tag() string { return "run" }

// RunTaskline runs a taskline, optionally from another module or file.
type RunTaskline struct {
	Taskline string `mapstructure:"taskline"`
	Module   string `mapstructure:"module"`
	File     string `mapstructure:"file"`
}

func (*RunTaskline) Tag() string { return "run-taskline" }

// WorkerSel selects and remaps workers for a nested taskset.
type WorkerSel struct {
	All   bool
	Names []string
	Maps  [][2]string
}

type RunTaskset struct {
	Module string
	File   string
	Worker WorkerSel
}

func (*RunTaskset) Tag() string { return "run-taskset" }

type RunLineup struct {
	Manifest string                 `mapstructure:"manifest"`
	Exists   string                 `mapstructure:"exists"`
	Clean    *bool                  `mapstructure:"clean"`
	Vars     map[string]interface{} `mapstructure:"vars"`
}

func (*RunLineup) Tag() string { return "run-lineup" }

// Ensure validates that the named (optionally typed) variables are set.
type Ensure struct {
	Vars []string `mapstructure:"vars"`
}

func (*Ensure) Tag() string { return "ensure" }

// TestCommand is one command of a test task: a shell string, an argv
// array or a full command table.
type TestCommand struct {
	Shell *Shell
	Exec  *Exec
}

type Test struct {
	Commands []TestCommand
	Check    *bool
}

func (*Test) Tag() string { return "test" }

// Break stops the named enclosing taskline (innermost by default) and
// supplies its result.
type Break struct {
	Taskline string      `mapstructure:"taskline"`
	Result   interface{} `mapstructure:"result"`
}

func (*Break) Tag() string { return "break" }

type Dummy struct {
	Result interface{} `mapstructure:"result"`
}

func (*Dummy) Tag() string { return "dummy" }

// ErrorTask terminates the process with the given message and code.
type ErrorTask struct {
	Msg   string `mapstructure:"msg"`
	Code  *int   `mapstructure:"code"`
	Trace *bool  `mapstructure:"trace"`
}

func (*ErrorTask) Tag() string { return "error" }

// Log emits its message at the named level (debug/info/trace/warn).
type Log struct {
	Level  logging.Level `mapstructure:"-"`
	Msg    string        `mapstructure:"msg"`
	Result interface{}   `mapstructure:"result"`

	HasResult bool `mapstructure:"-"`
}

func (l *Log) Tag() string { return l.Level.String() }

// Special asks the engine for a lifecycle operation.
type Special struct {
	Restart bool `mapstructure:"restart"`
	Start   bool `mapstructure:"start"`
	Stop    bool `mapstructure:"stop"`
}

func (*Special) Tag() string { return "special" }
