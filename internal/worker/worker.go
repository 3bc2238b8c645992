// Package worker wraps an engine endpoint with its name, lazy setup
// state and the command success rules of the dispatcher.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/internal/engine"
	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/task"
	"github.com/Obirvalger/lineup/logging"
)

// Defaults carries the config-level command defaults applied when a
// task's params are silent.
type Defaults struct {
	Check  bool
	Stdout task.CmdOutput
	Stderr task.CmdOutput
}

// Worker is a materialized execution endpoint.
type Worker struct {
	name      string
	outerName string
	eng       engine.Engine
	defaults  Defaults

	mu        sync.Mutex
	setupDone bool
	workdir   string
	exists    engine.ExistsAction
}

func New(name string, eng engine.Engine, defaults Defaults) *Worker {
	return &Worker{name: name, outerName: name, eng: eng, defaults: defaults}
}

// Name is the name tasks see; run-taskset remaps it without touching
// the engine endpoint name.
func (w *Worker) Name() string {
	return w.outerName
}

// Rename gives the worker a new outer name and returns the old one.
func (w *Worker) Rename(name string) string {
	old := w.outerName
	w.outerName = name
	return old
}

func (w *Worker) Engine() engine.Engine {
	return w.eng
}

// Workdir is the per-worker scratch directory resolved during setup.
func (w *Worker) Workdir() string {
	return w.workdir
}

// SetExistsAction installs the worker-level exists policy used when no
// command-line override is given.
func (w *Worker) SetExistsAction(action engine.ExistsAction) {
	w.exists = action
}

// EnsureSetup sets the endpoint up once. The setup probe resolves the
// worker scratch directory on the endpoint. The action priority is
// command line, then worker declaration, then the engine's own field.
func (w *Worker) EnsureSetup(ctx context.Context, action engine.ExistsAction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.setupDone {
		return nil
	}
	if action == "" {
		action = w.exists
	}
	if w.eng.Base().DoSetup() {
		if err := w.eng.Setup(ctx, w.name, action); err != nil {
			return errs.PushBacktrace(err, fmt.Sprintf("worker: %s", w.name))
		}
	}
	cmd := w.eng.ShellCmd(w.name, "echo ${TMPDIR:-${TMP:-/tmp}}/lineup")
	out, err := cmd.Run(ctx, nil, nil)
	if err != nil {
		return err
	}
	if !out.Success() {
		return errs.New(errs.Backend, "failed to setup worker `%s`", w.name)
	}
	w.workdir = strings.TrimSpace(out.Stdout())
	w.setupDone = true
	return nil
}

// SetupDone reports whether setup completed; teardown after a
// cancellation skips workers that never finished it.
func (w *Worker) SetupDone() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setupDone
}

// EnsureRemove tears the endpoint down.
func (w *Worker) EnsureRemove(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.eng.Base().DoSetup() {
		return nil
	}
	if err := w.eng.Teardown(ctx, w.name); err != nil {
		return err
	}
	w.setupDone = false
	return nil
}

// Shell runs a shell command applying the command params.
func (w *Worker) Shell(ctx context.Context, command string, params *task.CmdParams) (*cmdexec.Out, error) {
	cmd := w.eng.ShellCmd(w.name, command)
	return w.run(ctx, command, cmd, params)
}

// Exec runs an argv without a shell where the engine can, quoting it
// through one where it cannot.
func (w *Worker) Exec(ctx context.Context, args []string, params *task.CmdParams) (*cmdexec.Out, error) {
	cmd := w.eng.ExecCmd(w.name, args)
	return w.run(ctx, strings.Join(args, " "), cmd, params)
}

// ShellOut runs a shell command without params processing; used for
// condition gates.
func (w *Worker) ShellOut(ctx context.Context, command, stdin string) (*cmdexec.Out, error) {
	cmd := w.eng.ShellCmd(w.name, command)
	if stdin != "" {
		cmd.SetStdin(stdin)
	}
	return cmd.Run(ctx, nil, nil)
}

func (w *Worker) Put(ctx context.Context, src, dst string) error {
	return w.eng.PutFile(ctx, w.name, src, dst)
}

func (w *Worker) Get(ctx context.Context, src, dst string) error {
	return w.eng.GetFile(ctx, w.name, src, dst)
}

func (w *Worker) Special(ctx context.Context, op string) error {
	return w.eng.Special(ctx, w.name, op)
}

func wrapRunError(e *errs.Error, matches *task.Matches, params *task.CmdParams, out *cmdexec.Out) error {
	if params.Stdin != "" {
		e.WithContext("stdin", params.Stdin)
	}
	stdout := strings.TrimRight(out.Stdout(), " \t\r\n")
	if stdout != "" || matches != nil {
		e.WithContext("stdout", stdout)
	}
	stderr := strings.TrimRight(out.Stderr(), " \t\r\n")
	if stderr != "" || matches != nil {
		e.WithContext("stderr", stderr)
	}
	if matches != nil {
		if data, err := json.Marshal(matches); err == nil {
			e.WithContext("matches", string(data))
		}
	}
	codes := params.EffectiveSuccessCodes()
	if len(codes) != 1 || codes[0] != 0 {
		e.WithContext("rc", fmt.Sprintf("%d", out.Rc()))
		if data, err := json.Marshal(codes); err == nil {
			e.WithContext("success codes", string(data))
		}
	} else if out.Rc() != 0 {
		e.WithContext("rc", fmt.Sprintf("%d", out.Rc()))
	}
	return e
}

// run executes the built command and applies the success rules: exit
// code in success-codes, success-matches matched, failure-matches
// unmatched.
func (w *Worker) run(ctx context.Context, display string, cmd *cmdexec.Cmd, params *task.CmdParams) (*cmdexec.Out, error) {
	if params.Stdin != "" {
		cmd.SetStdin(params.Stdin)
	}
	logging.Logw(logging.LevelDebug, "run cmd", "cmd", cmd.String(), "worker", w.outerName)

	stdoutSink := params.EffectiveStdout(w.defaults.Stdout).Sink()
	stderrSink := params.EffectiveStderr(w.defaults.Stderr).Sink()
	start := time.Now()
	out, err := cmd.Run(ctx, stdoutSink, stderrSink)
	if stdoutSink != nil {
		_ = stdoutSink.Close()
	}
	if stderrSink != nil {
		_ = stderrSink.Close()
	}
	if err != nil {
		return out, err
	}
	logging.Logw(logging.LevelTrace, "cmd finished",
		"cmd", display, "rc", out.Rc(), "duration", time.Since(start).Round(time.Millisecond))

	out.SetSuccessCodes(params.EffectiveSuccessCodes())
	stdout := out.Stdout()
	stderr := out.Stderr()

	if params.EffectiveCheck(w.defaults.Check) && !out.Success() {
		e := errs.New(errs.CommandFailure, "command `%s` failed: return failure exit code", display)
		return out, wrapRunError(e, nil, params, out)
	}
	if params.FailureMatches != nil {
		matched, merr := params.FailureMatches.IsMatch(stdout, stderr)
		if merr != nil {
			return out, merr
		}
		if matched {
			e := errs.New(errs.CommandFailure, "command `%s` failed: match failure matches", display)
			return out, wrapRunError(e, params.FailureMatches, params, out)
		}
	}
	if params.SuccessMatches != nil {
		matched, merr := params.SuccessMatches.IsMatch(stdout, stderr)
		if merr != nil {
			return out, merr
		}
		if !matched {
			e := errs.New(errs.CommandFailure, "command `%s` failed: don't match success matches", display)
			return out, wrapRunError(e, params.SuccessMatches, params, out)
		}
	}
	return out, nil
}
