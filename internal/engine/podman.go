package engine

import (
	"context"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/internal/errs"
)

// Podman wraps the podman CLI. Same shape as docker plus pod support.
type Podman struct {
	Image      string       `mapstructure:"image"`
	Memory     string       `mapstructure:"memory"`
	Pod        string       `mapstructure:"pod"`
	User       string       `mapstructure:"user"`
	ExistsPolicy ExistsAction `mapstructure:"exists"`
	EngineBase Base         `mapstructure:",squash"`
}

func (e *Podman) Variant() string { return "podman" }
func (e *Podman) Base() *Base     { return &e.EngineBase }

func (e *Podman) Exists(ctx context.Context, name string) (bool, error) {
	name = e.EngineBase.n(name)
	out, err := cmdexec.New("podman", "container", "exists", name).Run(ctx, nil, nil)
	if err != nil {
		return false, err
	}
	return out.Success(), nil
}

func (e *Podman) running(ctx context.Context, name string) (bool, error) {
	state, err := runOut(ctx, cmdexec.New("podman", "inspect", "-f", "{{.State.Running}}", name))
	if err != nil {
		return false, err
	}
	return state == "true", nil
}

func (e *Podman) Setup(ctx context.Context, name string, action ExistsAction) error {
	name = e.EngineBase.n(name)
	if action == "" {
		action = e.ExistsPolicy
		if action == "" {
			action = ExistsIgnore
		}
	}

	exists, err := e.Exists(ctx, name)
	if err != nil {
		return err
	}
	switch action {
	case ExistsFail:
		if exists {
			return errs.New(errs.Backend, "worker container `%s` already exists", name)
		}
	case ExistsIgnore:
		if exists {
			running, err := e.running(ctx, name)
			if err != nil {
				return err
			}
			if !running {
				return runQuiet(ctx, cmdexec.New("podman", "start", name))
			}
			return nil
		}
	case ExistsReplace:
		if exists {
			if err := runQuiet(ctx, cmdexec.New("podman", "rm", "-f", name)); err != nil {
				return err
			}
		}
	}

	run := cmdexec.New("podman", "run", "-dt")
	if e.Memory != "" {
		run.Arg("--memory", e.Memory)
	}
	if e.Pod != "" {
		run.Arg("--pod", e.Pod)
	}
	run.Arg("--name", name, e.Image)
	return runQuiet(ctx, run)
}

func (e *Podman) Teardown(ctx context.Context, name string) error {
	name = e.EngineBase.n(name)
	return runQuiet(ctx, cmdexec.New("podman", "rm", "-f", name))
}

func (e *Podman) ShellCmd(name, command string) *cmdexec.Cmd {
	cmd := cmdexec.New("podman", "exec", "-i")
	if e.User != "" {
		cmd.Arg("--user", e.User)
	}
	cmd.Arg(e.EngineBase.n(name), "sh", "-c", command)
	return cmd
}

func (e *Podman) ExecCmd(name string, args []string) *cmdexec.Cmd {
	return e.ShellCmd(name, quoteArgs(args))
}

func (e *Podman) PutFile(ctx context.Context, name, src, dst string) error {
	name = e.EngineBase.n(name)
	return runQuiet(ctx, cmdexec.New("podman", "cp", src, name+":"+dst))
}

func (e *Podman) GetFile(ctx context.Context, name, src, dst string) error {
	name = e.EngineBase.n(name)
	return runQuiet(ctx, cmdexec.New("podman", "cp", name+":"+src, dst))
}

func (e *Podman) Special(ctx context.Context, name, op string) error {
	name = e.EngineBase.n(name)
	switch op {
	case "restart":
		if err := runQuiet(ctx, cmdexec.New("podman", "stop", name)); err != nil {
			return err
		}
		return runQuiet(ctx, cmdexec.New("podman", "start", name))
	case "start":
		return runQuiet(ctx, cmdexec.New("podman", "start", name))
	case "stop":
		return runQuiet(ctx, cmdexec.New("podman", "stop", name))
	}
	return UnsupportedSpecial("podman", op)
}
