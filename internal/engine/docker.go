package engine

import (
	"context"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/internal/errs"
)

// Docker wraps the docker CLI; the endpoint is a container kept running
// with an idle tty.
type Docker struct {
	Image      string       `mapstructure:"image"`
	Memory     string       `mapstructure:"memory"`
	User       string       `mapstructure:"user"`
	ExistsPolicy ExistsAction `mapstructure:"exists"`
	EngineBase Base         `mapstructure:",squash"`

	bin string
}

func (e *Docker) Variant() string { return "docker" }
func (e *Docker) Base() *Base     { return &e.EngineBase }

func (e *Docker) binName() string {
	if e.bin != "" {
		return e.bin
	}
	return "docker"
}

func (e *Docker) Exists(ctx context.Context, name string) (bool, error) {
	name = e.EngineBase.n(name)
	out, err := cmdexec.New(e.binName(), "inspect", "-f", "{{.Id}}", name).Run(ctx, nil, nil)
	if err != nil {
		return false, err
	}
	return out.Success(), nil
}

func (e *Docker) running(ctx context.Context, name string) (bool, error) {
	state, err := runOut(ctx, cmdexec.New(e.binName(), "inspect", "-f", "{{.State.Running}}", name))
	if err != nil {
		return false, err
	}
	return state == "true", nil
}

func (e *Docker) Setup(ctx context.Context, name string, action ExistsAction) error {
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
				return runQuiet(ctx, cmdexec.New(e.binName(), "start", name))
			}
			return nil
		}
	case ExistsReplace:
		if exists {
			if err := runQuiet(ctx, cmdexec.New(e.binName(), "rm", "-f", name)); err != nil {
				return err
			}
		}
	}

	run := cmdexec.New(e.binName(), "run", "-dt")
	if e.Memory != "" {
		run.Arg("--memory", e.Memory)
	}
	run.Arg("--name", name, e.Image)
	return runQuiet(ctx, run)
}

func (e *Docker) Teardown(ctx context.Context, name string) error {
	name = e.EngineBase.n(name)
	return runQuiet(ctx, cmdexec.New(e.binName(), "rm", "-f", name))
}

func (e *Docker) ShellCmd(name, command string) *cmdexec.Cmd {
	cmd := cmdexec.New(e.binName(), "exec", "-i")
	if e.User != "" {
		cmd.Arg("--user", e.User)
	}
	cmd.Arg(e.EngineBase.n(name), "sh", "-c", command)
	return cmd
}

func (e *Docker) ExecCmd(name string, args []string) *cmdexec.Cmd {
	return e.ShellCmd(name, quoteArgs(args))
}

func (e *Docker) PutFile(ctx context.Context, name, src, dst string) error {
	name = e.EngineBase.n(name)
	return runQuiet(ctx, cmdexec.New(e.binName(), "cp", src, name+":"+dst))
}

func (e *Docker) GetFile(ctx context.Context, name, src, dst string) error {
	name = e.EngineBase.n(name)
	return runQuiet(ctx, cmdexec.New(e.binName(), "cp", name+":"+src, dst))
}

func (e *Docker) Special(ctx context.Context, name, op string) error {
	name = e.EngineBase.n(name)
	switch op {
	case "restart":
		if err := runQuiet(ctx, cmdexec.New(e.binName(), "stop", name)); err != nil {
			return err
		}
		return runQuiet(ctx, cmdexec.New(e.binName(), "start", name))
	case "start":
		return runQuiet(ctx, cmdexec.New(e.binName(), "start", name))
	case "stop":
		return runQuiet(ctx, cmdexec.New(e.binName(), "stop", name))
	}
	return UnsupportedSpecial("docker", op)
}
