package engine

import (
	"context"

	"github.com/Obirvalger/lineup/internal/cmdexec"
)

// Host runs commands on the invoking machine.
type Host struct {
	EngineBase Base `mapstructure:",squash"`
}

func (e *Host) Variant() string { return "host" }
func (e *Host) Base() *Base     { return &e.EngineBase }

func (e *Host) Setup(ctx context.Context, name string, action ExistsAction) error {
	return nil
}

func (e *Host) Exists(ctx context.Context, name string) (bool, error) {
	return true, nil
}

func (e *Host) Teardown(ctx context.Context, name string) error {
	return nil
}

func (e *Host) ShellCmd(name, command string) *cmdexec.Cmd {
	return cmdexec.New("sh", "-c", command)
}

func (e *Host) ExecCmd(name string, args []string) *cmdexec.Cmd {
	return cmdexec.FromArgs(args)
}

func (e *Host) PutFile(ctx context.Context, name, src, dst string) error {
	return runQuiet(ctx, cmdexec.New("cp", "-r", src, dst))
}

func (e *Host) GetFile(ctx context.Context, name, src, dst string) error {
	return runQuiet(ctx, cmdexec.New("cp", "-r", src, dst))
}

func (e *Host) Special(ctx context.Context, name, op string) error {
	return UnsupportedSpecial("host", op)
}
