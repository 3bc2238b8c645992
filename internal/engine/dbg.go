package engine

import (
	"context"
	"fmt"

	"github.com/Obirvalger/lineup/internal/cmdexec"
)

// Dbg is a no-op engine that prints every call; useful to dry-run a
// manifest without touching anything.
type Dbg struct {
	EngineBase Base `mapstructure:",squash"`
}

func (e *Dbg) Variant() string { return "dbg" }
func (e *Dbg) Base() *Base     { return &e.EngineBase }

func (e *Dbg) Setup(ctx context.Context, name string, action ExistsAction) error {
	fmt.Printf("Worker %s: setup (exists=%s)\n", name, action)
	return nil
}

func (e *Dbg) Exists(ctx context.Context, name string) (bool, error) {
	fmt.Printf("Worker %s: exists\n", name)
	return false, nil
}

func (e *Dbg) Teardown(ctx context.Context, name string) error {
	fmt.Printf("Worker %s: teardown\n", name)
	return nil
}

func (e *Dbg) ShellCmd(name, command string) *cmdexec.Cmd {
	fmt.Printf("Worker %s: run shell command `%s`\n", name, command)
	return cmdexec.New("true")
}

func (e *Dbg) ExecCmd(name string, args []string) *cmdexec.Cmd {
	fmt.Printf("Worker %s: exec %q\n", name, args)
	return cmdexec.New("true")
}

func (e *Dbg) PutFile(ctx context.Context, name, src, dst string) error {
	fmt.Printf("Worker %s: upload file from %s to %s:%s\n", name, src, name, dst)
	return nil
}

func (e *Dbg) GetFile(ctx context.Context, name, src, dst string) error {
	fmt.Printf("Worker %s: download file from %s:%s to %s\n", name, name, src, dst)
	return nil
}

func (e *Dbg) Special(ctx context.Context, name, op string) error {
	fmt.Printf("Worker %s: %s\n", name, op)
	return nil
}
