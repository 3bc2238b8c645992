package engine

import (
	"context"
	"strings"

	"github.com/Obirvalger/lineup/internal/cmdexec"
)

// Ssh wraps the ssh CLI; file transfer goes over rsync with the ssh
// command line as transport.
type Ssh struct {
	Host       string   `mapstructure:"host"`
	Port       string   `mapstructure:"port"`
	User       string   `mapstructure:"user"`
	Key        string   `mapstructure:"key"`
	SshCmd     []string `mapstructure:"ssh-cmd"`
	EngineBase Base     `mapstructure:",squash"`
}

func (e *Ssh) Variant() string { return "ssh" }
func (e *Ssh) Base() *Base     { return &e.EngineBase }

func (e *Ssh) sshCmd() []string {
	cmd := append([]string(nil), e.SshCmd...)
	if len(cmd) == 0 {
		cmd = []string{"ssh"}
	}
	if e.Key != "" {
		cmd = append(cmd, "-o", "IdentitiesOnly=yes", "-i", e.Key)
	}
	if e.Port != "" {
		cmd = append(cmd, "-p", e.Port)
	}
	return cmd
}

func (e *Ssh) fullHost() string {
	if e.User != "" {
		return e.User + "@" + e.Host
	}
	return e.Host
}

func (e *Ssh) Setup(ctx context.Context, name string, action ExistsAction) error {
	return nil
}

func (e *Ssh) Exists(ctx context.Context, name string) (bool, error) {
	return true, nil
}

func (e *Ssh) Teardown(ctx context.Context, name string) error {
	return nil
}

func (e *Ssh) ShellCmd(name, command string) *cmdexec.Cmd {
	cmd := cmdexec.FromArgs(e.sshCmd())
	cmd.Arg(e.fullHost(), command)
	return cmd
}

func (e *Ssh) ExecCmd(name string, args []string) *cmdexec.Cmd {
	return e.ShellCmd(name, quoteArgs(args))
}

func (e *Ssh) PutFile(ctx context.Context, name, src, dst string) error {
	transport := strings.Join(e.sshCmd(), " ")
	return runQuiet(ctx, cmdexec.New("rsync", "-e", transport, "-a", src, e.fullHost()+":"+dst))
}

func (e *Ssh) GetFile(ctx context.Context, name, src, dst string) error {
	transport := strings.Join(e.sshCmd(), " ")
	return runQuiet(ctx, cmdexec.New("rsync", "-e", transport, "-a", e.fullHost()+":"+src, dst))
}

func (e *Ssh) Special(ctx context.Context, name, op string) error {
	return UnsupportedSpecial("ssh", op)
}
