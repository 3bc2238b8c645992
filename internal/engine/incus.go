package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/internal/errs"
)

// Incus wraps the incus CLI. Storages and networks name entries of the
// manifest sections; they are attached at setup.
type Incus struct {
	Image      string       `mapstructure:"image"`
	Memory     string       `mapstructure:"memory"`
	VM         bool         `mapstructure:"vm"`
	User       string       `mapstructure:"user"`
	Nproc      string       `mapstructure:"nproc"`
	ExistsPolicy ExistsAction `mapstructure:"exists"`
	Storages   []string     `mapstructure:"storages"`
	Networks   []string     `mapstructure:"networks"`
	EngineBase Base         `mapstructure:",squash"`

	deps *Deps
}

func (e *Incus) Variant() string { return "incus" }
func (e *Incus) Base() *Base     { return &e.EngineBase }

func (e *Incus) Exists(ctx context.Context, name string) (bool, error) {
	name = e.EngineBase.n(name)
	out, err := runOut(ctx, cmdexec.New("incus", "ls", "-f", "json", "name="+name))
	if err != nil {
		return false, err
	}
	return out != "[]", nil
}

func (e *Incus) stopped(ctx context.Context, name string) (bool, error) {
	out, err := runOut(ctx, cmdexec.New("incus", "ls", "-f", "json", "status=stopped", "name="+name))
	if err != nil {
		return false, err
	}
	return out != "[]", nil
}

func (e *Incus) Setup(ctx context.Context, name string, action ExistsAction) error {
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
			return errs.New(errs.Backend, "worker instance `%s` already exists", name)
		}
	case ExistsIgnore:
		if exists {
			stopped, err := e.stopped(ctx, name)
			if err != nil {
				return err
			}
			if stopped {
				return runQuiet(ctx, cmdexec.New("incus", "start", name))
			}
			return nil
		}
	case ExistsReplace:
		if exists {
			if err := runQuiet(ctx, cmdexec.New("incus", "delete", "-qf", name)); err != nil {
				return err
			}
		}
	}

	initCmd := cmdexec.New("incus", "init", "-q", "images:"+e.Image, name)
	if e.VM {
		initCmd.Arg("--vm")
	}
	if err := runQuiet(ctx, initCmd); err != nil {
		return err
	}
	if e.Memory != "" {
		err := runQuiet(ctx, cmdexec.New("incus", "config", "set", name, "limits.memory="+e.Memory))
		if err != nil {
			return err
		}
	}
	if e.Nproc != "" {
		err := runQuiet(ctx, cmdexec.New("incus", "config", "set", name, "limits.cpu="+e.Nproc))
		if err != nil {
			return err
		}
	}

	for _, netName := range e.Networks {
		net := e.deps.Networks[netName]
		device := net.Device
		if device == "" {
			device = "eth0"
		}
		network := net.Network
		if network == "" {
			network = netName
		}
		err := runQuiet(ctx, cmdexec.New("incus", "network", "attach", network, name, device, device))
		if err != nil {
			return err
		}
		if net.Address != "" {
			err := runQuiet(ctx, cmdexec.New("incus", "config", "device", "set",
				name, device, "ipv4.address="+net.Address))
			if err != nil {
				return err
			}
		}
	}

	for _, volume := range e.Storages {
		storage := e.deps.Storages[volume]
		add := cmdexec.New("incus", "config", "device", "add", "-q", name, volume, "disk",
			"path="+storage.Path, fmt.Sprintf("pool=%s", storage.Pool),
			fmt.Sprintf("source=%s", volume))
		if storage.Readonly {
			add.Arg("readonly=true")
		}
		if err := runQuiet(ctx, add); err != nil {
			return err
		}
	}

	return runQuiet(ctx, cmdexec.New("incus", "start", name))
}

func (e *Incus) Teardown(ctx context.Context, name string) error {
	name = e.EngineBase.n(name)
	exists, err := e.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return runQuiet(ctx, cmdexec.New("incus", "rm", "-qf", name))
}

func (e *Incus) userFlags(ctx context.Context, name string, cmd *cmdexec.Cmd) {
	if e.User == "" {
		return
	}
	id := fmt.Sprintf("echo $(id -u %[1]s):$(id -g %[1]s)", e.User)
	uidGid, err := runOut(ctx, cmdexec.New("incus", "exec", name, "--user", "65534", "--",
		"sh", "-c", id))
	if err != nil {
		return
	}
	if uid, gid, found := strings.Cut(uidGid, ":"); found {
		cmd.Arg("--user", uid, "--group", gid)
	}
}

func (e *Incus) ShellCmd(name, command string) *cmdexec.Cmd {
	cmd := cmdexec.New("incus", "exec", e.EngineBase.n(name))
	e.userFlags(context.Background(), e.EngineBase.n(name), cmd)
	cmd.Arg("--", "sh", "-c", command)
	return cmd
}

func (e *Incus) ExecCmd(name string, args []string) *cmdexec.Cmd {
	cmd := cmdexec.New("incus", "exec", e.EngineBase.n(name))
	e.userFlags(context.Background(), e.EngineBase.n(name), cmd)
	cmd.Arg("--")
	cmd.Arg(args...)
	return cmd
}

// stripSameNameDst drops the destination basename when it matches the
// source one; incus in recursive mode treats the destination as the
// target directory.
func stripSameNameDst(src, dst string) string {
	if filepath.Base(src) == filepath.Base(dst) {
		return filepath.Dir(dst)
	}
	return dst
}

func (e *Incus) PutFile(ctx context.Context, name, src, dst string) error {
	name = e.EngineBase.n(name)
	cmd := cmdexec.New("incus", "file", "push")
	if info, err := os.Stat(src); err == nil && info.IsDir() {
		cmd.Arg("-r")
		dst = stripSameNameDst(src, dst)
	}
	cmd.Arg(src, name+"/"+dst)
	return runQuiet(ctx, cmd)
}

func (e *Incus) GetFile(ctx context.Context, name, src, dst string) error {
	name = e.EngineBase.n(name)
	srcDir := runQuiet(ctx, cmdexec.New("incus", "exec", name, "--", "test", "-d", src)) == nil
	cmd := cmdexec.New("incus", "file", "pull")
	if srcDir {
		cmd.Arg("-r")
		dst = stripSameNameDst(src, dst)
	}
	cmd.Arg(name+"/"+src, dst)
	return runQuiet(ctx, cmd)
}

func (e *Incus) Special(ctx context.Context, name, op string) error {
	name = e.EngineBase.n(name)
	switch op {
	case "restart":
		if err := runQuiet(ctx, cmdexec.New("incus", "stop", name)); err != nil {
			return err
		}
		return runQuiet(ctx, cmdexec.New("incus", "start", name))
	case "start":
		return runQuiet(ctx, cmdexec.New("incus", "start", name))
	case "stop":
		return runQuiet(ctx, cmdexec.New("incus", "stop", name))
	}
	return UnsupportedSpecial("incus", op)
}
