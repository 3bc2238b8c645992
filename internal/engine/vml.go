package engine

import (
	"context"

	"github.com/mitchellh/mapstructure"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/internal/errs"
)

// VmlNet is the vml network config: the string "user" or a tap table.
type VmlNet struct {
	User        bool
	Tap         string
	Address     string
	Gateway     string
	Nameservers []string
}

// Vml wraps the vml CLI managing lightweight virtual machines.
type Vml struct {
	VmlBin     string       `mapstructure:"vml-bin"`
	Image      string       `mapstructure:"image"`
	Memory     string       `mapstructure:"memory"`
	Nproc      string       `mapstructure:"nproc"`
	Parent     string       `mapstructure:"parent"`
	User       string       `mapstructure:"user"`
	Net        *VmlNet      `mapstructure:"net"`
	ExistsPolicy ExistsAction `mapstructure:"exists"`
	EngineBase Base         `mapstructure:",squash"`
}

func decodeVmlNet(raw interface{}) (*VmlNet, error) {
	switch v := raw.(type) {
	case string:
		if v != "user" {
			return nil, errs.New(errs.Parse, "vml net string must be `user`, not `%s`", v)
		}
		return &VmlNet{User: true}, nil
	case map[string]interface{}:
		net := &VmlNet{}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result: net, ErrorUnused: true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(v); err != nil {
			return nil, errs.Wrap(errs.Parse, err, "vml net")
		}
		if net.Tap == "" {
			return nil, errs.New(errs.Parse, "vml net tap requires `tap`")
		}
		return net, nil
	}
	return nil, errs.New(errs.Parse, "vml net must be `user` or a tap table")
}

func (e *Vml) Variant() string { return "vml" }
func (e *Vml) Base() *Base     { return &e.EngineBase }

func (e *Vml) vmlCmd() *cmdexec.Cmd {
	bin := e.VmlBin
	if bin == "" {
		bin = "vml"
	}
	return cmdexec.New(bin, "--log-level", "error")
}

// n resolves the machine name; a parent prefixes it as a path.
func (e *Vml) n(name string) string {
	name = e.EngineBase.n(name)
	if e.Parent != "" {
		return e.Parent + "/" + name
	}
	return name
}

func (e *Vml) Exists(ctx context.Context, name string) (bool, error) {
	out, err := runOut(ctx, e.vmlCmd().Arg("ls", "-n", e.n(name)))
	if err != nil {
		return false, nil
	}
	return out != "", nil
}

func (e *Vml) Setup(ctx context.Context, name string, action ExistsAction) error {
	if action == "" {
		action = e.ExistsPolicy
		if action == "" {
			action = ExistsIgnore
		}
	}

	run := e.vmlCmd().Arg("run")
	if e.Memory != "" {
		run.Arg("--memory", e.Memory)
	}
	if e.Nproc != "" {
		run.Arg("--nproc", e.Nproc)
	}
	if e.Image != "" {
		run.Arg("--image", e.Image)
	}
	if e.Net != nil {
		if e.Net.User {
			run.Arg("--net-user")
		} else {
			run.Arg("--net-tap", e.Net.Tap)
			if e.Net.Address != "" {
				run.Arg("--net-address", e.Net.Address)
			}
			if e.Net.Gateway != "" {
				run.Arg("--net-gateway", e.Net.Gateway)
			}
			if len(e.Net.Nameservers) > 0 {
				run.Arg("--net-nameservers")
				run.Arg(e.Net.Nameservers...)
			}
		}
	}
	switch action {
	case ExistsFail:
		run.Arg("--exists-fail", "--running-fail")
	case ExistsIgnore:
		run.Arg("--exists-ignore", "--running-ignore")
	case ExistsReplace:
		run.Arg("--exists-replace", "--running-restart")
	}
	run.Arg("--no-ssh", "-n", e.n(name))
	return runQuiet(ctx, run)
}

func (e *Vml) Teardown(ctx context.Context, name string) error {
	return runQuiet(ctx, e.vmlCmd().Arg("rm", "-f", "-n", e.n(name)))
}

func (e *Vml) ShellCmd(name, command string) *cmdexec.Cmd {
	cmd := e.vmlCmd().Arg("ssh", "--check")
	if e.User != "" {
		cmd.Arg("--user", e.User)
	}
	cmd.Arg("-c", command, "-n", e.n(name))
	return cmd
}

func (e *Vml) ExecCmd(name string, args []string) *cmdexec.Cmd {
	return e.ShellCmd(name, quoteArgs(args))
}

func (e *Vml) PutFile(ctx context.Context, name, src, dst string) error {
	cmd := e.vmlCmd().Arg("rsync-to")
	if e.User != "" {
		cmd.Arg("--user", e.User)
	}
	cmd.Arg("-s", src, "-d", dst, "-n", e.n(name))
	return runQuiet(ctx, cmd)
}

func (e *Vml) GetFile(ctx context.Context, name, src, dst string) error {
	cmd := e.vmlCmd().Arg("rsync-from")
	if e.User != "" {
		cmd.Arg("--user", e.User)
	}
	cmd.Arg("-s", src, "-d", dst, "-n", e.n(name))
	return runQuiet(ctx, cmd)
}

func (e *Vml) Special(ctx context.Context, name, op string) error {
	switch op {
	case "restart":
		if err := runQuiet(ctx, e.vmlCmd().Arg("stop", "-n", e.n(name))); err != nil {
			return err
		}
		return runQuiet(ctx, e.vmlCmd().Arg("start", "-n", e.n(name)))
	case "start":
		return runQuiet(ctx, e.vmlCmd().Arg("start", "-n", e.n(name)))
	case "stop":
		return runQuiet(ctx, e.vmlCmd().Arg("stop", "-n", e.n(name)))
	}
	return UnsupportedSpecial("vml", op)
}
