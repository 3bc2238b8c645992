// Package engine implements the worker backends. Every variant wraps
// its external CLI and exposes the fixed capability set: lifecycle,
// command construction, file transfer and special operations.
package engine

import (
	"context"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/mitchellh/mapstructure"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/template"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/logging"
)

// ExistsAction is the policy applied when the endpoint already exists.
type ExistsAction string

const (
	ExistsFail    ExistsAction = "fail"
	ExistsIgnore  ExistsAction = "ignore"
	ExistsReplace ExistsAction = "replace"
)

func ParseExistsAction(s string) (ExistsAction, error) {
	switch s {
	case "", "ignore":
		return ExistsIgnore, nil
	case "fail":
		return ExistsFail, nil
	case "replace":
		return ExistsReplace, nil
	}
	return ExistsIgnore, errs.New(errs.Parse, "unknown exists action `%s`", s)
}

// Base holds the engine fields common to all variants.
type Base struct {
	Name  string `mapstructure:"name"`
	Setup *bool  `mapstructure:"setup"`
}

// DoSetup reports whether the engine takes part in setup and teardown.
func (b *Base) DoSetup() bool {
	return b.Setup == nil || *b.Setup
}

// n resolves the endpoint name: the base override wins over the worker
// name.
func (b *Base) n(name string) string {
	if b.Name != "" {
		return b.Name
	}
	return name
}

// Engine is the backend capability set of §4.7. Run goes through
// ShellCmd/ExecCmd so the caller owns stream handling and success rules.
type Engine interface {
	Variant() string
	Base() *Base
	Setup(ctx context.Context, name string, action ExistsAction) error
	Exists(ctx context.Context, name string) (bool, error)
	Teardown(ctx context.Context, name string) error
	ShellCmd(name, command string) *cmdexec.Cmd
	ExecCmd(name string, args []string) *cmdexec.Cmd
	PutFile(ctx context.Context, name, src, dst string) error
	GetFile(ctx context.Context, name, src, dst string) error
	Special(ctx context.Context, name, op string) error
}

// IncusStorage is a manifest `storages` entry attached by the incus
// engine as a disk device.
type IncusStorage struct {
	Pool     string `mapstructure:"pool"`
	Path     string `mapstructure:"path"`
	Readonly bool   `mapstructure:"readonly"`
}

// IncusNetwork is a manifest `networks` entry the incus engine joins.
type IncusNetwork struct {
	Device  string `mapstructure:"device"`
	Network string `mapstructure:"network"`
	Address string `mapstructure:"address"`
}

// Deps carries the manifest sections engines may reference by name.
type Deps struct {
	Storages map[string]IncusStorage
	Networks map[string]IncusNetwork
}

// Descriptor is a worker's parsed engine section before rendering:
// the variant tag and its raw fields.
type Descriptor struct {
	Variant string
	Fields  map[string]interface{}
}

var variants = map[string]bool{
	"host": true, "dbg": true, "docker": true, "podman": true,
	"incus": true, "ssh": true, "vml": true,
}

// DecodeDescriptor parses a worker `engine` value: a variant string or
// a table with a single variant key.
func DecodeDescriptor(raw interface{}) (*Descriptor, error) {
	switch v := raw.(type) {
	case string:
		if !variants[v] {
			return nil, errs.New(errs.Parse, "unknown engine `%s`", v)
		}
		return &Descriptor{Variant: v, Fields: map[string]interface{}{}}, nil
	case map[string]interface{}:
		if len(v) != 1 {
			return nil, errs.New(errs.Parse, "engine table must have exactly one variant key")
		}
		for variant, fields := range v {
			if !variants[variant] {
				return nil, errs.New(errs.Parse, "unknown engine `%s`", variant)
			}
			fieldMap, ok := fields.(map[string]interface{})
			if !ok {
				return nil, errs.New(errs.Parse, "engine `%s` fields must be a table", variant)
			}
			return &Descriptor{Variant: variant, Fields: fieldMap}, nil
		}
	}
	return nil, errs.New(errs.Parse, "engine must be a variant name or a table")
}

func decodeFields(fields map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(fields); err != nil {
		return errs.Wrap(errs.Parse, err, "engine fields")
	}
	return nil
}

// Materialize renders the descriptor's string fields against the scope
// and builds the runtime engine.
func (d *Descriptor) Materialize(sc *vars.Scope, deps *Deps) (Engine, error) {
	rendered, err := template.RenderValue(sc, d.Fields, d.Variant+" engine in worker")
	if err != nil {
		return nil, err
	}
	fields := normalizeEngineAliases(rendered.(map[string]interface{}))
	if deps == nil {
		deps = &Deps{}
	}

	switch d.Variant {
	case "host":
		eng := &Host{}
		if err := decodeFields(fields, eng); err != nil {
			return nil, err
		}
		return eng, nil
	case "dbg":
		eng := &Dbg{}
		if err := decodeFields(fields, eng); err != nil {
			return nil, err
		}
		return eng, nil
	case "docker":
		eng := &Docker{}
		if err := decodeFields(fields, eng); err != nil {
			return nil, err
		}
		if eng.Image == "" {
			return nil, errs.New(errs.Parse, "docker engine requires `image`")
		}
		return eng, nil
	case "podman":
		eng := &Podman{}
		if err := decodeFields(fields, eng); err != nil {
			return nil, err
		}
		if eng.Image == "" {
			return nil, errs.New(errs.Parse, "podman engine requires `image`")
		}
		return eng, nil
	case "ssh":
		eng := &Ssh{}
		if err := decodeFields(fields, eng); err != nil {
			return nil, err
		}
		if eng.Host == "" {
			return nil, errs.New(errs.Parse, "ssh engine requires `host`")
		}
		return eng, nil
	case "incus":
		eng := &Incus{deps: deps}
		if err := decodeFields(fields, eng); err != nil {
			return nil, err
		}
		if eng.Image == "" {
			return nil, errs.New(errs.Parse, "incus engine requires `image`")
		}
		for _, name := range eng.Storages {
			if _, ok := deps.Storages[name]; !ok {
				return nil, errs.New(errs.Resolve, "storage `%s` is not defined", name)
			}
		}
		for _, name := range eng.Networks {
			if _, ok := deps.Networks[name]; !ok {
				return nil, errs.New(errs.Resolve, "network `%s` is not defined", name)
			}
		}
		return eng, nil
	case "vml":
		eng := &Vml{}
		if netRaw, ok := fields["net"]; ok {
			net, err := decodeVmlNet(netRaw)
			if err != nil {
				return nil, err
			}
			eng.Net = net
			delete(fields, "net")
		}
		if err := decodeFields(fields, eng); err != nil {
			return nil, err
		}
		return eng, nil
	}
	return nil, errs.New(errs.Parse, "unknown engine `%s`", d.Variant)
}

func normalizeEngineAliases(fields map[string]interface{}) map[string]interface{} {
	normalized := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		switch key {
		case "mem":
			key = "memory"
		case "vml_bin":
			key = "vml-bin"
		}
		normalized[key] = value
	}
	return normalized
}

// quoteArgs joins an argv into a single shell-safe command string for
// engines that only take shell commands.
func quoteArgs(args []string) string {
	return shellescape.QuoteCommand(args)
}

// runQuiet runs a backend CLI command and converts a bad exit into a
// Backend error carrying the captured stderr.
func runQuiet(ctx context.Context, cmd *cmdexec.Cmd) error {
	logging.Logw(logging.LevelDebug, "run engine cmd", "cmd", cmd.String())
	out, err := cmd.Run(ctx, nil, nil)
	if err != nil {
		return err
	}
	if !out.Success() {
		e := errs.New(errs.Backend, "engine command %s failed with code %d", cmd.String(), out.Rc())
		if stderr := strings.TrimSpace(out.Stderr()); stderr != "" {
			e = e.WithContext("stderr", stderr)
		}
		return e
	}
	return nil
}

// runOut runs a backend CLI command and returns its trimmed stdout.
func runOut(ctx context.Context, cmd *cmdexec.Cmd) (string, error) {
	logging.Logw(logging.LevelDebug, "run engine cmd", "cmd", cmd.String())
	out, err := cmd.Run(ctx, nil, nil)
	if err != nil {
		return "", err
	}
	if !out.Success() {
		return "", errs.New(errs.Backend,
			"engine command %s failed with code %d", cmd.String(), out.Rc())
	}
	return strings.TrimSpace(out.Stdout()), nil
}

// UnsupportedSpecial is the error engines return for special
// operations they cannot perform.
func UnsupportedSpecial(variant, op string) error {
	return errs.New(errs.Backend, "special task `%s` does not work on %s engine", op, variant)
}
