// Package config loads the global configuration file from the lineup
// config directory.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/go-viper/mapstructure/v2"

	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/task"
	"github.com/Obirvalger/lineup/logging"
)

type CommandConfig struct {
	Check  bool           `koanf:"check"`
	Stdout task.CmdOutput `koanf:"stdout"`
	Stderr task.CmdOutput `koanf:"stderr"`
}

type TaskConfig struct {
	Command CommandConfig `koanf:"command"`
}

type ErrorConfig struct {
	Backtrace    bool `koanf:"backtrace"`
	Context      bool `koanf:"context"`
	ContextLines int  `koanf:"context-lines"`
}

type ItemsConfig struct {
	SeqInclusiveEnd bool `koanf:"seq-inclusive-end"`
}

type InitProfile struct {
	Manifest string                 `koanf:"manifest"`
	Render   bool                   `koanf:"render"`
	Vars     map[string]interface{} `koanf:"vars"`
}

type InitConfig struct {
	Profiles map[string]InitProfile `koanf:"profiles"`
}

type Config struct {
	LogLevel               logging.Level `koanf:"log-level"`
	InstallEmbeddedModules bool          `koanf:"install-embedded-modules"`
	Clean                  bool          `koanf:"clean"`
	Task                   TaskConfig    `koanf:"task"`
	Error                  ErrorConfig   `koanf:"error"`
	Items                  ItemsConfig   `koanf:"items"`
	Init                   InitConfig    `koanf:"init"`
}

// Dir is the lineup config directory under XDG_CONFIG_HOME.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "lineup")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "lineup")
	}
	return filepath.Join(home, ".config", "lineup")
}

// ModulesDir is where installed modules live.
func ModulesDir() string {
	return filepath.Join(Dir(), "modules")
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log-level":                "info",
		"install-embedded-modules": true,
		"clean":                    true,
		"task.command.check":       true,
		"task.command.stdout.log":  "trace",
		"task.command.stderr.log":  "warn",
		"error.backtrace":          true,
		"error.context":            true,
		"error.context-lines":      10,
		"items.seq-inclusive-end":  false,
	}
}

// Configure loads the config file over the built-in defaults. A missing
// file is fine; a malformed one is not.
func Configure() (*Config, error) {
	return load(filepath.Join(Dir(), "config.toml"))
}

func load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Wrap(errs.Parse, err, "failed to parse config `%s`", path)
		}
	}

	config := &Config{}
	err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           config,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.Parse, err, "failed to decode config `%s`", path)
	}
	return config, nil
}
