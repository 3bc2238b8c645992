// Package files installs the embedded default config and modules into
// the lineup config directory.
package files

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Obirvalger/lineup/internal/errs"
)

//go:embed embedded
var embedded embed.FS

// InstallMainConfig writes the default config.toml unless one exists.
func InstallMainConfig(configDir string) error {
	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := embedded.ReadFile("embedded/config.toml")
	if err != nil {
		return errs.Wrap(errs.Internal, err, "embedded config")
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return errs.Wrap(errs.Backend, err, "create config dir")
	}
	return os.WriteFile(path, data, 0o644)
}

// InstallModules (re)installs the embedded module tree under the config
// directory.
func InstallModules(configDir string) error {
	return fs.WalkDir(embedded, "embedded/modules", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel("embedded", path)
		if err != nil {
			return err
		}
		target := filepath.Join(configDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := embedded.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
