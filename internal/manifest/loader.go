package manifest

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"

	"github.com/Obirvalger/lineup/internal/engine"
	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/logging"
)

// Loader resolves manifests by canonical path. Loaded documents are
// registered once and referenced afterwards; a visiting set catches
// import cycles.
type Loader struct {
	modulesDir string
	registry   map[string]*Manifest
	visiting   map[string]bool
}

func NewLoader(modulesDir string) *Loader {
	return &Loader{
		modulesDir: modulesDir,
		registry:   make(map[string]*Manifest),
		visiting:   make(map[string]bool),
	}
}

// ResolveModule maps a module reference to a file path: absolute and
// dot-relative references are files, anything else names an installed
// module.
func (l *Loader) ResolveModule(module, dir string) string {
	if filepath.IsAbs(module) {
		return module
	}
	if strings.HasPrefix(module, ".") {
		return filepath.Join(dir, module)
	}
	return filepath.Join(l.modulesDir, module+".toml")
}

// Load parses and resolves the manifest at path.
func (l *Loader) Load(path string) (*Manifest, error) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.Wrap(errs.Resolve, err, "bad path to manifest `%s`", path)
	}
	if resolved, ok := l.registry[canonical]; ok {
		return resolved, nil
	}
	if l.visiting[canonical] {
		return nil, errs.New(errs.Resolve, "import cycle through manifest `%s`", canonical)
	}
	l.visiting[canonical] = true
	defer delete(l.visiting, canonical)

	data, err := os.ReadFile(canonical)
	if err != nil {
		return nil, errs.Wrap(errs.Resolve, err, "failed to read manifest `%s`", path)
	}
	m, err := l.parse(canonical, data)
	if err != nil {
		return nil, err
	}
	l.registry[canonical] = m
	return m, nil
}

func (l *Loader) parse(path string, data []byte) (*Manifest, error) {
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errs.Wrap(errs.Parse, err, "failed to parse manifest `%s`", path)
	}
	for key := range raw {
		if !knownSections[key] {
			return nil, errs.New(errs.Parse, "unknown section `%s` in manifest `%s`", key, path)
		}
	}

	m := &Manifest{
		Path:      path,
		Dir:       filepath.Dir(path),
		Tasklines: make(map[string]Taskline),
		Taskset:   make(map[string]*TasksetElem),
	}

	if value, ok := raw["vars"]; ok {
		vm, ok := value.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.Parse, "vars section must be a table")
		}
		vs, err := vars.FromMap(vm)
		if err != nil {
			return nil, err
		}
		m.Vars = vs
	}
	if value, ok := raw["extend"]; ok {
		extend, err := decodeExtend(value)
		if err != nil {
			return nil, err
		}
		m.Extend = extend
	}
	if value, ok := raw["default"]; ok {
		defaults, err := decodeDefaults(value)
		if err != nil {
			return nil, err
		}
		m.Defaults = defaults
	}
	if value, ok := raw["networks"]; ok {
		sections, err := decodeIncusSections(value, "networks")
		if err != nil {
			return nil, err
		}
		m.Networks = make(map[string]engine.IncusNetwork, len(sections))
		for name, fields := range sections {
			var network engine.IncusNetwork
			if err := weakDecode(fields, &network); err != nil {
				return nil, errs.Wrap(errs.Parse, err, "network `%s`", name)
			}
			m.Networks[name] = network
		}
	}
	if value, ok := raw["storages"]; ok {
		sections, err := decodeIncusSections(value, "storages")
		if err != nil {
			return nil, err
		}
		m.Storages = make(map[string]engine.IncusStorage, len(sections))
		for name, fields := range sections {
			var storage engine.IncusStorage
			if err := weakDecode(fields, &storage); err != nil {
				return nil, errs.Wrap(errs.Parse, err, "storage `%s`", name)
			}
			m.Storages[name] = storage
		}
	}
	if value, ok := raw["workers"]; ok {
		wm, ok := value.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.Parse, "workers section must be a table")
		}
		names := make([]string, 0, len(wm))
		for name := range wm {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			def, err := decodeWorkerDef(name, wm[name])
			if err != nil {
				return nil, err
			}
			m.Workers = append(m.Workers, def)
		}
	}
	if value, ok := raw["tasklines"]; ok {
		tm, ok := value.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.Parse, "tasklines section must be a table")
		}
		for name, lineRaw := range tm {
			line, err := decodeTaskline(lineRaw, "taskline `"+name+"`")
			if err != nil {
				return nil, err
			}
			m.Tasklines[name] = line
		}
	}
	if value, ok := raw["taskline"]; ok {
		line, err := decodeTaskline(value, "default taskline")
		if err != nil {
			return nil, err
		}
		if _, exists := m.Tasklines[""]; exists {
			return nil, errs.New(errs.Parse, "both taskline and tasklines.\"\" are defined")
		}
		m.Tasklines[""] = line
	}
	if value, ok := raw["taskset"]; ok {
		taskset, err := decodeTaskset(value)
		if err != nil {
			return nil, err
		}
		m.Taskset = taskset
	}
	if value, ok := raw["log-level"]; ok {
		s, ok := value.(string)
		if !ok {
			return nil, errs.New(errs.Parse, "log-level must be a string")
		}
		level, err := logging.ParseLevel(s)
		if err != nil {
			return nil, errs.Wrap(errs.Parse, err, "")
		}
		m.LogLevel = &level
	}
	if value, ok := raw["clean"]; ok {
		b, ok := value.(bool)
		if !ok {
			return nil, errs.New(errs.Parse, "clean must be a bool")
		}
		m.Clean = &b
	}
	if value, ok := raw["install-embedded-modules"]; ok {
		b, ok := value.(bool)
		if !ok {
			return nil, errs.New(errs.Parse, "install-embedded-modules must be a bool")
		}
		m.InstallEmbeddedModules = &b
	}

	if value, ok := raw["use"]; ok {
		if err := l.resolveUse(m, value); err != nil {
			return nil, err
		}
	}
	if err := applyWorkerDefaults(m); err != nil {
		return nil, err
	}
	return m, nil
}

func weakDecode(raw interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// useUnit is one parsed entry of the use section.
type useUnit struct {
	Module    string
	Prefix    *string
	Vars      []string
	Tasklines []string
	All       bool
}

func decodeUseUnit(raw interface{}) (*useUnit, error) {
	switch v := raw.(type) {
	case string:
		return &useUnit{Module: v, All: true}, nil
	case map[string]interface{}:
		unit := &useUnit{}
		for key, value := range v {
			switch key {
			case "module":
				unit.Module, _ = value.(string)
			case "prefix":
				s, ok := value.(string)
				if !ok {
					return nil, errs.New(errs.Parse, "use prefix must be a string")
				}
				unit.Prefix = &s
			case "vars":
				list, err := stringList(value, "use vars")
				if err != nil {
					return nil, err
				}
				unit.Vars = list
			case "tasklines", "items":
				list, err := stringList(value, "use tasklines")
				if err != nil {
					return nil, err
				}
				unit.Tasklines = list
			default:
				return nil, errs.New(errs.Parse, "unknown use key `%s`", key)
			}
		}
		if unit.Module == "" {
			return nil, errs.New(errs.Parse, "use entry requires `module`")
		}
		unit.All = unit.Vars == nil && unit.Tasklines == nil
		return unit, nil
	}
	return nil, errs.New(errs.Parse, "use entry must be a module string or a table")
}

var varsPrefixRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// resolveUse loads every imported module and binds the requested vars
// and tasklines under their prefixes.
func (l *Loader) resolveUse(m *Manifest, raw interface{}) error {
	list, ok := raw.([]interface{})
	if !ok {
		return errs.New(errs.Parse, "use section must be an array")
	}
	for _, item := range list {
		unit, err := decodeUseUnit(item)
		if err != nil {
			return err
		}
		path := l.ResolveModule(unit.Module, m.Dir)
		imported, err := l.Load(path)
		if err != nil {
			return errs.PushBacktrace(err, "use: "+unit.Module)
		}

		prefix := strings.ReplaceAll(
			strings.TrimSuffix(filepath.Base(unit.Module), ".toml"), "-", "_")
		if unit.Prefix != nil {
			prefix = *unit.Prefix
		}

		importVars := unit.Vars
		importTasklines := unit.Tasklines
		if unit.All {
			for _, e := range imported.Vars {
				importVars = append(importVars, e.Var.Name)
			}
			for name := range imported.Tasklines {
				importTasklines = append(importTasklines, name)
			}
			sort.Strings(importTasklines)
		}

		if len(importVars) > 0 && prefix != "" && !varsPrefixRe.MatchString(prefix) {
			return errs.New(errs.Resolve,
				"use prefix `%s` for vars must match [A-Za-z0-9_]+", prefix)
		}

		for _, name := range importVars {
			found := false
			for _, e := range imported.Vars {
				if e.Var.Name != name {
					continue
				}
				found = true
				bound := *e.Var
				if prefix != "" {
					bound.Name = prefix + "." + name
				}
				m.Vars = m.Vars.Extend(vars.Vars{{Var: &bound, Value: e.Value}})
				break
			}
			if !found {
				return errs.New(errs.Resolve,
					"cannot use var `%s` from `%s`", name, unit.Module)
			}
		}
		for _, name := range importTasklines {
			line, ok := imported.Tasklines[name]
			if !ok {
				return errs.New(errs.Resolve,
					"cannot use taskline `%s` from `%s`", name, unit.Module)
			}
			bound := name
			if prefix != "" {
				if name == "" {
					bound = prefix
				} else {
					bound = prefix + "." + name
				}
			}
			m.Tasklines[bound] = line
		}
	}
	return nil
}

// applyWorkerDefaults merges the default.worker fields and resolves
// engine-name references; worker uniqueness is checked here, item
// expansion may add more duplicates and is rechecked at
// materialization.
func applyWorkerDefaults(m *Manifest) error {
	seen := make(map[string]bool, len(m.Workers))
	for _, def := range m.Workers {
		if seen[def.Name] {
			return errs.New(errs.Resolve, "duplicate worker `%s`", def.Name)
		}
		seen[def.Name] = true

		if def.Items == nil {
			def.Items = m.Defaults.Worker.Items
		}
		if def.TableByItem == nil {
			def.TableByItem = m.Defaults.Worker.TableByItem
		}
		if def.TableByName == nil {
			def.TableByName = m.Defaults.Worker.TableByName
		}
		if def.Engine == nil && def.EngineName != "" {
			named, ok := m.Defaults.Engines[def.EngineName]
			if !ok {
				return errs.New(errs.Resolve,
					"engine `%s` of worker `%s` is not defined", def.EngineName, def.Name)
			}
			def.Engine = named
		}
		if def.Engine == nil {
			def.Engine = m.Defaults.Worker.Engine
		}
		if def.Engine == nil {
			return errs.New(errs.Resolve, "no engine provided to worker `%s`", def.Name)
		}
		if fallback := m.Defaults.Worker.Engine; fallback != nil &&
			def.Engine != fallback && def.Engine.Variant == fallback.Variant {
			fields := make(map[string]interface{}, len(def.Engine.Fields))
			for k, v := range def.Engine.Fields {
				fields[k] = v
			}
			if err := mergo.Merge(&fields, fallback.Fields); err != nil {
				return errs.Wrap(errs.Resolve, err, "merge default engine for worker `%s`", def.Name)
			}
			def.Engine = &engine.Descriptor{Variant: def.Engine.Variant, Fields: fields}
		}
	}
	return nil
}
