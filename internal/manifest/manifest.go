// Package manifest parses the declarative document into the data model
// and resolves use/extend/default into a concrete plan.
package manifest

import (
	"sort"

	"github.com/Obirvalger/lineup/internal/engine"
	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/items"
	"github.com/Obirvalger/lineup/internal/task"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/logging"
)

// TasklineElem is one task of a taskline with its display name.
type TasklineElem struct {
	Name string
	Task *task.Task
}

// Taskline is an ordered task sequence owned by name.
type Taskline []TasklineElem

// TasksetElem is one taskset entry: a task plus scheduling fields.
type TasksetElem struct {
	Requires       []string
	Workers        []string
	ProvideWorkers []string
	Task           *task.Task
}

// WorkerDef is a worker declaration before materialization.
type WorkerDef struct {
	Name        string
	Items       *items.Spec
	TableByItem []map[string]interface{}
	TableByName []map[string]interface{}
	Engine      *engine.Descriptor
	EngineName  string
	Setup       *bool
	Exists      engine.ExistsAction
}

// DefaultWorker supplies fallback worker fields.
type DefaultWorker struct {
	Items       *items.Spec
	TableByItem []map[string]interface{}
	TableByName []map[string]interface{}
	Engine      *engine.Descriptor
}

// Defaults is the manifest `default` section: worker fallbacks plus
// named engines referenced by `engine-name`.
type Defaults struct {
	Worker  DefaultWorker
	Engines map[string]*engine.Descriptor
}

// Extend holds the ordered variable maps of the `extend` section.
type Extend struct {
	VarsMaps []vars.Vars
}

// Manifest is a fully loaded document with its use imports bound.
type Manifest struct {
	Path string
	Dir  string

	Vars      vars.Vars
	Extend    Extend
	Defaults  Defaults
	Networks  map[string]engine.IncusNetwork
	Storages  map[string]engine.IncusStorage
	Workers   []*WorkerDef
	Tasklines map[string]Taskline
	Taskset   map[string]*TasksetElem

	LogLevel               *logging.Level
	Clean                  *bool
	InstallEmbeddedModules *bool
}

var knownSections = map[string]bool{
	"use": true, "vars": true, "networks": true, "storages": true,
	"workers": true, "default": true, "tasklines": true, "taskline": true,
	"taskset": true, "extend": true, "log-level": true, "clean": true,
	"install-embedded-modules": true, "init": true, "task": true, "error": true,
}

// WorkerNames returns the declared worker names sorted.
func (m *Manifest) WorkerNames() []string {
	names := make([]string, len(m.Workers))
	for i, w := range m.Workers {
		names[i] = w.Name
	}
	sort.Strings(names)
	return names
}

func decodeTaskline(raw interface{}, place string) (Taskline, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errs.New(errs.Parse, "%s must be an array of tasks", place)
	}
	line := make(Taskline, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.Parse, "task %d in %s must be a table", i, place)
		}
		t, err := task.Decode(m)
		if err != nil {
			return nil, err
		}
		line = append(line, TasklineElem{Name: t.Name, Task: t})
	}
	return line, nil
}

func decodeTaskset(raw interface{}) (map[string]*TasksetElem, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errs.New(errs.Parse, "taskset must be a table")
	}
	taskset := make(map[string]*TasksetElem, len(m))
	for name, entryRaw := range m {
		entry, ok := entryRaw.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.Parse, "taskset entry `%s` must be a table", name)
		}
		elem := &TasksetElem{Workers: []string{".*"}}
		if requires, ok := entry["requires"]; ok {
			list, err := stringList(requires, "taskset requires")
			if err != nil {
				return nil, err
			}
			elem.Requires = list
		}
		if workers, ok := entry["workers"]; ok {
			list, err := stringList(workers, "taskset workers")
			if err != nil {
				return nil, err
			}
			elem.Workers = list
		}
		if provide, ok := entry["provide-workers"]; ok {
			list, err := stringList(provide, "taskset provide-workers")
			if err != nil {
				return nil, err
			}
			elem.ProvideWorkers = list
		}
		t, err := task.Decode(entry)
		if err != nil {
			return nil, err
		}
		if t.Name == "" {
			t.Name = name
		}
		elem.Task = t
		taskset[name] = elem
	}
	return taskset, nil
}

func stringList(raw interface{}, place string) ([]string, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errs.New(errs.Parse, "%s must be an array", place)
	}
	result := make([]string, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, errs.New(errs.Parse, "%s element must be a string", place)
		}
		result[i] = s
	}
	return result, nil
}

func decodeTableRows(raw interface{}, place string) ([]map[string]interface{}, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errs.New(errs.Parse, "%s must be an array of tables", place)
	}
	rows := make([]map[string]interface{}, len(list))
	for i, item := range list {
		row, ok := item.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.Parse, "%s row must be a table", place)
		}
		rows[i] = row
	}
	return rows, nil
}

func decodeWorkerDef(name string, raw interface{}) (*WorkerDef, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errs.New(errs.Parse, "worker `%s` must be a table", name)
	}
	def := &WorkerDef{Name: name}
	for key, value := range m {
		var err error
		switch key {
		case "items":
			def.Items, err = items.Decode(value)
		case "table-by-item":
			def.TableByItem, err = decodeTableRows(value, "worker table-by-item")
		case "table-by-name":
			def.TableByName, err = decodeTableRows(value, "worker table-by-name")
		case "engine":
			def.Engine, err = engine.DecodeDescriptor(value)
		case "engine-name":
			def.EngineName, _ = value.(string)
		case "setup":
			b, ok := value.(bool)
			if !ok {
				return nil, errs.New(errs.Parse, "worker setup must be a bool")
			}
			def.Setup = &b
		case "exists":
			s, ok := value.(string)
			if !ok {
				return nil, errs.New(errs.Parse, "worker exists must be a string")
			}
			def.Exists, err = engine.ParseExistsAction(s)
		default:
			return nil, errs.New(errs.Parse, "unknown worker key `%s`", key)
		}
		if err != nil {
			return nil, err
		}
	}
	return def, nil
}

func decodeDefaults(raw interface{}) (Defaults, error) {
	defaults := Defaults{}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return defaults, errs.New(errs.Parse, "default section must be a table")
	}
	for key, value := range m {
		switch key {
		case "worker":
			wm, ok := value.(map[string]interface{})
			if !ok {
				return defaults, errs.New(errs.Parse, "default.worker must be a table")
			}
			for wkey, wvalue := range wm {
				var err error
				switch wkey {
				case "items":
					defaults.Worker.Items, err = items.Decode(wvalue)
				case "table-by-item":
					defaults.Worker.TableByItem, err = decodeTableRows(wvalue, "default table-by-item")
				case "table-by-name":
					defaults.Worker.TableByName, err = decodeTableRows(wvalue, "default table-by-name")
				case "engine":
					defaults.Worker.Engine, err = engine.DecodeDescriptor(wvalue)
				default:
					return defaults, errs.New(errs.Parse, "unknown default.worker key `%s`", wkey)
				}
				if err != nil {
					return defaults, err
				}
			}
		case "engines":
			em, ok := value.(map[string]interface{})
			if !ok {
				return defaults, errs.New(errs.Parse, "default.engines must be a table")
			}
			defaults.Engines = make(map[string]*engine.Descriptor, len(em))
			for ename, evalue := range em {
				desc, err := engine.DecodeDescriptor(evalue)
				if err != nil {
					return defaults, err
				}
				defaults.Engines[ename] = desc
			}
		default:
			return defaults, errs.New(errs.Parse, "unknown default key `%s`", key)
		}
	}
	return defaults, nil
}

func decodeExtend(raw interface{}) (Extend, error) {
	extend := Extend{}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return extend, errs.New(errs.Parse, "extend section must be a table")
	}
	varsRaw, ok := m["vars"]
	if !ok {
		return extend, nil
	}
	vm, ok := varsRaw.(map[string]interface{})
	if !ok {
		return extend, errs.New(errs.Parse, "extend.vars must be a table")
	}
	mapsRaw, ok := vm["maps"]
	if !ok {
		return extend, nil
	}
	list, ok := mapsRaw.([]interface{})
	if !ok {
		return extend, errs.New(errs.Parse, "extend.vars.maps must be an array of tables")
	}
	for _, item := range list {
		im, ok := item.(map[string]interface{})
		if !ok {
			return extend, errs.New(errs.Parse, "extend.vars.maps element must be a table")
		}
		vs, err := vars.FromMap(im)
		if err != nil {
			return extend, err
		}
		extend.VarsMaps = append(extend.VarsMaps, vs)
	}
	return extend, nil
}

func decodeIncusSections(raw interface{}, place string) (map[string]map[string]interface{}, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errs.New(errs.Parse, "%s must be a table", place)
	}
	result := make(map[string]map[string]interface{}, len(m))
	for name, value := range m {
		entry, ok := value.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.Parse, "%s `%s` must be a table", place, name)
		}
		result[name] = entry
	}
	return result, nil
}
