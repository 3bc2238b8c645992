package manifest

import (
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// Plan renders the fully resolved manifest as a canonical document:
// stable across serialize/reparse cycles, with use imports bound and
// defaults applied.
func (m *Manifest) Plan() map[string]interface{} {
	plan := make(map[string]interface{})

	if len(m.Vars) > 0 {
		varsSection := make(map[string]interface{}, len(m.Vars))
		for _, e := range m.Vars {
			varsSection[e.Var.String()] = e.Value
		}
		plan["vars"] = varsSection
	}

	if len(m.Workers) > 0 {
		workers := make(map[string]interface{}, len(m.Workers))
		for _, def := range m.Workers {
			worker := map[string]interface{}{
				"engine": map[string]interface{}{def.Engine.Variant: def.Engine.Fields},
			}
			if def.Setup != nil {
				worker["setup"] = *def.Setup
			}
			if def.Exists != "" {
				worker["exists"] = string(def.Exists)
			}
			workers[def.Name] = worker
		}
		plan["workers"] = workers
	}

	if len(m.Tasklines) > 0 {
		tasklines := make(map[string]interface{}, len(m.Tasklines))
		for name, line := range m.Tasklines {
			tasks := make([]interface{}, len(line))
			for i, elem := range line {
				entry := map[string]interface{}{"type": elem.Task.Body.Tag()}
				if elem.Name != "" {
					entry["name"] = elem.Name
				}
				tasks[i] = entry
			}
			tasklines[name] = tasks
		}
		plan["tasklines"] = tasklines
	}

	if len(m.Taskset) > 0 {
		names := make([]string, 0, len(m.Taskset))
		for name := range m.Taskset {
			names = append(names, name)
		}
		sort.Strings(names)
		taskset := make(map[string]interface{}, len(names))
		for _, name := range names {
			elem := m.Taskset[name]
			entry := map[string]interface{}{
				"type":    elem.Task.Body.Tag(),
				"workers": elem.Workers,
			}
			if len(elem.Requires) > 0 {
				entry["requires"] = elem.Requires
			}
			if len(elem.ProvideWorkers) > 0 {
				entry["provide-workers"] = elem.ProvideWorkers
			}
			taskset[name] = entry
		}
		plan["taskset"] = taskset
	}

	return plan
}

// MarshalPlan serializes the resolved plan; the plan of a reparse of
// this document equals the plan itself.
func (m *Manifest) MarshalPlan() ([]byte, error) {
	return toml.Marshal(m.Plan())
}
