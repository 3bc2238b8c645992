package task

import (
	"reflect"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/items"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/logging"
)

// bodyKeys are the recognized task type tags, in the order they are
// probed. `command` is the exec alias kept from older manifests.
var bodyKeys = []string{
	"shell", "exec", "command", "file", "get", "run", "run-taskline",
	"run-taskset", "run-lineup", "ensure", "test", "break", "dummy",
	"error", "debug", "info", "trace", "warn", "special",
}

var commonKeys = map[string]bool{
	"name":            true,
	"condition":       true,
	"if":              true,
	"items":           true,
	"items-var":       true,
	"table":           true,
	"parallel":        true,
	"clean-vars":      true,
	"vars":            true,
	"export-vars":     true,
	"try":             true,
	"requires":        true, // taskset-level, consumed by the manifest loader
	"workers":         true,
	"provide-workers": true,
}

func matchesHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(Matches{}) && to != reflect.TypeOf(&Matches{}) {
		return data, nil
	}
	// mapstructure re-invokes this hook when recursing into the
	// pointer's element after the first pass already produced a
	// *Matches/Matches value; pass it through unchanged.
	switch v := data.(type) {
	case Matches:
		if to == reflect.TypeOf(&Matches{}) {
			return &v, nil
		}
		return v, nil
	case *Matches:
		if to == reflect.TypeOf(Matches{}) {
			if v == nil {
				return Matches{}, nil
			}
			return *v, nil
		}
		return v, nil
	}
	m, err := DecodeMatches(data)
	if err != nil {
		return nil, err
	}
	if to == reflect.TypeOf(Matches{}) {
		return *m, nil
	}
	return m, nil
}

func decodeStrict(raw interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target,
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			matchesHook,
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return errs.Wrap(errs.Parse, err, "")
	}
	return nil
}

// cmdAliases maps short command parameter forms to the canonical keys.
var cmdAliases = map[string]string{
	"cmd": "command",
	"sc":  "success-codes",
	"sm":  "success-matches",
	"fm":  "failure-matches",
}

func normalizeKeys(raw map[string]interface{}, aliases map[string]string) map[string]interface{} {
	normalized := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		if canonical, ok := aliases[key]; ok {
			key = canonical
		}
		normalized[key] = value
	}
	return normalized
}

func asMap(raw interface{}, what string) (map[string]interface{}, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errs.New(errs.Parse, "%s must be a table", what)
	}
	return m, nil
}

func decodeBody(key string, raw interface{}) (Body, error) {
	switch key {
	case "shell":
		m, err := asMap(raw, "shell task")
		if err != nil {
			return nil, err
		}
		body := &Shell{}
		if err := decodeStrict(normalizeKeys(m, cmdAliases), body); err != nil {
			return nil, err
		}
		return body, nil
	case "exec", "command":
		m, err := asMap(raw, "exec task")
		if err != nil {
			return nil, err
		}
		body := &Exec{}
		if err := decodeStrict(normalizeKeys(m, cmdAliases), body); err != nil {
			return nil, err
		}
		return body, nil
	case "file":
		m, err := asMap(raw, "file task")
		if err != nil {
			return nil, err
		}
		m = normalizeKeys(m, map[string]string{
			"source": "src", "contents": "content",
			"dest": "dst", "destination": "dst",
		})
		body := &File{}
		_, body.HasContent = m["content"]
		if err := decodeStrict(m, body); err != nil {
			return nil, err
		}
		if body.Dst == "" {
			return nil, errs.New(errs.Parse, "file task requires `dst`")
		}
		if (body.Src == "") == !body.HasContent {
			return nil, errs.New(errs.Parse, "file task requires exactly one of `src` and `content`")
		}
		return body, nil
	case "get":
		m, err := asMap(raw, "get task")
		if err != nil {
			return nil, err
		}
		body := &Get{}
		if err := decodeStrict(normalizeKeys(m, map[string]string{
			"source": "src", "dest": "dst", "destination": "dst",
		}), body); err != nil {
			return nil, err
		}
		if body.Src == "" {
			return nil, errs.New(errs.Parse, "get task requires `src`")
		}
		return body, nil
	case "run":
		name, ok := raw.(string)
		if !ok {
			return nil, errs.New(errs.Parse, "run task must be a taskline name string")
		}
		return &Run{Taskline: name}, nil
	case "run-taskline":
		m, err := asMap(raw, "run-taskline task")
		if err != nil {
			return nil, err
		}
		body := &RunTaskline{}
		if err := decodeStrict(normalizeKeys(m, map[string]string{"tl": "taskline"}), body); err != nil {
			return nil, err
		}
		if body.Module != "" && body.File != "" {
			return nil, errs.New(errs.Parse, "run-taskline takes `module` or `file`, not both")
		}
		return body, nil
	case "run-taskset":
		return decodeRunTaskset(raw)
	case "run-lineup":
		m, err := asMap(raw, "run-lineup task")
		if err != nil {
			return nil, err
		}
		body := &RunLineup{}
		if err := decodeStrict(m, body); err != nil {
			return nil, err
		}
		if body.Manifest == "" {
			return nil, errs.New(errs.Parse, "run-lineup requires `manifest`")
		}
		return body, nil
	case "ensure":
		m, err := asMap(raw, "ensure task")
		if err != nil {
			return nil, err
		}
		body := &Ensure{}
		if err := decodeStrict(m, body); err != nil {
			return nil, err
		}
		return body, nil
	case "test":
		return decodeTest(raw)
	case "break":
		m, err := asMap(raw, "break task")
		if err != nil {
			return nil, err
		}
		body := &Break{}
		if err := decodeStrict(normalizeKeys(m, map[string]string{"tl": "taskline"}), body); err != nil {
			return nil, err
		}
		return body, nil
	case "dummy":
		m, err := asMap(raw, "dummy task")
		if err != nil {
			return nil, err
		}
		body := &Dummy{}
		if err := decodeStrict(m, body); err != nil {
			return nil, err
		}
		return body, nil
	case "error":
		m, err := asMap(raw, "error task")
		if err != nil {
			return nil, err
		}
		body := &ErrorTask{}
		if err := decodeStrict(m, body); err != nil {
			return nil, err
		}
		return body, nil
	case "debug", "info", "trace", "warn":
		m, err := asMap(raw, key+" task")
		if err != nil {
			return nil, err
		}
		body := &Log{}
		_, body.HasResult = m["result"]
		if err := decodeStrict(m, body); err != nil {
			return nil, err
		}
		level, err := logging.ParseLevel(key)
		if err != nil {
			return nil, err
		}
		body.Level = level
		return body, nil
	case "special":
		m, err := asMap(raw, "special task")
		if err != nil {
			return nil, err
		}
		body := &Special{}
		if err := decodeStrict(m, body); err != nil {
			return nil, err
		}
		if !body.Restart && !body.Start && !body.Stop {
			return nil, errs.New(errs.Parse, "special task requires restart, start or stop")
		}
		return body, nil
	}
	return nil, errs.New(errs.Parse, "unknown task type `%s`", key)
}

func decodeRunTaskset(raw interface{}) (Body, error) {
	m, err := asMap(raw, "run-taskset task")
	if err != nil {
		return nil, err
	}
	body := &RunTaskset{}
	for key, value := range m {
		switch key {
		case "module":
			body.Module, _ = value.(string)
		case "file":
			body.File, _ = value.(string)
		case "worker":
			switch w := value.(type) {
			case string:
				if w != "all" {
					return nil, errs.New(errs.Parse,
						"run-taskset worker string must be `all`, not `%s`", w)
				}
				body.Worker.All = true
			case map[string]interface{}:
				if names, ok := w["names"]; ok {
					list, ok := names.([]interface{})
					if !ok {
						return nil, errs.New(errs.Parse, "run-taskset worker names must be an array")
					}
					for _, item := range list {
						name, ok := item.(string)
						if !ok {
							return nil, errs.New(errs.Parse, "run-taskset worker name must be a string")
						}
						body.Worker.Names = append(body.Worker.Names, name)
					}
				} else if maps, ok := w["maps"]; ok {
					list, ok := maps.([]interface{})
					if !ok {
						return nil, errs.New(errs.Parse, "run-taskset worker maps must be an array")
					}
					for _, item := range list {
						pair, ok := item.([]interface{})
						if !ok || len(pair) != 2 {
							return nil, errs.New(errs.Parse,
								"run-taskset worker map must be a [from, to] pair")
						}
						from, fok := pair[0].(string)
						to, tok := pair[1].(string)
						if !fok || !tok {
							return nil, errs.New(errs.Parse,
								"run-taskset worker map entries must be strings")
						}
						body.Worker.Maps = append(body.Worker.Maps, [2]string{from, to})
					}
				} else {
					return nil, errs.New(errs.Parse, "run-taskset worker must have names or maps")
				}
			default:
				return nil, errs.New(errs.Parse, "run-taskset worker must be `all` or a table")
			}
		default:
			return nil, errs.New(errs.Parse, "unknown run-taskset key `%s`", key)
		}
	}
	if body.Module == "" && body.File == "" {
		return nil, errs.New(errs.Parse, "run-taskset requires `module` or `file`")
	}
	if !body.Worker.All && body.Worker.Names == nil && body.Worker.Maps == nil {
		body.Worker.All = true
	}
	return body, nil
}

func decodeTest(raw interface{}) (Body, error) {
	m, err := asMap(raw, "test task")
	if err != nil {
		return nil, err
	}
	m = normalizeKeys(m, map[string]string{"cmds": "commands"})
	body := &Test{}
	for key, value := range m {
		switch key {
		case "check":
			b, ok := value.(bool)
			if !ok {
				return nil, errs.New(errs.Parse, "test check must be a bool")
			}
			body.Check = &b
		case "commands":
			list, ok := value.([]interface{})
			if !ok {
				return nil, errs.New(errs.Parse, "test commands must be an array")
			}
			for _, item := range list {
				command, err := decodeTestCommand(item)
				if err != nil {
					return nil, err
				}
				body.Commands = append(body.Commands, command)
			}
		default:
			return nil, errs.New(errs.Parse, "unknown test key `%s`", key)
		}
	}
	if len(body.Commands) == 0 {
		return nil, errs.New(errs.Parse, "test task requires `commands`")
	}
	return body, nil
}

func decodeTestCommand(raw interface{}) (TestCommand, error) {
	switch v := raw.(type) {
	case string:
		return TestCommand{Shell: &Shell{Command: v}}, nil
	case []interface{}:
		args := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return TestCommand{}, errs.New(errs.Parse, "test argv element must be a string")
			}
			args[i] = s
		}
		return TestCommand{Exec: &Exec{Args: args}}, nil
	case map[string]interface{}:
		m := normalizeKeys(v, cmdAliases)
		if _, ok := m["args"]; ok {
			body := &Exec{}
			if err := decodeStrict(m, body); err != nil {
				return TestCommand{}, err
			}
			return TestCommand{Exec: body}, nil
		}
		body := &Shell{}
		if err := decodeStrict(m, body); err != nil {
			return TestCommand{}, err
		}
		return TestCommand{Shell: body}, nil
	}
	return TestCommand{}, errs.New(errs.Parse, "test command must be a string, an argv array or a table")
}

// DecodeExtVars parses a task `vars` section: a plain map or the
// ordered maps form.
func DecodeExtVars(raw interface{}) (vars.ExtVars, error) {
	switch v := raw.(type) {
	case nil:
		return vars.ExtVars{}, nil
	case map[string]interface{}:
		vs, err := vars.FromMap(v)
		if err != nil {
			return vars.ExtVars{}, err
		}
		return vars.ExtVars{Maps: []vars.Vars{vs}}, nil
	case []interface{}:
		ev := vars.ExtVars{}
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return vars.ExtVars{}, errs.New(errs.Parse, "vars list element must be a table")
			}
			vs, err := vars.FromMap(m)
			if err != nil {
				return vars.ExtVars{}, err
			}
			ev.Maps = append(ev.Maps, vs)
		}
		return ev, nil
	}
	return vars.ExtVars{}, errs.New(errs.Parse, "vars must be a table or a list of tables")
}

func decodeTry(raw interface{}) (*Try, error) {
	m, err := asMap(raw, "try")
	if err != nil {
		return nil, err
	}
	try := &Try{Sleep: 1.0}
	for key, value := range m {
		switch key {
		case "attempts":
			switch n := value.(type) {
			case int64:
				try.Attempts = int(n)
			case int:
				try.Attempts = n
			default:
				return nil, errs.New(errs.Parse, "try attempts must be an integer")
			}
		case "sleep":
			switch n := value.(type) {
			case int64:
				try.Sleep = float64(n)
			case int:
				try.Sleep = float64(n)
			case float64:
				try.Sleep = n
			default:
				return nil, errs.New(errs.Parse, "try sleep must be a number")
			}
		case "cleanup":
			cm, err := asMap(value, "try cleanup")
			if err != nil {
				return nil, err
			}
			taskRaw, ok := cm["task"]
			if !ok {
				return nil, errs.New(errs.Parse, "try cleanup requires `task`")
			}
			tm, err := asMap(taskRaw, "try cleanup task")
			if err != nil {
				return nil, err
			}
			cleanup, err := Decode(tm)
			if err != nil {
				return nil, err
			}
			try.Cleanup = cleanup
		default:
			return nil, errs.New(errs.Parse, "unknown try key `%s`", key)
		}
	}
	if try.Attempts < 1 {
		return nil, errs.New(errs.Parse, "try attempts must be at least 1")
	}
	return try, nil
}

// Decode parses one task table into the model. Exactly one body key
// must be present; unknown keys fail the parse.
func Decode(raw map[string]interface{}) (*Task, error) {
	t := &Task{}

	var foundKeys []string
	for _, key := range bodyKeys {
		if _, ok := raw[key]; ok {
			foundKeys = append(foundKeys, key)
		}
	}
	if len(foundKeys) == 0 {
		return nil, errs.New(errs.Parse, "task has no type key")
	}
	if len(foundKeys) > 1 {
		sort.Strings(foundKeys)
		return nil, errs.New(errs.Parse, "task has multiple type keys: %v", foundKeys)
	}
	body, err := decodeBody(foundKeys[0], raw[foundKeys[0]])
	if err != nil {
		return nil, err
	}
	t.Body = body

	for key, value := range raw {
		if key == foundKeys[0] {
			continue
		}
		switch key {
		case "name":
			t.Name, _ = value.(string)
		case "condition":
			s, ok := value.(string)
			if !ok {
				return nil, errs.New(errs.Parse, "task condition must be a string")
			}
			t.Condition = s
		case "if":
			s, ok := value.(string)
			if !ok {
				return nil, errs.New(errs.Parse, "task if must be a string")
			}
			t.If = s
		case "items":
			spec, err := items.Decode(value)
			if err != nil {
				return nil, err
			}
			t.Items = spec
		case "items-var":
			t.ItemsVar, _ = value.(string)
		case "table":
			list, ok := value.([]interface{})
			if !ok {
				return nil, errs.New(errs.Parse, "task table must be an array of tables")
			}
			for _, item := range list {
				row, ok := item.(map[string]interface{})
				if !ok {
					return nil, errs.New(errs.Parse, "task table row must be a table")
				}
				t.Table = append(t.Table, row)
			}
		case "parallel":
			b, ok := value.(bool)
			if !ok {
				return nil, errs.New(errs.Parse, "task parallel must be a bool")
			}
			t.Parallel = &b
		case "clean-vars":
			b, ok := value.(bool)
			if !ok {
				return nil, errs.New(errs.Parse, "task clean-vars must be a bool")
			}
			t.CleanVars = b
		case "vars":
			ev, err := DecodeExtVars(value)
			if err != nil {
				return nil, err
			}
			t.Vars = ev
		case "export-vars":
			list, ok := value.([]interface{})
			if !ok {
				return nil, errs.New(errs.Parse, "task export-vars must be an array")
			}
			for _, item := range list {
				name, ok := item.(string)
				if !ok {
					return nil, errs.New(errs.Parse, "task export-vars element must be a string")
				}
				t.ExportVars = append(t.ExportVars, name)
			}
		case "try":
			try, err := decodeTry(value)
			if err != nil {
				return nil, err
			}
			t.Try = try
		default:
			if !commonKeys[key] {
				return nil, errs.New(errs.Parse, "unknown task key `%s`", key)
			}
		}
	}
	return t, nil
}
