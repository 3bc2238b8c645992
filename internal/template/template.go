// Package template embeds the gonja engine and registers the lineup
// filters and functions on it. All manifest strings are rendered here.
package template

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/exec"
	"gopkg.in/yaml.v3"

	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/fsvar"
	"github.com/Obirvalger/lineup/internal/vars"
)

func init() {
	filters := gonja.DefaultEnvironment.Filters
	for name, fn := range map[string]exec.FilterFunction{
		"basename": filterBasename,
		"dirname":  filterDirname,
		"is_empty": filterIsEmpty,
		"lines":    filterLines,
		"json":     filterJson,
		"j":        filterJson,
		"quote":    filterQuote,
		"q":        filterQuote,
		"cond":     filterCond,
		"fs":       filterFs,
		"re_match": filterReMatch,
		"re_sub":   filterReSub,
	} {
		if err := filters.Register(name, fn); err != nil {
			panic(err)
		}
	}

	ctx := gonja.DefaultEnvironment.Context
	ctx.Set("confirm", fnConfirm)
	ctx.Set("input", fnInput)
	ctx.Set("fs", fnFs)
	ctx.Set("host_cmd", fnHostCmd)
	ctx.Set("tmpdir", fnTmpdir)
}

// fsStore is the store the fs filter/function read from; the runner
// installs it once the manifest directory is known.
var fsStore *fsvar.Store

func SetFsStore(store *fsvar.Store) {
	fsStore = store
}

// Render evaluates a template string against the scope. place names the
// manifest location for error messages.
func Render(sc *vars.Scope, text, place string) (string, error) {
	if !strings.Contains(text, "{{") && !strings.Contains(text, "{%") {
		return text, nil
	}
	tpl, err := gonja.FromString(text)
	if err != nil {
		return "", errs.Wrap(errs.Template, err, "failed to parse template in %s", place)
	}
	out, err := tpl.ExecuteToString(exec.NewContext(sc.Map()))
	if err != nil {
		return "", errs.Wrap(errs.Template, err, "failed to render template in %s", place)
	}
	return out, nil
}

// RenderValue renders every string leaf of a dynamic value in place.
func RenderValue(sc *vars.Scope, value interface{}, place string) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return Render(sc, v, place)
	case []interface{}:
		rendered := make([]interface{}, len(v))
		for i, item := range v {
			r, err := RenderValue(sc, item, place)
			if err != nil {
				return nil, err
			}
			rendered[i] = r
		}
		return rendered, nil
	case map[string]interface{}:
		rendered := make(map[string]interface{}, len(v))
		for key, item := range v {
			r, err := RenderValue(sc, item, place)
			if err != nil {
				return nil, err
			}
			rendered[key] = r
		}
		return rendered, nil
	}
	return value, nil
}

// RenderStrings renders a string slice element-wise.
func RenderStrings(sc *vars.Scope, ss []string, place string) ([]string, error) {
	rendered := make([]string, len(ss))
	for i, s := range ss {
		r, err := Render(sc, s, place)
		if err != nil {
			return nil, err
		}
		rendered[i] = r
	}
	return rendered, nil
}

// RenderVars applies each variable's kind to its value: render unless
// raw, parse json/yaml kinds, write fs kinds to the store, then check
// the declared type.
func RenderVars(ctx context.Context, sc *vars.Scope, vs vars.Vars, place string) (vars.Vars, error) {
	rendered := make(vars.Vars, 0, len(vs))
	for _, e := range vs {
		render := true
		if arg, ok := e.Var.KindArgs["render"]; ok {
			switch arg {
			case "true":
			case "false":
				render = false
			default:
				return nil, errs.New(errs.Parse,
					"kind argument `render` must be true or false, but get `%s`", arg)
			}
		}

		value := e.Value
		var err error
		if render && e.Var.Kind != vars.KindRaw {
			value, err = RenderValue(sc, value, "variables in "+place)
			if err != nil {
				return nil, err
			}
		}

		switch e.Var.Kind {
		case vars.KindJson:
			s, ok := value.(string)
			if !ok {
				return nil, errs.New(errs.TypeMismatch,
					"variable `%s` must be of type `string`", e.Var.Name)
			}
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				return nil, errs.Wrap(errs.Parse, err,
					"failed to parse json variable `%s`", e.Var.Name)
			}
			value = parsed
		case vars.KindYaml:
			s, ok := value.(string)
			if !ok {
				return nil, errs.New(errs.TypeMismatch,
					"variable `%s` must be of type `string`", e.Var.Name)
			}
			var parsed interface{}
			if err := yaml.Unmarshal([]byte(s), &parsed); err != nil {
				return nil, errs.Wrap(errs.Parse, err,
					"failed to parse yaml variable `%s`", e.Var.Name)
			}
			value = parsed
		case vars.KindFs:
			if fsStore == nil {
				return nil, errs.New(errs.Internal, "fs var store is not initialized")
			}
			if err := fsStore.Write(ctx, e.Var.Name, value); err != nil {
				return nil, err
			}
			value = e.Var.Name
		}

		if err := e.Var.CheckType(value); err != nil {
			return nil, err
		}
		rendered = append(rendered, vars.Entry{Var: e.Var, Value: value})
	}
	return rendered, nil
}

// RenderExtVars evaluates a task vars section. In the maps form every
// map sees the previous maps' results in scope; later maps override.
func RenderExtVars(ctx context.Context, sc *vars.Scope, ev vars.ExtVars, place string) (vars.Vars, error) {
	scope := sc.Clone()
	var merged vars.Vars
	for _, m := range ev.Maps {
		rendered, err := RenderVars(ctx, scope, m, place)
		if err != nil {
			return nil, err
		}
		scope.Extend(rendered.Context())
		merged = merged.Extend(rendered)
	}
	return merged, nil
}

// EvalBool interprets a rendered `if` gate: "true"/"1" and any
// non-empty string other than "false"/"0" are true.
func EvalBool(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "false", "0":
		return false
	}
	return true
}
