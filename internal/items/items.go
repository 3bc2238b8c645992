// Package items expands an `items` specification into the finite
// ordered value sequence bound as `item`.
package items

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/template"
	"github.com/Obirvalger/lineup/internal/vars"
)

// SeqInclusiveEnd flips {start,end,step} sequences to an inclusive end
// for sources that assumed that reading. Set from the global config.
var SeqInclusiveEnd = false

// Seq is a half-open integer sequence. Bounds may be template strings.
type Seq struct {
	Start interface{} `mapstructure:"start"`
	End   interface{} `mapstructure:"end"`
	Step  interface{} `mapstructure:"step"`
}

// Spec is one of the items forms: explicit words, an integer sequence,
// a json expression, a variable reference or a host command.
type Spec struct {
	Words   []interface{}
	Seq     *Seq
	Json    string
	Var     string
	Command string
}

// Decode parses a raw `items` value: an array is the words form, a
// table selects the form by its keys.
func Decode(raw interface{}) (*Spec, error) {
	switch v := raw.(type) {
	case []interface{}:
		return &Spec{Words: v}, nil
	case map[string]interface{}:
		normalized := make(map[string]interface{}, len(v))
		for key, value := range v {
			switch key {
			case "cmd":
				key = "command"
			case "var":
				key = "variable"
			}
			normalized[key] = value
		}
		if _, ok := normalized["end"]; ok {
			seq := &Seq{}
			decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
				Result: seq, ErrorUnused: true,
			})
			if err != nil {
				return nil, err
			}
			if err := decoder.Decode(normalized); err != nil {
				return nil, errs.Wrap(errs.Parse, err, "items sequence")
			}
			return &Spec{Seq: seq}, nil
		}
		if len(normalized) != 1 {
			return nil, errs.New(errs.Parse, "items table must have exactly one of json, variable or command")
		}
		for key, value := range normalized {
			s, ok := value.(string)
			if !ok {
				return nil, errs.New(errs.Parse, "items %s must be a string", key)
			}
			switch key {
			case "json":
				return &Spec{Json: s}, nil
			case "variable":
				return &Spec{Var: s}, nil
			case "command":
				return &Spec{Command: s}, nil
			}
			return nil, errs.New(errs.Parse, "unknown items key `%s`", key)
		}
	}
	return nil, errs.New(errs.Parse, "items must be an array or a table")
}

func seqBound(sc *vars.Scope, bound interface{}, field string, fallback int64) (int64, error) {
	switch v := bound.(type) {
	case nil:
		return fallback, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		rendered, err := template.Render(sc, v, "list items "+field)
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(rendered), 10, 64)
		if err != nil {
			return 0, errs.Wrap(errs.Parse, err, "items field `%s`", field)
		}
		return n, nil
	}
	return 0, errs.New(errs.Parse, "items field `%s` must be an integer or a string", field)
}

func scalarItem(value interface{}, place string) (string, error) {
	s, err := vars.FormatScalar(value)
	if err != nil {
		return "", errs.New(errs.TypeMismatch, "items %s has wrong type", place)
	}
	return s, nil
}

func fromDynamic(value interface{}, place string) ([]string, error) {
	switch v := value.(type) {
	case []interface{}:
		items := make([]string, len(v))
		for i, item := range v {
			s, err := scalarItem(item, place)
			if err != nil {
				return nil, err
			}
			items[i] = s
		}
		return items, nil
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, nil
	}
	return nil, errs.New(errs.TypeMismatch, "items %s has wrong type", place)
}

// List expands the spec against the scope.
func (s *Spec) List(ctx context.Context, sc *vars.Scope) ([]string, error) {
	switch {
	case s.Words != nil:
		items := make([]string, len(s.Words))
		for i, w := range s.Words {
			word, err := scalarItem(w, "word")
			if err != nil {
				return nil, err
			}
			items[i] = word
		}
		return items, nil

	case s.Seq != nil:
		start, err := seqBound(sc, s.Seq.Start, "start", 0)
		if err != nil {
			return nil, err
		}
		end, err := seqBound(sc, s.Seq.End, "end", 0)
		if err != nil {
			return nil, err
		}
		step, err := seqBound(sc, s.Seq.Step, "step", 1)
		if err != nil {
			return nil, err
		}
		if step == 0 {
			return nil, errs.New(errs.Parse, "items step must not be zero")
		}
		if end != start && (end > start) != (step > 0) {
			return nil, errs.New(errs.Parse,
				"items step %d disagrees with direction from %d to %d", step, start, end)
		}
		var items []string
		if step > 0 {
			for i := start; i < end || (SeqInclusiveEnd && i == end); i += step {
				items = append(items, strconv.FormatInt(i, 10))
			}
		} else {
			for i := start; i > end || (SeqInclusiveEnd && i == end); i += step {
				items = append(items, strconv.FormatInt(i, 10))
			}
		}
		return items, nil

	case s.Json != "":
		rendered, err := template.Render(sc, s.Json, "list items json")
		if err != nil {
			return nil, err
		}
		var value interface{}
		if err := json.Unmarshal([]byte(rendered), &value); err != nil {
			return nil, errs.Wrap(errs.Parse, err, "items json")
		}
		return fromDynamic(value, "json")

	case s.Var != "":
		name, err := template.Render(sc, s.Var, "list items variable")
		if err != nil {
			return nil, err
		}
		value, ok := sc.Get(name)
		if !ok {
			return nil, errs.New(errs.Resolve, "items variable `%s` is not set", name)
		}
		return fromDynamic(value, "variable `"+name+"`")

	case s.Command != "":
		command, err := template.Render(sc, s.Command, "list items command")
		if err != nil {
			return nil, err
		}
		out, err := cmdexec.New("sh", "-c", command).Run(ctx, nil, nil)
		if err != nil {
			return nil, err
		}
		if !out.Success() {
			return nil, errs.New(errs.CommandFailure,
				"items command `%s` failed with code %d", command, out.Rc())
		}
		stdout := strings.TrimSuffix(out.Stdout(), "\n")
		if stdout == "" {
			return nil, nil
		}
		return strings.Split(stdout, "\n"), nil
	}
	return nil, errs.New(errs.Internal, "empty items spec")
}
