// Package vars implements variable definitions (`kind % name : type`),
// typed checks over dynamic values and the scoped environment tasks
// evaluate against.
package vars

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Obirvalger/lineup/internal/errs"
)

// Kind selects pre/post processing of an assigned value.
type Kind int

const (
	KindNothing Kind = iota
	KindFs
	KindJson
	KindRaw
	KindYaml
)

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "":
		return KindNothing, nil
	case "fs":
		return KindFs, nil
	case "json", "j":
		return KindJson, nil
	case "raw", "r":
		return KindRaw, nil
	case "yaml":
		return KindYaml, nil
	}
	return KindNothing, errs.New(errs.Parse, "unknown variable kind `%s`", s)
}

func (k Kind) String() string {
	switch k {
	case KindFs:
		return "fs"
	case KindJson:
		return "json"
	case KindRaw:
		return "raw"
	case KindYaml:
		return "yaml"
	}
	return ""
}

// Type is one alternative of a `|`-union type declaration.
type Type int

const (
	TypeBool Type = iota
	TypeNumber
	TypeU64
	TypeI64
	TypeF64
	TypeString
	TypeArray
	TypeObject
)

func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "bool", "b":
		return TypeBool, nil
	case "number", "n":
		return TypeNumber, nil
	case "u64", "u":
		return TypeU64, nil
	case "i64", "i":
		return TypeI64, nil
	case "f64", "f":
		return TypeF64, nil
	case "string", "s":
		return TypeString, nil
	case "array", "a":
		return TypeArray, nil
	case "object", "o":
		return TypeObject, nil
	}
	return TypeBool, errs.New(errs.Parse, "unknown variable type `%s`", s)
}

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeU64:
		return "u64"
	case TypeI64:
		return "i64"
	case TypeF64:
		return "f64"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	}
	return "object"
}

// Matches checks a dynamic value against the type. Integers arrive as
// int64 from TOML and as float64 from JSON; a float with integral value
// does not match the integer types, mirroring JSON number semantics.
func (t Type) Matches(value interface{}) bool {
	switch t {
	case TypeBool:
		_, ok := value.(bool)
		return ok
	case TypeNumber:
		switch value.(type) {
		case int, int64, uint64, float64:
			return true
		}
		return false
	case TypeU64:
		switch v := value.(type) {
		case uint64:
			return true
		case int:
			return v >= 0
		case int64:
			return v >= 0
		}
		return false
	case TypeI64:
		switch value.(type) {
		case int, int64:
			return true
		case uint64:
			return value.(uint64) <= 1<<63-1
		}
		return false
	case TypeF64:
		_, ok := value.(float64)
		return ok
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeArray:
		switch value.(type) {
		case []interface{}, []string:
			return true
		}
		return false
	case TypeObject:
		_, ok := value.(map[string]interface{})
		return ok
	}
	return false
}

// Var is a parsed variable definition.
type Var struct {
	Name     string
	Types    []Type
	Kind     Kind
	KindArgs map[string]string
}

var varRe = regexp.MustCompile(
	`^(?:(\w+)(?:\(([^)]+)\))?\s*%\s*)?([.\w]+)(?:\s*:\s*(\w+(?:\s*\|\s*\w+)*))?$`)

var kindArgSplitRe = regexp.MustCompile(`,\s*`)

// ParseVar parses a `[kind %] name [: type|type...]` definition string.
func ParseVar(s string) (*Var, error) {
	m := varRe.FindStringSubmatch(s)
	if m == nil {
		return nil, errs.New(errs.Parse, "could not parse variable `%s`", s)
	}
	kind, err := ParseKind(m[1])
	if err != nil {
		return nil, err
	}
	var kindArgs map[string]string
	if m[2] != "" {
		kindArgs = make(map[string]string)
		for _, arg := range kindArgSplitRe.Split(m[2], -1) {
			name, value, found := strings.Cut(arg, ":")
			if !found {
				return nil, errs.New(errs.Parse,
					"kind argument `%s` does not have ':' to delimit name", arg)
			}
			kindArgs[name] = value
		}
	}
	var types []Type
	if m[4] != "" {
		for _, t := range strings.FieldsFunc(m[4], func(r rune) bool {
			return r == ' ' || r == '|'
		}) {
			typ, err := ParseType(t)
			if err != nil {
				return nil, err
			}
			types = append(types, typ)
		}
	}
	return &Var{Name: m[3], Types: types, Kind: kind, KindArgs: kindArgs}, nil
}

func (v *Var) String() string {
	s := v.Name
	if v.Kind != KindNothing {
		s = v.Kind.String() + " % " + s
	}
	if len(v.Types) > 0 {
		names := make([]string, len(v.Types))
		for i, t := range v.Types {
			names[i] = t.String()
		}
		s = s + ": " + strings.Join(names, " | ")
	}
	return s
}

// CheckType verifies value against the declared union; an empty union
// accepts anything.
func (v *Var) CheckType(value interface{}) error {
	if len(v.Types) == 0 {
		return nil
	}
	for _, t := range v.Types {
		if t.Matches(value) {
			return nil
		}
	}
	names := make([]string, len(v.Types))
	for i, t := range v.Types {
		names[i] = t.String()
	}
	return errs.New(errs.TypeMismatch, "variable `%s` must be of type `%s`",
		v.Name, strings.Join(names, " | "))
}

// Entry is one variable definition with its (possibly unrendered) value.
type Entry struct {
	Var   *Var
	Value interface{}
}

// Vars is an ordered variable map; order is by name so rendering is
// deterministic.
type Vars []Entry

// FromMap builds Vars from a decoded TOML table, parsing definition keys.
func FromMap(m map[string]interface{}) (Vars, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vs := make(Vars, 0, len(m))
	for _, k := range keys {
		v, err := ParseVar(k)
		if err != nil {
			return nil, err
		}
		vs = append(vs, Entry{Var: v, Value: m[k]})
	}
	return vs, nil
}

// Extend appends other's entries, replacing same-name entries in place.
func (vs Vars) Extend(other Vars) Vars {
	result := append(Vars(nil), vs...)
	for _, e := range other {
		replaced := false
		for i := range result {
			if result[i].Var.Name == e.Var.Name {
				result[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			result = append(result, e)
		}
	}
	return result
}

// Context flattens names to values. Dotted names nest into objects.
func (vs Vars) Context() map[string]interface{} {
	ctx := make(map[string]interface{}, len(vs))
	for _, e := range vs {
		parts := strings.Split(e.Var.Name, ".")
		node := ctx
		for _, part := range parts[:len(parts)-1] {
			child := make(map[string]interface{})
			if existing, ok := node[part].(map[string]interface{}); ok {
				for k, v := range existing {
					child[k] = v
				}
			}
			node[part] = child
			node = child
		}
		node[parts[len(parts)-1]] = e.Value
	}
	return ctx
}

// ExtVars is a task `vars` section: either a plain map or an ordered
// list of maps (the extend form), each rendered with the prior maps in
// scope.
type ExtVars struct {
	Maps []Vars
}

// IsZero reports an absent vars section.
func (ev ExtVars) IsZero() bool {
	return len(ev.Maps) == 0
}

// FormatScalar renders a scalar variable value the way it appears when
// interpolated (items, worker names).
func FormatScalar(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	case int:
		return fmt.Sprintf("%d", v), nil
	case int64:
		return fmt.Sprintf("%d", v), nil
	case uint64:
		return fmt.Sprintf("%d", v), nil
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), "."), nil
	}
	return "", errs.New(errs.TypeMismatch, "value %v is not a scalar", value)
}
