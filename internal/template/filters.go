package template

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/nikolalohinski/gonja/v2/exec"
)

// scalarString converts a scalar filter input to its string form.
func scalarString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return fmt.Sprintf("%t", v), true
	case int:
		return fmt.Sprintf("%d", v), true
	case int64:
		return fmt.Sprintf("%d", v), true
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), "."), true
	}
	return "", false
}

func filterError(name, format string, args ...interface{}) *exec.Value {
	return exec.AsValue(fmt.Errorf("filter `%s`: "+format, append([]interface{}{name}, args...)...))
}

// checkArgs rejects positional arguments and unknown keyword arguments.
func checkArgs(name string, params *exec.VarArgs, allowed ...string) *exec.Value {
	if len(params.Args) > 0 {
		return filterError(name, "takes no positional arguments")
	}
	for kw := range params.KwArgs {
		known := false
		for _, a := range allowed {
			if kw == a {
				known = true
				break
			}
		}
		if !known {
			return filterError(name, "unknown argument `%s`", kw)
		}
	}
	return nil
}

func kwString(params *exec.VarArgs, name string) (string, bool, error) {
	v, ok := params.KwArgs[name]
	if !ok || v.IsNil() {
		return "", false, nil
	}
	s, ok := scalarString(v.Interface())
	if !ok {
		return "", false, fmt.Errorf("argument `%s` has wrong type", name)
	}
	return s, true, nil
}

func kwBool(params *exec.VarArgs, name string, fallback bool) (bool, error) {
	v, ok := params.KwArgs[name]
	if !ok || v.IsNil() {
		return fallback, nil
	}
	b, ok := v.Interface().(bool)
	if !ok {
		return false, fmt.Errorf("argument `%s` has wrong type", name)
	}
	return b, nil
}

func filterBasename(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if err := checkArgs("basename", params); err != nil {
		return err
	}
	s, ok := in.Interface().(string)
	if !ok {
		return filterError("basename", "value of not supported type")
	}
	return exec.AsValue(filepath.Base(s))
}

func filterDirname(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if err := checkArgs("dirname", params); err != nil {
		return err
	}
	s, ok := in.Interface().(string)
	if !ok {
		return filterError("dirname", "value of not supported type")
	}
	return exec.AsValue(filepath.Dir(s))
}

func filterIsEmpty(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if err := checkArgs("is_empty", params); err != nil {
		return err
	}
	switch v := in.Interface().(type) {
	case string:
		return exec.AsValue(v == "")
	case []interface{}:
		return exec.AsValue(len(v) == 0)
	case map[string]interface{}:
		return exec.AsValue(len(v) == 0)
	}
	return filterError("is_empty", "value of not supported type")
}

func filterLines(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if err := checkArgs("lines", params); err != nil {
		return err
	}
	s, ok := in.Interface().(string)
	if !ok {
		return filterError("lines", "value of not supported type")
	}
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return exec.AsValue([]interface{}{})
	}
	split := strings.Split(s, "\n")
	lines := make([]interface{}, len(split))
	for i, line := range split {
		lines[i] = line
	}
	return exec.AsValue(lines)
}

func filterJson(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if err := checkArgs("json", params, "pretty"); err != nil {
		return err
	}
	pretty, err := kwBool(params, "pretty", false)
	if err != nil {
		return exec.AsValue(err)
	}
	var data []byte
	var merr error
	if pretty {
		data, merr = json.MarshalIndent(in.Interface(), "", "  ")
	} else {
		data, merr = json.Marshal(in.Interface())
	}
	if merr != nil {
		return exec.AsValue(merr)
	}
	return exec.AsValue(string(data))
}

// quoteScalar shell-escapes strings; numbers and booleans pass through
// as their plain representation.
func quoteScalar(value interface{}) (string, error) {
	switch value.(type) {
	case string:
		return shellescape.Quote(value.(string)), nil
	}
	if s, ok := scalarString(value); ok {
		return s, nil
	}
	return "", fmt.Errorf("value of not supported type")
}

func filterQuote(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if err := checkArgs("quote", params, "sep"); err != nil {
		return err
	}
	sep, found, err := kwString(params, "sep")
	if err != nil {
		return exec.AsValue(err)
	}
	if !found {
		sep = " "
	}
	switch v := in.Interface().(type) {
	case []interface{}:
		quoted := make([]string, len(v))
		for i, item := range v {
			q, err := quoteScalar(item)
			if err != nil {
				return filterError("quote", "%v", err)
			}
			quoted[i] = q
		}
		return exec.AsValue(strings.Join(quoted, sep))
	default:
		q, err := quoteScalar(v)
		if err != nil {
			return filterError("quote", "%v", err)
		}
		return exec.AsValue(q)
	}
}

// filterCond picks a branch by its boolean input. Branches come as the
// if/else keyword arguments or as two positional ones.
func filterCond(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if len(params.Args) > 2 {
		return filterError("cond", "takes at most two positional arguments")
	}
	for kw := range params.KwArgs {
		if kw != "if" && kw != "else" {
			return filterError("cond", "unknown argument `%s`", kw)
		}
	}
	condition, ok := in.Interface().(bool)
	if !ok {
		return filterError("cond", "value of not supported type")
	}
	key := "else"
	index := 1
	if condition {
		key = "if"
		index = 0
	}
	if v, found := params.KwArgs[key]; found {
		return v
	}
	if len(params.Args) > index {
		return params.Args[index]
	}
	return exec.AsValue("")
}

func filterFs(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if err := checkArgs("fs", params); err != nil {
		return err
	}
	name, ok := in.Interface().(string)
	if !ok {
		return filterError("fs", "value of not supported type")
	}
	value, err := readFsVar(name)
	if err != nil {
		return exec.AsValue(err)
	}
	return exec.AsValue(value)
}

func readFsVar(name string) (interface{}, error) {
	if fsStore == nil {
		return nil, fmt.Errorf("fs var store is not initialized")
	}
	ctx := context.Background()
	exists, err := fsStore.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("fs variable `%s` does not exist", name)
	}
	return fsStore.Read(ctx, name)
}

func compileRe(params *exec.VarArgs) (*regexp.Regexp, error) {
	reStr, found, err := kwString(params, "re")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("required argument `re` is not set")
	}
	fix, err := kwBool(params, "fix", false)
	if err != nil {
		return nil, err
	}
	if fix {
		reStr = regexp.QuoteMeta(reStr)
	}
	return regexp.Compile(reStr)
}

func filterReMatch(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if err := checkArgs("re_match", params, "re", "fix"); err != nil {
		return err
	}
	re, err := compileRe(params)
	if err != nil {
		return exec.AsValue(err)
	}
	switch v := in.Interface().(type) {
	case []interface{}:
		matched := make([]interface{}, 0, len(v))
		for _, item := range v {
			s, ok := scalarString(item)
			if !ok {
				return filterError("re_match", "value of not supported type")
			}
			if re.MatchString(s) {
				matched = append(matched, item)
			}
		}
		return exec.AsValue(matched)
	default:
		s, ok := scalarString(v)
		if !ok {
			return filterError("re_match", "value of not supported type")
		}
		return exec.AsValue(re.MatchString(s))
	}
}

// replaceN substitutes the first n matches (all when n <= 0) expanding
// $N group references.
func replaceN(re *regexp.Regexp, s, repl string, n int) string {
	if n <= 0 {
		return re.ReplaceAllString(s, repl)
	}
	var b strings.Builder
	last := 0
	count := 0
	for _, m := range re.FindAllStringSubmatchIndex(s, -1) {
		if count >= n {
			break
		}
		b.WriteString(s[last:m[0]])
		b.Write(re.ExpandString(nil, repl, s, m))
		last = m[1]
		count++
	}
	b.WriteString(s[last:])
	return b.String()
}

func filterReSub(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if err := checkArgs("re_sub", params, "re", "str", "n", "fix", "matches_only"); err != nil {
		return err
	}
	re, err := compileRe(params)
	if err != nil {
		return exec.AsValue(err)
	}
	repl, found, err := kwString(params, "str")
	if err != nil {
		return exec.AsValue(err)
	}
	if !found {
		return filterError("re_sub", "required argument `str` is not set")
	}
	n := 0
	if v, ok := params.KwArgs["n"]; ok && !v.IsNil() {
		i, ok := v.Interface().(int)
		if !ok {
			return filterError("re_sub", "argument `n` has wrong type")
		}
		n = i
	}
	matchesOnly, err := kwBool(params, "matches_only", false)
	if err != nil {
		return exec.AsValue(err)
	}

	switch v := in.Interface().(type) {
	case []interface{}:
		result := make([]interface{}, 0, len(v))
		for _, item := range v {
			s, ok := scalarString(item)
			if !ok {
				return filterError("re_sub", "value of not supported type")
			}
			if !matchesOnly || re.MatchString(s) {
				result = append(result, replaceN(re, s, repl, n))
			}
		}
		return exec.AsValue(result)
	default:
		s, ok := scalarString(v)
		if !ok {
			return filterError("re_sub", "value of not supported type")
		}
		return exec.AsValue(replaceN(re, s, repl, n))
	}
}
