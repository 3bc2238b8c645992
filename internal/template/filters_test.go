package template

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/internal/vars"
)

func render(t *testing.T, text string, bindings map[string]interface{}) string {
	t.Helper()
	sc := vars.NewScope()
	sc.Extend(bindings)
	out, err := Render(sc, text, "test")
	require.NoError(t, err)
	return out
}

func renderErr(t *testing.T, text string, bindings map[string]interface{}) error {
	t.Helper()
	sc := vars.NewScope()
	sc.Extend(bindings)
	_, err := Render(sc, text, "test")
	require.Error(t, err)
	return err
}

func TestFilterBasename(t *testing.T) {
	assert.Equal(t, "share", render(t, `{{ "/usr/share" | basename }}`, nil))
}

func TestFilterDirname(t *testing.T) {
	assert.Equal(t, "/usr", render(t, `{{ "/usr/share" | dirname }}`, nil))
}

func TestFilterCond(t *testing.T) {
	data := []struct {
		name     string
		template string
		expected string
	}{
		{"true if", `{{ flag | cond("--now") }}`, "--now"},
		{"false else", `{{ noflag | cond("--now", "--never") }}`, "--never"},
		{"true if else", `{{ flag | cond("--now", "--never") }}`, "--now"},
		{"false if", `{{ noflag | cond("--now") }}`, ""},
	}
	bindings := map[string]interface{}{"flag": true, "noflag": false}
	for _, tt := range data {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, render(t, tt.template, bindings))
		})
	}
}

func TestFilterCondNotBool(t *testing.T) {
	renderErr(t, `{{ 1 | cond("a") }}`, nil)
}

func TestFilterIsEmpty(t *testing.T) {
	bindings := map[string]interface{}{
		"empty":  []interface{}{},
		"filled": []interface{}{"x"},
	}
	assert.Equal(t, "True", render(t, `{{ empty | is_empty }}`, bindings))
	assert.Equal(t, "False", render(t, `{{ filled | is_empty }}`, bindings))
	assert.Equal(t, "True", render(t, `{{ "" | is_empty }}`, nil))
}

func TestFilterLines(t *testing.T) {
	bindings := map[string]interface{}{"text": "a\nb\nc\n"}
	assert.Equal(t, "3", render(t, `{{ text | lines | length }}`, bindings))
	assert.Equal(t, "a,b,c", render(t, `{{ text | lines | join(",") }}`, bindings))
}

func TestFilterJson(t *testing.T) {
	bindings := map[string]interface{}{"value": map[string]interface{}{"a": int64(1)}}
	assert.Equal(t, `{"a":1}`, render(t, `{{ value | json }}`, bindings))
	assert.Equal(t, `{"a":1}`, render(t, `{{ value | j }}`, bindings))
}

func TestFilterQuoteScalars(t *testing.T) {
	data := []struct {
		name     string
		template string
		expected string
	}{
		{"number", `{{ 8 | quote }}`, "8"},
		{"plain string", `{{ "str" | quote }}`, "str"},
		{"dollar", `{{ "$HOME" | quote }}`, `'$HOME'`},
		{"spaces", `{{ "one two" | quote }}`, `'one two'`},
		{"backticks", "{{ \"`date`\" | quote }}", "'`date`'"},
		{"alias", `{{ "$HOME" | q }}`, `'$HOME'`},
	}
	for _, tt := range data {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, render(t, tt.template, nil))
		})
	}
}

// quote of any scalar must survive a round trip through a POSIX shell.
func TestFilterQuoteShellRoundTrip(t *testing.T) {
	for _, s := range []string{"plain", "$HOME", "one two", `q"q`, "`date`", "echo 1 | cat", "can't"} {
		quoted := render(t, `{{ s | quote }}`, map[string]interface{}{"s": s})
		out, err := cmdexec.New("sh", "-c", "printf %s "+quoted).Run(context.Background(), nil, nil)
		require.NoError(t, err)
		require.True(t, out.Success())
		assert.Equal(t, s, out.Stdout())
	}
}

func TestFilterQuoteArray(t *testing.T) {
	bindings := map[string]interface{}{
		"args":  []interface{}{"echo", "$?"},
		"words": []interface{}{"docker", "vmusers"},
	}
	assert.Equal(t, `echo '$?'`, render(t, `{{ args | quote }}`, bindings))
	assert.Equal(t, "docker,vmusers", render(t, `{{ words | quote(sep=",") }}`, bindings))
}

// quote of an array round-trips through `sh -c 'printf "%s\n" "$@"' _`.
func TestFilterQuoteArrayShellRoundTrip(t *testing.T) {
	args := []interface{}{"one", "two words", "$HOME", "a'b"}
	quoted := render(t, `{{ args | quote }}`, map[string]interface{}{"args": args})
	out, err := cmdexec.New("sh", "-c", `printf '%s\n' `+quoted).Run(context.Background(), nil, nil)
	require.NoError(t, err)
	require.True(t, out.Success())
	expected := make([]string, len(args))
	for i, a := range args {
		expected[i] = a.(string)
	}
	assert.Equal(t, strings.Join(expected, "\n")+"\n", out.Stdout())
}

func TestFilterReMatch(t *testing.T) {
	data := []struct {
		name     string
		template string
		expected string
	}{
		{"match", `{{ "version: 1.2-3" | re_match(re="1.2.3") }}`, "True"},
		{"not match", `{{ "version: 1.2-3" | re_match(re="1.23") }}`, "False"},
		{"number input", `{{ 1 | re_match(re="[0-9]") }}`, "True"},
		{"fixed string", `{{ "+" | re_match(re="+", fix=true) }}`, "True"},
	}
	for _, tt := range data {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, render(t, tt.template, nil))
		})
	}
}

func TestFilterReMatchArray(t *testing.T) {
	bindings := map[string]interface{}{"list": []interface{}{"version: 1.2-3", "12"}}
	assert.Equal(t, "version: 1.2-3",
		render(t, `{{ list | re_match(re="1.2.3") | join("|") }}`, bindings))
	assert.Equal(t, "", render(t, `{{ list | re_match(re="1.23") | join("|") }}`, bindings))
}

func TestFilterReMatchNoRe(t *testing.T) {
	renderErr(t, `{{ "x" | re_match }}`, nil)
}

func TestFilterReSub(t *testing.T) {
	data := []struct {
		name     string
		template string
		expected string
	}{
		{"one str", `{{ "version: 1.2-3" | re_sub(re="1.2.3", str="VER") }}`, "version: VER"},
		{"number", `{{ 1 | re_sub(re="1", str="ONE") }}`, "ONE"},
		{"fixed", `{{ "+" | re_sub(re="+", str="plus", fix=true) }}`, "plus"},
		{"group refs", `{{ "ab" | re_sub(re="(a)(b)", str="${2}${1}") }}`, "ba"},
		{"first n", `{{ "aaa" | re_sub(re="a", str="b", n=2) }}`, "bba"},
	}
	for _, tt := range data {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, render(t, tt.template, nil))
		})
	}
}

func TestFilterReSubArray(t *testing.T) {
	bindings := map[string]interface{}{"list": []interface{}{"version: 1.2-3", "12"}}
	assert.Equal(t, "version: VER|12",
		render(t, `{{ list | re_sub(re="1.2.3", str="VER") | join("|") }}`, bindings))
	assert.Equal(t, "version: VER",
		render(t, `{{ list | re_sub(re="1.2.3", str="VER", matches_only=true) | join("|") }}`, bindings))
}

// re_sub is idempotent when the replacement does not match the regex.
func TestFilterReSubIdempotent(t *testing.T) {
	once := render(t, `{{ "aXa" | re_sub(re="X", str="y") }}`, nil)
	twice := render(t, `{{ s | re_sub(re="X", str="y") }}`, map[string]interface{}{"s": once})
	assert.Equal(t, once, twice)
}

func TestFilterUnknownArgRejected(t *testing.T) {
	renderErr(t, `{{ "x" | basename(bogus=1) }}`, nil)
	renderErr(t, `{{ "x" | re_sub(re="x", str="y", wat=1) }}`, nil)
}
