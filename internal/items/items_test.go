package items

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Obirvalger/lineup/internal/vars"
)

func list(t *testing.T, spec *Spec, sc *vars.Scope) []string {
	t.Helper()
	if sc == nil {
		sc = vars.NewScope()
	}
	items, err := spec.List(context.Background(), sc)
	require.NoError(t, err)
	return items
}

func TestItemsWords(t *testing.T) {
	spec, err := Decode([]interface{}{"a", int64(2), true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "2", "true"}, list(t, spec, nil))
}

func TestItemsSeq(t *testing.T) {
	data := []struct {
		name     string
		raw      map[string]interface{}
		expected []string
	}{
		{"end only", map[string]interface{}{"end": int64(3)}, []string{"0", "1", "2"}},
		{"start end", map[string]interface{}{"start": int64(1), "end": int64(4)},
			[]string{"1", "2", "3"}},
		{"step", map[string]interface{}{"start": int64(0), "end": int64(6), "step": int64(2)},
			[]string{"0", "2", "4"}},
		{"negative step", map[string]interface{}{"start": int64(3), "end": int64(0), "step": int64(-1)},
			[]string{"3", "2", "1"}},
		{"empty", map[string]interface{}{"start": int64(2), "end": int64(2)}, nil},
	}
	for _, tt := range data {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Decode(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, list(t, spec, nil))
		})
	}
}

func TestItemsSeqTemplatedBounds(t *testing.T) {
	sc := vars.NewScope()
	sc.Set("n", int64(3))
	spec, err := Decode(map[string]interface{}{"end": "{{ n }}"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, list(t, spec, sc))
}

func TestItemsSeqBadStep(t *testing.T) {
	for name, raw := range map[string]map[string]interface{}{
		"zero step":     {"end": int64(3), "step": int64(0)},
		"wrong sign":    {"start": int64(0), "end": int64(3), "step": int64(-1)},
		"wrong sign up": {"start": int64(3), "end": int64(0), "step": int64(1)},
	} {
		t.Run(name, func(t *testing.T) {
			spec, err := Decode(raw)
			require.NoError(t, err)
			_, err = spec.List(context.Background(), vars.NewScope())
			assert.Error(t, err)
		})
	}
}

func TestItemsSeqInclusiveEndFlag(t *testing.T) {
	SeqInclusiveEnd = true
	defer func() { SeqInclusiveEnd = false }()

	spec, err := Decode(map[string]interface{}{"start": int64(1), "end": int64(3)})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, list(t, spec, nil))
}

func TestItemsJson(t *testing.T) {
	spec, err := Decode(map[string]interface{}{"json": `[1, "two", null, true]`})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "two", "", "true"}, list(t, spec, nil))

	spec, err = Decode(map[string]interface{}{"json": `{"b": 1, "a": 2}`})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list(t, spec, nil))

	spec, err = Decode(map[string]interface{}{"json": `"scalar"`})
	require.NoError(t, err)
	_, err = spec.List(context.Background(), vars.NewScope())
	assert.Error(t, err)
}

func TestItemsVariable(t *testing.T) {
	sc := vars.NewScope()
	sc.Set("pkgs", []interface{}{"vim", "git"})
	spec, err := Decode(map[string]interface{}{"var": "pkgs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"vim", "git"}, list(t, spec, sc))

	spec, err = Decode(map[string]interface{}{"var": "absent"})
	require.NoError(t, err)
	_, err = spec.List(context.Background(), sc)
	assert.Error(t, err)
}

func TestItemsCommand(t *testing.T) {
	spec, err := Decode(map[string]interface{}{"command": "printf 'a\\nb\\n'"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list(t, spec, nil))

	spec, err = Decode(map[string]interface{}{"cmd": "true"})
	require.NoError(t, err)
	assert.Empty(t, list(t, spec, nil))

	spec, err = Decode(map[string]interface{}{"command": "false"})
	require.NoError(t, err)
	_, err = spec.List(context.Background(), vars.NewScope())
	assert.Error(t, err)
}

func TestItemsNonScalarWordRejected(t *testing.T) {
	spec, err := Decode([]interface{}{map[string]interface{}{"not": "scalar"}})
	require.NoError(t, err)
	_, err = spec.List(context.Background(), vars.NewScope())
	assert.Error(t, err)
}
