package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMatches(t *testing.T, raw map[string]interface{}) *Matches {
	t.Helper()
	m, err := DecodeMatches(raw)
	require.NoError(t, err)
	return m
}

func TestMatchesLeaves(t *testing.T) {
	out := "all good\n"
	errStream := "warning: LLM\n"

	data := []struct {
		name    string
		formula map[string]interface{}
		matched bool
	}{
		{"out-re hit", map[string]interface{}{"out-re": "good"}, true},
		{"out-re miss", map[string]interface{}{"out-re": "LLM"}, false},
		{"err-re hit", map[string]interface{}{"err-re": "LLM"}, true},
		{"any-re out", map[string]interface{}{"any-re": "good"}, true},
		{"any-re err", map[string]interface{}{"any-re": "LLM"}, true},
		{"any-re miss", map[string]interface{}{"any-re": "nope"}, false},
	}
	for _, tt := range data {
		t.Run(tt.name, func(t *testing.T) {
			matched, err := mustMatches(t, tt.formula).IsMatch(out, errStream)
			require.NoError(t, err)
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestMatchesCombinators(t *testing.T) {
	and := mustMatches(t, map[string]interface{}{
		"and": []interface{}{
			map[string]interface{}{"out-re": "a"},
			map[string]interface{}{"out-re": "b"},
		},
	})
	matched, err := and.IsMatch("ab", "")
	require.NoError(t, err)
	assert.True(t, matched)
	matched, err = and.IsMatch("a", "")
	require.NoError(t, err)
	assert.False(t, matched)

	or := mustMatches(t, map[string]interface{}{
		"or": []interface{}{
			map[string]interface{}{"out-re": "a"},
			map[string]interface{}{"err-re": "b"},
		},
	})
	matched, err = or.IsMatch("", "b")
	require.NoError(t, err)
	assert.True(t, matched)
	matched, err = or.IsMatch("", "")
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatchesDecodeErrors(t *testing.T) {
	_, err := DecodeMatches(map[string]interface{}{})
	assert.Error(t, err)
	_, err = DecodeMatches(map[string]interface{}{"out-re": "a", "err-re": "b"})
	assert.Error(t, err)
	_, err = DecodeMatches(map[string]interface{}{"wat-re": "a"})
	assert.Error(t, err)
	_, err = DecodeMatches("out-re")
	assert.Error(t, err)
}

func TestMatchesRendered(t *testing.T) {
	m := mustMatches(t, map[string]interface{}{
		"and": []interface{}{
			map[string]interface{}{"out-re": "{{ re }}"},
		},
	})
	rendered, err := m.Rendered(func(s string) (string, error) {
		assert.Equal(t, "{{ re }}", s)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", rendered.And[0].OutRe)
}
