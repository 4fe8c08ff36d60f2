package sanitize

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeJSON = `{"code":"def lambda_handler(event, context):\n    return {}","type":"remote","name":"probe1","id":"X1","description":"header injection"}`

func TestObject_AcceptedShapes(t *testing.T) {
	want := map[string]any{
		"code":        "def lambda_handler(event, context):\n    return {}",
		"type":        "remote",
		"name":        "probe1",
		"id":          "X1",
		"description": "header injection",
	}

	tests := []struct {
		name  string
		input string
	}{
		{name: "bare", input: probeJSON},
		{name: "bare with whitespace", input: "\n\n  " + probeJSON + "  \n"},
		{name: "labeled fence", input: "```json\n" + probeJSON + "\n```"},
		{name: "unlabeled fence", input: "```\n" + probeJSON + "\n```"},
		{name: "fence on one line", input: "```" + probeJSON + "```"},
		{name: "prose before", input: "Here is the probe you asked for: " + probeJSON},
		{name: "prose around", input: "Sure.\n" + probeJSON + "\nLet me know if you need more."},
		{name: "fence with prose", input: "The result:\n```json\n" + probeJSON + "\n```\nDone."},
		{
			name:  "python fence before json fence",
			input: "```python\nprint('no json here')\n```\n```json\n" + probeJSON + "\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Object(tt.input)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestObject_FenceMarkersInsideStrings(t *testing.T) {
	want := map[string]any{
		"code": "doc = \"\"\"\n```python\nx = 1\n```\n\"\"\"\ndef lambda_handler(event, context):\n    return {}",
		"type": "local",
	}
	body, err := json.Marshal(want)
	require.NoError(t, err)
	obj := string(body)

	tests := []struct {
		name  string
		input string
	}{
		{name: "bare", input: obj},
		{name: "labeled fence", input: "```json\n" + obj + "\n```"},
		{name: "prose around", input: "Here is the result:\n" + obj + "\nThat is all."},
		{name: "python fence before json fence", input: "```python\nprint(1)\n```\n```json\n" + obj + "\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Object(tt.input)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestObject_StrayFenceBetweenFields(t *testing.T) {
	input := "{\"a\": \"```x```\",\n```\n\"b\": 1}"

	got, err := Object(input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "```x```", "b": float64(1)}, got)
}

func TestObject_RawNewlinesInStrings(t *testing.T) {
	input := "{\"code\": \"def lambda_handler(event, context):\n\treturn 1\", \"type\": \"local\"}"

	got, err := Object(input)
	require.NoError(t, err)
	assert.Equal(t, "def lambda_handler(event, context):\n\treturn 1", got["code"])
	assert.Equal(t, "local", got["type"])
}

func TestObject_NoJSON(t *testing.T) {
	for _, input := range []string{
		"I cannot produce this.",
		"",
		"```\nnothing fenced\n```",
		"} backwards {",
	} {
		_, err := Object(input)
		assert.ErrorIs(t, err, ErrNoJSONObject, "input %q", input)
	}
}

func TestObject_Malformed(t *testing.T) {
	input := `Result: {"code": "x", "type": remote}`

	_, err := Object(input)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoJSONObject))

	var malformed *MalformedError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, input, malformed.Raw)
	assert.Equal(t, `{"code": "x", "type": remote}`, malformed.Candidate)
}

func TestObject_FailureDoesNotLeak(t *testing.T) {
	_, err := Object("not json at all")
	require.ErrorIs(t, err, ErrNoJSONObject)

	_, err = Object(`{"broken": }`)
	require.Error(t, err)

	got, err := Object(`{"ok": true}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, got)
}

func TestArray(t *testing.T) {
	input := "```json\n[{\"title\": \"A\", \"affected_technologies\": [\"nginx\"]}]\n```"

	got, err := Array(input)
	require.NoError(t, err)
	require.Len(t, got, 1)

	empty, err := Array("Nothing found: []")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUnwrap(t *testing.T) {
	keys := []string{"code", "type"}

	t.Run("already flat", func(t *testing.T) {
		obj := map[string]any{"code": "x", "type": "local"}
		assert.Equal(t, obj, Unwrap(obj, keys...))
	})

	t.Run("nested object", func(t *testing.T) {
		obj := map[string]any{"output": map[string]any{"code": "x", "type": "local"}, "status": "done"}
		assert.Equal(t, map[string]any{"code": "x", "type": "local"}, Unwrap(obj, keys...))
	})

	t.Run("nested json string", func(t *testing.T) {
		obj := map[string]any{"value": "```json\n{\"code\": \"x\", \"type\": \"remote\"}\n```"}
		assert.Equal(t, map[string]any{"code": "x", "type": "remote"}, Unwrap(obj, keys...))
	})

	t.Run("only one level", func(t *testing.T) {
		obj := map[string]any{"a": map[string]any{"b": map[string]any{"code": "x", "type": "local"}}}
		assert.Equal(t, obj, Unwrap(obj, keys...))
	})
}
