package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "empty", input: "", wantOK: false},
		{name: "whitespace", input: "   ", wantOK: false},
		{name: "complete object", input: `{"a":1}`, want: `{"a":1}`, wantOK: true},
		{name: "open brace", input: `{`, want: `{}`, wantOK: true},
		{name: "open key", input: `{"pa`, want: `{}`, wantOK: true},
		{name: "key without value", input: `{"path":`, want: `{}`, wantOK: true},
		{name: "open string value", input: `{"path":"/tmp/fo`, want: `{"path":"/tmp/fo"}`, wantOK: true},
		{name: "dangling escape", input: `{"text":"line\`, want: `{"text":"line"}`, wantOK: true},
		{name: "partial unicode escape", input: `{"text":"caf\u00`, want: `{"text":"caf"}`, wantOK: true},
		{name: "complete unicode escape", input: `{"text":"café`, want: `{"text":"café"}`, wantOK: true},
		{name: "trailing comma", input: `{"a":1,`, want: `{"a":1}`, wantOK: true},
		{name: "partial literal", input: `{"a":1,"b":tr`, want: `{"a":1}`, wantOK: true},
		{name: "partial number", input: `{"a":1.`, want: `{"a":1}`, wantOK: true},
		{name: "nested array", input: `{"a":[1,2`, want: `{"a":[1,2]}`, wantOK: true},
		{name: "nested objects", input: `{"a":{"b":{"c":"d`, want: `{"a":{"b":{"c":"d"}}}`, wantOK: true},
		{name: "partial second key", input: `{"a":"x","b`, want: `{"a":"x"}`, wantOK: true},
		{name: "mismatched closer", input: `{"a":1]`, wantOK: false},
		{name: "garbage", input: `tru`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Repair(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.JSONEq(t, tt.want, got)
			}
		})
	}
}

func TestParsePartial(t *testing.T) {
	got, ok := ParsePartial(`{"path":"main.go","content":"package ma`)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"path": "main.go", "content": "package ma"}, got)

	_, ok = ParsePartial(`[1,2`)
	assert.False(t, ok, "arrays are not objects")

	_, ok = ParsePartial(``)
	assert.False(t, ok)
}

func TestParsePartial_NeverPanics(t *testing.T) {
	doc := `{"a":[{"b":"c\"dA"},{"e":null,"f":true,"g":-1.5e3}],"h":{"i":[[],{}]}}`
	for i := 0; i <= len(doc); i++ {
		prefix := doc[:i]
		assert.NotPanics(t, func() {
			got, ok := ParsePartial(prefix)
			if ok {
				assert.NotNil(t, got)
			}
		}, "prefix %q", prefix)
	}

	full, ok := ParsePartial(doc)
	require.True(t, ok)
	assert.Contains(t, full, "h")
}

func TestPartialObject(t *testing.T) {
	var p PartialObject

	snap, ok := p.Write(`{"command":"ls`)
	require.True(t, ok)
	assert.Equal(t, "ls", snap["command"])

	snap, ok = p.Write(` -la","cwd":`)
	assert.True(t, ok)
	assert.Equal(t, "ls -la", snap["command"])

	snap, ok = p.Write(`"/tmp"}`)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"command": "ls -la", "cwd": "/tmp"}, snap)
	assert.Equal(t, `{"command":"ls -la","cwd":"/tmp"}`, p.String())
	assert.Equal(t, snap, p.Snapshot())
}

func TestPartialObject_KeepsLastSnapshot(t *testing.T) {
	var p PartialObject
	snap, ok := p.Write(`[`)
	assert.False(t, ok)
	assert.Nil(t, snap)
}
