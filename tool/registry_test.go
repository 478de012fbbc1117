package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(defs []Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

func testRegistry(t *testing.T) *Local {
	t.Helper()
	reg, err := NewRegistry(
		Must(func(p string) string { return "read " + p }, Name("read_file"), Parameters("path")),
		Must(func(c string) (string, error) { return "", errors.New("exit 1") }, Name("bash"), Parameters("command"), RequireApproval(true)),
		Must(func() string { return "pong" }, Name("ping")),
	)
	require.NoError(t, err)
	return reg
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)

	assert.Equal(t, []string{"read_file", "bash", "ping"}, names(reg.Definitions()))

	res, err := reg.Execute(ctx, "read_file", map[string]any{"path": "go.mod"}, ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, Result{Content: "read go.mod"}, res)

	_, err = reg.Execute(ctx, "bash", map[string]any{"command": "false"}, ExecContext{})
	assert.EqualError(t, err, "exit 1")

	_, err = reg.Execute(ctx, "missing", nil, ExecContext{})
	assert.ErrorIs(t, err, ErrUnknownTool)

	assert.True(t, reg.RequiresApproval(ctx, "bash", nil, ExecContext{}))
	assert.False(t, reg.RequiresApproval(ctx, "ping", nil, ExecContext{}))
	assert.False(t, reg.RequiresApproval(ctx, "missing", nil, ExecContext{}))
}

func TestNewRegistry_Duplicate(t *testing.T) {
	_, err := NewRegistry(Must(func() {}, Name("a")), Must(func() {}, Name("a")))
	assert.Error(t, err)
	assert.Panics(t, func() { MustRegistry(Must(func() {}, Name("a")), Must(func() {}, Name("a"))) })
}

func TestRestrict(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)

	tests := []struct {
		name    string
		allow   []string
		exclude []string
		want    []string
	}{
		{name: "empty allow-list keeps everything", want: []string{"read_file", "bash", "ping"}},
		{name: "allow-list", allow: []string{"ping", "read_file"}, want: []string{"read_file", "ping"}},
		{name: "exclude wins", allow: []string{"ping", "bash"}, exclude: []string{"bash"}, want: []string{"ping"}},
		{name: "exclude without allow-list", exclude: []string{"ping"}, want: []string{"read_file", "bash"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Restrict(reg, tt.allow, tt.exclude...)
			assert.Equal(t, tt.want, names(r.Definitions()))
		})
	}

	r := Restrict(reg, []string{"ping", "bash"})
	_, err := r.Execute(ctx, "read_file", nil, ExecContext{})
	assert.ErrorIs(t, err, ErrNotAllowed)
	res, err := r.Execute(ctx, "ping", nil, ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Content)
	assert.True(t, r.RequiresApproval(ctx, "bash", nil, ExecContext{}))
	assert.False(t, Restrict(reg, []string{"ping"}).RequiresApproval(ctx, "bash", nil, ExecContext{}))
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	base := testRegistry(t)
	overlay := MustRegistry(
		Must(func() string { return "overlay pong" }, Name("ping")),
		Must(func() string { return "extra" }, Name("extra")),
	)

	m := Merge(overlay, nil, base)
	assert.Equal(t, []string{"ping", "extra", "read_file", "bash"}, names(m.Definitions()))

	res, err := m.Execute(ctx, "ping", nil, ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, "overlay pong", res.Content)

	res, err = m.Execute(ctx, "read_file", map[string]any{"path": "x"}, ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, "read x", res.Content)

	_, err = m.Execute(ctx, "nope", nil, ExecContext{})
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.True(t, m.RequiresApproval(ctx, "bash", nil, ExecContext{}))
}
