package tool

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnknownTool is returned when a call names a tool the registry does not have.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrNotAllowed is returned when a restricted registry refuses a call.
	ErrNotAllowed = errors.New("tool not allowed")
)

// Registry resolves tool names to handlers and decides which calls need approval.
type Registry interface {
	Definitions() []Definition
	Execute(ctx context.Context, name string, input map[string]any, ec ExecContext) (Result, error)
	RequiresApproval(ctx context.Context, name string, input map[string]any, ec ExecContext) bool
}

// Local is a Registry over in-process tools. It is immutable once created.
type Local struct {
	order []string
	tools map[string]*Tool
}

// NewRegistry creates a registry. Tool names must be unique.
func NewRegistry(tools ...*Tool) (*Local, error) {
	reg := &Local{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, dup := reg.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name)
		}
		reg.order = append(reg.order, t.Name)
		reg.tools[t.Name] = t
	}
	return reg, nil
}

// MustRegistry wraps NewRegistry and panics on error.
func MustRegistry(tools ...*Tool) *Local {
	reg, err := NewRegistry(tools...)
	if err != nil {
		panic(err)
	}
	return reg
}

// Definitions returns the tool definitions in registration order.
func (r *Local) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute runs the named tool. Failures of the tool itself are returned as errors.
func (r *Local) Execute(ctx context.Context, name string, input map[string]any, ec ExecContext) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	out, err := t.Call(ctx, input, ec)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: out}, nil
}

// RequiresApproval implements Registry. Unknown tools never need approval, they fail on execution.
func (r *Local) RequiresApproval(_ context.Context, name string, input map[string]any, ec ExecContext) bool {
	t, ok := r.tools[name]
	return ok && t.RequiresApproval(input, ec)
}

type filtered struct {
	inner Registry
	keep  func(string) bool
}

// Restrict limits reg to the allow-listed tool names. An empty allow-list keeps every tool.
// Names in exclude are removed in both cases.
func Restrict(reg Registry, allow []string, exclude ...string) Registry {
	return &filtered{
		inner: reg,
		keep: func(name string) bool {
			if slices.Contains(exclude, name) {
				return false
			}
			return len(allow) == 0 || slices.Contains(allow, name)
		},
	}
}

func (f *filtered) Definitions() []Definition {
	var defs []Definition
	for _, d := range f.inner.Definitions() {
		if f.keep(d.Name) {
			defs = append(defs, d)
		}
	}
	return defs
}

func (f *filtered) Execute(ctx context.Context, name string, input map[string]any, ec ExecContext) (Result, error) {
	if !f.keep(name) {
		return Result{}, fmt.Errorf("%w: %s", ErrNotAllowed, name)
	}
	return f.inner.Execute(ctx, name, input, ec)
}

func (f *filtered) RequiresApproval(ctx context.Context, name string, input map[string]any, ec ExecContext) bool {
	return f.keep(name) && f.inner.RequiresApproval(ctx, name, input, ec)
}

type merged []Registry

// Merge combines registries. When names collide the earlier registry wins.
func Merge(regs ...Registry) Registry {
	var m merged
	for _, r := range regs {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m merged) owner(name string) Registry {
	for _, r := range m {
		for _, d := range r.Definitions() {
			if d.Name == name {
				return r
			}
		}
	}
	return nil
}

func (m merged) Definitions() []Definition {
	seen := make(map[string]bool)
	var defs []Definition
	for _, r := range m {
		for _, d := range r.Definitions() {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			defs = append(defs, d)
		}
	}
	return defs
}

func (m merged) Execute(ctx context.Context, name string, input map[string]any, ec ExecContext) (Result, error) {
	r := m.owner(name)
	if r == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return r.Execute(ctx, name, input, ec)
}

func (m merged) RequiresApproval(ctx context.Context, name string, input map[string]any, ec ExecContext) bool {
	r := m.owner(name)
	return r != nil && r.RequiresApproval(ctx, name, input, ec)
}
