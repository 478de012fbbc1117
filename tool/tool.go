package tool

import (
	"context"
	"fmt"
	"reflect"

	"github.com/casualjim/flock/pkg/reflectx"
	"github.com/casualjim/flock/pkg/stdx"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Definition is what the model sees of a tool.
type Definition struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// ExecContext identifies the agent and the call a tool runs for.
// A function parameter of this type is filled in by the registry and is not part of the schema.
type ExecContext struct {
	AgentName     string
	RunID         string
	ToolCallID    string
	WorkingFolder string
}

// Result is the textual outcome of a tool call.
type Result struct {
	Content string
	IsError bool
}

// ErrorResult creates a failed result.
func ErrorResult(format string, args ...any) Result {
	return Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Tool is an executable tool backed by a Go function.
type Tool struct {
	Name           string
	Description    string
	Parameters     map[string]string
	Function       any
	NeedsApproval  bool
	ApprovalPolicy func(input map[string]any, ec ExecContext) bool

	schema  *jsonschema.Schema
	handler func(ctx context.Context, input map[string]any, ec ExecContext) (string, error)
}

var functionReflector = jsonschema.Reflector{
	AllowAdditionalProperties: true,
	DoNotReference:            true,
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func isInjected(t reflect.Type) bool {
	return t == contextType || reflectx.Is[ExecContext](t)
}

// Definition returns the model-facing description of the tool.
func (t *Tool) Definition() Definition {
	return Definition{Name: t.Name, Description: t.Description, InputSchema: t.schema}
}

// RequiresApproval reports whether a call with the given input must be approved first.
func (t *Tool) RequiresApproval(input map[string]any, ec ExecContext) bool {
	if t.ApprovalPolicy != nil {
		return t.ApprovalPolicy(input, ec)
	}
	return t.NeedsApproval
}

// Call runs the tool.
func (t *Tool) Call(ctx context.Context, input map[string]any, ec ExecContext) (string, error) {
	return t.handler(ctx, input, ec)
}

func (t *Tool) paramName(idx int) string {
	name := fmt.Sprintf("param%d", idx)
	if p, ok := t.Parameters[name]; ok {
		return p
	}
	return name
}

// functionSchema builds the input schema of a Go function. context.Context and ExecContext
// parameters are skipped; every other parameter becomes a required property.
func (t *Tool) functionSchema(reflector *jsonschema.Reflector) *jsonschema.Schema {
	typ := reflect.TypeOf(t.Function)
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
	}

	var required []string
	idx := 0
	for i := 0; i < typ.NumIn(); i++ {
		paramType := typ.In(i)
		if isInjected(paramType) {
			continue
		}
		name := t.paramName(idx)
		idx++

		propSchema := reflector.ReflectFromType(paramType)
		propSchema.Version = ""
		schema.Properties.Set(name, propSchema)
		required = append(required, name)
	}
	if len(required) > 0 {
		schema.Required = required
	}
	return schema
}

// Option is a type alias for a function that modifies the configuration of a tool.
type Option = opts.Option[Tool]

// Must wraps New and panics when it returns an error.
func Must(f any, options ...Option) *Tool {
	return stdx.Must1(New(f, options...))
}

// New creates a tool from a Go function. Parameters are decoded from the call input by
// name (see Parameters); a leading context.Context or ExecContext is injected.
// The function may return a value, an error, or a value and an error.
func New(f any, options ...Option) (*Tool, error) {
	if !reflectx.IsFunction(f) {
		return nil, fmt.Errorf("provided value is not a function")
	}
	typ := reflect.TypeOf(f)
	if typ.NumOut() > 2 || (typ.NumOut() == 2 && typ.Out(1) != errorType) {
		return nil, fmt.Errorf("tool functions return at most a value and an error, got %s", typ)
	}

	t := &Tool{}
	if err := opts.Apply(t, options); err != nil {
		return nil, err
	}
	if t.Name == "" {
		t.Name = reflectx.FunctionName(f)
	}
	t.Function = f
	t.schema = t.functionSchema(&functionReflector)
	t.handler = func(ctx context.Context, input map[string]any, ec ExecContext) (string, error) {
		args, err := t.buildArgList(ctx, input, ec)
		if err != nil {
			return "", err
		}
		return callFunction(t.Function, args)
	}
	return t, nil
}

// Typed creates a tool whose input is decoded into T. The schema is reflected from T.
func Typed[T any](name string, fn func(context.Context, T, ExecContext) (string, error), options ...Option) (*Tool, error) {
	t := &Tool{Name: name}
	if err := opts.Apply(t, options); err != nil {
		return nil, err
	}
	if t.Name == "" {
		return nil, fmt.Errorf("typed tools need a name")
	}
	t.Function = fn

	schema := functionReflector.Reflect(new(T))
	schema.Version = ""
	t.schema = schema
	t.handler = func(ctx context.Context, input map[string]any, ec ExecContext) (string, error) {
		var args T
		if len(input) > 0 {
			b, err := json.Marshal(input)
			if err != nil {
				return "", fmt.Errorf("invalid input for %s: %w", t.Name, err)
			}
			if err := json.Unmarshal(b, &args); err != nil {
				return "", fmt.Errorf("invalid input for %s: %w", t.Name, err)
			}
		}
		return fn(ctx, args, ec)
	}
	return t, nil
}

// MustTyped wraps Typed and panics when it returns an error.
func MustTyped[T any](name string, fn func(context.Context, T, ExecContext) (string, error), options ...Option) *Tool {
	return stdx.Must1(Typed(name, fn, options...))
}

// Name sets the name the model uses to call the tool.
var Name = opts.ForName[Tool, string]("Name")

// Description sets the description shown to the model.
var Description = opts.ForName[Tool, string]("Description")

// RequireApproval marks every call of the tool as needing approval.
var RequireApproval = opts.ForName[Tool, bool]("NeedsApproval")

// Parameters names the function parameters in order. Injected context parameters are not counted.
func Parameters(parameters ...string) Option {
	return opts.Type[Tool](func(o *Tool) error {
		o.Parameters = make(map[string]string, len(parameters))
		for i, p := range parameters {
			o.Parameters[fmt.Sprintf("param%d", i)] = p
		}
		return nil
	})
}

// ApprovalPolicy decides per call whether approval is needed.
func ApprovalPolicy(policy func(input map[string]any, ec ExecContext) bool) Option {
	return opts.Type[Tool](func(o *Tool) error {
		o.ApprovalPolicy = policy
		return nil
	})
}
