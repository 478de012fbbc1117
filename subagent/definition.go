package subagent

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
)

// GeneralPurpose is the name of the built-in definition that can use every tool.
const GeneralPurpose = "general-purpose"

const generalPurposePrompt = `You are {{.Name}}, a sub-agent working on a single task for a lead agent.
Work in {{.WorkingFolder}}. Complete the task below, then answer with a concise report of what you did and what you found.
The lead only sees your final answer.

Task:
{{.Task}}`

// PromptData is available to system prompt templates.
type PromptData struct {
	Name          string
	Task          string
	WorkingFolder string
}

// Definition describes a kind of sub-agent.
type Definition struct {
	Name        string
	Description string
	// SystemPrompt is a text/template rendered with PromptData.
	SystemPrompt string
	// Tools is the allow-list of tool names; empty allows every tool of the parent.
	Tools []string
	// MaxIterations overrides the dispatcher default when positive.
	MaxIterations int

	tmpl *template.Template
}

// Option configures a Definition.
type Option = opts.Option[Definition]

var (
	Description   = opts.ForName[Definition, string]("Description")
	SystemPrompt  = opts.ForName[Definition, string]("SystemPrompt")
	Tools         = opts.ForName[Definition, []string]("Tools")
	MaxIterations = opts.ForName[Definition, int]("MaxIterations")
)

// New creates a definition and parses its prompt template.
func New(name string, options ...Option) (*Definition, error) {
	d := &Definition{Name: name}
	if err := opts.Apply(d, options); err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("sub-agent definitions need a name")
	}
	if d.SystemPrompt == "" {
		d.SystemPrompt = generalPurposePrompt
	}
	tmpl, err := template.New(d.Name).Option("missingkey=error").Parse(d.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("invalid system prompt for %s: %w", d.Name, err)
	}
	d.tmpl = tmpl
	return d, nil
}

// Prompt renders the system prompt.
func (d *Definition) Prompt(data PromptData) (string, error) {
	if data.Name == "" {
		data.Name = d.Name
	}
	var buf bytes.Buffer
	if err := d.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt for %s: %w", d.Name, err)
	}
	return buf.String(), nil
}

// Registry holds the sub-agent definitions a dispatcher can run. Safe for concurrent use.
type Registry struct {
	defs *haxmap.Map[string, *Definition]
}

// NewRegistry creates a registry with the given definitions.
func NewRegistry(defs ...*Definition) *Registry {
	r := &Registry{defs: haxmap.New[string, *Definition]()}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// WithGeneralPurpose adds the general-purpose definition unless one is registered already.
func (r *Registry) WithGeneralPurpose() *Registry {
	r.defs.GetOrCompute(GeneralPurpose, func() *Definition {
		d, err := New(GeneralPurpose, Description("General agent for researching questions and running multi-step tasks with every tool."))
		if err != nil {
			panic(err)
		}
		return d
	})
	return r
}

// Register adds or replaces a definition.
func (r *Registry) Register(d *Definition) {
	r.defs.Set(d.Name, d)
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (*Definition, bool) {
	return r.defs.Get(name)
}

// List returns the definitions sorted by name.
func (r *Registry) List() []*Definition {
	var out []*Definition
	r.defs.ForEach(func(_ string, d *Definition) bool {
		out = append(out, d)
		return true
	})
	slices.SortFunc(out, func(a, b *Definition) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	defs := r.List()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}
