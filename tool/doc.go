/*
Package tool defines the contract between an agent loop and the capabilities it can call,
and provides an in-process registry of tools backed by Go functions.

# Key Concepts

 1. Registry
    The loop only depends on the Registry interface:
    - Definitions: what the model is told about the available tools
    - Execute: run a named tool with the decoded JSON input
    - RequiresApproval: whether a given call must be approved by a human first

 2. Function tools
    A tool is a Go function analyzed through reflection. Its parameters become the
    properties of a JSON schema; a context.Context or ExecContext parameter is injected by
    the registry and never shown to the model.

 3. Typed tools
    Typed[T] decodes the whole input into a struct, and reflects the schema from it.

 4. Composition
    Restrict builds a view with an allow-list (sub-agents), Merge layers registries
    (session tools on top of user tools).

# Usage Examples

Function tool:

	func readFile(ec tool.ExecContext, path string) (string, error) {
		b, err := os.ReadFile(filepath.Join(ec.WorkingFolder, path))
		return string(b), err
	}

	reg := tool.MustRegistry(
		tool.Must(readFile,
			tool.Name("read_file"),
			tool.Description("Reads a file relative to the working folder"),
			tool.Parameters("path"),
		),
		tool.Must(runCommand, tool.Name("bash"), tool.Parameters("command"), tool.RequireApproval(true)),
	)

Typed tool:

	type completeArgs struct {
		Report string `json:"report" jsonschema:"description=Summary of the work done"`
	}

	complete := tool.MustTyped("complete_task",
		func(ctx context.Context, args completeArgs, ec tool.ExecContext) (string, error) {
			return "ok", nil
		},
	)

# Error Handling

Errors returned by a tool function are reported by Execute; the agent loop turns them into
error tool results so the conversation stays well formed. Unknown tools return ErrUnknownTool,
calls refused by Restrict return ErrNotAllowed.

# Thread Safety

Registries are immutable after construction and safe for concurrent use. Tool functions are
called concurrently when several agents share a registry.
*/
package tool
