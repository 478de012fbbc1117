// Package provider defines the contract between the agent loop and a language-model backend.
//
// A Provider receives the working conversation, the system prompt and the tool definitions,
// and answers with a channel of StreamEvent values. The loop treats this sequence as the only
// wire contract it depends on; how a concrete vendor builds its requests is out of scope here.
//
// The stream is made of:
//  1. ThinkingDelta and TextDelta: incremental reasoning and answer text
//  2. ToolCallStart, ToolCallDelta, ToolCallEnd: the construction of one tool call per id
//  3. MessageEnd: usage, timing and stop reason for the response
//  4. Error: a failure reported in-band, optionally carrying the HTTP status code
//
// A provider closes the channel when the response is complete. A provider that fails before
// producing a stream returns an error from SendMessage instead; errors that implement
// StatusCode() int are classified by the retry policy.
//
// Example usage:
//
//	events, err := p.SendMessage(ctx, provider.Request{
//	    SystemPrompt: "You are a helpful assistant",
//	    Messages:     history,
//	    Tools:        registry.Definitions(),
//	})
//	if err != nil {
//	    return err
//	}
//	for event := range events {
//	    switch e := event.(type) {
//	    case provider.TextDelta:
//	        fmt.Print(e.Text)
//	    case provider.Error:
//	        return e
//	    }
//	}
//
// Events are serializable with ToJSON and FromJSON so recorded sessions can be replayed.
package provider
