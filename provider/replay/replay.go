// Package replay implements a provider.Provider that plays back scripted responses.
// It backs the tests of every package that drives an agent loop and the replay CLI.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/provider"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// ErrExhausted is returned when the provider is called more often than it has turns.
var ErrExhausted = errors.New("replay: no scripted turns left")

// Turn is one scripted provider response.
type Turn struct {
	// Events are streamed in order.
	Events []provider.StreamEvent
	// Err is returned from SendMessage without opening a stream.
	Err error
	// Delay is waited before every event.
	Delay time.Duration
	// Hang keeps the stream open after the events until the request context is cancelled.
	Hang bool
}

// Provider replays turns in order, one per SendMessage call. Safe for concurrent use.
type Provider struct {
	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []provider.Request
	fallback *Turn
}

// New creates a provider for the given turns.
func New(turns ...Turn) *Provider {
	return &Provider{turns: turns}
}

// Repeat makes the provider answer with turn once the scripted turns are used up.
func (p *Provider) Repeat(turn Turn) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = &turn
	return p
}

// SendMessage implements provider.Provider.
func (p *Provider) SendMessage(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	p.mu.Lock()
	req.Messages = slices.Clone(req.Messages)
	p.requests = append(p.requests, req)
	var turn Turn
	switch {
	case p.next < len(p.turns):
		turn = p.turns[p.next]
		p.next++
	case p.fallback != nil:
		turn = *p.fallback
	default:
		p.mu.Unlock()
		return nil, ErrExhausted
	}
	p.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}

	ch := make(chan provider.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range turn.Events {
			if turn.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(turn.Delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
			}
		}
		if turn.Hang {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// Calls returns how many times SendMessage was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns the requests received so far.
func (p *Provider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

// Text scripts a plain answer.
func Text(text string) Turn {
	return Turn{Events: []provider.StreamEvent{
		provider.TextDelta{Text: text},
		provider.MessageEnd{StopReason: "end_turn"},
	}}
}

// Call is a scripted tool call.
type Call struct {
	ID   string
	Name string
	Args string
}

// ToolCalls scripts an answer with optional text followed by tool calls. Arguments are
// streamed in two fragments so consumers see partial input.
func ToolCalls(text string, calls ...Call) Turn {
	var events []provider.StreamEvent
	if text != "" {
		events = append(events, provider.TextDelta{Text: text})
	}
	for _, c := range calls {
		half := len(c.Args) / 2
		events = append(events,
			provider.ToolCallStart{ID: c.ID, Name: c.Name},
			provider.ToolCallDelta{ID: c.ID, ArgumentsDelta: c.Args[:half]},
			provider.ToolCallDelta{ID: c.ID, ArgumentsDelta: c.Args[half:]},
			provider.ToolCallEnd{ID: c.ID, Name: c.Name},
		)
	}
	events = append(events, provider.MessageEnd{StopReason: "tool_use"})
	return Turn{Events: events}
}

// WithUsage appends usage to the MessageEnd event of the turn.
func (t Turn) WithUsage(u messages.Usage) Turn {
	events := slices.Clone(t.Events)
	for i, ev := range events {
		if end, ok := ev.(provider.MessageEnd); ok {
			end.Usage = u
			events[i] = end
			return Turn{Events: events, Err: t.Err, Delay: t.Delay, Hang: t.Hang}
		}
	}
	events = append(events, provider.MessageEnd{Usage: u})
	return Turn{Events: events, Err: t.Err, Delay: t.Delay, Hang: t.Hang}
}

// Failure scripts a provider error returned before any content is streamed.
func Failure(status int, message string) Turn {
	return Turn{Err: &provider.APIError{Status: status, Message: message}}
}

// Load reads a JSONL script. Every line is one turn, either
//
//	{"events":[{"type":"text_delta","text":"hi"}, ...], "delay_ms": 10}
//
// or a failure
//
//	{"error":{"status":429,"type":"rate_limit_error","message":"slow down"}}
//
// Blank lines and lines starting with # are ignored.
func Load(r io.Reader) (*Provider, error) {
	var turns []Turn
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		turn, err := parseTurn(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return New(turns...), nil
}

func parseTurn(line string) (Turn, error) {
	if !gjson.Valid(line) {
		return Turn{}, fmt.Errorf("invalid json: %s", line)
	}
	doc := gjson.Parse(line)
	if e := doc.Get("error"); e.Exists() {
		var apiErr provider.APIError
		apiErr.Status = int(e.Get("status").Int())
		apiErr.Type = e.Get("type").String()
		apiErr.Message = e.Get("message").String()
		return Turn{Err: &apiErr}, nil
	}

	events := doc.Get("events")
	if !events.IsArray() {
		return Turn{}, errors.New("turn needs either 'events' or 'error'")
	}
	turn := Turn{Delay: time.Duration(doc.Get("delay_ms").Int()) * time.Millisecond}
	for i, raw := range events.Array() {
		ev, err := provider.FromJSON([]byte(raw.Raw))
		if err != nil {
			return Turn{}, fmt.Errorf("event %d: %w", i, err)
		}
		turn.Events = append(turn.Events, ev)
	}
	return turn, nil
}

// Dump writes turns in the format read by Load.
func Dump(w io.Writer, turns ...Turn) error {
	for _, turn := range turns {
		var line []byte
		if turn.Err != nil {
			var apiErr *provider.APIError
			if !errors.As(turn.Err, &apiErr) {
				apiErr = &provider.APIError{Message: turn.Err.Error()}
			}
			b, err := json.Marshal(map[string]any{"error": map[string]any{
				"status": apiErr.Status, "type": apiErr.Type, "message": apiErr.Message,
			}})
			if err != nil {
				return err
			}
			line = b
		} else {
			raw := make([]json.RawMessage, len(turn.Events))
			for i, ev := range turn.Events {
				b, err := provider.ToJSON(ev)
				if err != nil {
					return fmt.Errorf("event %d: %w", i, err)
				}
				raw[i] = b
			}
			doc := map[string]any{"events": raw}
			if turn.Delay > 0 {
				doc["delay_ms"] = turn.Delay.Milliseconds()
			}
			b, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			line = b
		}
		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return err
		}
	}
	return nil
}
