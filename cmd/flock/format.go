package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/casualjim/flock/bus"
	"github.com/casualjim/flock/loop"
	"github.com/fatih/color"
	json "github.com/goccy/go-json"
)

// console prints lead loop events and team events as they happen. Team events arrive on
// bus goroutines, so writes are serialized.
type console struct {
	mu       sync.Mutex
	w        io.Writer
	lead     string
	inText   bool
	lastFrom string
}

func newConsole(w io.Writer, lead string) *console {
	return &console{w: w, lead: lead}
}

func (c *console) endText() {
	if c.inText {
		fmt.Fprintln(c.w)
		c.inText = false
	}
}

func (c *console) text(from, text string) {
	if text == "" {
		return
	}
	if !c.inText || c.lastFrom != from {
		c.endText()
		fmt.Fprint(c.w, color.MagentaString(from)+": ")
	}
	fmt.Fprint(c.w, text)
	c.inText = true
	c.lastFrom = from
}

// Loop renders one event of the lead loop.
func (c *console) Loop(ev loop.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case loop.TextDelta:
		c.text(c.lead, e.Text)
	case loop.ToolUseGenerated:
		c.endText()
		args, _ := json.Marshal(e.Call.Input)
		fmt.Fprintf(c.w, "%s%s\n", color.YellowString(e.Call.Name), args)
	case loop.ToolCallApprovalNeeded:
		c.endText()
		fmt.Fprintf(c.w, "%s %s\n", color.CyanString("approval needed:"), e.Call.Name)
	case loop.ToolCallResult:
		c.endText()
		if e.Call.Status == loop.StatusError {
			fmt.Fprintf(c.w, "  %s %s\n", color.RedString("✗"), firstLine(e.Call.Error))
		} else {
			fmt.Fprintf(c.w, "  %s %s\n", color.GreenString("✓"), firstLine(e.Call.Output))
		}
	case loop.ContextCompressed:
		c.endText()
		if e.Blocks > 0 {
			fmt.Fprintf(c.w, "%s %s %d blocks in %d messages\n", color.BlueString("context"), e.Mode, e.Blocks, e.After)
		} else {
			fmt.Fprintf(c.w, "%s %s %d → %d messages\n", color.BlueString("context"), e.Mode, e.Before, e.After)
		}
	case loop.Error:
		c.endText()
		if e.Retrying {
			fmt.Fprintf(c.w, "%s attempt %d in %s: %v\n", color.YellowString("retrying"), e.Attempt, e.Delay, e.Err)
		} else {
			fmt.Fprintf(c.w, "%s %v\n", color.RedString("error:"), e.Err)
		}
	case loop.LoopEnd:
		c.endText()
		fmt.Fprintf(c.w, "%s %s after %d iterations (%d in, %d out tokens)\n",
			color.BlueString("lead stopped:"), e.Reason, e.Iterations, e.Usage.InputTokens, e.Usage.OutputTokens)
	}
}

func (c *console) OnMemberUpdate(_ context.Context, ev bus.MemberUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := ev.Patch
	if p.Text != "" {
		c.text(ev.MemberID, p.Text)
	}
	if p.ToolCall != nil && p.ToolCall.Status == string(loop.StatusRunning) {
		c.endText()
		fmt.Fprintf(c.w, "%s %s\n", color.MagentaString(ev.MemberID+":"), color.YellowString(p.ToolCall.Name))
	}
	if p.Status != "" {
		c.endText()
		line := fmt.Sprintf("%s %s", ev.MemberID, p.Status)
		if p.StopReason != "" {
			line += " (" + p.StopReason + ")"
		}
		fmt.Fprintln(c.w, color.BlueString(line))
	}
}

func (c *console) OnTaskUpdate(_ context.Context, ev bus.TaskUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endText()
	line := fmt.Sprintf("task #%s %s", ev.TaskID, ev.Patch.Status)
	if ev.Patch.Owner != nil && *ev.Patch.Owner != "" {
		line += " by " + *ev.Patch.Owner
	}
	fmt.Fprintln(c.w, color.CyanString(line))
}

func (c *console) OnMessage(_ context.Context, msg bus.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endText()
	fmt.Fprintf(c.w, "%s %s → %s: %s\n", color.GreenString(string(msg.Type)), msg.From, msg.To, firstLine(msg.Content))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
