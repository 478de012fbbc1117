// Package approval resolves tool calls that need a human (or lead agent) decision.
//
// Every request is a future keyed by its tool call id that resolves exactly once, either
// through Resolve or through DenyAll when the session is torn down.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/flock/loop"
	"github.com/casualjim/flock/pkg/slogx"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
)

// ErrCleared is returned to a waiting caller whose request was force-denied.
var ErrCleared = errors.New("approval: pending approvals cleared")

// Request describes a tool call waiting for a decision.
type Request struct {
	Call        loop.ToolCallState
	RequestedAt strfmt.DateTime
}

type decision struct {
	approved bool
	err      error
}

type future struct {
	req  Request
	ch   chan decision
	once sync.Once
}

func (f *future) resolve(d decision) bool {
	resolved := false
	f.once.Do(func() {
		f.ch <- d
		resolved = true
	})
	return resolved
}

// Option configures a Broker.
type Option = opts.Option[Broker]

// Notify registers a callback invoked for every new request, typically to surface it to a user.
var Notify = opts.ForName[Broker, func(Request)]("notify")

// WithLogger sets the logger.
var WithLogger = opts.ForName[Broker, *slog.Logger]("log")

// Broker implements loop.Approver on top of per call futures.
type Broker struct {
	pending *haxmap.Map[string, *future]
	notify  func(Request)
	log     *slog.Logger
}

// NewBroker creates an empty broker.
func NewBroker(options ...Option) *Broker {
	b := &Broker{pending: haxmap.New[string, *future]()}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	if b.log == nil {
		b.log = slog.Default().With(slogx.LoggerName("flock.approval"))
	}
	return b
}

// Approve blocks until the call is resolved or ctx is done.
func (b *Broker) Approve(ctx context.Context, call loop.ToolCallState) (bool, error) {
	f := &future{
		req: Request{Call: call, RequestedAt: strfmt.DateTime(time.Now())},
		ch:  make(chan decision, 1),
	}
	if prev, loaded := b.pending.GetOrSet(call.ID, f); loaded {
		f = prev
	} else if b.notify != nil {
		b.notify(f.req)
	}
	defer b.pending.Del(call.ID)

	b.log.DebugContext(ctx, "waiting for approval", slogx.ToolCall(call.ID), slog.String("tool", call.Name))
	select {
	case <-ctx.Done():
		f.resolve(decision{err: context.Cause(ctx)})
		return false, context.Cause(ctx)
	case d := <-f.ch:
		return d.approved, d.err
	}
}

// Resolve settles the request for a tool call. It reports false when no request is
// pending for id or it was already resolved.
func (b *Broker) Resolve(id string, approved bool) bool {
	f, ok := b.pending.Get(id)
	if !ok {
		return false
	}
	return f.resolve(decision{approved: approved})
}

// DenyAll force-denies every outstanding request and returns how many it resolved.
func (b *Broker) DenyAll() int {
	n := 0
	b.pending.ForEach(func(id string, f *future) bool {
		if f.resolve(decision{err: ErrCleared}) {
			n++
		}
		return true
	})
	if n > 0 {
		b.log.Info("cleared pending approvals", slog.Int("count", n))
	}
	return n
}

// Pending returns the outstanding requests ordered by request time.
func (b *Broker) Pending() []Request {
	var out []Request
	b.pending.ForEach(func(_ string, f *future) bool {
		out = append(out, f.req)
		return true
	})
	slices.SortFunc(out, func(a, b Request) int {
		return time.Time(a.RequestedAt).Compare(time.Time(b.RequestedAt))
	})
	return out
}
