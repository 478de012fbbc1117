package bus

import (
	"context"
	"log/slog"
	"slices"

	"github.com/casualjim/flock/pkg/slogx"
)

// Handler receives the events of a subscription, one at a time and in publish order.
type Handler interface {
	OnMemberUpdate(context.Context, MemberUpdate)
	OnTaskUpdate(context.Context, TaskUpdate)
	OnMessage(context.Context, Message)
}

// Handlers adapts optional functions to the Handler interface. Events without a function
// are ignored.
type Handlers struct {
	Member  func(context.Context, MemberUpdate)
	Task    func(context.Context, TaskUpdate)
	Message func(context.Context, Message)
}

func (h Handlers) OnMemberUpdate(ctx context.Context, ev MemberUpdate) {
	if h.Member != nil {
		h.Member(ctx, ev)
	}
}

func (h Handlers) OnTaskUpdate(ctx context.Context, ev TaskUpdate) {
	if h.Task != nil {
		h.Task(ctx, ev)
	}
}

func (h Handlers) OnMessage(ctx context.Context, ev Message) {
	if h.Message != nil {
		h.Message(ctx, ev)
	}
}

// LoggingHandler logs every event at debug level.
func LoggingHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default().With(slogx.LoggerName("flock.bus"))
	}
	return &loggingHandler{log: logger}
}

type loggingHandler struct {
	log *slog.Logger
}

func (l *loggingHandler) OnMemberUpdate(ctx context.Context, ev MemberUpdate) {
	l.log.DebugContext(ctx, "member update", slogx.Teammate(ev.MemberID), slog.Any("patch", ev.Patch))
}

func (l *loggingHandler) OnTaskUpdate(ctx context.Context, ev TaskUpdate) {
	l.log.DebugContext(ctx, "task update", slogx.Task(ev.TaskID), slog.String("status", string(ev.Patch.Status)))
}

func (l *loggingHandler) OnMessage(ctx context.Context, ev Message) {
	l.log.DebugContext(ctx, "team message",
		slog.String("from", ev.From),
		slog.String("to", ev.To),
		slog.String("type", string(ev.Type)),
	)
}

// CompositeHandler fans every event out to all its handlers in order.
type CompositeHandler []Handler

func NewCompositeHandler(handlers ...Handler) Handler {
	return CompositeHandler(handlers)
}

func (c CompositeHandler) OnMemberUpdate(ctx context.Context, ev MemberUpdate) {
	for h := range slices.Values(c) {
		h.OnMemberUpdate(ctx, ev)
	}
}

func (c CompositeHandler) OnTaskUpdate(ctx context.Context, ev TaskUpdate) {
	for h := range slices.Values(c) {
		h.OnTaskUpdate(ctx, ev)
	}
}

func (c CompositeHandler) OnMessage(ctx context.Context, ev Message) {
	for h := range slices.Values(c) {
		h.OnMessage(ctx, ev)
	}
}

func dispatch(ctx context.Context, h Handler, ev Event) {
	switch e := ev.(type) {
	case MemberUpdate:
		h.OnMemberUpdate(ctx, e)
	case TaskUpdate:
		h.OnTaskUpdate(ctx, e)
	case Message:
		h.OnMessage(ctx, e)
	}
}

// forward feeds events from ch to h until ch closes or ctx is done. Once done is closed the
// events still buffered in ch are delivered and forward returns.
func forward(ctx context.Context, ch <-chan Event, done <-chan struct{}, h Handler) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			dispatch(ctx, h, ev)
		case <-done:
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					dispatch(ctx, h, ev)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
