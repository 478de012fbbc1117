package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/flock/pkg/slogx"
	"github.com/casualjim/flock/pkg/uuidx"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to topic ids to form NATS subjects.
const SubjectPrefix = "flock.team."

type natsBroker struct {
	client *nats.Conn
	topics *haxmap.Map[string, *natsTopic]
}

// NATS returns a broker that publishes team events on NATS subjects, so members can live
// in other processes.
func NATS(client *nats.Conn) *natsBroker {
	return &natsBroker{
		client: client,
		topics: haxmap.New[string, *natsTopic](),
	}
}

func (b *natsBroker) Topic(_ context.Context, id string) Topic {
	t, _ := b.topics.GetOrCompute(id, func() *natsTopic {
		return &natsTopic{
			subject: SubjectPrefix + id,
			client:  b.client,
		}
	})
	return t
}

type natsTopic struct {
	client  *nats.Conn
	subject string
}

func (t *natsTopic) Publish(_ context.Context, ev Event) error {
	eb, err := ToJSON(ev)
	if err != nil {
		return err
	}
	return t.client.Publish(t.subject, eb)
}

func (t *natsTopic) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}
	ch := make(chan Event, subscriptionBuffer)
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		ev, err := FromJSON(msg.Data)
		if err != nil {
			slog.Error("failed to unmarshal team event", slogx.Error(err), slog.String("subject", msg.Subject))
			return
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.subject, err)
	}
	nsub.SetClosedHandler(func(string) { close(ch) })

	go forward(ctx, ch, nil, h)
	return &natsSubscription{id: uuidx.NewString(), sub: nsub}, nil
}

type natsSubscription struct {
	id  string
	sub *nats.Subscription
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	if err := n.sub.Unsubscribe(); err != nil {
		slog.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
	}
}
