// Package bus carries team notifications between the lead and its teammates.
//
// A team has one topic. Every member subscribes to it and filters what concerns it:
// messages addressed to it or broadcast, member updates and task board updates. Local
// keeps everything in-process; NATS spreads a team over processes with the same events
// encoded by ToJSON.
package bus

import "context"

// Broker hands out topics by id.
type Broker interface {
	Topic(context.Context, string) Topic
}

// Topic publishes events to its subscribers in order.
type Topic interface {
	Publish(context.Context, Event) error
	Subscribe(context.Context, Handler) (Subscription, error)
}

// Subscription is an active registration of a handler on a topic.
type Subscription interface {
	ID() string
	Unsubscribe()
}
