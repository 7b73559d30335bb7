// Package eventbus defines the topic publish/subscribe contract the outbox
// publisher and the status consumer communicate through, plus its realizations.
//
// Delivery guarantee: at-least-once to every subscriber registered at publish
// time. Ordering is FIFO per topic from a single publisher. Consumers must
// deduplicate by payload event id.
package eventbus

import "context"

// Handler consumes one raw event payload. Returned errors are logged by the
// bus; they never abort fan-out to other subscribers.
type Handler func(ctx context.Context, payload []byte) error

type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, name string, h Handler)
}
