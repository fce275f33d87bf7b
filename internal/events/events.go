// Package events carries fire-and-forget admin and observability
// notifications. Publishing never blocks and never fails the operation
// being described.
package events

import (
	"time"

	goevents "github.com/docker/go-events"

	"github.com/aleybovich/carrot-broker/logger"
)

// Event ids
const (
	ConnectionOpened  = "connection.opened"
	ConnectionClosed  = "connection.closed"
	ChannelOpened     = "channel.opened"
	ChannelClosed     = "channel.closed"
	ExchangeCreated   = "exchange.created"
	ExchangeDeleted   = "exchange.deleted"
	QueueCreated      = "queue.created"
	QueueDeleted      = "queue.deleted"
	QueuePurged       = "queue.purged"
	BindingCreated    = "binding.created"
	BindingDeleted    = "binding.deleted"
	ConsumerAdded     = "consumer.added"
	ConsumerRemoved   = "consumer.removed"
	MessageReturned   = "message.returned"
	MessageDeadLetter = "message.dead-lettered"
	MessageDropped    = "message.dropped"
	QueueLimitReached = "queue.limit-reached"
	DtxTimeout        = "dtx.timeout"
	AuthFailed        = "auth.failed"
)

// Event is one notification as handed to sinks.
type Event struct {
	ID    string
	Props map[string]any
	Time  time.Time
}

// Publisher is what broker code depends on.
type Publisher interface {
	Publish(id string, props map[string]any)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(string, map[string]any) {}

// Bus fans events out to sinks through an unbounded queue so a slow sink
// cannot stall a connection.
type Bus struct {
	broadcaster *goevents.Broadcaster
	queue       *goevents.Queue
	logger      logger.Logger
}

// NewBus wires the given sinks behind a broadcaster.
func NewBus(l logger.Logger, sinks ...goevents.Sink) *Bus {
	if l == nil {
		l = &logger.NilLogger{}
	}
	b := goevents.NewBroadcaster(sinks...)
	return &Bus{
		broadcaster: b,
		queue:       goevents.NewQueue(b),
		logger:      l,
	}
}

// Add attaches another sink.
func (b *Bus) Add(sink goevents.Sink) error {
	return b.broadcaster.Add(sink)
}

func (b *Bus) Publish(id string, props map[string]any) {
	ev := Event{ID: id, Props: props, Time: time.Now()}
	if err := b.queue.Write(ev); err != nil {
		b.logger.Debug("Dropping event %s: %v", id, err)
	}
}

// Close flushes pending events and closes every sink.
func (b *Bus) Close() error {
	return b.queue.Close()
}
