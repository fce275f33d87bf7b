package broker

import (
	"sort"
	"sync"
	"sync/atomic"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

// Queue arguments understood on declare
const (
	ArgMaxLength            = "x-max-length"
	ArgOverflow             = "x-overflow"
	ArgDeadLetterExchange   = "x-dead-letter-exchange"
	ArgDeadLetterRoutingKey = "x-dead-letter-routing-key"
)

// DeliverySink is the consuming side of a queue, normally a channel.
//
// Reserve is called with the queue lock held and must not block or call back
// into the queue. Deliver is called without it; an error puts the message
// back where it was.
type DeliverySink interface {
	Reserve(c *Consumer) bool
	Release(c *Consumer)
	Deliver(c *Consumer, msg *Message) error
	ConsumerCancelled(c *Consumer)
}

// Consumer is compared by identity; a tag may be reused after cancel.
type Consumer struct {
	Tag       string
	Queue     *Queue
	NoAck     bool
	Exclusive bool
	Selector  *Selector
	Sink      DeliverySink

	enabled atomic.Bool
}

// QueueSpec holds the declare arguments.
type QueueSpec struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	Passive    bool
	Arguments  wire.Table
}

type Queue struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	Arguments  wire.Table

	// Owner is the connection an exclusive queue belongs to.
	Owner uint64

	vhost     *VHost
	maxLength int
	overflow  config.OverflowPolicy

	mu           sync.Mutex
	messages     []*Message
	consumers    []*Consumer
	next         int
	hadConsumers bool
	deleted      bool

	notify chan struct{}
	done   chan struct{}
}

func newQueue(v *VHost, spec QueueSpec, owner uint64) *Queue {
	q := &Queue{
		Name:       spec.Name,
		Durable:    spec.Durable,
		Exclusive:  spec.Exclusive,
		AutoDelete: spec.AutoDelete,
		Arguments:  spec.Arguments,
		Owner:      owner,
		vhost:      v,
		maxLength:  v.broker.Config.QueueCapacity,
		overflow:   v.broker.Config.OverflowPolicy,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if n, ok := intArg(spec.Arguments, ArgMaxLength); ok {
		q.maxLength = n
	}
	if s, ok := stringArg(spec.Arguments, ArgOverflow); ok && s != "" {
		q.overflow = config.OverflowPolicy(s)
	}
	go q.run()
	return q
}

func validateQueueArgs(args wire.Table) error {
	if v, ok := args[ArgMaxLength]; ok {
		if n, ok := intArg(args, ArgMaxLength); !ok || n < 0 {
			return amqpError.Soft(amqpError.PreconditionFailed, "invalid %s %v", ArgMaxLength, v)
		}
	}
	if s, ok := stringArg(args, ArgOverflow); ok {
		switch config.OverflowPolicy(s) {
		case config.OverflowDropHead, config.OverflowRejectPublish:
		default:
			return amqpError.Soft(amqpError.PreconditionFailed, "invalid %s '%s'", ArgOverflow, s)
		}
	}
	return nil
}

func intArg(args wire.Table, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	n, ok := normalizeValue(v).(int64)
	return int(n), ok
}

func stringArg(args wire.Table, key string) (string, bool) {
	switch s := args[key].(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func (q *Queue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}
		q.dispatch()
	}
}

// Wake asks the dispatcher for another pass.
func (q *Queue) Wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) dispatch() {
	for {
		c, msg := q.pick()
		if c == nil {
			return
		}
		if err := c.Sink.Deliver(c, msg); err != nil {
			c.Sink.Release(c)
			c.enabled.Store(false)
			q.vhost.logger.Debug("Delivery to consumer %s on queue '%s' failed: %v", c.Tag, q.Name, err)
			q.restore([]*Message{msg})
		}
	}
}

// pick takes the first message some ready consumer accepts, rotating over
// consumers so that each gets a turn.
func (q *Queue) pick() (*Consumer, *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.consumers)
	if q.deleted || n == 0 || len(q.messages) == 0 {
		return nil, nil
	}

	skip := make([]bool, n)
	ready := 0
	for i, c := range q.consumers {
		skip[i] = !c.enabled.Load()
		if !skip[i] {
			ready++
		}
	}

	for i, msg := range q.messages {
		if ready == 0 {
			break
		}
		for k := 0; k < n; k++ {
			idx := (q.next + k) % n
			c := q.consumers[idx]
			if skip[idx] || !c.Selector.Matches(msg) {
				continue
			}
			if !c.Sink.Reserve(c) {
				skip[idx] = true
				ready--
				continue
			}
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			q.next = (idx + 1) % n
			return c, msg
		}
	}
	return nil, nil
}

func (q *Queue) persists(msg *Message) bool {
	return q.Durable && msg.Persistent() && q.vhost.broker.Store.Enabled()
}

// Enqueue stores and appends a routed message. It reports false when a
// reject-publish limit refused it.
func (q *Queue) Enqueue(msg *Message) (bool, error) {
	persisted := false
	if q.persists(msg) {
		rec, err := msg.record()
		if err != nil {
			return false, err
		}
		if err := q.vhost.broker.Store.SaveMessage(q.vhost.Name, q.Name, rec); err != nil {
			return false, err
		}
		persisted = true
	}
	if !q.push(msg) {
		if persisted {
			q.forget(msg)
		}
		return false, nil
	}
	return true, nil
}

// push appends an already stored message, applying the length limit.
func (q *Queue) push(msg *Message) bool {
	return q.pushBatch([]*Message{msg})[0]
}

// pushBatch appends msgs in order under one lock hold, so a consumer sees
// either none or all of them, and wakes the dispatcher once. ok[i] is false
// when a reject-publish limit refused msgs[i].
func (q *Queue) pushBatch(msgs []*Message) (ok []bool) {
	ok = make([]bool, len(msgs))
	q.mu.Lock()
	if q.deleted {
		q.mu.Unlock()
		for i := range ok {
			ok[i] = true
		}
		return ok
	}
	var evicted []*Message
	limited := false
	for i, msg := range msgs {
		if q.maxLength > 0 && len(q.messages) >= q.maxLength {
			limited = true
			if q.overflow == config.OverflowRejectPublish {
				continue
			}
			drop := len(q.messages) - q.maxLength + 1
			evicted = append(evicted, q.messages[:drop]...)
			q.messages = append(q.messages[:0:0], q.messages[drop:]...)
		}
		q.messages = append(q.messages, msg)
		ok[i] = true
	}
	q.mu.Unlock()

	if limited {
		q.vhost.publish(events.QueueLimitReached, map[string]any{"queue": q.Name, "limit": q.maxLength})
	}
	for _, m := range evicted {
		q.deadLetter(m, "maxlen")
	}
	q.Wake()
	return ok
}

// insert merges msgs into the deque by message id, which puts returned
// messages ahead of everything published after them.
func (q *Queue) insert(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })

	merged := make([]*Message, 0, len(q.messages)+len(msgs))
	i := 0
	for _, m := range q.messages {
		for i < len(msgs) && msgs[i].ID < m.ID {
			merged = append(merged, msgs[i])
			i++
		}
		merged = append(merged, m)
	}
	merged = append(merged, msgs[i:]...)
	q.messages = merged
}

// restore returns messages that never reached a client.
func (q *Queue) restore(msgs []*Message) {
	q.mu.Lock()
	if q.deleted {
		q.mu.Unlock()
		return
	}
	q.insert(msgs)
	q.mu.Unlock()
	q.Wake()
}

// Requeue returns delivered messages to the head of the queue marked as
// redelivered. Messages past the redelivery limit are dead-lettered instead.
func (q *Queue) Requeue(msgs []*Message) {
	if len(msgs) == 0 {
		return
	}
	limit := q.vhost.broker.Config.MaxRedeliveries
	var back, dead []*Message
	for _, m := range msgs {
		m.Redelivered = true
		m.DeliveryCount++
		if limit > 0 && m.DeliveryCount > limit {
			dead = append(dead, m)
		} else {
			back = append(back, m)
		}
	}

	q.mu.Lock()
	deleted := q.deleted
	if !deleted {
		q.insert(back)
	}
	q.mu.Unlock()

	if deleted {
		return
	}
	for _, m := range dead {
		q.deadLetter(m, "delivery_limit")
	}
	q.Wake()
}

// Get removes the head message for basic.get, returning it with the number
// of messages left.
func (q *Queue) Get() (*Message, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil, 0
	}
	msg := q.messages[0]
	q.messages[0] = nil
	q.messages = q.messages[1:]
	return msg, len(q.messages)
}

// Ack settles a delivered message.
func (q *Queue) Ack(msg *Message) error {
	if !q.persists(msg) || q.isDeleted() {
		return nil
	}
	return q.vhost.broker.Store.DeleteMessage(q.vhost.Name, q.Name, msg.ID)
}

// Discard settles a rejected message by dead-lettering or dropping it.
func (q *Queue) Discard(msg *Message) {
	q.deadLetter(msg, "rejected")
}

func (q *Queue) forget(msg *Message) {
	if !q.persists(msg) {
		return
	}
	if err := q.vhost.broker.Store.DeleteMessage(q.vhost.Name, q.Name, msg.ID); err != nil {
		q.vhost.logger.Err("Failed to delete stored message %d of queue '%s': %v", msg.ID, q.Name, err)
	}
}

func (q *Queue) deadLetter(msg *Message, reason string) {
	q.forget(msg)

	exchange, ok := stringArg(q.Arguments, ArgDeadLetterExchange)
	if !ok {
		exchange = q.vhost.broker.Config.DeadLetterExchange
		ok = exchange != ""
	}
	if !ok {
		q.vhost.publish(events.MessageDropped, map[string]any{"queue": q.Name, "reason": reason, "message": msg.ID})
		return
	}

	routingKey := msg.RoutingKey
	if rk, ok := stringArg(q.Arguments, ArgDeadLetterRoutingKey); ok {
		routingKey = rk
	}

	dl := msg.Copy()
	dl.ID = q.vhost.broker.NextMessageID()
	dl.Exchange = exchange
	dl.RoutingKey = routingKey
	dl.Redelivered = false
	dl.DeliveryCount = 0
	if dl.Properties.Headers == nil {
		dl.Properties.Headers = wire.Table{}
	}
	if _, ok := dl.Properties.Headers["x-first-death-queue"]; !ok {
		dl.Properties.Headers["x-first-death-queue"] = q.Name
		dl.Properties.Headers["x-first-death-reason"] = reason
		dl.Properties.Headers["x-first-death-exchange"] = msg.Exchange
	}

	q.vhost.publish(events.MessageDeadLetter, map[string]any{
		"queue": q.Name, "reason": reason, "exchange": exchange, "routing_key": routingKey,
	})
	if err := q.vhost.deadLetter(dl, q); err != nil {
		q.vhost.logger.Warn("Dead-lettering message %d from queue '%s' failed: %v", msg.ID, q.Name, err)
	}
}

// AddConsumer attaches a consumer in a disabled state; EnableConsumer starts
// deliveries once the consume reply has been sent.
func (q *Queue) AddConsumer(c *Consumer) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deleted {
		return amqpError.Soft(amqpError.NotFound, "no queue '%s' in vhost '%s'", q.Name, q.vhost.Name)
	}
	if len(q.consumers) > 0 {
		if c.Exclusive {
			return amqpError.Soft(amqpError.AccessRefused, "cannot obtain exclusive access to queue '%s', it has consumers", q.Name)
		}
		for _, existing := range q.consumers {
			if existing.Exclusive {
				return amqpError.Soft(amqpError.AccessRefused, "queue '%s' in exclusive use", q.Name)
			}
		}
	}
	c.Queue = q
	q.consumers = append(q.consumers, c)
	q.hadConsumers = true
	return nil
}

func (q *Queue) EnableConsumer(c *Consumer) {
	c.enabled.Store(true)
	q.Wake()
}

// RemoveConsumer detaches c. An auto-delete queue goes away with its last
// consumer.
func (q *Queue) RemoveConsumer(c *Consumer) bool {
	c.enabled.Store(false)

	q.mu.Lock()
	found := false
	for i, existing := range q.consumers {
		if existing == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			if q.next > i {
				q.next--
			}
			if len(q.consumers) > 0 {
				q.next %= len(q.consumers)
			} else {
				q.next = 0
			}
			found = true
			break
		}
	}
	autoDelete := found && q.AutoDelete && q.hadConsumers && len(q.consumers) == 0 && !q.deleted
	q.mu.Unlock()

	if autoDelete {
		q.vhost.autoDeleteQueue(q)
	}
	return found
}

func (q *Queue) MessageCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *Queue) ConsumerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.consumers)
}

func (q *Queue) isDeleted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleted
}

// Purge drops every ready message; unacknowledged deliveries are untouched.
func (q *Queue) Purge() int {
	q.mu.Lock()
	purged := q.messages
	q.messages = nil
	q.mu.Unlock()

	var ids []uint64
	for _, m := range purged {
		if q.persists(m) {
			ids = append(ids, m.ID)
		}
	}
	if err := q.vhost.broker.Store.DeleteMessages(q.vhost.Name, q.Name, ids); err != nil {
		q.vhost.logger.Err("Failed to delete purged messages of queue '%s': %v", q.Name, err)
	}
	return len(purged)
}

func (q *Queue) checkDelete(ifUnused, ifEmpty bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ifUnused && len(q.consumers) > 0 {
		return amqpError.Soft(amqpError.PreconditionFailed, "queue '%s' in use", q.Name)
	}
	if ifEmpty && len(q.messages) > 0 {
		return amqpError.Soft(amqpError.PreconditionFailed, "queue '%s' is not empty", q.Name)
	}
	return nil
}

// close marks the queue deleted, stops the dispatcher and cancels consumers.
// It returns the number of ready messages dropped.
func (q *Queue) close() int {
	q.mu.Lock()
	if q.deleted {
		q.mu.Unlock()
		return 0
	}
	q.deleted = true
	count := len(q.messages)
	q.messages = nil
	consumers := q.consumers
	q.consumers = nil
	close(q.done)
	q.mu.Unlock()

	for _, c := range consumers {
		c.enabled.Store(false)
		c.Sink.ConsumerCancelled(c)
	}
	return count
}
