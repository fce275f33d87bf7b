package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/internal/broker"
	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/internal/wire"
	"github.com/aleybovich/carrot-broker/logger"
)

var errChannelClosed = errors.New("channel closed")

// unacked is one delivery waiting for ack, reject or recover.
type unacked struct {
	tag      uint64
	delivery broker.Delivery
	consumer *broker.Consumer // nil for basic.get

	// counted deliveries hold a prefetch slot
	counted bool
}

type channel struct {
	id     uint16
	conn   *connection
	vhost  *broker.VHost
	logger logger.Logger

	// owned by the connection worker
	aggregator ContentAggregator
	txn        *broker.Transaction
	dtx        bool
	branch     *broker.Branch
	confirm    bool
	publishSeq uint64
	lastQueue  string
	closing    bool
	closeTimer *time.Timer

	// consumers is also touched by queue dispatchers through ConsumerCancelled
	mu        sync.Mutex
	consumers map[string]*broker.Consumer

	flow     atomic.Bool
	prefetch atomic.Uint32
	inflight atomic.Int64

	// deliverMu orders tag assignment with frame output
	deliverMu sync.Mutex
	nextTag   uint64
	closed    bool

	unackedMu sync.Mutex
	unacked   []*unacked
}

func newChannel(c *connection, id uint16) *channel {
	ch := &channel{
		id:        id,
		conn:      c,
		vhost:     c.vhost,
		logger:    c.logger,
		consumers: make(map[string]*broker.Consumer),
	}
	ch.flow.Store(true)
	return ch
}

// --- broker.DeliverySink ---

func (ch *channel) Reserve(c *broker.Consumer) bool {
	if !ch.flow.Load() {
		return false
	}
	if c.NoAck {
		return true
	}
	for {
		n := ch.inflight.Load()
		if limit := int64(ch.prefetch.Load()); limit > 0 && n >= limit {
			return false
		}
		if ch.inflight.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (ch *channel) Release(c *broker.Consumer) {
	if !c.NoAck {
		ch.inflight.Add(-1)
	}
}

func (ch *channel) Deliver(c *broker.Consumer, msg *broker.Message) error {
	ch.deliverMu.Lock()
	defer ch.deliverMu.Unlock()
	if ch.closed {
		return errChannelClosed
	}

	ch.nextTag++
	tag := ch.nextTag
	if !c.NoAck {
		ch.track(&unacked{tag: tag, delivery: broker.Delivery{Queue: c.Queue, Message: msg}, consumer: c, counted: true})
	}
	err := ch.conn.sendContent(ch.id, &wire.BasicDeliver{
		ConsumerTag: c.Tag,
		DeliveryTag: tag,
		Redelivered: msg.Redelivered,
		Exchange:    msg.Exchange,
		RoutingKey:  msg.RoutingKey,
	}, msg.Properties, msg.Body)
	if err != nil {
		if !c.NoAck {
			ch.untrack(tag)
		}
		return err
	}
	if c.NoAck {
		if err := c.Queue.Ack(msg); err != nil {
			ch.logger.Err("Failed to remove auto-acked message %d: %v", msg.ID, err)
		}
	}
	return nil
}

// ConsumerCancelled tells the client its consumer is gone, normally because
// the queue was deleted.
func (ch *channel) ConsumerCancelled(c *broker.Consumer) {
	ch.mu.Lock()
	if ch.consumers[c.Tag] != c {
		ch.mu.Unlock()
		return
	}
	delete(ch.consumers, c.Tag)
	ch.mu.Unlock()

	ch.deliverMu.Lock()
	closed := ch.closed
	ch.deliverMu.Unlock()
	if !closed {
		if err := ch.conn.send(ch.id, &wire.BasicCancel{ConsumerTag: c.Tag, NoWait: true}); err != nil {
			ch.logger.Warn("Failed to notify consumer '%s' of cancellation: %v", c.Tag, err)
		}
	}
	ch.conn.broker.Events.Publish(events.ConsumerRemoved, map[string]any{"tag": c.Tag, "queue": c.Queue.Name})
}

// --- unacked deliveries ---

func (ch *channel) track(u *unacked) {
	ch.unackedMu.Lock()
	ch.unacked = append(ch.unacked, u)
	ch.unackedMu.Unlock()
}

func (ch *channel) untrack(tag uint64) {
	ch.unackedMu.Lock()
	defer ch.unackedMu.Unlock()
	for i, u := range ch.unacked {
		if u.tag == tag {
			ch.unacked = append(ch.unacked[:i], ch.unacked[i+1:]...)
			return
		}
	}
}

// settle removes the deliveries named by tag. With multiple every delivery
// up to and including tag goes, and tag 0 means all of them.
func (ch *channel) settle(tag uint64, multiple bool) ([]*unacked, error) {
	ch.unackedMu.Lock()
	var out []*unacked
	if multiple && tag == 0 {
		out, ch.unacked = ch.unacked, nil
	} else {
		idx := -1
		for i, u := range ch.unacked {
			if u.tag == tag {
				idx = i
				break
			}
		}
		if idx < 0 {
			ch.unackedMu.Unlock()
			return nil, amqpError.Soft(amqpError.PreconditionFailed, "unknown delivery tag %d", tag)
		}
		if multiple {
			out = append(out, ch.unacked[:idx+1]...)
			ch.unacked = append(ch.unacked[:0], ch.unacked[idx+1:]...)
		} else {
			out = []*unacked{ch.unacked[idx]}
			ch.unacked = append(ch.unacked[:idx], ch.unacked[idx+1:]...)
		}
	}
	ch.unackedMu.Unlock()

	ch.releaseSlots(out)
	return out, nil
}

// releaseSlots frees the prefetch slots of settled deliveries and lets
// their queues dispatch again.
func (ch *channel) releaseSlots(us []*unacked) {
	var n int64
	queues := make(map[*broker.Queue]struct{})
	for _, u := range us {
		if u.counted {
			n++
			queues[u.delivery.Queue] = struct{}{}
		}
	}
	if n == 0 {
		return
	}
	ch.inflight.Add(-n)
	for q := range queues {
		q.Wake()
	}
}

func deliveries(us []*unacked) []broker.Delivery {
	out := make([]broker.Delivery, len(us))
	for i, u := range us {
		out[i] = u.delivery
	}
	return out
}

func (ch *channel) hasConsumer(c *broker.Consumer) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return c != nil && ch.consumers[c.Tag] == c
}

// recover handles basic.recover. Without requeue the deliveries go back to
// their consumers with new tags; those whose consumer is gone are requeued.
func (ch *channel) recover(requeue bool) error {
	if requeue {
		ch.unackedMu.Lock()
		all := ch.unacked
		ch.unacked = nil
		ch.unackedMu.Unlock()
		ch.releaseSlots(all)
		broker.RequeueDeliveries(deliveries(all))
		return nil
	}

	var back []*unacked
	err := func() error {
		ch.deliverMu.Lock()
		defer ch.deliverMu.Unlock()

		ch.unackedMu.Lock()
		all := ch.unacked
		ch.unacked = nil
		ch.unackedMu.Unlock()

		for i, u := range all {
			if !ch.hasConsumer(u.consumer) {
				back = append(back, u)
				continue
			}
			ch.nextTag++
			u.tag = ch.nextTag
			u.delivery.Message.Redelivered = true
			ch.track(u)
			msg := u.delivery.Message
			err := ch.conn.sendContent(ch.id, &wire.BasicDeliver{
				ConsumerTag: u.consumer.Tag,
				DeliveryTag: u.tag,
				Redelivered: true,
				Exchange:    msg.Exchange,
				RoutingKey:  msg.RoutingKey,
			}, msg.Properties, msg.Body)
			if err != nil {
				ch.untrack(u.tag)
				back = append(back, all[i:]...)
				return err
			}
		}
		return nil
	}()

	ch.releaseSlots(back)
	broker.RequeueDeliveries(deliveries(back))
	return err
}

// --- lifecycle ---

func (ch *channel) stopCloseTimer() {
	if ch.closeTimer != nil {
		ch.closeTimer.Stop()
		ch.closeTimer = nil
	}
}

// release gives back everything the channel holds: staged work is rolled
// back, unacked deliveries are requeued and consumers are removed.
func (ch *channel) release() {
	ch.deliverMu.Lock()
	if ch.closed {
		ch.deliverMu.Unlock()
		return
	}
	ch.closed = true
	ch.deliverMu.Unlock()

	if ch.txn != nil {
		ch.txn.Rollback()
	}
	if ch.dtx {
		ch.vhost.Dtx.Detach(ch)
		ch.branch = nil
	}

	ch.unackedMu.Lock()
	pending := ch.unacked
	ch.unacked = nil
	ch.unackedMu.Unlock()
	broker.RequeueDeliveries(deliveries(pending))
	ch.inflight.Store(0)

	ch.mu.Lock()
	consumers := ch.consumers
	ch.consumers = make(map[string]*broker.Consumer)
	ch.mu.Unlock()
	for _, c := range consumers {
		c.Queue.RemoveConsumer(c)
		ch.conn.broker.Events.Publish(events.ConsumerRemoved, map[string]any{"tag": c.Tag, "queue": c.Queue.Name})
	}

	ch.aggregator.reset()
	if len(pending) > 0 {
		ch.logger.Debug("Channel %d released, %d unacked messages requeued", ch.id, len(pending))
	}
}

// closeWithError sends channel.close and frees the channel right away. The
// id stays reserved until close-ok arrives or the wait times out.
func (ch *channel) closeWithError(e *amqpError.Error) error {
	ch.closing = true
	ch.release()
	err := ch.conn.send(ch.id, &wire.ChannelClose{
		ReplyCode: e.Code.Code(),
		ReplyText: e.ReplyText(),
		ClassId:   e.ClassID,
		MethodId:  e.MethodID,
	})
	if err != nil {
		return errConnectionDone
	}

	c := ch.conn
	ch.closeTimer = time.AfterFunc(c.server.brokerCfg.ChannelCloseOkTimeout, func() {
		c.schedule(func() error {
			if c.channels[ch.id] == ch {
				ch.logger.Debug("No channel.close-ok for channel %d, dropping it", ch.id)
				c.forgetChannel(ch)
			}
			return nil
		})
	})
	return nil
}

func (ch *channel) handleWhileClosing(m wire.Method) error {
	switch m.(type) {
	case *wire.ChannelCloseOk:
		ch.conn.forgetChannel(ch)
	case *wire.ChannelClose:
		ch.conn.forgetChannel(ch)
		return ch.conn.send(ch.id, &wire.ChannelCloseOk{})
	}
	return nil
}

func (c *connection) forgetChannel(ch *channel) {
	ch.stopCloseTimer()
	delete(c.channels, ch.id)
	c.broker.Events.Publish(events.ChannelClosed, map[string]any{"channel": ch.id})
}
