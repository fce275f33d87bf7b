package server

import (
	"github.com/google/uuid"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/internal/broker"
	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

func (ch *channel) handleQos(m *wire.BasicQos) error {
	if m.PrefetchSize != 0 {
		ch.logger.Debug("Ignoring prefetch-size %d on channel %d", m.PrefetchSize, ch.id)
	}
	ch.prefetch.Store(uint32(m.PrefetchCount))
	if err := ch.conn.send(ch.id, &wire.BasicQosOk{}); err != nil {
		return err
	}
	ch.wakeConsumers()
	return nil
}

func (ch *channel) handleConsume(m *wire.BasicConsume) error {
	name, err := ch.queueName(m.Queue)
	if err != nil {
		return err
	}
	tag := m.ConsumerTag
	if tag == "" {
		tag = "amq.ctag-" + uuid.NewString()
	}
	ch.mu.Lock()
	_, dup := ch.consumers[tag]
	ch.mu.Unlock()
	if dup {
		return amqpError.Hard(amqpError.NotAllowed, "consumer tag '%s' already in use on channel %d", tag, ch.id)
	}

	sel, err := broker.SelectorFromArgs(m.Arguments)
	if err != nil {
		return err
	}
	q, err := ch.vhost.ConsumeQueue(name, ch.conn.id)
	if err != nil {
		return err
	}

	c := &broker.Consumer{
		Tag:       tag,
		NoAck:     m.NoAck,
		Exclusive: m.Exclusive,
		Selector:  sel,
		Sink:      ch,
	}
	if err := q.AddConsumer(c); err != nil {
		return err
	}
	ch.mu.Lock()
	ch.consumers[tag] = c
	ch.mu.Unlock()

	if !m.NoWait {
		if err := ch.conn.send(ch.id, &wire.BasicConsumeOk{ConsumerTag: tag}); err != nil {
			return err
		}
	}
	q.EnableConsumer(c)
	ch.logger.Debug("Consumer '%s' started on queue '%s'", tag, q.Name)
	ch.conn.broker.Events.Publish(events.ConsumerAdded, map[string]any{"tag": tag, "queue": q.Name})
	return nil
}

func (ch *channel) handleCancel(m *wire.BasicCancel) error {
	ch.mu.Lock()
	c := ch.consumers[m.ConsumerTag]
	delete(ch.consumers, m.ConsumerTag)
	ch.mu.Unlock()

	if c != nil {
		c.Queue.RemoveConsumer(c)
		ch.conn.broker.Events.Publish(events.ConsumerRemoved, map[string]any{"tag": c.Tag, "queue": c.Queue.Name})
	}
	if m.NoWait {
		return nil
	}
	return ch.conn.send(ch.id, &wire.BasicCancelOk{ConsumerTag: m.ConsumerTag})
}

func (ch *channel) handleGet(m *wire.BasicGet) error {
	name, err := ch.queueName(m.Queue)
	if err != nil {
		return err
	}
	q, err := ch.vhost.ConsumeQueue(name, ch.conn.id)
	if err != nil {
		return err
	}

	ch.deliverMu.Lock()
	defer ch.deliverMu.Unlock()

	msg, left := q.Get()
	if msg == nil {
		return ch.conn.send(ch.id, &wire.BasicGetEmpty{})
	}

	ch.nextTag++
	tag := ch.nextTag
	if !m.NoAck {
		ch.track(&unacked{tag: tag, delivery: broker.Delivery{Queue: q, Message: msg}})
	}
	err = ch.conn.sendContent(ch.id, &wire.BasicGetOk{
		DeliveryTag:  tag,
		Redelivered:  msg.Redelivered,
		Exchange:     msg.Exchange,
		RoutingKey:   msg.RoutingKey,
		MessageCount: uint32(left),
	}, msg.Properties, msg.Body)
	if err != nil {
		if !m.NoAck {
			ch.untrack(tag)
		}
		q.Requeue([]*broker.Message{msg})
		return err
	}
	if m.NoAck {
		return q.Ack(msg)
	}
	return nil
}

func (ch *channel) handleAck(m *wire.BasicAck) error {
	settled, err := ch.settle(m.DeliveryTag, m.Multiple)
	if err != nil {
		return err
	}
	for _, u := range settled {
		switch {
		case ch.txn != nil:
			ch.txn.Ack(u.delivery)
		case ch.branch != nil:
			ch.branch.Ack(u.delivery)
		default:
			if err := u.delivery.Queue.Ack(u.delivery.Message); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleReject serves basic.reject and basic.nack.
func (ch *channel) handleReject(tag uint64, multiple, requeue bool) error {
	settled, err := ch.settle(tag, multiple)
	if err != nil {
		return err
	}

	var back []broker.Delivery
	for _, u := range settled {
		switch {
		case ch.txn != nil:
			ch.txn.Reject(u.delivery, requeue)
		case ch.branch != nil:
			ch.branch.Reject(u.delivery, requeue)
		case requeue:
			back = append(back, u.delivery)
		default:
			u.delivery.Queue.Discard(u.delivery.Message)
		}
	}
	broker.RequeueDeliveries(back)
	return nil
}

// --- publish ---

func (ch *channel) handleContent(frameType byte, payload []byte) error {
	var (
		done bool
		err  error
	)
	switch frameType {
	case wire.FrameHeader:
		done, err = ch.aggregator.Header(payload)
	case wire.FrameBody:
		done, err = ch.aggregator.Body(payload)
	}
	if err != nil || !done {
		return err
	}
	return ch.publish(ch.aggregator.Take())
}

func (ch *channel) publish(content Content) error {
	p := content.Publish
	msg := &broker.Message{
		ID:         ch.conn.broker.NextMessageID(),
		Exchange:   p.Exchange,
		RoutingKey: p.RoutingKey,
		Mandatory:  p.Mandatory,
		Immediate:  p.Immediate,
		Properties: content.Properties,
		Body:       content.Body,
	}
	if ch.confirm {
		ch.publishSeq++
	}

	queues, err := ch.vhost.Route(msg)
	if err != nil {
		return err
	}

	if len(queues) == 0 {
		if p.Mandatory {
			if err := ch.returnMessage(msg, amqpError.NoRoute); err != nil {
				return err
			}
		}
		return ch.confirmPublish(0)
	}
	if p.Immediate {
		queues = withConsumers(queues)
		if len(queues) == 0 {
			if err := ch.returnMessage(msg, amqpError.NoConsumers); err != nil {
				return err
			}
			return ch.confirmPublish(0)
		}
	}

	var refused int
	switch {
	case ch.txn != nil:
		ch.txn.Publish(msg, queues)
	case ch.branch != nil:
		ch.branch.Publish(msg, queues)
	default:
		refused, err = ch.vhost.Deliver(msg, queues)
		if err != nil {
			return err
		}
	}
	return ch.confirmPublish(refused)
}

func withConsumers(queues []*broker.Queue) []*broker.Queue {
	out := queues[:0:0]
	for _, q := range queues {
		if q.ConsumerCount() > 0 {
			out = append(out, q)
		}
	}
	return out
}

func (ch *channel) returnMessage(msg *broker.Message, code amqpError.AmqpError) error {
	ch.logger.Debug("Returning message for exchange '%s' routing key '%s': %s", msg.Exchange, msg.RoutingKey, code)
	ch.conn.broker.Events.Publish(events.MessageReturned, map[string]any{
		"exchange": msg.Exchange, "routing_key": msg.RoutingKey, "code": code.Code(),
	})
	return ch.conn.sendContent(ch.id, &wire.BasicReturn{
		ReplyCode:  code.Code(),
		ReplyText:  code.String(),
		Exchange:   msg.Exchange,
		RoutingKey: msg.RoutingKey,
	}, msg.Properties, msg.Body)
}

// confirmPublish acks the current publish in confirm mode, or nacks it when
// a bounded queue turned it away.
func (ch *channel) confirmPublish(refused int) error {
	if !ch.confirm {
		return nil
	}
	if refused > 0 {
		return ch.conn.send(ch.id, &wire.BasicNack{DeliveryTag: ch.publishSeq})
	}
	return ch.conn.send(ch.id, &wire.BasicAck{DeliveryTag: ch.publishSeq})
}
