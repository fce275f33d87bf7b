package server

import (
	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/internal/broker"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

// handleMethod dispatches a method on an open channel.
func (ch *channel) handleMethod(m wire.Method) error {
	switch m := m.(type) {
	case *wire.ChannelFlow:
		return ch.handleFlow(m)
	case *wire.ChannelFlowOk:
		return nil
	case *wire.ChannelClose:
		return ch.handleClose(m)
	case *wire.ChannelCloseOk:
		return nil

	case *wire.ExchangeDeclare:
		return ch.handleExchangeDeclare(m)
	case *wire.ExchangeDelete:
		return ch.handleExchangeDelete(m)

	case *wire.QueueDeclare:
		return ch.handleQueueDeclare(m)
	case *wire.QueueBind:
		return ch.handleQueueBind(m)
	case *wire.QueueUnbind:
		return ch.handleQueueUnbind(m)
	case *wire.QueuePurge:
		return ch.handleQueuePurge(m)
	case *wire.QueueDelete:
		return ch.handleQueueDelete(m)

	case *wire.BasicQos:
		return ch.handleQos(m)
	case *wire.BasicConsume:
		return ch.handleConsume(m)
	case *wire.BasicCancel:
		return ch.handleCancel(m)
	case *wire.BasicPublish:
		return ch.aggregator.Begin(m)
	case *wire.BasicGet:
		return ch.handleGet(m)
	case *wire.BasicAck:
		return ch.handleAck(m)
	case *wire.BasicReject:
		return ch.handleReject(m.DeliveryTag, false, m.Requeue)
	case *wire.BasicNack:
		return ch.handleReject(m.DeliveryTag, m.Multiple, m.Requeue)
	case *wire.BasicRecover:
		if err := ch.recover(m.Requeue); err != nil {
			return err
		}
		return ch.conn.send(ch.id, &wire.BasicRecoverOk{})
	case *wire.BasicRecoverAsync:
		return ch.recover(m.Requeue)

	case *wire.ConfirmSelect:
		return ch.handleConfirmSelect(m)

	case *wire.TxSelect:
		return ch.handleTxSelect()
	case *wire.TxCommit:
		return ch.handleTxCommit()
	case *wire.TxRollback:
		return ch.handleTxRollback()
	}

	if m.ClassID() == wire.ClassDtx {
		return ch.handleDtx(m)
	}
	return amqpError.Hard(amqpError.CommandInvalid, "unexpected %s from client", wire.Name(m))
}

func (ch *channel) handleFlow(m *wire.ChannelFlow) error {
	ch.flow.Store(m.Active)
	ch.logger.Debug("Channel %d flow active=%v", ch.id, m.Active)
	if err := ch.conn.send(ch.id, &wire.ChannelFlowOk{Active: m.Active}); err != nil {
		return err
	}
	if m.Active {
		ch.wakeConsumers()
	}
	return nil
}

func (ch *channel) wakeConsumers() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, c := range ch.consumers {
		c.Queue.Wake()
	}
}

func (ch *channel) handleClose(m *wire.ChannelClose) error {
	if m.ReplyCode != replySuccess {
		ch.logger.Warn("Client closed channel %d: %d %s", ch.id, m.ReplyCode, m.ReplyText)
	}
	ch.release()
	ch.conn.forgetChannel(ch)
	return ch.conn.send(ch.id, &wire.ChannelCloseOk{})
}

// --- exchange ---

func (ch *channel) handleExchangeDeclare(m *wire.ExchangeDeclare) error {
	_, err := ch.vhost.DeclareExchange(broker.ExchangeSpec{
		Name:       m.Exchange,
		Kind:       m.Type,
		Durable:    m.Durable,
		AutoDelete: m.AutoDelete,
		Internal:   m.Internal,
		Passive:    m.Passive,
		Arguments:  m.Arguments,
	})
	if err != nil || m.NoWait {
		return err
	}
	return ch.conn.send(ch.id, &wire.ExchangeDeclareOk{})
}

func (ch *channel) handleExchangeDelete(m *wire.ExchangeDelete) error {
	if err := ch.vhost.DeleteExchange(m.Exchange, m.IfUnused); err != nil || m.NoWait {
		return err
	}
	return ch.conn.send(ch.id, &wire.ExchangeDeleteOk{})
}

// --- queue ---

// queueName resolves the empty name to the last declared queue.
func (ch *channel) queueName(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if ch.lastQueue == "" {
		return "", amqpError.Soft(amqpError.NotFound, "no queue named and none declared on this channel")
	}
	return ch.lastQueue, nil
}

func (ch *channel) handleQueueDeclare(m *wire.QueueDeclare) error {
	q, err := ch.vhost.DeclareQueue(broker.QueueSpec{
		Name:       m.Queue,
		Durable:    m.Durable,
		Exclusive:  m.Exclusive,
		AutoDelete: m.AutoDelete,
		Passive:    m.Passive,
		Arguments:  m.Arguments,
	}, ch.conn.id)
	if err != nil {
		return err
	}
	ch.lastQueue = q.Name
	if m.NoWait {
		return nil
	}
	return ch.conn.send(ch.id, &wire.QueueDeclareOk{
		Queue:         q.Name,
		MessageCount:  uint32(q.MessageCount()),
		ConsumerCount: uint32(q.ConsumerCount()),
	})
}

func (ch *channel) handleQueueBind(m *wire.QueueBind) error {
	name, err := ch.queueName(m.Queue)
	if err != nil {
		return err
	}
	if err := ch.vhost.Bind(name, m.Exchange, m.RoutingKey, m.Arguments, ch.conn.id); err != nil || m.NoWait {
		return err
	}
	return ch.conn.send(ch.id, &wire.QueueBindOk{})
}

func (ch *channel) handleQueueUnbind(m *wire.QueueUnbind) error {
	name, err := ch.queueName(m.Queue)
	if err != nil {
		return err
	}
	if err := ch.vhost.Unbind(name, m.Exchange, m.RoutingKey, ch.conn.id); err != nil {
		return err
	}
	return ch.conn.send(ch.id, &wire.QueueUnbindOk{})
}

func (ch *channel) handleQueuePurge(m *wire.QueuePurge) error {
	name, err := ch.queueName(m.Queue)
	if err != nil {
		return err
	}
	n, err := ch.vhost.PurgeQueue(name, ch.conn.id)
	if err != nil || m.NoWait {
		return err
	}
	return ch.conn.send(ch.id, &wire.QueuePurgeOk{MessageCount: uint32(n)})
}

func (ch *channel) handleQueueDelete(m *wire.QueueDelete) error {
	name, err := ch.queueName(m.Queue)
	if err != nil {
		return err
	}
	n, err := ch.vhost.DeleteQueue(name, m.IfUnused, m.IfEmpty, ch.conn.id)
	if err != nil || m.NoWait {
		return err
	}
	return ch.conn.send(ch.id, &wire.QueueDeleteOk{MessageCount: uint32(n)})
}
