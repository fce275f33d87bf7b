package server

import (
	"errors"
	"fmt"
	"time"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

// Version is reported in connection.start server properties.
const Version = "0.3.0"

const replySuccess = 200

func (c *connection) sendStart() error {
	props := wire.Table{
		"product":     "carrot-broker",
		"version":     Version,
		"platform":    "Go",
		"copyright":   "carrot-broker authors",
		"information": "AMQP 0-9-1 broker",
		"capabilities": wire.Table{
			"publisher_confirms":           true,
			"basic.nack":                   true,
			"consumer_cancel_notify":       true,
			"per_consumer_qos":             true,
			"authentication_failure_close": true,
			"exchange_exchange_bindings":   false,
			"connection.blocked":           false,
		},
	}
	c.state = stateStarting
	return c.send(0, &wire.ConnectionStart{
		VersionMajor:     0,
		VersionMinor:     9,
		ServerProperties: props,
		Mechanisms:       mechanismList(c.server.auth),
		Locales:          []byte("en_US"),
	})
}

func (c *connection) handleConnectionMethod(m wire.Method) error {
	if cl, ok := m.(*wire.ConnectionClose); ok {
		return c.handleClientClose(cl)
	}

	switch c.state {
	case stateStarting:
		so, ok := m.(*startOk)
		if !ok {
			break
		}
		if so.strategy == nil {
			return c.authFailure(fmt.Errorf("unsupported mechanism %q", so.Mechanism))
		}
		c.logger.Debug("Client properties: %v", so.ClientProperties)
		c.sasl = so.strategy.NewSession()
		return c.authStep(so.Response)

	case stateSecuring:
		if so, ok := m.(*wire.ConnectionSecureOk); ok {
			return c.authStep(so.Response)
		}

	case stateTuning:
		if t, ok := m.(*wire.ConnectionTuneOk); ok {
			return c.handleTuneOk(t)
		}

	case stateOpening:
		if o, ok := m.(*wire.ConnectionOpen); ok {
			return c.handleOpen(o)
		}

	case stateOpen:
		if _, ok := m.(*wire.ConnectionCloseOk); ok {
			return errConnectionDone
		}
	}
	return amqpError.Hard(amqpError.CommandInvalid, "unexpected %s while connection is %s", wire.Name(m), c.state)
}

func (c *connection) authStep(response []byte) error {
	challenge, done, err := c.sasl.Step(response)
	if err != nil {
		return c.authFailure(err)
	}
	if !done {
		c.state = stateSecuring
		return c.send(0, &wire.ConnectionSecure{Challenge: challenge})
	}

	c.user = c.sasl.User()
	c.sasl = nil
	c.logger.Info("Authenticated user '%s'", c.user)
	c.state = stateTuning
	return c.send(0, &wire.ConnectionTune{
		ChannelMax: c.server.brokerCfg.ChannelMax,
		FrameMax:   c.server.brokerCfg.FrameMax,
		Heartbeat:  c.server.brokerCfg.Heartbeat,
	})
}

// authFailure answers 403 after a delay and drops the connection. The
// delay runs off the worker so it does not hold a pool slot.
func (c *connection) authFailure(cause error) error {
	c.logger.Warn("Authentication failed: %v", cause)
	c.broker.Events.Publish(events.AuthFailed, map[string]any{
		"remote": c.conn.RemoteAddr().String(),
		"reason": cause.Error(),
	})

	c.state = stateClosing
	text := "authentication failed"
	if !errors.Is(cause, errBadCredentials) {
		text = cause.Error()
	}
	e := amqpError.Soft(amqpError.AccessRefused, "%s", text)
	time.AfterFunc(c.server.brokerCfg.FailedAuthThrottle, func() {
		c.sendConnectionClose(e)
		c.conn.Close()
	})
	return nil
}

func (c *connection) handleTuneOk(m *wire.ConnectionTuneOk) error {
	cfg := c.server.brokerCfg

	c.channelMax = m.ChannelMax
	if c.channelMax == 0 || c.channelMax > cfg.ChannelMax {
		c.channelMax = cfg.ChannelMax
	}
	frameMax := m.FrameMax
	if frameMax == 0 || frameMax > cfg.FrameMax {
		frameMax = cfg.FrameMax
	}
	if frameMax < wire.FrameMinSize {
		return amqpError.Hard(amqpError.NotAllowed, "frame-max %d is below the minimum %d", frameMax, wire.FrameMinSize)
	}
	c.frameMax.Store(frameMax)
	c.heartbeat.Store(uint32(m.Heartbeat))
	c.logger.Debug("Tuned: channel-max=%d frame-max=%d heartbeat=%d", c.channelMax, frameMax, m.Heartbeat)

	if m.Heartbeat > 0 {
		interval := time.Duration(m.Heartbeat) * time.Second / 2
		c.group.Go(func() error { return c.sendHeartbeats(interval) })
	}
	c.state = stateOpening
	return nil
}

func (c *connection) handleOpen(m *wire.ConnectionOpen) error {
	name := m.VirtualHost
	if name == "" {
		name = "/"
	}
	vhost, ok := c.broker.VHost(name)
	if !ok {
		return amqpError.Hard(amqpError.NotAllowed, "vhost '%s' not found", name)
	}
	c.vhost = vhost
	c.state = stateOpen
	c.opened.Store(true)
	c.logger.Info("Connection opened on vhost '%s'", name)
	c.broker.Events.Publish(events.ConnectionOpened, map[string]any{
		"remote": c.conn.RemoteAddr().String(),
		"user":   c.user,
		"vhost":  name,
	})
	return c.send(0, &wire.ConnectionOpenOk{})
}

func (c *connection) handleClientClose(m *wire.ConnectionClose) error {
	if m.ReplyCode != replySuccess {
		c.logger.Warn("Client closed connection: %d %s", m.ReplyCode, m.ReplyText)
	} else {
		c.logger.Info("Client closed connection")
	}
	c.state = stateClosing
	c.releaseChannels()
	c.send(0, &wire.ConnectionCloseOk{})
	return errConnectionDone
}

func (c *connection) openChannel(id uint16) error {
	if id > c.channelMax {
		return amqpError.Hard(amqpError.ChannelError, "channel %d exceeds channel-max %d", id, c.channelMax)
	}
	if _, exists := c.channels[id]; exists {
		return amqpError.Hard(amqpError.ChannelError, "channel %d is already open", id)
	}
	ch := newChannel(c, id)
	c.channels[id] = ch
	c.logger.Debug("Opened channel %d", id)
	c.broker.Events.Publish(events.ChannelOpened, map[string]any{"channel": id})
	return c.send(id, &wire.ChannelOpenOk{})
}
