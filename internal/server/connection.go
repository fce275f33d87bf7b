package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/internal/broker"
	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/internal/wire"
	"github.com/aleybovich/carrot-broker/logger"
)

// How long a client gets to finish the handshake
const handshakeTimeout = 10 * time.Second

// errConnectionDone stops the worker once the connection is finished.
var errConnectionDone = errors.New("connection done")

type connState int

const (
	stateStarting connState = iota // connection.start sent
	stateSecuring                   // connection.secure sent
	stateTuning                     // connection.tune sent
	stateOpening                    // waiting for connection.open
	stateOpen
	stateClosing // connection.close sent, waiting for close-ok
)

func (s connState) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case stateSecuring:
		return "securing"
	case stateTuning:
		return "tuning"
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	}
	return "unknown"
}

// workItem is one decoded unit handed from the read loop to the worker, or
// a task the connection schedules for itself.
type workItem struct {
	frameType byte
	channel   uint16
	payload   []byte
	method    wire.Method
	err       error

	task func() error
}

type connection struct {
	id       uint64
	server   *Server
	broker   *broker.Broker
	conn     net.Conn
	reader   *wire.Reader
	writer   *bufio.Writer
	writeMu  sync.Mutex
	registry *wire.Registry
	logger   logger.Logger

	work   chan workItem
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	opened    atomic.Bool
	frameMax  atomic.Uint32
	heartbeat atomic.Uint32 // seconds

	// owned by the worker
	state      connState
	sasl       saslSession
	user       string
	channelMax uint16
	vhost      *broker.VHost
	channels   map[uint16]*channel
	closeTimer *time.Timer
}

func newConnection(s *Server, nc net.Conn) *connection {
	c := &connection{
		id:       s.connSeq.Add(1),
		server:   s,
		broker:   s.broker,
		conn:     nc,
		reader:   wire.NewReader(nc, s.brokerCfg.FrameMax),
		writer:   bufio.NewWriter(nc),
		registry: wire.NewRegistry(),
		logger:   logger.WithFields(s.logger, logrus.Fields{"conn": nc.RemoteAddr().String()}),
		work:     make(chan workItem, 64),
		channels: make(map[uint16]*channel),
	}
	c.registry.Bind(wire.ClassConnection, wire.MethodConnectionStartOk, startOkDecoder(s.strategies))
	c.frameMax.Store(wire.FrameMinSize)
	ctx, cancel := context.WithCancel(context.Background())
	c.group, c.ctx = errgroup.WithContext(ctx)
	c.cancel = cancel
	return c
}

// serve runs the connection until the transport goes away.
func (c *connection) serve() {
	defer c.cancel()
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	hdr, err := c.reader.ReadProtocolHeader()
	if err != nil {
		c.logger.Err("Error reading protocol header: %v", err)
		return
	}
	if err := wire.CheckProtocolHeader(hdr); err != nil {
		c.logger.Warn("Rejecting connection: %v", err)
		c.writeMu.Lock()
		c.writer.Write(wire.ProtocolHeader)
		c.writer.Flush()
		c.writeMu.Unlock()
		return
	}

	if err := c.sendStart(); err != nil {
		c.logger.Err("Failed to send connection.start: %v", err)
		return
	}

	c.group.Go(c.readLoop)
	c.group.Go(c.workLoop)
	c.group.Go(func() error {
		<-c.ctx.Done()
		return c.conn.Close()
	})

	err = c.group.Wait()
	switch {
	case err == nil, errors.Is(err, errConnectionDone):
		c.logger.Info("Connection closed")
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.logger.Info("Connection closed by peer: %v", err)
	default:
		c.logger.Warn("Connection terminated: %v", err)
	}
	c.cleanup()
}

func (c *connection) readLoop() error {
	for {
		switch hb := c.heartbeat.Load(); {
		case !c.opened.Load():
			c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		case hb > 0:
			c.conn.SetReadDeadline(time.Now().Add(2 * time.Duration(hb) * time.Second))
		default:
			c.conn.SetReadDeadline(time.Time{})
		}
		// tune-ok is handled before open, so the negotiated limit is in place
		// for every frame after the handshake
		if c.opened.Load() {
			c.reader.FrameMax = c.frameMax.Load()
		}

		f, err := c.reader.ReadFrame()
		if err != nil {
			if e, ok := amqpError.As(err); ok {
				c.logger.Err("Framing error: %s", e)
				c.sendConnectionClose(e)
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		if f.Type == wire.FrameHeartbeat {
			if f.Channel != 0 {
				e := amqpError.Hard(amqpError.FrameError, "heartbeat on channel %d", f.Channel)
				c.sendConnectionClose(e)
				return e
			}
			if c.server.logging.HeartbeatLogging {
				c.logger.Debug("Received heartbeat")
			}
			continue
		}

		item := workItem{frameType: f.Type, channel: f.Channel, payload: bytes.Clone(f.Payload)}
		if f.Type == wire.FrameMethod {
			item.method, item.err = c.registry.Decode(item.payload)
		}
		select {
		case c.work <- item:
		case <-c.ctx.Done():
			return nil
		}
	}
}

// workLoop runs work items strictly in hand-off order, each holding a slot
// of the server-wide worker pool.
func (c *connection) workLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case item := <-c.work:
			if err := c.server.pool.Acquire(c.ctx, 1); err != nil {
				return nil
			}
			err := c.process(item)
			c.server.pool.Release(1)
			if err != nil {
				return err
			}
		}
	}
}

// schedule queues fn to run on the worker.
func (c *connection) schedule(fn func() error) {
	select {
	case c.work <- workItem{task: fn}:
	case <-c.ctx.Done():
	}
}

func (c *connection) process(item workItem) error {
	if item.task != nil {
		return item.task()
	}
	if c.state == stateClosing {
		return c.processWhileClosing(item)
	}

	switch item.frameType {
	case wire.FrameMethod:
		if item.err != nil {
			return c.fail(0, nil, item.err)
		}
		c.logger.Debug("Received %s on channel %d", wire.Name(item.method), item.channel)
		if err := c.dispatch(item.channel, item.method); err != nil {
			if errors.Is(err, errConnectionDone) {
				return err
			}
			return c.fail(item.channel, item.method, err)
		}
		return nil

	case wire.FrameHeader, wire.FrameBody:
		if err := c.dispatchContent(item); err != nil {
			return c.fail(item.channel, &wire.BasicPublish{}, err)
		}
		return nil

	default:
		return c.fail(0, nil, amqpError.Hard(amqpError.FrameError, "unknown frame type %d", item.frameType))
	}
}

// processWhileClosing drops everything except the close handshake.
func (c *connection) processWhileClosing(item workItem) error {
	if item.frameType != wire.FrameMethod || item.err != nil {
		return nil
	}
	switch item.method.(type) {
	case *wire.ConnectionClose:
		c.send(0, &wire.ConnectionCloseOk{})
		return errConnectionDone
	case *wire.ConnectionCloseOk:
		return errConnectionDone
	}
	return nil
}

func (c *connection) dispatch(channelID uint16, m wire.Method) error {
	if channelID == 0 {
		if m.ClassID() != wire.ClassConnection {
			return amqpError.Hard(amqpError.CommandInvalid, "channel 0 is for the connection class only")
		}
		return c.handleConnectionMethod(m)
	}
	if m.ClassID() == wire.ClassConnection {
		return amqpError.Hard(amqpError.CommandInvalid, "connection methods must use channel 0")
	}
	if c.state != stateOpen {
		return amqpError.Hard(amqpError.CommandInvalid, "connection is %s", c.state)
	}

	if _, ok := m.(*wire.ChannelOpen); ok {
		return c.openChannel(channelID)
	}
	ch := c.channels[channelID]
	if ch == nil {
		return amqpError.Hard(amqpError.ChannelError, "channel %d is not open", channelID)
	}
	if ch.closing {
		return ch.handleWhileClosing(m)
	}
	if ch.aggregator.InProgress() {
		return amqpError.Hard(amqpError.UnexpectedFrame, "expected content frames on channel %d, got %s", channelID, wire.Name(m))
	}
	return ch.handleMethod(m)
}

func (c *connection) dispatchContent(item workItem) error {
	if item.channel == 0 {
		return amqpError.Hard(amqpError.ChannelError, "content frames cannot use channel 0")
	}
	if c.state != stateOpen {
		return amqpError.Hard(amqpError.CommandInvalid, "connection is %s", c.state)
	}
	ch := c.channels[item.channel]
	if ch == nil {
		return amqpError.Hard(amqpError.ChannelError, "channel %d is not open", item.channel)
	}
	if ch.closing {
		return nil
	}
	return ch.handleContent(item.frameType, item.payload)
}

// fail is the single point where errors become close frames. Soft errors
// close the channel they happened on; everything else closes the connection.
func (c *connection) fail(channelID uint16, m wire.Method, err error) error {
	e, ok := amqpError.As(err)
	if !ok {
		c.logger.Err("Internal error on channel %d: %v", channelID, err)
		e = amqpError.Hard(amqpError.InternalError, "internal error")
	}
	if m != nil {
		e = e.At(m.ClassID(), m.MethodID())
	}

	if !e.Hard && channelID != 0 {
		if ch := c.channels[channelID]; ch != nil {
			c.logger.Warn("Closing channel %d: %s", channelID, e)
			return ch.closeWithError(e)
		}
	}
	c.logger.Warn("Closing connection: %s", e)
	return c.closeWithError(e)
}

func (c *connection) closeWithError(e *amqpError.Error) error {
	if c.state == stateClosing {
		return errConnectionDone
	}
	wasOpen := c.state == stateOpen
	c.state = stateClosing
	c.releaseChannels()

	if err := c.sendConnectionClose(e); err != nil || !wasOpen {
		return errConnectionDone
	}
	c.closeTimer = time.AfterFunc(c.server.brokerCfg.ChannelCloseOkTimeout, func() {
		c.logger.Debug("No connection.close-ok received, closing transport")
		c.conn.Close()
	})
	return nil
}

func (c *connection) sendConnectionClose(e *amqpError.Error) error {
	return c.send(0, &wire.ConnectionClose{
		ReplyCode: e.Code.Code(),
		ReplyText: e.ReplyText(),
		ClassId:   e.ClassID,
		MethodId:  e.MethodID,
	})
}

// shutdown asks the client to go away. It does not wait for the worker.
func (c *connection) shutdown() {
	go c.schedule(func() error {
		return c.closeWithError(connectionForced)
	})
}

func (c *connection) releaseChannels() {
	for id, ch := range c.channels {
		ch.release()
		ch.stopCloseTimer()
		delete(c.channels, id)
		c.broker.Events.Publish(events.ChannelClosed, map[string]any{"channel": id})
	}
}

func (c *connection) cleanup() {
	if c.closeTimer != nil {
		c.closeTimer.Stop()
	}
	c.releaseChannels()
	if c.vhost != nil {
		c.vhost.RemoveOwner(c.id)
	}
	if c.opened.Load() {
		c.broker.Events.Publish(events.ConnectionClosed, map[string]any{
			"remote": c.conn.RemoteAddr().String(), "user": c.user,
		})
	}
}

// --- output ---

func (c *connection) writeFrames(frames ...wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrames(c.writer, frames...)
}

func methodFrame(channelID uint16, m wire.Method) (wire.Frame, error) {
	payload, err := wire.EncodeMethod(m)
	if err != nil {
		return wire.Frame{}, fmt.Errorf("encoding %s: %w", wire.Name(m), err)
	}
	return wire.Frame{Type: wire.FrameMethod, Channel: channelID, Payload: payload}, nil
}

func (c *connection) send(channelID uint16, m wire.Method) error {
	f, err := methodFrame(channelID, m)
	if err != nil {
		return err
	}
	c.logger.Debug("Sending %s on channel %d", wire.Name(m), channelID)
	return c.writeFrames(f)
}

// contentFrames builds method + header + body frames, splitting the body
// to fit the negotiated frame size.
func (c *connection) contentFrames(channelID uint16, m wire.Method, props wire.Properties, body []byte) ([]wire.Frame, error) {
	mf, err := methodFrame(channelID, m)
	if err != nil {
		return nil, err
	}
	header, err := wire.ContentHeader{
		ClassID:    wire.ClassBasic,
		BodySize:   uint64(len(body)),
		Properties: props,
	}.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding content header: %w", err)
	}

	frames := []wire.Frame{mf, {Type: wire.FrameHeader, Channel: channelID, Payload: header}}
	chunk := int(c.frameMax.Load()) - wire.FrameOverhead
	for len(body) > 0 {
		n := min(chunk, len(body))
		frames = append(frames, wire.Frame{Type: wire.FrameBody, Channel: channelID, Payload: body[:n]})
		body = body[n:]
	}
	return frames, nil
}

func (c *connection) sendContent(channelID uint16, m wire.Method, props wire.Properties, body []byte) error {
	frames, err := c.contentFrames(channelID, m, props, body)
	if err != nil {
		return err
	}
	return c.writeFrames(frames...)
}

func (c *connection) sendHeartbeats(interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.writeFrames(wire.Frame{Type: wire.FrameHeartbeat}); err != nil {
				return fmt.Errorf("sending heartbeat: %w", err)
			}
			if c.server.logging.HeartbeatLogging {
				c.logger.Debug("Sent heartbeat")
			}
		}
	}
}
