package server

import (
	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

type aggregatorState int

const (
	aggIdle aggregatorState = iota
	aggAwaitingHeader
	aggAwaitingBody
	aggComplete
)

func (s aggregatorState) String() string {
	switch s {
	case aggIdle:
		return "idle"
	case aggAwaitingHeader:
		return "awaiting-header"
	case aggAwaitingBody:
		return "awaiting-body"
	case aggComplete:
		return "complete"
	}
	return "unknown"
}

// maxBodyPrealloc caps the up-front allocation for a declared body size.
const maxBodyPrealloc = 1 << 20

// Content is one fully assembled publish.
type Content struct {
	Publish    *wire.BasicPublish
	Properties wire.Properties
	Body       []byte
}

// ContentAggregator assembles publish + header + body frames of one channel.
// Only one message may be in flight per channel.
type ContentAggregator struct {
	state    aggregatorState
	publish  *wire.BasicPublish
	header   wire.ContentHeader
	body     []byte
	received uint64
}

// InProgress reports whether a publish is waiting for its content.
func (a *ContentAggregator) InProgress() bool {
	return a.state == aggAwaitingHeader || a.state == aggAwaitingBody
}

// Begin remembers the publish until its content arrives.
func (a *ContentAggregator) Begin(p *wire.BasicPublish) error {
	if a.InProgress() {
		return amqpError.Soft(amqpError.NotAllowed, "publish received while content is %s", a.state)
	}
	a.reset()
	a.publish = p
	a.state = aggAwaitingHeader
	return nil
}

// Header consumes a content header frame. It reports true when the message
// is already complete, which happens for empty bodies.
func (a *ContentAggregator) Header(payload []byte) (bool, error) {
	if a.state != aggAwaitingHeader {
		return false, amqpError.Soft(amqpError.NotAllowed, "unexpected content header while %s", a.state)
	}
	h, err := wire.DecodeContentHeader(payload)
	if err != nil {
		return false, amqpError.Hard(amqpError.FrameError, "malformed content header: %v", err)
	}
	if h.ClassID != wire.ClassBasic {
		return false, amqpError.Soft(amqpError.NotAllowed, "content header for class %d, expected basic", h.ClassID)
	}
	a.header = h
	a.body = make([]byte, 0, min(h.BodySize, maxBodyPrealloc))
	if h.BodySize == 0 {
		a.state = aggComplete
		return true, nil
	}
	a.state = aggAwaitingBody
	return false, nil
}

// Body appends a body chunk. It reports true once the declared size is reached.
func (a *ContentAggregator) Body(chunk []byte) (bool, error) {
	if a.state != aggAwaitingBody {
		return false, amqpError.Soft(amqpError.NotAllowed, "unexpected content body while %s", a.state)
	}
	if a.received+uint64(len(chunk)) > a.header.BodySize {
		declared, got := a.header.BodySize, a.received+uint64(len(chunk))
		a.reset()
		return false, amqpError.Soft(amqpError.NotAllowed, "content body of %d bytes exceeds declared size %d", got, declared)
	}
	a.body = append(a.body, chunk...)
	a.received += uint64(len(chunk))
	if a.received == a.header.BodySize {
		a.state = aggComplete
		return true, nil
	}
	return false, nil
}

// Take hands out the completed message and resets to idle.
func (a *ContentAggregator) Take() Content {
	c := Content{
		Publish:    a.publish,
		Properties: a.header.Properties,
		Body:       a.body,
	}
	a.reset()
	return c
}

func (a *ContentAggregator) reset() {
	*a = ContentAggregator{}
}
