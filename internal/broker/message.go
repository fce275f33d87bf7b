// Package broker holds the routing and delivery engine: exchanges and
// their bindings, queues with their consumers, and the local and
// distributed transaction contexts that decide when effects become visible.
package broker

import (
	"fmt"

	"github.com/aleybovich/carrot-broker/internal/store"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

// Message is one complete, routable unit of content. Body is shared between
// the copies handed to different queues and must not be modified.
type Message struct {
	ID          uint64
	Exchange    string
	RoutingKey  string
	Mandatory   bool
	Immediate   bool
	Properties  wire.Properties
	Body        []byte
	Redelivered bool

	// DeliveryCount counts requeues and drives dead-lettering.
	DeliveryCount int
}

func (m *Message) Persistent() bool {
	return m.Properties.DeliveryMode == wire.Persistent
}

// Copy returns an independent message sharing the body.
func (m *Message) Copy() *Message {
	cp := *m
	cp.Properties = m.Properties.Clone()
	return &cp
}

func (m *Message) record() (*store.MessageRecord, error) {
	hdr, err := wire.ContentHeader{
		ClassID:    wire.ClassBasic,
		BodySize:   uint64(len(m.Body)),
		Properties: m.Properties,
	}.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding header of message %d: %w", m.ID, err)
	}
	return &store.MessageRecord{
		ID:            m.ID,
		Exchange:      m.Exchange,
		RoutingKey:    m.RoutingKey,
		Header:        hdr,
		Body:          m.Body,
		DeliveryCount: m.DeliveryCount,
	}, nil
}

// messageFromRecord rebuilds a stored message. Everything recovered from
// storage counts as redelivered.
func messageFromRecord(rec *store.MessageRecord) (*Message, error) {
	hdr, err := wire.DecodeContentHeader(rec.Header)
	if err != nil {
		return nil, fmt.Errorf("decoding header of message %d: %w", rec.ID, err)
	}
	return &Message{
		ID:            rec.ID,
		Exchange:      rec.Exchange,
		RoutingKey:    rec.RoutingKey,
		Properties:    hdr.Properties,
		Body:          rec.Body,
		Redelivered:   true,
		DeliveryCount: rec.DeliveryCount,
	}, nil
}

// Delivery is a message handed out of a queue and not yet settled.
type Delivery struct {
	Queue   *Queue
	Message *Message
}
