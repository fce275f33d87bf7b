package wire

import (
	"fmt"
	"time"
)

// Basic class property flags, most significant bit first.
const (
	flagContentType     = 0x8000
	flagContentEncoding = 0x4000
	flagHeaders         = 0x2000
	flagDeliveryMode    = 0x1000
	flagPriority        = 0x0800
	flagCorrelationID   = 0x0400
	flagReplyTo         = 0x0200
	flagExpiration      = 0x0100
	flagMessageID       = 0x0080
	flagTimestamp       = 0x0040
	flagType            = 0x0020
	flagUserID          = 0x0010
	flagAppID           = 0x0008
	flagClusterID       = 0x0004
)

// Delivery modes
const (
	Transient  uint8 = 1
	Persistent uint8 = 2
)

// Properties are the basic-class content properties. Empty values are not sent.
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
	ClusterID       string
}

// ContentHeader is the payload of a header frame.
type ContentHeader struct {
	ClassID    uint16
	Weight     uint16
	BodySize   uint64
	Properties Properties
}

// DecodeContentHeader parses a header frame payload.
func DecodeContentHeader(payload []byte) (ContentHeader, error) {
	r := NewArgReader(payload)
	h := ContentHeader{
		ClassID:  r.Short(),
		Weight:   r.Short(),
		BodySize: r.LongLong(),
	}

	// bit 0 of every flag word says another word follows
	var flags []uint16
	for {
		word := r.Short()
		if r.Err() != nil {
			return h, fmt.Errorf("reading property flags: %w", r.Err())
		}
		flags = append(flags, word)
		if word&0x0001 == 0 {
			break
		}
	}
	f := flags[0]
	p := &h.Properties

	if f&flagContentType != 0 {
		p.ContentType = r.ShortStr()
	}
	if f&flagContentEncoding != 0 {
		p.ContentEncoding = r.ShortStr()
	}
	if f&flagHeaders != 0 {
		p.Headers = r.Table()
	}
	if f&flagDeliveryMode != 0 {
		p.DeliveryMode = r.Octet()
	}
	if f&flagPriority != 0 {
		p.Priority = r.Octet()
	}
	if f&flagCorrelationID != 0 {
		p.CorrelationID = r.ShortStr()
	}
	if f&flagReplyTo != 0 {
		p.ReplyTo = r.ShortStr()
	}
	if f&flagExpiration != 0 {
		p.Expiration = r.ShortStr()
	}
	if f&flagMessageID != 0 {
		p.MessageID = r.ShortStr()
	}
	if f&flagTimestamp != 0 {
		p.Timestamp = time.Unix(int64(r.LongLong()), 0).UTC()
	}
	if f&flagType != 0 {
		p.Type = r.ShortStr()
	}
	if f&flagUserID != 0 {
		p.UserID = r.ShortStr()
	}
	if f&flagAppID != 0 {
		p.AppID = r.ShortStr()
	}
	if f&flagClusterID != 0 {
		p.ClusterID = r.ShortStr()
	}
	if r.Err() != nil {
		return h, fmt.Errorf("reading content properties: %w", r.Err())
	}
	return h, nil
}

// Encode returns the header frame payload.
func (h ContentHeader) Encode() ([]byte, error) {
	p := h.Properties
	var flags uint16
	w := NewArgWriter()

	if p.ContentType != "" {
		flags |= flagContentType
		w.ShortStr(p.ContentType)
	}
	if p.ContentEncoding != "" {
		flags |= flagContentEncoding
		w.ShortStr(p.ContentEncoding)
	}
	if p.Headers != nil {
		flags |= flagHeaders
		w.Table(p.Headers)
	}
	if p.DeliveryMode != 0 {
		flags |= flagDeliveryMode
		w.Octet(p.DeliveryMode)
	}
	if p.Priority != 0 {
		flags |= flagPriority
		w.Octet(p.Priority)
	}
	if p.CorrelationID != "" {
		flags |= flagCorrelationID
		w.ShortStr(p.CorrelationID)
	}
	if p.ReplyTo != "" {
		flags |= flagReplyTo
		w.ShortStr(p.ReplyTo)
	}
	if p.Expiration != "" {
		flags |= flagExpiration
		w.ShortStr(p.Expiration)
	}
	if p.MessageID != "" {
		flags |= flagMessageID
		w.ShortStr(p.MessageID)
	}
	if !p.Timestamp.IsZero() {
		flags |= flagTimestamp
		w.LongLong(uint64(p.Timestamp.Unix()))
	}
	if p.Type != "" {
		flags |= flagType
		w.ShortStr(p.Type)
	}
	if p.UserID != "" {
		flags |= flagUserID
		w.ShortStr(p.UserID)
	}
	if p.AppID != "" {
		flags |= flagAppID
		w.ShortStr(p.AppID)
	}
	if p.ClusterID != "" {
		flags |= flagClusterID
		w.ShortStr(p.ClusterID)
	}
	if err := w.Err(); err != nil {
		return nil, err
	}

	head := NewArgWriter()
	head.Short(h.ClassID)
	head.Short(h.Weight)
	head.LongLong(h.BodySize)
	head.Short(flags)
	return append(head.Bytes(), w.Bytes()...), nil
}

// Clone returns a copy whose header table can be changed independently.
func (p Properties) Clone() Properties {
	if p.Headers != nil {
		h := make(Table, len(p.Headers))
		for k, v := range p.Headers {
			h[k] = v
		}
		p.Headers = h
	}
	return p
}
