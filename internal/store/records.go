package store

import (
	"fmt"
	"net/url"

	"github.com/aleybovich/carrot-broker/internal/wire"
	"github.com/aleybovich/carrot-broker/storage"
)

// Names are escaped so a ':' inside a queue or vhost name cannot make one
// entity's prefix match another's keys.
func esc(s string) string { return url.QueryEscape(s) }

func vhostKey(vhost string) string {
	return storage.KeyPrefixVHost + esc(vhost)
}

func exchangeKey(vhost, exchange string) string {
	return storage.KeyPrefixExchange + esc(vhost) + ":" + esc(exchange)
}

func queueKey(vhost, queue string) string {
	return storage.KeyPrefixQueue + esc(vhost) + ":" + esc(queue)
}

func bindingKey(vhost, exchange, queue, routingKey string) string {
	return storage.KeyPrefixBinding + esc(vhost) + ":" + esc(exchange) + ":" + esc(queue) + ":" + esc(routingKey)
}

func queueMessagesPrefix(vhost, queue string) string {
	return storage.KeyPrefixMessage + esc(vhost) + ":" + esc(queue) + ":"
}

// Message ids are zero padded so a prefix scan returns them in publish order.
func messageKey(vhost, queue string, id uint64) string {
	return fmt.Sprintf("%s%020d", queueMessagesPrefix(vhost, queue), id)
}

func dtxKey(vhost, xidKey string) string {
	return storage.KeyPrefixDtx + esc(vhost) + ":" + esc(xidKey)
}

type VHostRecord struct {
	Name string `json:"name"`
}

type ExchangeRecord struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
	Internal   bool   `json:"internal"`
	Arguments  []byte `json:"arguments,omitempty"` // wire encoded field table
}

type QueueRecord struct {
	Name       string `json:"name"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
	Arguments  []byte `json:"arguments,omitempty"`
}

type BindingRecord struct {
	Exchange   string `json:"exchange"`
	Queue      string `json:"queue"`
	RoutingKey string `json:"routing_key"`
	Arguments  []byte `json:"arguments,omitempty"`
}

type MessageRecord struct {
	ID            uint64 `json:"id"`
	Exchange      string `json:"exchange"`
	RoutingKey    string `json:"routing_key"`
	Header        []byte `json:"header"` // wire encoded content header
	Body          []byte `json:"body"`
	DeliveryCount int    `json:"delivery_count,omitempty"`
}

// DtxRecord is a prepared distributed transaction branch.
type DtxRecord struct {
	Xid      []byte       `json:"xid"`
	Enqueues []DtxEnqueue `json:"enqueues,omitempty"`
	Dequeues []DtxDequeue `json:"dequeues,omitempty"`
}

type DtxEnqueue struct {
	Queue   string        `json:"queue"`
	Message MessageRecord `json:"message"`
}

type DtxDequeue struct {
	Queue     string `json:"queue"`
	MessageID uint64 `json:"message_id"`
}

// EncodeArgs turns a field table into its record form.
func EncodeArgs(t wire.Table) ([]byte, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return wire.EncodeTable(t)
}

// DecodeArgs is the inverse of EncodeArgs.
func DecodeArgs(b []byte) (wire.Table, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return wire.DecodeTable(b)
}
