package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/internal/store"
	"github.com/aleybovich/carrot-broker/internal/wire"
	"github.com/aleybovich/carrot-broker/storage"
)

type recordedEvent struct {
	id    string
	props map[string]any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Publish(id string, props map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{id, props})
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.id == id {
			n++
		}
	}
	return n
}

var _ events.Publisher = (*recorder)(nil)

func newTestBroker(t *testing.T, cfg config.BrokerConfig, st *store.Store) (*Broker, *recorder) {
	t.Helper()
	rec := &recorder{}
	b := New(cfg, st, rec, nil)
	t.Cleanup(func() { _ = b.Close() })
	return b, rec
}

func defaultVHost(t *testing.T, b *Broker) *VHost {
	t.Helper()
	v, ok := b.VHost(DefaultVHost)
	require.True(t, ok)
	return v
}

func newTestStore(t *testing.T) (*store.Store, storage.StorageProvider) {
	t.Helper()
	provider := storage.NewBuntDBProvider("")
	st := store.New(provider, nil)
	require.NoError(t, st.Initialize())
	return st, provider
}

// openBoltStore returns an uninitialized store; Broker.Recover opens it.
func openBoltStore(path string) *store.Store {
	return store.New(storage.NewBoltDBProvider(path, time.Second), nil)
}

func declareQueue(t *testing.T, v *VHost, name string) *Queue {
	t.Helper()
	q, err := v.DeclareQueue(QueueSpec{Name: name}, 1)
	require.NoError(t, err)
	return q
}

func newMessage(b *Broker, exchange, key, body string) *Message {
	return &Message{
		ID:         b.NextMessageID(),
		Exchange:   exchange,
		RoutingKey: key,
		Body:       []byte(body),
	}
}

func bodies(msgs []*Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Body)
	}
	return out
}

func requireAMQPCode(t *testing.T, err error, code amqpError.AmqpError) {
	t.Helper()
	require.Error(t, err)
	e, ok := amqpError.As(err)
	require.True(t, ok, "expected a protocol error, got %v", err)
	require.Equal(t, code, e.Code, e.Text)
}

// testSink collects deliveries; limit > 0 caps unsettled deliveries the way
// a channel prefetch does.
type testSink struct {
	mu        sync.Mutex
	limit     int
	inflight  int
	fail      bool
	got       []*Message
	cancelled []*Consumer
}

func (s *testSink) Reserve(c *Consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.inflight >= s.limit {
		return false
	}
	s.inflight++
	return true
}

func (s *testSink) Release(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
}

func (s *testSink) Deliver(c *Consumer, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink closed")
	}
	s.got = append(s.got, msg)
	return nil
}

func (s *testSink) ConsumerCancelled(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, c)
}

// settle acknowledges n deliveries so more can be reserved.
func (s *testSink) settle(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight -= n
}

func (s *testSink) messages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Message(nil), s.got...)
}

func (s *testSink) waitFor(t *testing.T, n int) []*Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.messages()) >= n }, 2*time.Second, 5*time.Millisecond)
	return s.messages()
}

func consume(t *testing.T, q *Queue, sink *testSink, opts ...func(*Consumer)) *Consumer {
	t.Helper()
	c := &Consumer{Tag: "ctag", Sink: sink}
	for _, o := range opts {
		o(c)
	}
	require.NoError(t, q.AddConsumer(c))
	q.EnableConsumer(c)
	return c
}

func enqueue(t *testing.T, q *Queue, msgs ...*Message) {
	t.Helper()
	for _, m := range msgs {
		ok, err := q.Enqueue(m)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func persistent(m *Message) *Message {
	m.Properties.DeliveryMode = wire.Persistent
	return m
}
