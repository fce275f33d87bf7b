package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleybovich/carrot-broker/config"
)

func TestTransactionCommitMakesPublishesVisible(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	q1, q2 := declareQueue(t, v, "q1"), declareQueue(t, v, "q2")
	require.NoError(t, v.Bind("q1", "amq.fanout", "", nil, 1))
	require.NoError(t, v.Bind("q2", "amq.fanout", "", nil, 1))

	tx := NewTransaction(v)
	for _, body := range []string{"a", "b", "c"} {
		msg := newMessage(b, "amq.fanout", "", body)
		queues, err := v.Route(msg)
		require.NoError(t, err)
		tx.Publish(msg, queues)
	}
	assert.Equal(t, 0, q1.MessageCount(), "nothing visible before commit")

	refused, err := tx.Commit()
	require.NoError(t, err)
	assert.Zero(t, refused)
	assert.Equal(t, 3, q1.MessageCount())
	assert.Equal(t, 3, q2.MessageCount())

	m1, _ := q1.Get()
	m2, _ := q2.Get()
	assert.NotSame(t, m1, m2, "each queue holds its own copy")
	assert.Equal(t, m1.ID, m2.ID)
}

func TestTransactionRollbackDiscardsPublishes(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	q := declareQueue(t, v, "q")

	tx := NewTransaction(v)
	tx.Publish(newMessage(b, "", "q", "x"), []*Queue{q})
	tx.Rollback()

	_, err := tx.Commit()
	require.NoError(t, err)
	assert.Equal(t, 0, q.MessageCount())
}

func TestTransactionAcksAndRejects(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	q := declareQueue(t, v, "q")
	for _, body := range []string{"1", "2", "3"} {
		enqueue(t, q, newMessage(b, "", "q", body))
	}
	m1, _ := q.Get()
	m2, _ := q.Get()
	m3, _ := q.Get()

	tx := NewTransaction(v)
	tx.Ack(Delivery{Queue: q, Message: m1})
	tx.Reject(Delivery{Queue: q, Message: m2}, true)
	tx.Reject(Delivery{Queue: q, Message: m3}, false)
	_, err := tx.Commit()
	require.NoError(t, err)

	require.Equal(t, 1, q.MessageCount())
	m, _ := q.Get()
	assert.Equal(t, "2", string(m.Body))
	assert.True(t, m.Redelivered)
}

func TestTransactionRollbackReturnsSettlements(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	q := declareQueue(t, v, "q")
	for _, body := range []string{"1", "2", "3"} {
		enqueue(t, q, newMessage(b, "", "q", body))
	}
	m1, _ := q.Get()
	m2, _ := q.Get()

	tx := NewTransaction(v)
	tx.Ack(Delivery{Queue: q, Message: m2})
	tx.Reject(Delivery{Queue: q, Message: m1}, false)
	tx.Rollback()

	var order []string
	for m, _ := q.Get(); m != nil; m, _ = q.Get() {
		order = append(order, string(m.Body))
	}
	assert.Equal(t, []string{"1", "2", "3"}, order)
	assert.True(t, m1.Redelivered)
	assert.True(t, m2.Redelivered)
}

func TestTransactionPersistsAtomically(t *testing.T) {
	st, _ := newTestStore(t)
	b, _ := newTestBroker(t, config.BrokerConfig{}, st)
	v := defaultVHost(t, b)
	q, err := v.DeclareQueue(QueueSpec{Name: "dq", Durable: true}, 1)
	require.NoError(t, err)

	enqueue(t, q, persistent(newMessage(b, "", "dq", "old")))
	old, _ := q.Get()

	tx := NewTransaction(v)
	tx.Publish(persistent(newMessage(b, "", "dq", "new")), []*Queue{q})
	tx.Publish(newMessage(b, "", "dq", "transient"), []*Queue{q})
	tx.Ack(Delivery{Queue: q, Message: old})

	stored, err := st.LoadQueueMessages("/", "dq")
	require.NoError(t, err)
	require.Len(t, stored, 1, "nothing written before commit")

	_, err = tx.Commit()
	require.NoError(t, err)

	stored, err = st.LoadQueueMessages("/", "dq")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "new", string(stored[0].Body))
	assert.Equal(t, 2, q.MessageCount())
}

func TestTransactionCommitReachesConsumerAsOneBatch(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	q := declareQueue(t, v, "q")
	sink := &testSink{}
	consume(t, q, sink)

	tx := NewTransaction(v)
	for _, body := range []string{"a", "b", "c", "d"} {
		tx.Publish(newMessage(b, "", "q", body), []*Queue{q})
	}
	_, err := tx.Commit()
	require.NoError(t, err)

	got := sink.waitFor(t, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, bodies(got))
}

func TestTransactionCommitCountsRefusedPublishes(t *testing.T) {
	b, rec := newTestBroker(t, config.BrokerConfig{QueueCapacity: 2, OverflowPolicy: config.OverflowRejectPublish}, nil)
	v := defaultVHost(t, b)
	q := declareQueue(t, v, "q")

	tx := NewTransaction(v)
	for _, body := range []string{"1", "2", "3", "4"} {
		tx.Publish(newMessage(b, "", "q", body), []*Queue{q})
	}
	refused, err := tx.Commit()
	require.NoError(t, err)
	assert.Equal(t, 2, refused)
	assert.Equal(t, 2, q.MessageCount())
	assert.Equal(t, 1, rec.count("queue.limit-reached"), "one event per committed batch")

	m, _ := q.Get()
	assert.Equal(t, "1", string(m.Body))
}

func TestQueuePushBatchReportsEachMessage(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{QueueCapacity: 1, OverflowPolicy: config.OverflowRejectPublish}, nil)
	v := defaultVHost(t, b)
	q := declareQueue(t, v, "q")

	ok := q.pushBatch([]*Message{newMessage(b, "", "q", "x"), newMessage(b, "", "q", "y")})
	assert.Equal(t, []bool{true, false}, ok)
	assert.Equal(t, 1, q.MessageCount())
}
