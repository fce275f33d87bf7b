package carrotbroker

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverRedeliversWithNewTags(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()
	conn := dial(t, addr)
	ch := openChannel(t, conn)
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	qName := declareQueue(t, ch, "q-recover")
	publish(t, ch, "", qName, "a")
	publish(t, ch, "", qName, "b")

	msgs, err := ch.Consume(qName, "recover-consumer", false, false, false, false, nil)
	require.NoError(t, err)
	for i, body := range []string{"a", "b"} {
		d := receive(t, msgs)
		assert.Equal(t, body, string(d.Body))
		assert.Equal(t, uint64(i+1), d.DeliveryTag)
		assert.False(t, d.Redelivered)
	}

	require.NoError(t, ch.Recover(false))
	for i, body := range []string{"a", "b"} {
		d := receive(t, msgs)
		assert.Equal(t, body, string(d.Body))
		assert.Equal(t, uint64(i+3), d.DeliveryTag, "redeliveries get fresh tags")
		assert.True(t, d.Redelivered)
		assert.Equal(t, "recover-consumer", d.ConsumerTag)
	}
	assertNoDelivery(t, msgs, 100*time.Millisecond)

	require.NoError(t, ch.Ack(4, true))
	observer := openChannel(t, conn)
	assert.Equal(t, 0, queueDepth(t, observer, qName))

	// the tags from before the recover are no longer valid
	require.NoError(t, ch.Ack(1, false))
	assert.Equal(t, amqp.PreconditionFailed, waitClose(t, closed).Code)
}

func TestRecoverWithRequeueRedeliversThroughTheQueue(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()
	conn := dial(t, addr)
	ch := openChannel(t, conn)
	qName := declareQueue(t, ch, "q-recover-requeue")
	for _, body := range []string{"a", "b", "c"} {
		publish(t, ch, "", qName, body)
	}

	msgs, err := ch.Consume(qName, "", false, false, false, false, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		receive(t, msgs)
	}

	require.NoError(t, ch.Recover(true))
	for i, body := range []string{"a", "b", "c"} {
		d := receive(t, msgs)
		assert.Equal(t, body, string(d.Body), "requeued messages keep their order")
		assert.Equal(t, uint64(i+4), d.DeliveryTag)
		assert.True(t, d.Redelivered)
		require.NoError(t, d.Ack(false))
	}
	assertNoDelivery(t, msgs, 100*time.Millisecond)
	assert.Equal(t, 0, queueDepth(t, openChannel(t, conn), qName))
}

func TestRecoverRequeuesGetDeliveries(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()
	conn := dial(t, addr)
	ch := openChannel(t, conn)
	qName := declareQueue(t, ch, "q-recover-get")
	publish(t, ch, "", qName, "first")
	publish(t, ch, "", qName, "second")

	for i := 0; i < 2; i++ {
		_, ok, err := ch.Get(qName, false)
		require.NoError(t, err)
		require.True(t, ok)
	}
	observer := openChannel(t, conn)
	require.Equal(t, 0, queueDepth(t, observer, qName))

	// basic.get deliveries have no consumer to go back to
	require.NoError(t, ch.Recover(false))
	assert.Equal(t, 2, queueDepth(t, observer, qName))

	d, ok, err := observer.Get(qName, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(d.Body))
	assert.True(t, d.Redelivered)
}

func TestRecoverRequeuesWhenConsumerCancelled(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()
	conn := dial(t, addr)
	ch := openChannel(t, conn)
	qName := declareQueue(t, ch, "q-recover-cancelled")
	publish(t, ch, "", qName, "x")
	publish(t, ch, "", qName, "y")

	msgs, err := ch.Consume(qName, "gone", false, false, false, false, nil)
	require.NoError(t, err)
	receive(t, msgs)
	receive(t, msgs)
	require.NoError(t, ch.Cancel("gone", false))

	require.NoError(t, ch.Recover(false))
	assert.Equal(t, 2, queueDepth(t, openChannel(t, conn), qName))

	again, err := ch.Consume(qName, "back", false, false, false, false, nil)
	require.NoError(t, err)
	for _, body := range []string{"x", "y"} {
		d := receive(t, again)
		assert.Equal(t, body, string(d.Body))
		assert.True(t, d.Redelivered)
		assert.Equal(t, "back", d.ConsumerTag)
	}
}
