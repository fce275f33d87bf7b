package carrotbroker

import (
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueDepth(t *testing.T, ch *amqp.Channel, name string) int {
	t.Helper()
	q, err := ch.QueueDeclarePassive(name, false, false, false, false, nil)
	require.NoError(t, err)
	return q.Messages
}

func TestTxPublishIsAtomic(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()
	conn := dial(t, addr)
	txCh := openChannel(t, conn)
	observer := openChannel(t, conn)
	qName := declareQueue(t, observer, "q-tx-commit")

	require.NoError(t, txCh.Tx())
	for i := 0; i < 3; i++ {
		publish(t, txCh, "", qName, fmt.Sprintf("tx-%d", i))
	}
	assert.Equal(t, 0, queueDepth(t, observer, qName), "nothing is visible before commit")

	require.NoError(t, txCh.TxCommit())
	assert.Equal(t, 3, queueDepth(t, observer, qName))

	for i := 0; i < 3; i++ {
		d, ok, err := observer.Get(qName, true)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("tx-%d", i), string(d.Body))
	}
}

func TestTxRollbackDiscardsPublishes(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()
	ch := openChannel(t, dial(t, addr))
	qName := declareQueue(t, ch, "q-tx-rollback")

	require.NoError(t, ch.Tx())
	publish(t, ch, "", qName, "never")
	require.NoError(t, ch.TxRollback())
	require.NoError(t, ch.TxCommit(), "the channel stays transactional after a rollback")

	assert.Equal(t, 0, queueDepth(t, ch, qName))
}

func TestTxAckTakesEffectOnCommit(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()
	conn := dial(t, addr)
	ch := openChannel(t, conn)
	qName := declareQueue(t, ch, "q-tx-ack")
	publish(t, ch, "", qName, "work")

	require.NoError(t, ch.Tx())
	d, ok, err := ch.Get(qName, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, d.Ack(false))

	// a rolled back ack puts the message back
	require.NoError(t, ch.TxRollback())
	observer := openChannel(t, conn)
	assert.Equal(t, 1, queueDepth(t, observer, qName))

	d, ok, err = ch.Get(qName, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, d.Redelivered)
	require.NoError(t, d.Ack(false))
	require.NoError(t, ch.TxCommit())

	require.NoError(t, ch.Close())
	assert.Equal(t, 0, queueDepth(t, observer, qName), "a committed ack is final")
}

func TestTxCommitOnPlainChannelFails(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()
	ch := openChannel(t, dial(t, addr))
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	require.Error(t, ch.TxCommit())
	assert.Equal(t, amqp.PreconditionFailed, waitClose(t, closed).Code)
}

func TestTxUncommittedWorkDroppedOnClose(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()
	conn := dial(t, addr)
	ch := openChannel(t, conn)
	qName := declareQueue(t, ch, "q-tx-close")

	require.NoError(t, ch.Tx())
	publish(t, ch, "", qName, "pending")
	require.NoError(t, ch.Close())

	observer := openChannel(t, conn)
	assert.Equal(t, 0, queueDepth(t, observer, qName))
}
