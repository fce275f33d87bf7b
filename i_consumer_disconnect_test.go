package carrotbroker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnackedMessagesReturnWhenConnectionDrops(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()

	connB := dial(t, addr)
	chB := openChannel(t, connB)
	qName := declareQueue(t, chB, "q-conn-lost")
	const total = 5
	for i := 0; i < total; i++ {
		publish(t, chB, "", qName, fmt.Sprintf("m%d", i))
	}

	connA := dial(t, addr)
	chA := openChannel(t, connA)
	msgsA, err := chA.Consume(qName, "", false, false, false, false, nil)
	require.NoError(t, err)
	for i := 0; i < total; i++ {
		d := receive(t, msgsA)
		assert.False(t, d.Redelivered)
	}
	require.Equal(t, 0, queueDepth(t, chB, qName), "everything is out for delivery")

	require.NoError(t, connA.Close())

	msgsB, err := chB.Consume(qName, "", false, false, false, false, nil)
	require.NoError(t, err)
	for i := 0; i < total; i++ {
		d := receive(t, msgsB)
		assert.Equal(t, fmt.Sprintf("m%d", i), string(d.Body), "original order")
		assert.True(t, d.Redelivered)
		require.NoError(t, d.Ack(false))
	}
	assertNoDelivery(t, msgsB, 200*time.Millisecond)
}

func TestAckedMessagesStayGoneWhenConnectionDrops(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()

	connB := dial(t, addr)
	chB := openChannel(t, connB)
	qName := declareQueue(t, chB, "q-conn-lost-partial")
	for i := 0; i < 5; i++ {
		publish(t, chB, "", qName, fmt.Sprintf("m%d", i))
	}

	connA := dial(t, addr)
	chA := openChannel(t, connA)
	msgsA, err := chA.Consume(qName, "", false, false, false, false, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		d := receive(t, msgsA)
		if i%2 == 1 {
			require.NoError(t, d.Ack(false))
		}
	}
	require.NoError(t, connA.Close())

	msgsB, err := chB.Consume(qName, "", true, false, false, false, nil)
	require.NoError(t, err)
	for _, body := range []string{"m0", "m2", "m4"} {
		d := receive(t, msgsB)
		assert.Equal(t, body, string(d.Body))
		assert.True(t, d.Redelivered)
	}
	assertNoDelivery(t, msgsB, 200*time.Millisecond)
}
