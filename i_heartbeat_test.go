package carrotbroker

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatsKeepIdleConnectionAlive(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()

	conn, err := amqp.DialConfig("amqp://"+addr, amqp.Config{Heartbeat: time.Second})
	require.NoError(t, err)
	defer conn.Close()
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	ch := openChannel(t, conn)
	qName := declareQueue(t, ch, "q-heartbeat")

	select {
	case err := <-closed:
		t.Fatalf("connection closed while idle: %v", err)
	case <-time.After(3 * time.Second):
	}

	publish(t, ch, "", qName, "still here")
	d, ok, err := ch.Get(qName, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "still here", string(d.Body))
}

func TestHeartbeatNegotiation(t *testing.T) {
	addr, cleanup := setupTestServer(t, WithHeartbeatInterval(5))
	defer cleanup()

	conn, err := amqp.DialConfig("amqp://"+addr, amqp.Config{Heartbeat: 30 * time.Second})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, 5*time.Second, conn.Config.Heartbeat, "the lower proposal wins")
}
