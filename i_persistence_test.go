package carrotbroker

import (
	"context"
	"path/filepath"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurableStateSurvivesRestart(t *testing.T) {
	backends := map[string]func(dir string) ServerOption{
		"bolt": func(dir string) ServerOption { return WithBoltDBStorage(filepath.Join(dir, "broker.db")) },
		"bunt": func(dir string) ServerOption { return WithBuntDBStorage(filepath.Join(dir, "broker.bunt")) },
	}

	for name, storage := range backends {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()

			srv := startServer(t, storage(dir))
			conn, err := amqp.Dial("amqp://" + srv.Addr())
			require.NoError(t, err)
			ch, err := conn.Channel()
			require.NoError(t, err)

			require.NoError(t, ch.ExchangeDeclare("events", "topic", true, false, false, false, nil))
			_, err = ch.QueueDeclare("audit", true, false, false, false, nil)
			require.NoError(t, err)
			require.NoError(t, ch.QueueBind("audit", "user.#", "events", false, nil))

			for _, mode := range []uint8{amqp.Persistent, amqp.Transient} {
				err := ch.PublishWithContext(context.Background(), "events", "user.login", false, false, amqp.Publishing{
					DeliveryMode: mode,
					MessageId:    map[uint8]string{amqp.Persistent: "kept", amqp.Transient: "lost"}[mode],
					Body:         []byte("payload"),
				})
				require.NoError(t, err)
			}
			assert.Equal(t, 2, queueDepth(t, ch, "audit"))
			conn.Close()
			stopServer(t, srv)

			srv = startServer(t, storage(dir))
			defer stopServer(t, srv)
			conn, err = amqp.Dial("amqp://" + srv.Addr())
			require.NoError(t, err)
			defer conn.Close()
			ch, err = conn.Channel()
			require.NoError(t, err)

			d, ok, err := ch.Get("audit", true)
			require.NoError(t, err)
			require.True(t, ok, "persistent message recovered")
			assert.Equal(t, "kept", d.MessageId)
			assert.Equal(t, "payload", string(d.Body))

			_, ok, err = ch.Get("audit", true)
			require.NoError(t, err)
			assert.False(t, ok, "transient messages are not recovered")

			// the recovered binding still routes
			require.NoError(t, ch.PublishWithContext(context.Background(), "events", "user.logout", false, false, amqp.Publishing{Body: []byte("again")}))
			d, ok, err = ch.Get("audit", true)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "again", string(d.Body))
		})
	}
}
