package carrotbroker

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	goevents "github.com/docker/go-events"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/logger"
)

var nameCounter atomic.Int64

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), nameCounter.Add(1))
}

// setupTestServer starts a broker on a free loopback port. Options passed in
// are applied after the quiet test logger.
func setupTestServer(t *testing.T, opts ...ServerOption) (addr string, cleanup func()) {
	t.Helper()
	srv := startServer(t, opts...)
	return srv.Addr(), func() { stopServer(t, srv) }
}

func startServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	opts = append([]ServerOption{WithLogger(&logger.NilLogger{})}, opts...)
	srv := NewServer(opts...)

	go func() {
		if err := srv.Start("127.0.0.1:0"); err != nil {
			t.Logf("Test server stopped: %v", err)
		}
	}()
	require.Eventually(t, func() bool {
		return srv.IsReady() && srv.Addr() != ""
	}, 2*time.Second, 5*time.Millisecond, "server did not start")
	return srv
}

func stopServer(t *testing.T, srv *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Logf("Error shutting down test server: %v", err)
	}
}

func dial(t *testing.T, addr string) *amqp.Connection {
	t.Helper()
	conn, err := amqp.Dial("amqp://guest:guest@" + addr + "/")
	require.NoError(t, err, "Should connect successfully")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func openChannel(t *testing.T, conn *amqp.Connection) *amqp.Channel {
	t.Helper()
	ch, err := conn.Channel()
	require.NoError(t, err, "Should open channel successfully")
	return ch
}

func declareQueue(t *testing.T, ch *amqp.Channel, prefix string) string {
	t.Helper()
	q, err := ch.QueueDeclare(uniqueName(prefix), false, false, false, false, nil)
	require.NoError(t, err)
	return q.Name
}

func publish(t *testing.T, ch *amqp.Channel, exchange, key, body string) {
	t.Helper()
	err := ch.PublishWithContext(context.Background(), exchange, key, false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        []byte(body),
	})
	require.NoError(t, err)
}

// waitClose returns the error a channel was closed with.
func waitClose(t *testing.T, closed chan *amqp.Error) *amqp.Error {
	t.Helper()
	select {
	case err := <-closed:
		require.NotNil(t, err, "expected an error close")
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed by the server")
		return nil
	}
}

func TestServerConnection(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()

	conn := dial(t, addr)
	ch := openChannel(t, conn)
	require.NoError(t, ch.Close())

	assert.Equal(t, "carrot-broker", conn.Properties["product"])
}

func TestConnection_ClientInitiatedClose(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()

	conn, err := amqp.Dial("amqp://" + addr)
	require.NoError(t, err)
	require.NoError(t, conn.Close(), "Client should close connection without error")

	_, err = conn.Channel()
	require.Error(t, err, "Operations on closed connection should fail")
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestAuth_NoAuthMode(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()

	conn, err := amqp.Dial("amqp://anyuser:anypass@" + addr)
	require.NoError(t, err, "Should connect without configured users")
	defer conn.Close()
}

func TestAuth_PlainMode(t *testing.T) {
	hashed, err := config.HashPassword("secretpass")
	require.NoError(t, err)

	var failures atomic.Int32
	sink := events.FuncSink(func(e events.Event) {
		if e.ID == events.AuthFailed {
			failures.Add(1)
		}
	})

	addr, cleanup := setupTestServer(t,
		WithAuth(map[string]string{"guest": "guest123", "admin": hashed}),
		WithBrokerConfig(config.BrokerConfig{FailedAuthThrottle: 10 * time.Millisecond}),
		WithEventSink(sink),
	)
	defer cleanup()

	for _, creds := range []string{"guest:guest123", "admin:secretpass"} {
		conn, err := amqp.Dial("amqp://" + creds + "@" + addr)
		require.NoError(t, err, creds)
		conn.Close()
	}

	for _, creds := range []string{"guest:wrong", "unknown:guest123", "admin:"} {
		conn, err := amqp.Dial("amqp://" + creds + "@" + addr)
		if conn != nil {
			conn.Close()
		}
		assert.Error(t, err, "credentials %q should be refused", creds)
	}
	assert.Eventually(t, func() bool { return failures.Load() == 3 }, time.Second, 10*time.Millisecond)
}

func TestConnection_UnknownVHost(t *testing.T) {
	addr, cleanup := setupTestServer(t)
	defer cleanup()

	conn, err := amqp.Dial("amqp://" + addr + "/missing")
	if conn != nil {
		conn.Close()
	}
	require.Error(t, err)
}

func TestConnection_ConfiguredVHost(t *testing.T) {
	addr, cleanup := setupTestServer(t, WithVHosts([]config.VHostConfig{{
		Name:      "orders",
		Exchanges: []config.ExchangeConfig{{Name: "orders.events", Type: "topic"}},
		Queues: []config.QueueConfig{{
			Name:     "orders.created",
			Bindings: []string{"orders.events:order.created.*"},
		}},
	}}))
	defer cleanup()

	conn, err := amqp.Dial("amqp://" + addr + "/orders")
	require.NoError(t, err)
	defer conn.Close()
	ch := openChannel(t, conn)

	publish(t, ch, "orders.events", "order.created.eu", "first")
	publish(t, ch, "orders.events", "order.shipped.eu", "ignored")

	require.Eventually(t, func() bool {
		q, err := ch.QueueDeclarePassive("orders.created", false, false, false, false, nil)
		return err == nil && q.Messages == 1
	}, time.Second, 10*time.Millisecond)

	msg, ok, err := ch.Get("orders.created", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(msg.Body))
}

func TestServer_ShutdownClosesClients(t *testing.T) {
	srv := startServer(t)
	conn, err := amqp.Dial("amqp://" + srv.Addr())
	require.NoError(t, err)
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	stopServer(t, srv)

	select {
	case err := <-closed:
		require.NotNil(t, err)
		assert.Equal(t, amqp.ConnectionForced, err.Code)
	case <-time.After(3 * time.Second):
		t.Fatal("client was not told about the shutdown")
	}
	assert.Eventually(t, func() bool { return !srv.IsReady() }, time.Second, 10*time.Millisecond)
}

func TestServer_EventsReachSinks(t *testing.T) {
	got := make(chan string, 64)
	sink := events.FuncSink(func(e events.Event) {
		select {
		case got <- e.ID:
		default:
		}
	})
	addr, cleanup := setupTestServer(t, WithEventSink(goevents.Sink(sink)))
	defer cleanup()

	conn := dial(t, addr)
	ch := openChannel(t, conn)
	declareQueue(t, ch, "q-events")

	seen := map[string]bool{}
	require.Eventually(t, func() bool {
		for {
			select {
			case id := <-got:
				seen[id] = true
			default:
				return seen[events.ConnectionOpened] && seen[events.QueueCreated]
			}
		}
	}, time.Second, 10*time.Millisecond)
}
