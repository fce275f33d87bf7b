package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

func queueNames(qs []*Queue) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Name
	}
	return out
}

func TestExchangeRouting(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	declareQueue(t, v, "q1")
	declareQueue(t, v, "q2")

	route := func(exchange, key string, headers wire.Table) []string {
		msg := newMessage(b, exchange, key, "x")
		msg.Properties.Headers = headers
		qs, err := v.Route(msg)
		require.NoError(t, err)
		return queueNames(qs)
	}

	t.Run("direct", func(t *testing.T) {
		require.NoError(t, v.Bind("q1", "amq.direct", "a", nil, 1))
		require.NoError(t, v.Bind("q2", "amq.direct", "b", nil, 1))
		assert.Equal(t, []string{"q1"}, route("amq.direct", "a", nil))
		assert.Empty(t, route("amq.direct", "c", nil))
	})

	t.Run("fanout", func(t *testing.T) {
		require.NoError(t, v.Bind("q1", "amq.fanout", "", nil, 1))
		require.NoError(t, v.Bind("q2", "amq.fanout", "ignored", nil, 1))
		assert.ElementsMatch(t, []string{"q1", "q2"}, route("amq.fanout", "anything", nil))
	})

	t.Run("topic", func(t *testing.T) {
		require.NoError(t, v.Bind("q1", "amq.topic", "sports.*", nil, 1))
		require.NoError(t, v.Bind("q2", "amq.topic", "sports.#", nil, 1))
		require.NoError(t, v.Bind("q2", "amq.topic", "#", nil, 1))
		assert.ElementsMatch(t, []string{"q1", "q2"}, route("amq.topic", "sports.cricket", nil))
		assert.Equal(t, []string{"q2"}, route("amq.topic", "sports", nil))
	})

	t.Run("headers", func(t *testing.T) {
		require.NoError(t, v.Bind("q1", "amq.headers", "", wire.Table{"x-match": "all", "format": "pdf", "type": "report"}, 1))
		require.NoError(t, v.Bind("q2", "amq.headers", "", wire.Table{"x-match": "any", "format": "pdf", "type": "log"}, 1))
		assert.ElementsMatch(t, []string{"q1", "q2"}, route("amq.headers", "", wire.Table{"format": "pdf", "type": "report"}))
		assert.Equal(t, []string{"q2"}, route("amq.headers", "", wire.Table{"type": "log"}))
		assert.Empty(t, route("amq.headers", "", wire.Table{"format": "zip"}))
	})

	t.Run("default exchange", func(t *testing.T) {
		assert.Equal(t, []string{"q2"}, route("", "q2", nil))
		assert.Empty(t, route("", "nope", nil))
	})

}

func TestHeadersMatch(t *testing.T) {
	assert.True(t, headersMatch(wire.Table{"n": int64(5)}, wire.Table{"n": int32(5)}), "numeric widths compare by value")
	assert.True(t, headersMatch(wire.Table{"k": nil}, wire.Table{"k": "anything"}), "void argument only needs presence")
	assert.False(t, headersMatch(wire.Table{"k": nil}, wire.Table{}))
	assert.True(t, headersMatch(wire.Table{"x-match": "all"}, wire.Table{"a": 1}), "no conditions matches all")
	assert.False(t, headersMatch(wire.Table{"x-match": "any"}, wire.Table{"a": 1}))
	assert.True(t, headersMatch(wire.Table{"x-match": []byte("any"), "a": "1", "b": "2"}, wire.Table{"b": "2"}))
	assert.True(t, headersMatch(wire.Table{"x-other": "ignored"}, wire.Table{}))
	assert.True(t, headersMatch(wire.Table{"t": wire.Table{"a": int32(1)}}, wire.Table{"t": wire.Table{"a": int32(1)}}))
}

func TestBindingIdempotenceAndConflict(t *testing.T) {
	b, rec := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	declareQueue(t, v, "q")
	ex := v.Exchanges.Get("amq.topic")

	sel := wire.Table{ArgSelector: "color = 'red'"}
	require.NoError(t, v.Bind("q", "amq.topic", "a.*", sel, 1))
	require.NoError(t, v.Bind("q", "amq.topic", "a.*", wire.Table{ArgSelector: "color = 'red'"}, 1))
	assert.Equal(t, 1, ex.BindingCount())
	assert.Equal(t, 1, rec.count("binding.created"))

	err := v.Bind("q", "amq.topic", "a.*", wire.Table{ArgSelector: "color = 'blue'"}, 1)
	requireAMQPCode(t, err, amqpError.PreconditionFailed)
	err = v.Bind("q", "amq.topic", "a.*", nil, 1)
	requireAMQPCode(t, err, amqpError.PreconditionFailed)
	assert.Equal(t, 1, ex.BindingCount())

	// a different key is a different binding
	require.NoError(t, v.Bind("q", "amq.topic", "b.*", sel, 1))
	assert.Equal(t, 2, ex.BindingCount())

	err = v.Bind("q", "amq.topic", "c", wire.Table{ArgJMSSelector: "color = "}, 1)
	requireAMQPCode(t, err, amqpError.PreconditionFailed)
}

func TestBindingSetFiltersAtDeliveryTime(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	declareQueue(t, v, "plain")
	declareQueue(t, v, "red")
	require.NoError(t, v.Bind("plain", "amq.topic", "orders.#", nil, 1))
	require.NoError(t, v.Bind("red", "amq.topic", "orders.#", wire.Table{ArgSelector: "color = 'red'"}, 1))

	set := v.Exchanges.Get("amq.topic").Route("orders.new", nil)
	require.Len(t, set.Unfiltered, 1)
	require.Len(t, set.Filtered, 1)

	red := newMessage(b, "amq.topic", "orders.new", "r")
	red.Properties.Headers = wire.Table{"color": "red"}
	blue := newMessage(b, "amq.topic", "orders.new", "b")
	blue.Properties.Headers = wire.Table{"color": "blue"}

	assert.Equal(t, []string{"plain", "red"}, queueNames(set.Queues(red)))
	assert.Equal(t, []string{"plain"}, queueNames(set.Queues(blue)))
}

func TestExchangeDeclare(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)

	ex, err := v.DeclareExchange(ExchangeSpec{Name: "logs", Kind: KindFanout, Durable: true})
	require.NoError(t, err)
	assert.Equal(t, "logs", ex.Name)

	again, err := v.DeclareExchange(ExchangeSpec{Name: "logs", Kind: KindFanout, Durable: true})
	require.NoError(t, err)
	assert.Same(t, ex, again)

	_, err = v.DeclareExchange(ExchangeSpec{Name: "logs", Kind: KindTopic, Durable: true})
	requireAMQPCode(t, err, amqpError.PreconditionFailed)

	_, err = v.DeclareExchange(ExchangeSpec{Name: "logs", Kind: KindFanout})
	requireAMQPCode(t, err, amqpError.PreconditionFailed)

	passive, err := v.DeclareExchange(ExchangeSpec{Name: "logs", Passive: true})
	require.NoError(t, err)
	assert.Same(t, ex, passive)

	_, err = v.DeclareExchange(ExchangeSpec{Name: "missing", Passive: true})
	requireAMQPCode(t, err, amqpError.NotFound)

	_, err = v.DeclareExchange(ExchangeSpec{Name: "bad", Kind: "x-unknown"})
	requireAMQPCode(t, err, amqpError.CommandInvalid)
	e, _ := amqpError.As(err)
	assert.True(t, e.Hard)

	_, err = v.DeclareExchange(ExchangeSpec{Name: "amq.custom", Kind: KindDirect})
	requireAMQPCode(t, err, amqpError.AccessRefused)

	_, err = v.DeclareExchange(ExchangeSpec{Name: "amq.topic", Kind: KindTopic})
	require.NoError(t, err, "redeclaring a built-in with its own type is allowed")
}

func TestExchangeDelete(t *testing.T) {
	b, rec := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	declareQueue(t, v, "q")
	_, err := v.DeclareExchange(ExchangeSpec{Name: "ex", Kind: KindDirect})
	require.NoError(t, err)
	require.NoError(t, v.Bind("q", "ex", "k", nil, 1))

	requireAMQPCode(t, v.DeleteExchange("ex", true), amqpError.PreconditionFailed)
	require.NoError(t, v.DeleteExchange("ex", false))
	assert.Nil(t, v.Exchanges.Get("ex"))
	assert.Equal(t, 1, rec.count("exchange.deleted"))

	require.NoError(t, v.DeleteExchange("ex", false), "deleting a missing exchange succeeds")

	for _, name := range []string{"", "amq.direct", "amq.fanout", "amq.topic", "amq.headers", "amq.match"} {
		requireAMQPCode(t, v.DeleteExchange(name, false), amqpError.AccessRefused)
		assert.NotNil(t, v.Exchanges.Get(name))
	}
}

func TestAutoDeleteExchange(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	declareQueue(t, v, "q1")
	declareQueue(t, v, "q2")
	_, err := v.DeclareExchange(ExchangeSpec{Name: "temp", Kind: KindDirect, AutoDelete: true})
	require.NoError(t, err)

	require.NoError(t, v.Bind("q1", "temp", "a", nil, 1))
	require.NoError(t, v.Bind("q2", "temp", "a", nil, 1))

	require.NoError(t, v.Unbind("q1", "temp", "a", 1))
	assert.NotNil(t, v.Exchanges.Get("temp"))

	_, err = v.DeleteQueue("q2", false, false, 1)
	require.NoError(t, err)
	assert.Nil(t, v.Exchanges.Get("temp"), "last binding went with the queue")
}

func TestBindValidation(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	declareQueue(t, v, "q")

	requireAMQPCode(t, v.Bind("q", "", "q", nil, 1), amqpError.AccessRefused)
	requireAMQPCode(t, v.Bind("missing", "amq.direct", "k", nil, 1), amqpError.NotFound)
	requireAMQPCode(t, v.Bind("q", "missing", "k", nil, 1), amqpError.NotFound)
	require.NoError(t, v.Unbind("q", "amq.direct", "never-bound", 1))
}

func TestRouteErrors(t *testing.T) {
	b, _ := newTestBroker(t, config.BrokerConfig{}, nil)
	v := defaultVHost(t, b)
	_, err := v.DeclareExchange(ExchangeSpec{Name: "hidden", Kind: KindFanout, Internal: true})
	require.NoError(t, err)

	_, err = v.Route(newMessage(b, "missing", "k", "x"))
	requireAMQPCode(t, err, amqpError.NotFound)
	_, err = v.Route(newMessage(b, "hidden", "k", "x"))
	requireAMQPCode(t, err, amqpError.AccessRefused)
}
