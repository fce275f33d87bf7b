package broker

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

// Exchange types
const (
	KindDirect  = "direct"
	KindFanout  = "fanout"
	KindTopic   = "topic"
	KindHeaders = "headers"
)

// Binding arguments that carry a selector.
const (
	ArgSelector    = "x-selector"
	ArgJMSSelector = "x-filter-jms-selector"
)

func validKind(kind string) bool {
	switch kind {
	case KindDirect, KindFanout, KindTopic, KindHeaders:
		return true
	}
	return false
}

type Binding struct {
	Exchange   string
	Queue      *Queue
	RoutingKey string
	Arguments  wire.Table
	Selector   *Selector
}

// SelectorFromArgs compiles the selector argument of a binding or consumer.
func SelectorFromArgs(args wire.Table) (*Selector, error) {
	for _, key := range []string{ArgSelector, ArgJMSSelector} {
		v, ok := args[key]
		if !ok {
			continue
		}
		var text string
		switch s := v.(type) {
		case string:
			text = s
		case []byte:
			text = string(s)
		default:
			return nil, amqpError.Soft(amqpError.PreconditionFailed, "%s must be a string", key)
		}
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		sel, err := ParseSelector(text)
		if err != nil {
			return nil, amqpError.Soft(amqpError.PreconditionFailed, "invalid selector %q: %v", text, err)
		}
		return sel, nil
	}
	return nil, nil
}

func selectorText(s *Selector) string {
	if s == nil {
		return ""
	}
	return s.String()
}

// BindingSet is the outcome of matching a routing key and headers. Filtered
// bindings still have to pass their selector against the concrete message.
type BindingSet struct {
	Unfiltered []*Binding
	Filtered   []*Binding
}

func (bs *BindingSet) Empty() bool {
	return len(bs.Unfiltered) == 0 && len(bs.Filtered) == 0
}

// Queues returns each target queue once, in binding order.
func (bs *BindingSet) Queues(msg *Message) []*Queue {
	seen := make(map[*Queue]bool)
	var out []*Queue
	add := func(q *Queue) {
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	for _, b := range bs.Unfiltered {
		add(b.Queue)
	}
	for _, b := range bs.Filtered {
		if b.Selector.Matches(msg) {
			add(b.Queue)
		}
	}
	return out
}

type Exchange struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	Arguments  wire.Table

	builtin bool

	mu       sync.RWMutex
	bindings []*Binding
}

func (e *Exchange) Builtin() bool { return e.builtin }

// Bind adds a binding. Rebinding the same queue and routing key with the same
// selector only refreshes the arguments; a different selector is refused.
func (e *Exchange) Bind(b *Binding) (created bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.bindings {
		if existing.Queue != b.Queue || existing.RoutingKey != b.RoutingKey {
			continue
		}
		if selectorText(existing.Selector) != selectorText(b.Selector) {
			return false, amqpError.Soft(amqpError.PreconditionFailed,
				"queue '%s' is already bound to exchange '%s' with key '%s' and a different selector",
				b.Queue.Name, e.Name, b.RoutingKey)
		}
		existing.Arguments = b.Arguments
		return false, nil
	}
	e.bindings = append(e.bindings, b)
	return true, nil
}

// Unbind removes the binding for queue and key, reporting whether one existed.
func (e *Exchange) Unbind(q *Queue, routingKey string) *Binding {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, b := range e.bindings {
		if b.Queue == q && b.RoutingKey == routingKey {
			e.bindings = append(e.bindings[:i], e.bindings[i+1:]...)
			return b
		}
	}
	return nil
}

// RemoveQueue drops every binding to q.
func (e *Exchange) RemoveQueue(q *Queue) []*Binding {
	e.mu.Lock()
	defer e.mu.Unlock()
	var removed []*Binding
	kept := e.bindings[:0]
	for _, b := range e.bindings {
		if b.Queue == q {
			removed = append(removed, b)
		} else {
			kept = append(kept, b)
		}
	}
	for i := len(kept); i < len(e.bindings); i++ {
		e.bindings[i] = nil
	}
	e.bindings = kept
	return removed
}

func (e *Exchange) BindingCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.bindings)
}

func (e *Exchange) Bindings() []*Binding {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Binding(nil), e.bindings...)
}

// Route selects the bindings whose key or header arguments match.
func (e *Exchange) Route(routingKey string, headers wire.Table) *BindingSet {
	e.mu.RLock()
	defer e.mu.RUnlock()

	set := &BindingSet{}
	for _, b := range e.bindings {
		var ok bool
		switch e.Kind {
		case KindDirect:
			ok = b.RoutingKey == routingKey
		case KindFanout:
			ok = true
		case KindTopic:
			ok = topicMatch(b.RoutingKey, routingKey)
		case KindHeaders:
			ok = headersMatch(b.Arguments, headers)
		}
		if !ok {
			continue
		}
		if b.Selector != nil {
			set.Filtered = append(set.Filtered, b)
		} else {
			set.Unfiltered = append(set.Unfiltered, b)
		}
	}
	return set
}

// headersMatch applies x-match all (default) or any. Arguments starting with
// "x-" take no part in matching and a void argument only requires presence.
func headersMatch(args, headers wire.Table) bool {
	matchAny := false
	if m, ok := args["x-match"]; ok {
		switch v := m.(type) {
		case string:
			matchAny = strings.HasPrefix(v, "any")
		case []byte:
			matchAny = strings.HasPrefix(string(v), "any")
		}
	}

	for k, want := range args {
		if strings.HasPrefix(k, "x-") {
			continue
		}
		got, present := headers[k]
		ok := present && (want == nil || headerValuesEqual(want, got))
		if ok && matchAny {
			return true
		}
		if !ok && !matchAny {
			return false
		}
	}
	return !matchAny
}

func headerValuesEqual(a, b any) bool {
	na, nb := normalizeValue(a), normalizeValue(b)
	if na != nil && nb != nil {
		if eq, ok := valuesEqual(na, nb); ok {
			return eq
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// ExchangeRegistry owns the exchanges of one virtual host.
type ExchangeRegistry struct {
	mu        sync.RWMutex
	exchanges map[string]*Exchange
}

var builtinExchanges = []struct{ name, kind string }{
	{"", KindDirect},
	{"amq.direct", KindDirect},
	{"amq.fanout", KindFanout},
	{"amq.topic", KindTopic},
	{"amq.headers", KindHeaders},
	{"amq.match", KindHeaders},
}

func NewExchangeRegistry() *ExchangeRegistry {
	r := &ExchangeRegistry{exchanges: make(map[string]*Exchange)}
	for _, b := range builtinExchanges {
		r.exchanges[b.name] = &Exchange{Name: b.name, Kind: b.kind, Durable: true, builtin: true}
	}
	return r
}

// ExchangeSpec holds the declare arguments.
type ExchangeSpec struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	Passive    bool
	Arguments  wire.Table
}

// Declare returns the named exchange, creating it unless passive. A redeclare
// must agree with the existing exchange.
func (r *ExchangeRegistry) Declare(spec ExchangeSpec) (*Exchange, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ex, ok := r.exchanges[spec.Name]; ok {
		if spec.Passive {
			return ex, false, nil
		}
		if ex.Kind != spec.Kind {
			return nil, false, amqpError.Soft(amqpError.PreconditionFailed,
				"cannot redeclare exchange '%s' of type '%s' as '%s'", spec.Name, ex.Kind, spec.Kind)
		}
		if ex.builtin {
			return ex, false, nil
		}
		if ex.Durable != spec.Durable || ex.AutoDelete != spec.AutoDelete || ex.Internal != spec.Internal {
			return nil, false, amqpError.Soft(amqpError.PreconditionFailed,
				"exchange '%s' already exists with different flags", spec.Name)
		}
		return ex, false, nil
	}

	if spec.Passive {
		return nil, false, amqpError.Soft(amqpError.NotFound, "no exchange '%s'", spec.Name)
	}
	if !validKind(spec.Kind) {
		return nil, false, amqpError.Hard(amqpError.CommandInvalid, "unknown exchange type '%s'", spec.Kind)
	}
	if strings.HasPrefix(spec.Name, "amq.") {
		return nil, false, amqpError.Soft(amqpError.AccessRefused,
			"exchange name '%s' uses the reserved 'amq.' prefix", spec.Name)
	}

	ex := &Exchange{
		Name:       spec.Name,
		Kind:       spec.Kind,
		Durable:    spec.Durable,
		AutoDelete: spec.AutoDelete,
		Internal:   spec.Internal,
		Arguments:  spec.Arguments,
	}
	r.exchanges[spec.Name] = ex
	return ex, true, nil
}

func (r *ExchangeRegistry) Get(name string) *Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exchanges[name]
}

// Delete removes an exchange. A missing exchange is not an error and yields nil.
func (r *ExchangeRegistry) Delete(name string, ifUnused bool) (*Exchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ex, ok := r.exchanges[name]
	if !ok {
		return nil, nil
	}
	if ex.builtin {
		return nil, amqpError.Soft(amqpError.AccessRefused, "exchange '%s' is built in and cannot be deleted", displayName(name))
	}
	if ifUnused && ex.BindingCount() > 0 {
		return nil, amqpError.Soft(amqpError.PreconditionFailed, "exchange '%s' in use", name)
	}
	delete(r.exchanges, name)
	return ex, nil
}

// deleteIfUnused removes an auto-delete exchange left without bindings.
func (r *ExchangeRegistry) deleteIfUnused(ex *Exchange) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exchanges[ex.Name] != ex || ex.BindingCount() > 0 {
		return false
	}
	delete(r.exchanges, ex.Name)
	return true
}

// All returns the exchanges sorted by name.
func (r *ExchangeRegistry) All() []*Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Exchange, 0, len(r.exchanges))
	for _, ex := range r.exchanges {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func displayName(name string) string {
	if name == "" {
		return "(AMQP default)"
	}
	return name
}
