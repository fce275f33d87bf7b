package broker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/config"
	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/internal/store"
	"github.com/aleybovich/carrot-broker/internal/wire"
	"github.com/aleybovich/carrot-broker/logger"
)

// VHost is an isolated namespace of exchanges, queues and transactions.
type VHost struct {
	Name      string
	Exchanges *ExchangeRegistry
	Dtx       *DtxRegistry

	broker *Broker
	logger logger.Logger

	mu     sync.RWMutex
	queues map[string]*Queue
}

func newVHost(b *Broker, name string) *VHost {
	v := &VHost{
		Name:      name,
		Exchanges: NewExchangeRegistry(),
		broker:    b,
		logger:    b.logger,
		queues:    make(map[string]*Queue),
	}
	v.Dtx = newDtxRegistry(v)
	return v
}

func (v *VHost) publish(id string, props map[string]any) {
	props["vhost"] = v.Name
	v.broker.Events.Publish(id, props)
}

func (v *VHost) store() *store.Store { return v.broker.Store }

// DeclareExchange creates or verifies an exchange.
func (v *VHost) DeclareExchange(spec ExchangeSpec) (*Exchange, error) {
	ex, created, err := v.Exchanges.Declare(spec)
	if err != nil || !created {
		return ex, err
	}

	if ex.Durable {
		args, err := store.EncodeArgs(ex.Arguments)
		if err == nil {
			err = v.store().SaveExchange(v.Name, &store.ExchangeRecord{
				Name:       ex.Name,
				Type:       ex.Kind,
				Durable:    ex.Durable,
				AutoDelete: ex.AutoDelete,
				Internal:   ex.Internal,
				Arguments:  args,
			})
		}
		if err != nil {
			v.Exchanges.deleteIfUnused(ex)
			return nil, fmt.Errorf("persisting exchange '%s': %w", ex.Name, err)
		}
	}

	v.logger.Info("Declared exchange '%s' of type '%s' in vhost '%s'", ex.Name, ex.Kind, v.Name)
	v.publish(events.ExchangeCreated, map[string]any{"exchange": ex.Name, "type": ex.Kind})
	return ex, nil
}

// DeleteExchange removes an exchange with its bindings. A missing exchange
// is not an error.
func (v *VHost) DeleteExchange(name string, ifUnused bool) error {
	ex, err := v.Exchanges.Delete(name, ifUnused)
	if err != nil || ex == nil {
		return err
	}
	v.dropExchange(ex)
	return nil
}

func (v *VHost) dropExchange(ex *Exchange) {
	for _, b := range ex.Bindings() {
		if err := v.store().DeleteBinding(v.Name, ex.Name, b.Queue.Name, b.RoutingKey); err != nil {
			v.logger.Err("Failed to delete stored binding %s->%s: %v", ex.Name, b.Queue.Name, err)
		}
	}
	if ex.Durable {
		if err := v.store().DeleteExchange(v.Name, ex.Name); err != nil {
			v.logger.Err("Failed to delete stored exchange '%s': %v", ex.Name, err)
		}
	}
	v.logger.Info("Deleted exchange '%s' in vhost '%s'", ex.Name, v.Name)
	v.publish(events.ExchangeDeleted, map[string]any{"exchange": ex.Name})
}

// DeclareQueue creates or verifies a queue. owner is the declaring
// connection; an empty name asks for a server generated one.
func (v *VHost) DeclareQueue(spec QueueSpec, owner uint64) (*Queue, error) {
	generated := false
	if spec.Name == "" && !spec.Passive {
		spec.Name = "amq.gen-" + uuid.NewString()
		generated = true
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if q, ok := v.queues[spec.Name]; ok {
		if q.Exclusive && q.Owner != owner {
			return nil, amqpError.Soft(amqpError.ResourceLocked,
				"cannot obtain exclusive access to locked queue '%s' in vhost '%s'", q.Name, v.Name)
		}
		if spec.Passive {
			return q, nil
		}
		if q.Durable != spec.Durable || q.Exclusive != spec.Exclusive || q.AutoDelete != spec.AutoDelete {
			return nil, amqpError.Soft(amqpError.PreconditionFailed,
				"queue '%s' in vhost '%s' already exists with different flags", q.Name, v.Name)
		}
		return q, nil
	}

	if spec.Passive {
		return nil, amqpError.Soft(amqpError.NotFound, "no queue '%s' in vhost '%s'", spec.Name, v.Name)
	}
	if !generated && strings.HasPrefix(spec.Name, "amq.") {
		return nil, amqpError.Soft(amqpError.AccessRefused, "queue name '%s' uses the reserved 'amq.' prefix", spec.Name)
	}
	if err := validateQueueArgs(spec.Arguments); err != nil {
		return nil, err
	}

	if spec.Durable && !spec.Exclusive {
		args, err := store.EncodeArgs(spec.Arguments)
		if err == nil {
			err = v.store().SaveQueue(v.Name, &store.QueueRecord{
				Name:       spec.Name,
				Durable:    spec.Durable,
				AutoDelete: spec.AutoDelete,
				Arguments:  args,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("persisting queue '%s': %w", spec.Name, err)
		}
	}

	q := newQueue(v, spec, owner)
	v.queues[q.Name] = q
	v.logger.Info("Declared queue '%s' in vhost '%s' (durable: %v, exclusive: %v, auto-delete: %v)",
		q.Name, v.Name, q.Durable, q.Exclusive, q.AutoDelete)
	v.publish(events.QueueCreated, map[string]any{"queue": q.Name, "durable": q.Durable})
	return q, nil
}

func (v *VHost) Queue(name string) *Queue {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.queues[name]
}

// Queues returns the queues sorted by name.
func (v *VHost) Queues() []*Queue {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*Queue, 0, len(v.queues))
	for _, q := range v.queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// accessQueue looks a queue up on behalf of a connection. A missing queue
// yields nil without error.
func (v *VHost) accessQueue(name string, owner uint64) (*Queue, error) {
	q := v.Queue(name)
	if q != nil && q.Exclusive && q.Owner != owner {
		return nil, amqpError.Soft(amqpError.ResourceLocked,
			"cannot obtain exclusive access to locked queue '%s' in vhost '%s'", name, v.Name)
	}
	return q, nil
}

// ConsumeQueue returns the queue a consumer or basic.get may read from.
func (v *VHost) ConsumeQueue(name string, owner uint64) (*Queue, error) {
	q, err := v.accessQueue(name, owner)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, amqpError.Soft(amqpError.NotFound, "no queue '%s' in vhost '%s'", name, v.Name)
	}
	return q, nil
}

// DeleteQueue deletes a queue and returns how many ready messages it held.
// Deleting a missing queue reports zero.
func (v *VHost) DeleteQueue(name string, ifUnused, ifEmpty bool, owner uint64) (int, error) {
	q, err := v.accessQueue(name, owner)
	if err != nil || q == nil {
		return 0, err
	}
	if err := q.checkDelete(ifUnused, ifEmpty); err != nil {
		return 0, err
	}
	return v.removeQueue(q), nil
}

// PurgeQueue drops the ready messages of a queue. A missing queue reports zero.
func (v *VHost) PurgeQueue(name string, owner uint64) (int, error) {
	q, err := v.accessQueue(name, owner)
	if err != nil || q == nil {
		return 0, err
	}
	n := q.Purge()
	v.logger.Info("Purged %d messages from queue '%s' in vhost '%s'", n, q.Name, v.Name)
	v.publish(events.QueuePurged, map[string]any{"queue": q.Name, "count": n})
	return n, nil
}

func (v *VHost) removeQueue(q *Queue) int {
	v.mu.Lock()
	if v.queues[q.Name] == q {
		delete(v.queues, q.Name)
	}
	v.mu.Unlock()

	count := q.close()

	for _, ex := range v.Exchanges.All() {
		removed := ex.RemoveQueue(q)
		if len(removed) == 0 {
			continue
		}
		for _, b := range removed {
			if err := v.store().DeleteBinding(v.Name, ex.Name, q.Name, b.RoutingKey); err != nil {
				v.logger.Err("Failed to delete stored binding %s->%s: %v", ex.Name, q.Name, err)
			}
		}
		v.maybeAutoDeleteExchange(ex)
	}

	if q.Durable {
		if err := v.store().DeleteQueue(v.Name, q.Name); err != nil {
			v.logger.Err("Failed to delete stored queue '%s': %v", q.Name, err)
		}
	}
	v.logger.Info("Deleted queue '%s' in vhost '%s' (%d messages dropped)", q.Name, v.Name, count)
	v.publish(events.QueueDeleted, map[string]any{"queue": q.Name, "messages": count})
	return count
}

func (v *VHost) autoDeleteQueue(q *Queue) {
	v.logger.Info("Auto-deleting queue '%s' after its last consumer left", q.Name)
	v.removeQueue(q)
}

func (v *VHost) maybeAutoDeleteExchange(ex *Exchange) {
	if ex.AutoDelete && v.Exchanges.deleteIfUnused(ex) {
		v.dropExchange(ex)
	}
}

// RemoveOwner deletes the exclusive queues of a closed connection.
func (v *VHost) RemoveOwner(owner uint64) {
	var owned []*Queue
	v.mu.RLock()
	for _, q := range v.queues {
		if q.Exclusive && q.Owner == owner {
			owned = append(owned, q)
		}
	}
	v.mu.RUnlock()

	for _, q := range owned {
		v.removeQueue(q)
	}
}

// Bind binds a queue to an exchange. Identical rebinding is a no-op.
func (v *VHost) Bind(queueName, exchangeName, routingKey string, args wire.Table, owner uint64) error {
	q, ex, err := v.bindTargets(queueName, exchangeName, owner)
	if err != nil {
		return err
	}
	sel, err := SelectorFromArgs(args)
	if err != nil {
		return err
	}

	b := &Binding{Exchange: ex.Name, Queue: q, RoutingKey: routingKey, Arguments: args, Selector: sel}
	created, err := ex.Bind(b)
	if err != nil {
		return err
	}

	if ex.Durable && q.Durable && !q.Exclusive {
		encoded, err := store.EncodeArgs(args)
		if err == nil {
			err = v.store().SaveBinding(v.Name, &store.BindingRecord{
				Exchange:   ex.Name,
				Queue:      q.Name,
				RoutingKey: routingKey,
				Arguments:  encoded,
			})
		}
		if err != nil {
			if created {
				ex.Unbind(q, routingKey)
			}
			return fmt.Errorf("persisting binding %s->%s: %w", ex.Name, q.Name, err)
		}
	}

	if created {
		v.logger.Info("Bound queue '%s' to exchange '%s' with key '%s'", q.Name, ex.Name, routingKey)
		v.publish(events.BindingCreated, map[string]any{"exchange": ex.Name, "queue": q.Name, "routing_key": routingKey})
	}
	return nil
}

// Unbind removes a binding. Removing a binding that does not exist is a no-op.
func (v *VHost) Unbind(queueName, exchangeName, routingKey string, owner uint64) error {
	q, ex, err := v.bindTargets(queueName, exchangeName, owner)
	if err != nil {
		return err
	}
	if ex.Unbind(q, routingKey) == nil {
		return nil
	}
	if err := v.store().DeleteBinding(v.Name, ex.Name, q.Name, routingKey); err != nil {
		return fmt.Errorf("deleting binding %s->%s: %w", ex.Name, q.Name, err)
	}
	v.logger.Info("Unbound queue '%s' from exchange '%s' with key '%s'", q.Name, ex.Name, routingKey)
	v.publish(events.BindingDeleted, map[string]any{"exchange": ex.Name, "queue": q.Name, "routing_key": routingKey})
	v.maybeAutoDeleteExchange(ex)
	return nil
}

func (v *VHost) bindTargets(queueName, exchangeName string, owner uint64) (*Queue, *Exchange, error) {
	if exchangeName == "" {
		return nil, nil, amqpError.Soft(amqpError.AccessRefused, "operation not permitted on the default exchange")
	}
	q, err := v.ConsumeQueue(queueName, owner)
	if err != nil {
		return nil, nil, err
	}
	ex := v.Exchanges.Get(exchangeName)
	if ex == nil {
		return nil, nil, amqpError.Soft(amqpError.NotFound, "no exchange '%s' in vhost '%s'", exchangeName, v.Name)
	}
	return q, ex, nil
}

// Route returns the queues a message goes to. The default exchange delivers
// to the queue named by the routing key.
func (v *VHost) Route(msg *Message) ([]*Queue, error) {
	if msg.Exchange == "" {
		if q := v.Queue(msg.RoutingKey); q != nil {
			return []*Queue{q}, nil
		}
		return nil, nil
	}
	ex := v.Exchanges.Get(msg.Exchange)
	if ex == nil {
		return nil, amqpError.Soft(amqpError.NotFound, "no exchange '%s' in vhost '%s'", msg.Exchange, v.Name)
	}
	if ex.Internal {
		return nil, amqpError.Soft(amqpError.AccessRefused, "cannot publish to internal exchange '%s'", ex.Name)
	}
	return ex.Route(msg.RoutingKey, msg.Properties.Headers).Queues(msg), nil
}

// Deliver enqueues msg on every queue. refused counts queues whose length
// limit turned it away.
func (v *VHost) Deliver(msg *Message, queues []*Queue) (refused int, err error) {
	for i, m := range copies(msg, queues) {
		ok, err := queues[i].Enqueue(m)
		if err != nil {
			return refused, fmt.Errorf("enqueueing to queue '%s': %w", queues[i].Name, err)
		}
		if !ok {
			refused++
		}
	}
	return refused, nil
}

// deadLetter republishes msg, never back into the queue it came from.
func (v *VHost) deadLetter(msg *Message, from *Queue) error {
	queues, err := v.Route(msg)
	if err != nil {
		return err
	}
	targets := queues[:0:0]
	for _, q := range queues {
		if q != from {
			targets = append(targets, q)
		}
	}
	if len(targets) == 0 {
		v.publish(events.MessageDropped, map[string]any{"queue": from.Name, "reason": "unroutable dead letter", "message": msg.ID})
		return nil
	}
	_, err = v.Deliver(msg, targets)
	return err
}

// apply declares the entities of a configured vhost.
func (v *VHost) apply(cfg config.VHostConfig) error {
	for _, ec := range cfg.Exchanges {
		kind := ec.Type
		if kind == "" {
			kind = KindDirect
		}
		_, err := v.DeclareExchange(ExchangeSpec{
			Name:       ec.Name,
			Kind:       kind,
			Durable:    ec.Durable,
			AutoDelete: ec.AutoDelete,
			Internal:   ec.Internal,
		})
		if err != nil {
			return fmt.Errorf("exchange '%s': %w", ec.Name, err)
		}
	}
	for _, qc := range cfg.Queues {
		var args wire.Table
		if qc.MaxLength > 0 {
			args = wire.Table{ArgMaxLength: int64(qc.MaxLength)}
		}
		q, err := v.DeclareQueue(QueueSpec{
			Name:       qc.Name,
			Durable:    qc.Durable,
			Exclusive:  qc.Exclusive,
			AutoDelete: qc.AutoDelete,
			Arguments:  args,
		}, 0)
		if err != nil {
			return fmt.Errorf("queue '%s': %w", qc.Name, err)
		}
		for _, binding := range qc.Bindings {
			exchange, key, _ := strings.Cut(binding, ":")
			if err := v.Bind(q.Name, exchange, key, nil, 0); err != nil {
				return fmt.Errorf("binding '%s' of queue '%s': %w", binding, q.Name, err)
			}
		}
	}
	return nil
}

// recover loads the durable state of the vhost.
func (v *VHost) recover() error {
	st := v.store()

	dtxRecords, err := st.LoadDtx(v.Name)
	if err != nil {
		return fmt.Errorf("loading prepared branches: %w", err)
	}
	withheld := make(map[dequeueKey]*Message)
	for _, rec := range dtxRecords {
		for _, d := range rec.Dequeues {
			withheld[dequeueKey{d.Queue, d.MessageID}] = nil
		}
	}

	exchanges, err := st.LoadExchanges(v.Name)
	if err != nil {
		return fmt.Errorf("loading exchanges: %w", err)
	}
	for _, rec := range exchanges {
		args, err := store.DecodeArgs(rec.Arguments)
		if err != nil {
			v.logger.Warn("Skipping exchange '%s' with unreadable arguments: %v", rec.Name, err)
			continue
		}
		_, _, err = v.Exchanges.Declare(ExchangeSpec{
			Name:       rec.Name,
			Kind:       rec.Type,
			Durable:    rec.Durable,
			AutoDelete: rec.AutoDelete,
			Internal:   rec.Internal,
			Arguments:  args,
		})
		if err != nil {
			v.logger.Warn("Skipping stored exchange '%s': %v", rec.Name, err)
			continue
		}
		v.logger.Info("Recovered exchange '%s' in vhost '%s'", rec.Name, v.Name)
	}

	queues, err := st.LoadQueues(v.Name)
	if err != nil {
		return fmt.Errorf("loading queues: %w", err)
	}
	for _, rec := range queues {
		args, err := store.DecodeArgs(rec.Arguments)
		if err != nil {
			v.logger.Warn("Skipping queue '%s' with unreadable arguments: %v", rec.Name, err)
			continue
		}
		q := newQueue(v, QueueSpec{Name: rec.Name, Durable: rec.Durable, AutoDelete: rec.AutoDelete, Arguments: args}, 0)

		msgs, err := st.LoadQueueMessages(v.Name, rec.Name)
		if err != nil {
			return fmt.Errorf("loading messages of queue '%s': %w", rec.Name, err)
		}
		for _, mr := range msgs {
			msg, err := messageFromRecord(mr)
			if err != nil {
				v.logger.Warn("Skipping stored message: %v", err)
				continue
			}
			v.broker.observeMessageID(msg.ID)
			key := dequeueKey{rec.Name, msg.ID}
			if _, held := withheld[key]; held {
				withheld[key] = msg
				continue
			}
			q.messages = append(q.messages, msg)
		}

		v.mu.Lock()
		v.queues[q.Name] = q
		v.mu.Unlock()
		v.logger.Info("Recovered queue '%s' in vhost '%s' with %d messages", q.Name, v.Name, len(q.messages))
	}

	bindings, err := st.LoadBindings(v.Name)
	if err != nil {
		return fmt.Errorf("loading bindings: %w", err)
	}
	for _, rec := range bindings {
		q, ex := v.Queue(rec.Queue), v.Exchanges.Get(rec.Exchange)
		if q == nil || ex == nil {
			v.logger.Warn("Skipping binding %s->%s to a missing entity", rec.Exchange, rec.Queue)
			continue
		}
		args, err := store.DecodeArgs(rec.Arguments)
		if err != nil {
			v.logger.Warn("Skipping binding %s->%s with unreadable arguments: %v", rec.Exchange, rec.Queue, err)
			continue
		}
		sel, err := SelectorFromArgs(args)
		if err != nil {
			v.logger.Warn("Skipping binding %s->%s: %v", rec.Exchange, rec.Queue, err)
			continue
		}
		if _, err := ex.Bind(&Binding{Exchange: ex.Name, Queue: q, RoutingKey: rec.RoutingKey, Arguments: args, Selector: sel}); err != nil {
			v.logger.Warn("Skipping binding %s->%s: %v", rec.Exchange, rec.Queue, err)
		}
	}

	v.Dtx.restore(dtxRecords, withheld)
	return nil
}

// close stops every queue dispatcher.
func (v *VHost) close() {
	for _, q := range v.Queues() {
		q.mu.Lock()
		if !q.deleted {
			q.deleted = true
			close(q.done)
		}
		q.mu.Unlock()
	}
}
