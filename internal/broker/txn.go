package broker

import (
	"fmt"
	"sync"

	"github.com/aleybovich/carrot-broker/internal/store"
)

type stagedPublish struct {
	msg    *Message
	queues []*Queue
}

type stagedReject struct {
	delivery Delivery
	requeue  bool
}

// Work collects publishes and settlements that take effect together.
type Work struct {
	publishes []stagedPublish
	acks      []Delivery
	rejects   []stagedReject
}

func (w *Work) Publish(msg *Message, queues []*Queue) {
	w.publishes = append(w.publishes, stagedPublish{msg: msg, queues: queues})
}

func (w *Work) Ack(d Delivery) {
	w.acks = append(w.acks, d)
}

func (w *Work) Reject(d Delivery, requeue bool) {
	w.rejects = append(w.rejects, stagedReject{delivery: d, requeue: requeue})
}

func (w *Work) Empty() bool {
	return len(w.publishes) == 0 && len(w.acks) == 0 && len(w.rejects) == 0
}

func (w *Work) reset() {
	w.publishes, w.acks, w.rejects = nil, nil, nil
}

// copies returns one message per target queue.
func copies(msg *Message, queues []*Queue) []*Message {
	out := make([]*Message, len(queues))
	for i := range queues {
		if i == len(queues)-1 {
			out[i] = msg
		} else {
			out[i] = msg.Copy()
		}
	}
	return out
}

// persist writes the staged effects in one storage transaction. extra runs
// inside the same transaction.
func (w *Work) persist(v *VHost, extra func(*store.Tx) error) error {
	tx, err := v.broker.Store.Begin()
	if err != nil {
		return err
	}

	write := func() error {
		for _, p := range w.publishes {
			for _, q := range p.queues {
				if !q.persists(p.msg) || q.isDeleted() {
					continue
				}
				rec, err := p.msg.record()
				if err != nil {
					return err
				}
				if err := tx.SaveMessage(v.Name, q.Name, rec); err != nil {
					return fmt.Errorf("saving message %d for queue '%s': %w", p.msg.ID, q.Name, err)
				}
			}
		}
		settled := append([]Delivery(nil), w.acks...)
		for _, r := range w.rejects {
			if !r.requeue {
				settled = append(settled, r.delivery)
			}
		}
		for _, d := range settled {
			if !d.Queue.persists(d.Message) {
				continue
			}
			if err := tx.DeleteMessage(v.Name, d.Queue.Name, d.Message.ID); err != nil {
				return fmt.Errorf("deleting message %d of queue '%s': %w", d.Message.ID, d.Queue.Name, err)
			}
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	}

	if err := write(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			v.logger.Err("Storage rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// apply makes the staged effects visible. Storage has already been written.
func (w *Work) apply(v *VHost) (refused int) {
	// each queue takes its whole batch at once
	var order []*Queue
	batches := make(map[*Queue][]*Message)
	for _, p := range w.publishes {
		for i, msg := range copies(p.msg, p.queues) {
			q := p.queues[i]
			if _, seen := batches[q]; !seen {
				order = append(order, q)
			}
			batches[q] = append(batches[q], msg)
		}
	}
	for _, q := range order {
		for i, ok := range q.pushBatch(batches[q]) {
			if !ok {
				q.forget(batches[q][i])
				refused++
			}
		}
	}
	var requeue []Delivery
	for _, r := range w.rejects {
		if r.requeue {
			requeue = append(requeue, r.delivery)
		} else {
			r.delivery.Queue.Discard(r.delivery.Message)
		}
	}
	RequeueDeliveries(requeue)
	return refused
}

// discard drops staged publishes and gives every staged settlement back to
// its queue.
func (w *Work) discard() {
	returned := append([]Delivery(nil), w.acks...)
	for _, r := range w.rejects {
		returned = append(returned, r.delivery)
	}
	RequeueDeliveries(returned)
}

// RequeueDeliveries returns deliveries to their queues, keeping their
// relative order within each queue.
func RequeueDeliveries(ds []Delivery) {
	var order []*Queue
	byQueue := make(map[*Queue][]*Message)
	for _, d := range ds {
		if _, ok := byQueue[d.Queue]; !ok {
			order = append(order, d.Queue)
		}
		byQueue[d.Queue] = append(byQueue[d.Queue], d.Message)
	}
	for _, q := range order {
		q.Requeue(byQueue[q])
	}
}

// Transaction is the local (tx class) transaction of one channel. Nothing it
// stages is visible to other channels before Commit.
type Transaction struct {
	vhost *VHost

	mu   sync.Mutex
	work Work
}

func NewTransaction(v *VHost) *Transaction {
	return &Transaction{vhost: v}
}

func (t *Transaction) Publish(msg *Message, queues []*Queue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.work.Publish(msg, queues)
}

func (t *Transaction) Ack(d Delivery) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.work.Ack(d)
}

func (t *Transaction) Reject(d Delivery, requeue bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.work.Reject(d, requeue)
}

// Commit persists and applies everything staged, then starts a new
// transaction. On a storage failure nothing is applied and the staged work
// is kept.
func (t *Transaction) Commit() (refused int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.work.Empty() {
		return 0, nil
	}
	if err := t.work.persist(t.vhost, nil); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	refused = t.work.apply(t.vhost)
	t.vhost.logger.Debug("Committed transaction: %d publishes, %d acks, %d rejects",
		len(t.work.publishes), len(t.work.acks), len(t.work.rejects))
	t.work.reset()
	return refused, nil
}

// Rollback discards staged publishes and returns staged acks and rejects to
// their queues as redelivered messages.
func (t *Transaction) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.work.discard()
	t.work.reset()
}
