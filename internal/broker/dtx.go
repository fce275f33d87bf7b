package broker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aleybovich/carrot-broker/internal/events"
	"github.com/aleybovich/carrot-broker/internal/store"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

// How long a rolled back branch keeps reporting its outcome when nobody asks.
const finishedBranchTTL = 10 * time.Minute

// Branch is one distributed transaction branch. Sessions (channels) attach
// with start and detach with end; the work they stage is shared.
type Branch struct {
	Xid wire.Xid

	registry *DtxRegistry
	work     Work

	// session -> suspended
	sessions     map[any]bool
	prepared     bool
	rollbackOnly bool

	// outcome is XAOk while the branch is live, the XA_RB* code once it was
	// rolled back behind the coordinator's back.
	outcome    int16
	finishedAt time.Time

	timeout  time.Duration
	deadline time.Time
}

func (b *Branch) live() bool { return b.outcome == wire.XAOk }

func (b *Branch) Publish(msg *Message, queues []*Queue) {
	r := b.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.live() {
		b.work.Publish(msg, queues)
	}
}

// Ack stages a settlement. A branch that is already rolled back returns the
// message to its queue instead.
func (b *Branch) Ack(d Delivery) {
	r := b.registry
	r.mu.Lock()
	if b.live() {
		b.work.Ack(d)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	d.Queue.Requeue([]*Message{d.Message})
}

func (b *Branch) Reject(d Delivery, requeue bool) {
	r := b.registry
	r.mu.Lock()
	if b.live() {
		b.work.Reject(d, requeue)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	d.Queue.Requeue([]*Message{d.Message})
}

// DtxRegistry tracks the distributed transaction branches of a virtual host.
// Protocol order errors are returned as XA result codes; a non-nil error is
// a storage failure.
type DtxRegistry struct {
	vhost *VHost

	mu       sync.Mutex
	branches map[string]*Branch
	now      func() time.Time
}

func newDtxRegistry(v *VHost) *DtxRegistry {
	return &DtxRegistry{vhost: v, branches: make(map[string]*Branch), now: time.Now}
}

func (r *DtxRegistry) newBranch(xid wire.Xid) *Branch {
	b := &Branch{
		Xid:      xid,
		registry: r,
		sessions: make(map[any]bool),
		timeout:  r.vhost.broker.Config.DtxTimeout,
	}
	if b.timeout > 0 {
		b.deadline = r.now().Add(b.timeout)
	}
	r.branches[xid.Key()] = b
	return b
}

// Start associates session with a branch, creating it unless join or
// resume is set.
func (r *DtxRegistry) Start(session any, xid wire.Xid, join, resume bool) (*Branch, int16) {
	if join && resume {
		return nil, wire.XAErInval
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.branches[xid.Key()]
	if !ok {
		if join || resume {
			return nil, wire.XAErNoTA
		}
		b = r.newBranch(xid)
		b.sessions[session] = false
		return b, wire.XAOk
	}

	if !b.live() {
		if !join && !resume && len(b.sessions) == 0 {
			b = r.newBranch(xid)
			b.sessions[session] = false
			return b, wire.XAOk
		}
		return nil, b.outcome
	}

	switch {
	case resume:
		suspended, attached := b.sessions[session]
		if !attached || !suspended {
			return nil, wire.XAErProto
		}
		b.sessions[session] = false
	case join:
		if b.prepared {
			return nil, wire.XAErProto
		}
		if _, attached := b.sessions[session]; attached {
			return nil, wire.XAErProto
		}
		b.sessions[session] = false
	default:
		return nil, wire.XAErDupID
	}
	if b.rollbackOnly {
		return b, wire.XARbRollback
	}
	return b, wire.XAOk
}

// End ends or suspends the session's association with a branch. fail marks
// the branch rollback only.
func (r *DtxRegistry) End(session any, xid wire.Xid, fail, suspend bool) int16 {
	if fail && suspend {
		return wire.XAErInval
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.branches[xid.Key()]
	if !ok {
		return wire.XAErNoTA
	}
	suspended, attached := b.sessions[session]
	if !attached || suspended {
		return wire.XAErProto
	}
	if !b.live() {
		delete(b.sessions, session)
		return b.outcome
	}

	if suspend {
		b.sessions[session] = true
	} else {
		delete(b.sessions, session)
	}
	if fail {
		b.rollbackOnly = true
	}
	if b.rollbackOnly {
		return wire.XARbRollback
	}
	return wire.XAOk
}

// lookupDetached finds a branch that no session is attached to.
func (r *DtxRegistry) lookupDetached(xid wire.Xid) (*Branch, int16) {
	b, ok := r.branches[xid.Key()]
	if !ok {
		return nil, wire.XAErNoTA
	}
	if len(b.sessions) > 0 {
		return nil, wire.XAErProto
	}
	if !b.live() {
		delete(r.branches, xid.Key())
		return nil, b.outcome
	}
	return b, wire.XAOk
}

func (r *DtxRegistry) Prepare(xid wire.Xid) (int16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, code := r.lookupDetached(xid)
	if b == nil {
		return code, nil
	}
	if b.prepared {
		return wire.XAErProto, nil
	}
	if b.rollbackOnly {
		r.rollback(b)
		delete(r.branches, xid.Key())
		return wire.XARbRollback, nil
	}

	rec, err := r.record(b)
	if err != nil {
		return wire.XAErRmErr, err
	}
	if rec != nil {
		if err := r.vhost.store().SaveDtx(r.vhost.Name, xid.Key(), rec); err != nil {
			return wire.XAErRmErr, fmt.Errorf("preparing branch %s: %w", xid, err)
		}
	}
	b.prepared = true
	r.vhost.logger.Debug("Prepared dtx branch %s", xid)
	return wire.XAOk, nil
}

// record builds the durable form of a branch, nil when nothing in it needs
// to survive a restart.
func (r *DtxRegistry) record(b *Branch) (*store.DtxRecord, error) {
	if !r.vhost.broker.Store.Enabled() {
		return nil, nil
	}
	xidBytes, err := b.Xid.Bytes()
	if err != nil {
		return nil, err
	}
	rec := &store.DtxRecord{Xid: xidBytes}
	for _, p := range b.work.publishes {
		for _, q := range p.queues {
			if !q.persists(p.msg) {
				continue
			}
			mr, err := p.msg.record()
			if err != nil {
				return nil, err
			}
			rec.Enqueues = append(rec.Enqueues, store.DtxEnqueue{Queue: q.Name, Message: *mr})
		}
	}
	dequeue := func(d Delivery) {
		if d.Queue.persists(d.Message) {
			rec.Dequeues = append(rec.Dequeues, store.DtxDequeue{Queue: d.Queue.Name, MessageID: d.Message.ID})
		}
	}
	for _, d := range b.work.acks {
		dequeue(d)
	}
	for _, rj := range b.work.rejects {
		if !rj.requeue {
			dequeue(rj.delivery)
		}
	}
	return rec, nil
}

// Commit applies a branch. onePhase skips prepare and is only valid for a
// branch that has not been prepared.
func (r *DtxRegistry) Commit(xid wire.Xid, onePhase bool) (int16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, code := r.lookupDetached(xid)
	if b == nil {
		return code, nil
	}
	if onePhase == b.prepared {
		return wire.XAErProto, nil
	}
	if b.rollbackOnly {
		r.rollback(b)
		delete(r.branches, xid.Key())
		return wire.XARbRollback, nil
	}

	var extra func(*store.Tx) error
	if b.prepared {
		extra = func(tx *store.Tx) error { return tx.DeleteDtx(r.vhost.Name, xid.Key()) }
	}
	// the prepared record stays on failure so the branch can be recovered
	if err := b.work.persist(r.vhost, extra); err != nil {
		return wire.XAErRmErr, fmt.Errorf("committing branch %s: %w", xid, err)
	}
	b.work.apply(r.vhost)
	delete(r.branches, xid.Key())
	r.vhost.logger.Debug("Committed dtx branch %s (one phase: %v)", xid, onePhase)
	return wire.XAOk, nil
}

func (r *DtxRegistry) Rollback(xid wire.Xid) (int16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, code := r.lookupDetached(xid)
	if b == nil {
		return code, nil
	}
	r.rollback(b)
	delete(r.branches, xid.Key())
	return wire.XAOk, nil
}

func (r *DtxRegistry) rollback(b *Branch) {
	b.work.discard()
	b.work.reset()
	if b.prepared {
		if err := r.vhost.broker.Store.DeleteDtx(r.vhost.Name, b.Xid.Key()); err != nil {
			r.vhost.logger.Err("Failed to delete prepared branch %s: %v", b.Xid, err)
		}
	}
}

// Forget discards what is remembered about a branch that was rolled back
// on its own.
func (r *DtxRegistry) Forget(xid wire.Xid) int16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.branches[xid.Key()]
	if !ok {
		return wire.XAErNoTA
	}
	if b.live() || len(b.sessions) > 0 {
		return wire.XAErProto
	}
	delete(r.branches, xid.Key())
	return wire.XAOk
}

func (r *DtxRegistry) GetTimeout(xid wire.Xid) (uint32, int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.branches[xid.Key()]
	if !ok {
		return 0, wire.XAErNoTA
	}
	return uint32(b.timeout / time.Second), wire.XAOk
}

// SetTimeout restarts the branch clock. Zero disables the timeout.
func (r *DtxRegistry) SetTimeout(xid wire.Xid, seconds uint32) int16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.branches[xid.Key()]
	if !ok {
		return wire.XAErNoTA
	}
	if !b.live() {
		return b.outcome
	}
	b.timeout = time.Duration(seconds) * time.Second
	b.deadline = time.Time{}
	if b.timeout > 0 {
		b.deadline = r.now().Add(b.timeout)
	}
	return wire.XAOk
}

// Recover lists prepared branches.
func (r *DtxRegistry) Recover() []wire.Xid {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []wire.Xid
	for _, b := range r.branches {
		if b.live() && b.prepared {
			out = append(out, b.Xid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Detach drops every association of a closing session. Branches left
// without sessions and not prepared are rolled back.
func (r *DtxRegistry) Detach(session any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.branches {
		if _, ok := b.sessions[session]; !ok {
			continue
		}
		delete(b.sessions, session)
		if !b.live() || b.prepared {
			continue
		}
		b.rollbackOnly = true
		if len(b.sessions) == 0 {
			r.rollback(b)
			b.outcome = wire.XARbRollback
			b.finishedAt = r.now()
		}
	}
}

// Reap rolls back branches whose timeout has passed and forgets old
// finished ones.
func (r *DtxRegistry) Reap() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, b := range r.branches {
		if !b.live() {
			if len(b.sessions) == 0 && now.Sub(b.finishedAt) > finishedBranchTTL {
				delete(r.branches, key)
			}
			continue
		}
		if b.deadline.IsZero() || now.Before(b.deadline) {
			continue
		}
		r.rollback(b)
		b.outcome = wire.XARbTimeout
		b.finishedAt = now
		r.vhost.logger.Warn("Dtx branch %s timed out after %s and was rolled back", b.Xid, b.timeout)
		r.vhost.publish(events.DtxTimeout, map[string]any{"xid": b.Xid.String(), "prepared": b.prepared})
	}
}

// restore rebuilds prepared branches from storage. withheld holds the
// deliveries their dequeues refer to.
func (r *DtxRegistry) restore(recs []*store.DtxRecord, withheld map[dequeueKey]*Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range recs {
		xid, err := wire.ParseXid(rec.Xid)
		if err != nil {
			r.vhost.logger.Err("Skipping unreadable prepared branch: %v", err)
			continue
		}
		b := r.newBranch(xid)
		b.prepared = true

		for _, e := range rec.Enqueues {
			q := r.vhost.Queue(e.Queue)
			if q == nil {
				r.vhost.logger.Warn("Prepared branch %s enqueues to missing queue '%s'", xid, e.Queue)
				continue
			}
			mr := e.Message
			msg, err := messageFromRecord(&mr)
			if err != nil {
				r.vhost.logger.Err("Prepared branch %s: %v", xid, err)
				continue
			}
			msg.Redelivered = false
			r.vhost.broker.observeMessageID(msg.ID)
			b.work.Publish(msg, []*Queue{q})
		}
		for _, d := range rec.Dequeues {
			q := r.vhost.Queue(d.Queue)
			msg := withheld[dequeueKey{d.Queue, d.MessageID}]
			if q == nil || msg == nil {
				r.vhost.logger.Warn("Prepared branch %s dequeues unknown message %d of queue '%s'", xid, d.MessageID, d.Queue)
				continue
			}
			b.work.Ack(Delivery{Queue: q, Message: msg})
		}
		r.vhost.logger.Info("Recovered prepared dtx branch %s", xid)
	}
}

type dequeueKey struct {
	queue string
	id    uint64
}
