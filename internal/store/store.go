// Package store persists durable broker entities on top of a
// storage.StorageProvider. A nil *Store is valid and persists nothing.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aleybovich/carrot-broker/logger"
	"github.com/aleybovich/carrot-broker/storage"
)

type Store struct {
	storage storage.StorageProvider
	logger  logger.Logger
	seq     atomic.Uint64
}

// New returns nil when provider is nil, which disables persistence.
func New(provider storage.StorageProvider, l logger.Logger) *Store {
	if provider == nil {
		return nil
	}
	if l == nil {
		l = &logger.NilLogger{}
	}
	return &Store{storage: provider, logger: l}
}

// Enabled reports whether anything is written.
func (s *Store) Enabled() bool { return s != nil }

// Initialize opens the backend and recovers the message id counter.
func (s *Store) Initialize() error {
	if s == nil {
		return nil
	}
	if err := s.storage.Initialize(); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	return s.recoverSequence()
}

// Close saves the id counter and closes the backend.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if err := s.saveSequence(); err != nil {
		s.logger.Warn("Failed to save message sequence on close: %v", err)
	}
	return s.storage.Close()
}

// LastMessageID is the highest message id handed out so far.
func (s *Store) LastMessageID() uint64 {
	if s == nil {
		return 0
	}
	return s.seq.Load()
}

// ObserveMessageID raises the counter to at least id.
func (s *Store) ObserveMessageID(id uint64) {
	if s == nil {
		return
	}
	for {
		cur := s.seq.Load()
		if id <= cur || s.seq.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (s *Store) recoverSequence() error {
	data, err := s.storage.Get(storage.KeySeqCounter)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading sequence counter: %w", err)
	}
	var seq uint64
	if err := json.Unmarshal(data, &seq); err != nil {
		return fmt.Errorf("unmarshalling sequence counter: %w", err)
	}
	s.ObserveMessageID(seq)
	s.logger.Info("Recovered message sequence counter: %d", seq)
	return nil
}

func (s *Store) saveSequence() error {
	data, err := json.Marshal(s.seq.Load())
	if err != nil {
		return fmt.Errorf("marshalling sequence counter: %w", err)
	}
	return s.storage.Set(storage.KeySeqCounter, data)
}

func (s *Store) put(key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", key, err)
	}
	return s.storage.Set(key, data)
}

// loadAll decodes every record under prefix in key order. Records that fail
// to decode are logged and skipped.
func loadAll[T any](s *Store, prefix string) ([]*T, error) {
	var out []*T
	if s == nil {
		return out, nil
	}
	err := s.storage.Scan(prefix, func(key string, value []byte) error {
		rec := new(T)
		if err := json.Unmarshal(value, rec); err != nil {
			s.logger.Warn("Failed to unmarshal record %s: %v", key, err)
			return nil
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", prefix, err)
	}
	return out, nil
}

// --- VHost Operations ---

func (s *Store) SaveVHost(rec *VHostRecord) error {
	if s == nil {
		return nil
	}
	return s.put(vhostKey(rec.Name), rec)
}

func (s *Store) LoadVHosts() ([]*VHostRecord, error) {
	return loadAll[VHostRecord](s, storage.KeyPrefixVHost)
}

// --- Exchange Operations ---

func (s *Store) SaveExchange(vhost string, rec *ExchangeRecord) error {
	if s == nil {
		return nil
	}
	return s.put(exchangeKey(vhost, rec.Name), rec)
}

func (s *Store) DeleteExchange(vhost, name string) error {
	if s == nil {
		return nil
	}
	return s.storage.Delete(exchangeKey(vhost, name))
}

func (s *Store) LoadExchanges(vhost string) ([]*ExchangeRecord, error) {
	return loadAll[ExchangeRecord](s, storage.KeyPrefixExchange+esc(vhost)+":")
}

// --- Queue Operations ---

func (s *Store) SaveQueue(vhost string, rec *QueueRecord) error {
	if s == nil {
		return nil
	}
	return s.put(queueKey(vhost, rec.Name), rec)
}

// DeleteQueue removes the queue record and every message stored for it.
func (s *Store) DeleteQueue(vhost, name string) error {
	if s == nil {
		return nil
	}
	keys, err := s.storage.Keys(queueMessagesPrefix(vhost, name))
	if err != nil {
		return fmt.Errorf("listing messages of queue %s: %w", name, err)
	}
	return s.storage.DeleteBatch(append(keys, queueKey(vhost, name)))
}

func (s *Store) LoadQueues(vhost string) ([]*QueueRecord, error) {
	return loadAll[QueueRecord](s, storage.KeyPrefixQueue+esc(vhost)+":")
}

// --- Binding Operations ---

func (s *Store) SaveBinding(vhost string, rec *BindingRecord) error {
	if s == nil {
		return nil
	}
	return s.put(bindingKey(vhost, rec.Exchange, rec.Queue, rec.RoutingKey), rec)
}

func (s *Store) DeleteBinding(vhost, exchange, queue, routingKey string) error {
	if s == nil {
		return nil
	}
	return s.storage.Delete(bindingKey(vhost, exchange, queue, routingKey))
}

func (s *Store) LoadBindings(vhost string) ([]*BindingRecord, error) {
	return loadAll[BindingRecord](s, storage.KeyPrefixBinding+esc(vhost)+":")
}

// --- Message Operations ---

func (s *Store) SaveMessage(vhost, queue string, rec *MessageRecord) error {
	if s == nil {
		return nil
	}
	s.ObserveMessageID(rec.ID)
	return s.put(messageKey(vhost, queue, rec.ID), rec)
}

func (s *Store) DeleteMessage(vhost, queue string, id uint64) error {
	if s == nil {
		return nil
	}
	return s.storage.Delete(messageKey(vhost, queue, id))
}

// DeleteMessages removes several messages of one queue in a batch.
func (s *Store) DeleteMessages(vhost, queue string, ids []uint64) error {
	if s == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = messageKey(vhost, queue, id)
	}
	return s.storage.DeleteBatch(keys)
}

// LoadQueueMessages returns the stored messages of a queue in id order.
func (s *Store) LoadQueueMessages(vhost, queue string) ([]*MessageRecord, error) {
	msgs, err := loadAll[MessageRecord](s, queueMessagesPrefix(vhost, queue))
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		s.ObserveMessageID(m.ID)
	}
	return msgs, nil
}

// --- Dtx Operations ---

func (s *Store) SaveDtx(vhost, xidKey string, rec *DtxRecord) error {
	if s == nil {
		return nil
	}
	return s.put(dtxKey(vhost, xidKey), rec)
}

func (s *Store) DeleteDtx(vhost, xidKey string) error {
	if s == nil {
		return nil
	}
	return s.storage.Delete(dtxKey(vhost, xidKey))
}

func (s *Store) LoadDtx(vhost string) ([]*DtxRecord, error) {
	return loadAll[DtxRecord](s, storage.KeyPrefixDtx+esc(vhost)+":")
}
