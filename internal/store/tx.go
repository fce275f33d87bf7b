package store

import (
	"encoding/json"
	"fmt"

	"github.com/aleybovich/carrot-broker/storage"
)

// Tx groups message and dtx writes so they land atomically, e.g. the
// effects of tx.commit or dtx.prepare. A nil *Tx discards everything.
type Tx struct {
	s  *Store
	tx storage.StorageTransaction
}

// Begin starts a transaction. It returns a nil *Tx when persistence is off.
func (s *Store) Begin() (*Tx, error) {
	if s == nil {
		return nil, nil
	}
	tx, err := s.storage.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("beginning storage transaction: %w", err)
	}
	return &Tx{s: s, tx: tx}, nil
}

func (t *Tx) put(key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", key, err)
	}
	return t.tx.Set(key, data)
}

func (t *Tx) SaveMessage(vhost, queue string, rec *MessageRecord) error {
	if t == nil {
		return nil
	}
	t.s.ObserveMessageID(rec.ID)
	return t.put(messageKey(vhost, queue, rec.ID), rec)
}

func (t *Tx) DeleteMessage(vhost, queue string, id uint64) error {
	if t == nil {
		return nil
	}
	return t.tx.Delete(messageKey(vhost, queue, id))
}

func (t *Tx) SaveDtx(vhost, xidKey string, rec *DtxRecord) error {
	if t == nil {
		return nil
	}
	return t.put(dtxKey(vhost, xidKey), rec)
}

func (t *Tx) DeleteDtx(vhost, xidKey string) error {
	if t == nil {
		return nil
	}
	return t.tx.Delete(dtxKey(vhost, xidKey))
}

func (t *Tx) Commit() error {
	if t == nil {
		return nil
	}
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	if t == nil {
		return nil
	}
	return t.tx.Rollback()
}
