package storage

import (
	"bytes"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const boltBucket = "carrot"

// BoltDBProvider keeps every key in a single bbolt bucket. Keys are stored
// byte-ordered, so prefix scans walk a cursor from the prefix.
type BoltDBProvider struct {
	db      *bbolt.DB
	path    string
	timeout time.Duration
}

// NewBoltDBProvider creates a provider for the database file at path.
// timeout bounds how long Initialize waits for the file lock.
func NewBoltDBProvider(path string, timeout time.Duration) *BoltDBProvider {
	return &BoltDBProvider{path: path, timeout: timeout}
}

func (p *BoltDBProvider) Initialize() error {
	db, err := bbolt.Open(p.path, 0o600, &bbolt.Options{Timeout: p.timeout})
	if err != nil {
		return fmt.Errorf("opening bbolt %s: %w", p.path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("creating bucket: %w", err)
	}
	p.db = db
	return nil
}

func (p *BoltDBProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *BoltDBProvider) Set(key string, value []byte) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(key), value)
	})
}

func (p *BoltDBProvider) Get(key string) ([]byte, error) {
	var out []byte
	err := p.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		// values are only valid for the life of the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (p *BoltDBProvider) Delete(key string) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(key))
	})
}

func (p *BoltDBProvider) Exists(key string) (bool, error) {
	exists := false
	err := p.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket([]byte(boltBucket)).Get([]byte(key)) != nil
		return nil
	})
	return exists, err
}

func (p *BoltDBProvider) SetBatch(items map[string][]byte) error {
	return p.apply(items, nil)
}

func (p *BoltDBProvider) GetBatch(keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	err := p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		for _, key := range keys {
			if v := b.Get([]byte(key)); v != nil {
				result[key] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	return result, err
}

func (p *BoltDBProvider) DeleteBatch(keys []string) error {
	deletes := make(map[string]bool, len(keys))
	for _, k := range keys {
		deletes[k] = true
	}
	return p.apply(nil, deletes)
}

func (p *BoltDBProvider) Keys(prefix string) ([]string, error) {
	var keys []string
	err := p.Scan(prefix, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	return keys, err
}

func (p *BoltDBProvider) Scan(prefix string, fn func(key string, value []byte) error) error {
	return p.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(boltBucket)).Cursor()
		pfx := []byte(prefix)
		for k, v := c.Seek(pfx); k != nil && bytes.HasPrefix(k, pfx); k, v = c.Next() {
			if err := fn(string(k), append([]byte(nil), v...)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *BoltDBProvider) BeginTx() (StorageTransaction, error) {
	if p.db == nil {
		return nil, fmt.Errorf("bbolt not initialized")
	}
	return newBufferedTx(p, nil), nil
}

func (p *BoltDBProvider) apply(writes map[string][]byte, deletes map[string]bool) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		for key, value := range writes {
			if err := b.Put([]byte(key), value); err != nil {
				return err
			}
		}
		for key := range deletes {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}
