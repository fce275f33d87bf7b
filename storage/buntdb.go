package storage

import (
	"errors"
	"fmt"

	"github.com/tidwall/buntdb"
)

type BuntDBProvider struct {
	db   *buntdb.DB
	path string
}

// NewBuntDBProvider creates a new BuntDB storage provider
// If path is empty, it creates an in-memory database
func NewBuntDBProvider(path string) *BuntDBProvider {
	return &BuntDBProvider{
		path: path,
	}
}

// Initialize opens the BuntDB database
func (b *BuntDBProvider) Initialize() error {
	path := b.path
	if path == "" {
		path = ":memory:"
	}

	db, err := buntdb.Open(path)
	if err != nil {
		return fmt.Errorf("opening buntdb: %w", err)
	}

	// One index per key family so prefix scans stay cheap
	for _, prefix := range Prefixes {
		indexName := "idx_" + prefix
		err = db.CreateIndex(indexName, prefix+"*", buntdb.IndexString)
		if err != nil && !errors.Is(err, buntdb.ErrIndexExists) {
			db.Close()
			return fmt.Errorf("creating index %s: %w", indexName, err)
		}
	}

	b.db = db
	return nil
}

// Close closes the BuntDB database
func (b *BuntDBProvider) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *BuntDBProvider) Set(key string, value []byte) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(value), nil)
		return err
	})
}

func (b *BuntDBProvider) Get(key string) ([]byte, error) {
	var value string
	err := b.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		value = val
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// Delete removes a key; deleting a missing key is not an error
func (b *BuntDBProvider) Delete(key string) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		return err
	})
}

func (b *BuntDBProvider) Exists(key string) (bool, error) {
	_, err := b.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *BuntDBProvider) SetBatch(items map[string][]byte) error {
	return b.apply(items, nil)
}

// GetBatch skips keys that do not exist
func (b *BuntDBProvider) GetBatch(keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	err := b.db.View(func(tx *buntdb.Tx) error {
		for _, key := range keys {
			val, err := tx.Get(key)
			if errors.Is(err, buntdb.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			result[key] = []byte(val)
		}
		return nil
	})
	return result, err
}

func (b *BuntDBProvider) DeleteBatch(keys []string) error {
	deletes := make(map[string]bool, len(keys))
	for _, k := range keys {
		deletes[k] = true
	}
	return b.apply(nil, deletes)
}

func (b *BuntDBProvider) Keys(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
	})
	return keys, err
}

// Scan stops at the first error returned by fn and reports it
func (b *BuntDBProvider) Scan(prefix string, fn func(key string, value []byte) error) error {
	var fnErr error
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			fnErr = fn(key, []byte(value))
			return fnErr == nil
		})
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

// BeginTx starts a buffered transaction applied atomically on Commit
func (b *BuntDBProvider) BeginTx() (StorageTransaction, error) {
	if b.db == nil {
		return nil, fmt.Errorf("buntdb not initialized")
	}
	return newBufferedTx(b, nil), nil
}

func (b *BuntDBProvider) apply(writes map[string][]byte, deletes map[string]bool) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		for key, value := range writes {
			if _, _, err := tx.Set(key, string(value), nil); err != nil {
				return err
			}
		}
		for key := range deletes {
			if _, err := tx.Delete(key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}
