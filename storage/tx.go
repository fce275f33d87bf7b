package storage

import "sync"

// applier writes a set of staged changes in one backend transaction.
type applier interface {
	apply(writes map[string][]byte, deletes map[string]bool) error
	Get(key string) ([]byte, error)
	Exists(key string) (bool, error)
}

// bufferedTx stages writes in memory and hands them to the backend on Commit.
// Reads see the staged state layered over the backend.
type bufferedTx struct {
	mu      sync.Mutex
	backend applier
	writes  map[string][]byte
	deletes map[string]bool
	done    bool
	release func()
}

func newBufferedTx(backend applier, release func()) *bufferedTx {
	return &bufferedTx{
		backend: backend,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
		release: release,
	}
}

func (tx *bufferedTx) Set(key string, value []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxFinished
	}
	delete(tx.deletes, key)
	tx.writes[key] = value
	return nil
}

func (tx *bufferedTx) Get(key string) ([]byte, error) {
	tx.mu.Lock()
	if tx.deletes[key] {
		tx.mu.Unlock()
		return nil, ErrKeyNotFound
	}
	if value, ok := tx.writes[key]; ok {
		tx.mu.Unlock()
		return value, nil
	}
	tx.mu.Unlock()
	return tx.backend.Get(key)
}

func (tx *bufferedTx) Delete(key string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxFinished
	}
	delete(tx.writes, key)
	tx.deletes[key] = true
	return nil
}

func (tx *bufferedTx) Exists(key string) (bool, error) {
	tx.mu.Lock()
	if tx.deletes[key] {
		tx.mu.Unlock()
		return false, nil
	}
	if _, ok := tx.writes[key]; ok {
		tx.mu.Unlock()
		return true, nil
	}
	tx.mu.Unlock()
	return tx.backend.Exists(key)
}

func (tx *bufferedTx) SetBatch(items map[string][]byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxFinished
	}
	for key, value := range items {
		delete(tx.deletes, key)
		tx.writes[key] = value
	}
	return nil
}

func (tx *bufferedTx) DeleteBatch(keys []string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxFinished
	}
	for _, key := range keys {
		delete(tx.writes, key)
		tx.deletes[key] = true
	}
	return nil
}

func (tx *bufferedTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxFinished
	}
	err := tx.backend.apply(tx.writes, tx.deletes)
	tx.finish()
	return err
}

func (tx *bufferedTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxFinished
	}
	tx.finish()
	return nil
}

func (tx *bufferedTx) finish() {
	tx.done = true
	tx.writes = nil
	tx.deletes = nil
	if tx.release != nil {
		tx.release()
	}
}
