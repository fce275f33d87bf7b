package storage

import "errors"

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrTxFinished  = errors.New("transaction already finished")
)

const (
	KeyPrefixVHost    = "vhost:"
	KeyPrefixExchange = "exchange:"
	KeyPrefixQueue    = "queue:"
	KeyPrefixBinding  = "binding:"
	KeyPrefixMessage  = "message:"
	KeyPrefixDtx      = "dtx:"            // Prepared distributed transaction branches
	KeySeqCounter     = "system:msgseqno" // Global message sequence counter
)

// Prefixes lists every key family, used by backends that index per prefix.
var Prefixes = []string{
	KeyPrefixVHost,
	KeyPrefixExchange,
	KeyPrefixQueue,
	KeyPrefixBinding,
	KeyPrefixMessage,
	KeyPrefixDtx,
}

// StorageProvider is a flat, ordered key/value store. internal/store lays
// durable broker entities out on top of it.
type StorageProvider interface {
	// Initialize opens the backend. It is called once before any other method.
	Initialize() error
	Close() error

	Set(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Exists(key string) (bool, error)

	SetBatch(items map[string][]byte) error
	GetBatch(keys []string) (map[string][]byte, error)
	DeleteBatch(keys []string) error

	// Keys and Scan visit keys in ascending order.
	Keys(prefix string) ([]string, error)
	Scan(prefix string, fn func(key string, value []byte) error) error

	BeginTx() (StorageTransaction, error)
}

// StorageTransaction stages writes until Commit. Reads inside it see its own
// writes.
type StorageTransaction interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Exists(key string) (bool, error)
	SetBatch(items map[string][]byte) error
	DeleteBatch(keys []string) error

	Commit() error
	Rollback() error
}
