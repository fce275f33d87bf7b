package config

import (
	"fmt"
	"time"
)

type StorageType string

const (
	StorageTypeNone   StorageType = "none"   // No persistence
	StorageTypeMemory StorageType = "memory" // In-memory (using BuntDB)
	StorageTypeBuntDB StorageType = "buntdb" // Persistent BuntDB
	StorageTypeBoltDB StorageType = "boltdb" // Persistent bbolt
)

type StorageConfig struct {
	Type StorageType `yaml:"type"`

	BuntDB *BuntDBConfig `yaml:"buntdb,omitempty"`
	BoltDB *BoltDBConfig `yaml:"boltdb,omitempty"`
}

type BuntDBConfig struct {
	Path string `yaml:"path"` // empty or ":memory:" for in-memory
}

type BoltDBConfig struct {
	Path string `yaml:"path"`

	// Timeout bounds how long opening waits for the file lock
	Timeout time.Duration `yaml:"timeout"`
}

// Validate ensures the storage configuration is valid
func (sc StorageConfig) Validate() error {
	switch sc.Type {
	case StorageTypeNone, StorageTypeMemory:
		return nil

	case StorageTypeBuntDB:
		if sc.BuntDB == nil {
			return fmt.Errorf("BuntDB config is required for BuntDB storage type")
		}
		// Path can be empty (defaults to :memory:)
		return nil

	case StorageTypeBoltDB:
		if sc.BoltDB == nil || sc.BoltDB.Path == "" {
			return fmt.Errorf("BoltDB config with a path is required for BoltDB storage type")
		}
		return nil

	case "":
		return fmt.Errorf("storage type not specified")

	default:
		return fmt.Errorf("unknown storage type: %s", sc.Type)
	}
}
