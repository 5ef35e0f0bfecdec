// Package storage persists the serialized conversation list under a single key.
package storage

import (
	"context"
	"fmt"
)

// DefaultKey is the storage key used when none is configured.
const DefaultKey = "chatty:conversations"

// Persister reads and writes one opaque snapshot. Load returns (nil, nil) when
// nothing has been stored yet.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
}

// Driver names a Persister implementation.
type Driver string

const (
	DriverFile   Driver = "file"
	DriverRedis  Driver = "redis"
	DriverSQLite Driver = "sqlite"
	DriverMemory Driver = "memory"
)

// Options selects and configures a Persister.
type Options struct {
	Driver   Driver
	Path     string
	Key      string
	RedisURL string
}

// Open builds the Persister named by opts.Driver.
func Open(ctx context.Context, opts Options) (Persister, error) {
	key := opts.Key
	if key == "" {
		key = DefaultKey
	}

	switch opts.Driver {
	case DriverFile, "":
		return NewFile(opts.Path)
	case DriverRedis:
		return NewRedisFromURL(ctx, opts.RedisURL, key)
	case DriverSQLite:
		return NewSQLite(opts.Path, key)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.Driver)
	}
}
