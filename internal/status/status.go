// ABOUTME: Persisted status document and the store contract
// ABOUTME: Open picks a file, sqlite or redis store by driver name

package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Status is what survives a restart.
type Status struct {
	LastTimestamp float64 `json:"last_timestamp"`
}

// Store loads and saves the status.
type Store interface {
	// Load returns the saved status, or the zero Status when none exists.
	Load(ctx context.Context) (Status, error)
	Save(ctx context.Context, s Status) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Options selects and configures a store.
type Options struct {
	Driver string
	// Path is the status file or the sqlite database.
	Path      string
	RedisAddr string
	RedisKey  string
	Logger    *slog.Logger
}

// Open creates the store named by opts.Driver. An empty driver means file.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverFile:
		return NewFileStore(opts.Path), nil
	case DriverSQLite:
		return NewSQLiteStore(ctx, opts.Path, opts.Logger)
	case DriverRedis:
		return NewRedisStore(ctx, RedisOptions{Addr: opts.RedisAddr, Key: opts.RedisKey})
	}
	return nil, fmt.Errorf("unknown status driver %q", opts.Driver)
}

func encode(s Status) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding status: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Status, error) {
	var s Status
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Status{}, fmt.Errorf("decoding status: %w", err)
	}
	return s, nil
}
