package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps the table as a single Redis string.
type RedisMirror struct {
	client *redis.Client
	key    string
}

// NewRedis connects to addr. The connection is checked lazily on first use.
func NewRedis(addr, password string, db int, key string) (*RedisMirror, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if key == "" {
		key = "gaser:volatile"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisMirror{client: client, key: key}, nil
}

// Load implements Mirror.
func (m *RedisMirror) Load(ctx context.Context) ([]byte, error) {
	data, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", m.key, err)
	}
	return data, nil
}

// Save implements Mirror.
func (m *RedisMirror) Save(ctx context.Context, data []byte) error {
	if err := m.client.Set(ctx, m.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", m.key, err)
	}
	return nil
}

// Close implements Mirror.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
