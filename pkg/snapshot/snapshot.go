// Package snapshot persists the volatile cache table as a single blob so it
// survives restarts. Backends are best effort: callers log failures and keep
// running from memory.
package snapshot

import (
	"context"
	"fmt"

	"github.com/elSilveira/gaser/pkg/config"
)

// Mirror stores and retrieves one serialized table.
type Mirror interface {
	// Load returns the last saved blob, or nil when nothing was saved yet.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
}

// Nop is a memory-only mirror.
type Nop struct{}

func (Nop) Load(context.Context) ([]byte, error) { return nil, nil }
func (Nop) Save(context.Context, []byte) error   { return nil }
func (Nop) Close() error                         { return nil }

// New builds the mirror selected by cfg.Backend.
func New(cfg *config.MirrorConfig) (Mirror, error) {
	switch cfg.Backend {
	case config.MirrorBolt, "":
		return OpenBolt(cfg.Path)
	case config.MirrorRedis:
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey)
	case config.MirrorNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", cfg.Backend)
	}
}
