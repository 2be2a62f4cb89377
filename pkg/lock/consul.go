//go:build consul

package lock

import (
	"context"
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

const keyPrefix = "ixf-sync/locks/"

// Consul locks through consul sessions so that several importer
// instances can share a database.
type Consul struct {
	cli *consulapi.Client
	ttl time.Duration
}

func NewConsul(addr string, ttl time.Duration) (*Consul, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Consul{cli: cli, ttl: ttl}, nil
}

// Lock blocks until the consul lock is held. The returned context ends when
// the session is invalidated and the lock lost.
func (c *Consul) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	l, err := c.cli.LockOpts(&consulapi.LockOptions{
		Key:        keyPrefix + key,
		SessionTTL: c.ttl.String(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("lock %s: %w", key, err)
	}
	lost, err := l.Lock(ctx.Done())
	if err != nil {
		return nil, nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if lost == nil {
		return nil, nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
	held, cancel := watchLost(ctx, lost)
	return held, func() {
		cancel()
		_ = l.Unlock()
		_ = l.Destroy()
	}, nil
}
