//go:build !consul

package lock

import (
	"context"
	"errors"
	"time"
)

// Consul is unavailable without the consul build tag.
type Consul struct{}

func NewConsul(addr string, ttl time.Duration) (*Consul, error) {
	return nil, errors.New("consul support not built; rebuild with -tags consul")
}

func (c *Consul) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	return nil, nil, errors.New("consul support not built")
}
