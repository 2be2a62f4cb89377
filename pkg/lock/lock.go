// Package lock serializes import runs per exchange LAN.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// Locker hands out exclusive locks by key. The returned context is derived
// from ctx and is cancelled once the lock is lost or released. The returned
// func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (context.Context, func(), error)
}

// watchLost returns a context that is cancelled when lost closes.
func watchLost(ctx context.Context, lost <-chan struct{}) (context.Context, context.CancelFunc) {
	held, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-lost:
			cancel()
		case <-held.Done():
		}
	}()
	return held, cancel
}

// LANKey is the lock key of an exchange LAN.
func LANKey(id uint) string {
	return fmt.Sprintf("exchange-lan/%d", id)
}

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{slots: map[string]chan struct{}{}}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *Local) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
	held, cancel := context.WithCancel(ctx)
	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancel()
			<-ch
		})
	}, nil
}
