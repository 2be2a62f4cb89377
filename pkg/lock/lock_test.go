package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExcludes(t *testing.T) {
	l := NewLocal()
	_, unlock, err := l.Lock(context.Background(), LANKey(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = l.Lock(ctx, LANKey(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// other keys are independent
	_, other, err := l.Lock(context.Background(), LANKey(2))
	require.NoError(t, err)
	other()

	unlock()
	unlock() // second release is a no-op
	_, again, err := l.Lock(context.Background(), LANKey(1))
	require.NoError(t, err)
	again()
}

func TestLocalWaitsForRelease(t *testing.T) {
	l := NewLocal()
	_, unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, u, err := l.Lock(context.Background(), "k")
		if err == nil {
			u()
		}
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not acquired after release")
	}
}

func TestLocalContextEndsOnRelease(t *testing.T) {
	l := NewLocal()
	held, unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	assert.NoError(t, held.Err())

	unlock()
	assert.ErrorIs(t, held.Err(), context.Canceled)
}

func TestWatchLost(t *testing.T) {
	tests := []struct {
		name string
		end  func(lost chan struct{}, cancel context.CancelFunc, parent context.CancelFunc)
	}{
		{name: "lock lost", end: func(lost chan struct{}, _, _ context.CancelFunc) { close(lost) }},
		{name: "released", end: func(_ chan struct{}, cancel, _ context.CancelFunc) { cancel() }},
		{name: "parent done", end: func(_ chan struct{}, _, parent context.CancelFunc) { parent() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent, parentCancel := context.WithCancel(context.Background())
			defer parentCancel()
			lost := make(chan struct{})
			held, cancel := watchLost(parent, lost)
			defer cancel()
			require.NoError(t, held.Err())

			tt.end(lost, cancel, parentCancel)
			select {
			case <-held.Done():
			case <-time.After(time.Second):
				t.Fatal("context still live")
			}
			assert.ErrorIs(t, held.Err(), context.Canceled)
		})
	}
}

func TestLANKey(t *testing.T) {
	assert.Equal(t, "exchange-lan/7", LANKey(7))
}
