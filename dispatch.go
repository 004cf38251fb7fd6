package ags

import (
	"context"
	"sync/atomic"
	"time"
)

// Dispatcher delivers port change notifications on its own goroutine. The
// realtime thread only ever performs a non-blocking send into its queue; a
// full queue drops the notification.
type Dispatcher struct {
	changes chan PortChange
	dropped atomic.Uint64
}

func NewDispatcher(size int) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{changes: make(chan PortChange, size)}
}

func (d *Dispatcher) Notify(c PortChange) bool {
	if TrySend(d.changes, c) {
		return true
	}
	d.dropped.Add(1)
	return false
}

// Dropped returns how many notifications were lost to a full queue.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run delivers queued notifications until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-d.changes:
			c.Deliver()
		}
	}
}

// TrySend sends v unless the channel is full. It never blocks and reports
// whether v was sent.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive waits at most t for a value. ok is false on timeout or when
// the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
