package leaselock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker. Leases never expire; TTL and RenewEvery
// are ignored.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

func (l *Local) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	if err := l.acquire(ctx, key, opts); err != nil {
		return err
	}
	defer l.release(key)
	return fn(ctx)
}

func (l *Local) acquire(ctx context.Context, key string, opts Options) error {
	if key == "" {
		return errEmptyKey
	}
	interval := opts.WaitInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	for {
		l.mu.Lock()
		done, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if !opts.Wait {
			return ErrBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		case <-time.After(interval):
		}
	}
}

func (l *Local) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if done, ok := l.held[key]; ok {
		close(done)
		delete(l.held, key)
	}
}
