// Package leaselock serialises index wide operations such as entity
// resolution. Client holds leases in the rag_locks table so they span
// processes; Local covers single process backends.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	defaultTTL      = 5 * time.Minute
	defaultInterval = 250 * time.Millisecond
	extendTimeout   = 15 * time.Second
)

// ErrBusy is returned by a non waiting acquire of a held key. It matches
// common.ErrConflict.
var (
	ErrBusy error = &common.Error{Kind: common.ErrConflict, Op: "lease_lock", Err: errors.New("lease lock busy")}
	// ErrLost is the cancel cause of a lease whose row was taken over or
	// could not be extended.
	ErrLost = errors.New("lease lock lost")

	errEmptyKey = errors.New("lease lock key is empty")
)

// Locker runs fn while holding key.
type Locker interface {
	WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error
}

var (
	_ Locker = (*Client)(nil)
	_ Locker = (*Local)(nil)
)

type Options struct {
	// TTL is how long a crashed holder keeps the key blocked.
	TTL time.Duration
	// RenewEvery defaults to TTL/2 and is always shorter than TTL.
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	// Owner prefixes the holder token, which makes rows attributable.
	Owner string
}

func (o Options) withDefaults() Options {
	if o.TTL < time.Millisecond {
		o.TTL = defaultTTL
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = defaultInterval
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client holds leases in Postgres.
type Client struct {
	db querier
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{db: pool}
}

// Lease is a held key. Context is cancelled on Release, or with cause
// ErrLost when the lease cannot be kept.
type Lease struct {
	Key     string
	Holder  string
	Context context.Context

	db     querier
	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once
}

// WithLease runs fn under key and releases it afterwards. fn sees the lease
// context; a lease lost while fn succeeded is reported as ErrLost.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}()

	err = fn(lease.Context)
	if err == nil && errors.Is(context.Cause(lease.Context), ErrLost) {
		return ErrLost
	}
	return err
}

func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errEmptyKey
	}
	opts = opts.withDefaults()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	holder := opts.Owner + id

	for {
		claimed, err := c.claim(ctx, key, holder, opts.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to claim lease %s: %w", key, err)
		}
		if claimed {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := pause(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Holder:  holder,
		Context: leaseCtx,
		db:      c.db,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.keepAlive(opts)
	return l, nil
}

// claim inserts the row or takes over an expired one.
func (c *Client) claim(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, claimSQL, key, holder, ttl.Milliseconds()).Scan(&got)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}
	return got != "", nil
}

// Release stops renewal and deletes the row if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		close(l.done)
		l.cancel(context.Canceled)
	})
	_, err := l.db.Exec(ctx, releaseSQL, l.Key, l.Holder)
	return err
}

func (l *Lease) keepAlive(opts Options) {
	t := time.NewTicker(opts.RenewEvery)
	defer t.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.extend(opts.TTL); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) extend(ttl time.Duration) error {
	policy := util.RetryPolicy{
		MaxTries: 3,
		Backoff:  200 * time.Millisecond,
		RetryIf:  func(err error) bool { return !errors.Is(err, ErrLost) },
	}
	err := util.RetryErrWithContext(l.Context, policy, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, extendTimeout)
		defer cancel()
		var got string
		err := l.db.QueryRow(ctx, extendSQL, l.Key, l.Holder, ttl.Milliseconds()).Scan(&got)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		return err
	})
	if err != nil && !errors.Is(err, ErrLost) {
		return fmt.Errorf("%w: %v", ErrLost, err)
	}
	return err
}

func pause(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const claimSQL = `
INSERT INTO rag_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE rag_locks.expires_at < now()
RETURNING lock_key;
`

const extendSQL = `
UPDATE rag_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM rag_locks
WHERE lock_key = $1 AND locked_by = $2;
`
