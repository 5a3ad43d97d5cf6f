package leaselock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB keeps rag_locks rows in memory and interprets the three statements.
type fakeDB struct {
	mu    sync.Mutex
	owner map[string]string
}

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.key
	return nil
}

func (d *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, token := args[0].(string), args[1].(string)
	cur, held := d.owner[key]
	switch {
	case strings.Contains(sql, "INSERT"):
		if held && cur != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		d.owner[key] = token
		return fakeRow{key: key}
	default:
		if cur != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{key: key}
	}
}

func (d *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, token := args[0].(string), args[1].(string)
	if d.owner[key] == token {
		delete(d.owner, key)
	}
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func TestClientAcquireBusyRelease(t *testing.T) {
	db := &fakeDB{owner: map[string]string{}}
	c := &Client{db: db}
	ctx := context.Background()

	lease, err := c.Acquire(ctx, "resolve:papers", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := c.Acquire(ctx, "resolve:papers", Options{TTL: time.Minute}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if !common.IsConflict(ErrBusy) {
		t.Fatal("ErrBusy should match common.ErrConflict")
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if lease.Context.Err() == nil {
		t.Fatal("lease context should be cancelled after release")
	}

	ran := false
	err = c.WithLease(ctx, "resolve:papers", Options{}, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("WithLease after release: ran=%v err=%v", ran, err)
	}
	if len(db.owner) != 0 {
		t.Fatalf("lock rows left behind: %v", db.owner)
	}
}

func TestClientEmptyKey(t *testing.T) {
	c := &Client{db: &fakeDB{owner: map[string]string{}}}
	if _, err := c.Acquire(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestLocalBusyAndWait(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLease(ctx, "k", Options{}, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := l.WithLease(ctx, "k", Options{}, func(context.Context) error { return nil }); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := l.WithLease(ctx, "other", Options{}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("independent key: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- l.WithLease(ctx, "k", Options{Wait: true, WaitInterval: time.Millisecond}, func(context.Context) error { return nil })
	}()
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiting lease: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting lease never acquired")
	}
}

func TestLocalWaitHonoursContext(t *testing.T) {
	l := NewLocal()
	hold := make(chan struct{})
	defer close(hold)
	entered := make(chan struct{})
	go func() {
		_ = l.WithLease(context.Background(), "k", Options{}, func(context.Context) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithLease(ctx, "k", Options{Wait: true}, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLeaseExtendDetectsTakeover(t *testing.T) {
	db := &fakeDB{owner: map[string]string{}}
	c := &Client{db: db}
	ctx := context.Background()

	lease, err := c.Acquire(ctx, "resolve:papers", Options{TTL: time.Minute, Owner: "worker-"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release(ctx)
	if !strings.HasPrefix(lease.Holder, "worker-") {
		t.Fatalf("holder %q lacks owner prefix", lease.Holder)
	}
	if err := lease.extend(time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}

	db.mu.Lock()
	db.owner["resolve:papers"] = "someone-else"
	db.mu.Unlock()
	if err := lease.extend(time.Minute); !errors.Is(err, ErrLost) {
		t.Fatalf("expected ErrLost, got %v", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{TTL: 4 * time.Second, RenewEvery: 10 * time.Second, WaitJitter: -1}.withDefaults()
	if o.RenewEvery != 2*time.Second {
		t.Fatalf("RenewEvery = %v", o.RenewEvery)
	}
	if o.WaitInterval != defaultInterval || o.WaitJitter != 0 {
		t.Fatalf("unexpected wait options: %+v", o)
	}
	if d := (Options{}).withDefaults(); d.TTL != defaultTTL {
		t.Fatalf("TTL = %v", d.TTL)
	}
}
