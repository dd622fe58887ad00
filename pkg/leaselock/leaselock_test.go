package leaselock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memLocks mimics the app_locks statements on a map. Expiry is ignored.
type memLocks struct {
	mu    sync.Mutex
	owner map[string]string
	err   error
}

type row struct {
	key string
	err error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.key
	return nil
}

func (m *memLocks) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return row{err: m.err}
	}
	key, token := args[0].(string), args[1].(string)
	switch {
	case strings.Contains(sql, "INSERT INTO app_locks"):
		if cur, ok := m.owner[key]; ok && cur != token {
			return row{err: pgx.ErrNoRows}
		}
		m.owner[key] = token
		return row{key: key}
	case strings.Contains(sql, "UPDATE app_locks"):
		if m.owner[key] != token {
			return row{err: pgx.ErrNoRows}
		}
		return row{key: key}
	}
	return row{err: errors.New("unexpected statement")}
}

func (m *memLocks) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, token := args[0].(string), args[1].(string)
	if m.owner[key] == token {
		delete(m.owner, key)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func newMem() *memLocks {
	return &memLocks{owner: map[string]string{}}
}

func TestDocumentKey(t *testing.T) {
	if got := DocumentKey("doc-7"); got != "graph-doc:doc-7" {
		t.Fatalf("DocumentKey() = %q", got)
	}
}

func TestAcquire_BusyWithoutWait(t *testing.T) {
	c := New(newMem())
	ctx := context.Background()

	first, err := c.Acquire(ctx, "k", Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer first.Release(ctx)

	if _, err := c.Acquire(ctx, "k", Options{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestAcquire_EmptyKey(t *testing.T) {
	if _, err := New(newMem()).Acquire(context.Background(), "", Options{}); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestRelease_CancelsLeaseContext(t *testing.T) {
	mem := newMem()
	c := New(mem)
	ctx := context.Background()

	lease, err := c.Acquire(ctx, "k", Options{TokenPrefix: "worker-"})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !strings.HasPrefix(lease.Token, "worker-") {
		t.Fatalf("token %q misses prefix", lease.Token)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if lease.Context.Err() == nil {
		t.Fatalf("lease context still alive after release")
	}
	if len(mem.owner) != 0 {
		t.Fatalf("lock row not deleted")
	}
}

func TestWithLease_Serializes(t *testing.T) {
	c := New(newMem())
	ctx := context.Background()
	opts := Options{Wait: true, WaitInterval: time.Millisecond}

	var (
		mu      sync.Mutex
		active  int
		overlap bool
		wg      sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.WithLease(ctx, DocumentKey("d1"), opts, func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > 1 {
					overlap = true
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithLease() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if overlap {
		t.Fatalf("two holders ran at the same time")
	}
}

func TestAcquire_PropagatesStoreErrors(t *testing.T) {
	mem := newMem()
	mem.err = errors.New("connection reset")

	if _, err := New(mem).Acquire(context.Background(), "k", Options{Wait: true}); !errors.Is(err, mem.err) {
		t.Fatalf("expected store error, got %v", err)
	}
}
