// Package leaselock serializes work on a shared key across processes with a
// renewable lease row in the app_locks table.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrBusy is returned by Acquire without Wait when another holder owns
	// the key.
	ErrBusy = errors.New("lease lock busy")
	// ErrLost is the cancel cause of a lease whose row was taken over.
	ErrLost = errors.New("lease lock lost")
	// ErrEmptyKey rejects an empty lock key.
	ErrEmptyKey = errors.New("lease lock key is empty")
)

// DocumentKey is the lock key that serializes graph writes of one document.
func DocumentKey(sourceDocID string) string {
	return "graph-doc:" + sourceDocID
}

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client hands out leases. It is safe for concurrent use.
type Client struct {
	db dbConn
}

// New creates a Client on a pool or connection.
func New(db dbConn) *Client {
	return &Client{db: db}
}

// Options tune a single lease. Zero values get defaults.
type Options struct {
	// TTL is how long the row stays valid without renewal.
	TTL time.Duration
	// RenewEvery must be shorter than TTL; it defaults to half of it.
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

const (
	defaultTTL          = 5 * time.Minute
	defaultWaitInterval = 250 * time.Millisecond
	renewAttempts       = 3
	renewTimeout        = 15 * time.Second
)

func (o Options) normalized() Options {
	if o.TTL < time.Millisecond {
		o.TTL = defaultTTL
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = defaultWaitInterval
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

// Lease is a held lock. Context is canceled when the lease is released or
// lost, so work bound to it stops once another holder may take over.
type Lease struct {
	Key     string
	Token   string
	Context context.Context

	db     dbConn
	ttl    time.Duration
	cancel context.CancelCauseFunc
	once   sync.Once
	done   chan struct{}
}

// WithLease runs fn while holding key and releases the lease afterwards.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer lease.Release(context.WithoutCancel(ctx))
	return fn(lease.Context)
}

// Acquire takes the lease on key. An expired lease of another holder is
// taken over.
func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	opts = opts.normalized()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + id

	for {
		held, err := c.claim(ctx, key, token, opts.TTL)
		if err != nil {
			return nil, err
		}
		if held {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		wait := opts.WaitInterval
		if opts.WaitJitter > 0 {
			wait += rand.N(opts.WaitJitter + 1)
		}
		if err := pause(ctx, wait); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	lease := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		db:      c.db,
		ttl:     opts.TTL,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go lease.keepAlive(opts.RenewEvery)
	return lease, nil
}

// claim reports whether the row for key now carries token.
func (c *Client) claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, claimSQL, key, token, ttl.Seconds()).Scan(&got)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}
	return got == key, nil
}

// Release stops renewal and deletes the lease row if it is still ours.
func (l *Lease) Release(ctx context.Context) error {
	l.stop(context.Canceled)
	_, err := l.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) stop(cause error) {
	l.once.Do(func() {
		close(l.done)
		l.cancel(cause)
	})
}

func (l *Lease) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.Context.Done():
			return
		case <-ticker.C:
		}
		if err := l.extend(); err != nil {
			l.stop(err)
			return
		}
	}
}

// extend pushes the expiry forward, retrying transient failures. A missing
// row means another holder took the key over.
func (l *Lease) extend() error {
	var last error
	for range renewAttempts {
		ctx, cancel := context.WithTimeout(l.Context, renewTimeout)
		var got string
		last = l.db.QueryRow(ctx, extendSQL, l.Key, l.Token, l.ttl.Seconds()).Scan(&got)
		cancel()
		if last == nil {
			return nil
		}
		if errors.Is(last, pgx.ErrNoRows) {
			return ErrLost
		}
		if err := pause(l.Context, 200*time.Millisecond); err != nil {
			return err
		}
	}
	return last
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// A row is taken when it is free, expired or already ours.
const claimSQL = `
INSERT INTO app_locks AS l (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + make_interval(secs => $3))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by = EXCLUDED.locked_by, expires_at = EXCLUDED.expires_at
WHERE l.expires_at < now() OR l.locked_by = EXCLUDED.locked_by
RETURNING lock_key`

const extendSQL = `
UPDATE app_locks
SET expires_at = now() + make_interval(secs => $3)
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key`

const releaseSQL = `DELETE FROM app_locks WHERE lock_key = $1 AND locked_by = $2`
