// Package locking provides the in-process half of the ledger's concurrency discipline: a keyed
// lock registry with bounded waits, canonical-order acquisition of several keys, a scoped
// WithLock primitive, and a retry combinator for conflicts.
package locking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/bank-ledger/internal/errs"
)

// DefaultTimeout bounds how long Acquire waits for a busy key.
const DefaultTimeout = 5 * time.Second

type entry struct {
	key   string
	token chan struct{}
	refs  int // holders plus waiters
}

// Registry hands out exclusive locks by key. An entry is created on first use and removed when
// its last holder or waiter lets go, so the registry only tracks keys in play.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	timeout time.Duration
	onWait  func(key string, waited time.Duration)
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the bounded wait for a single key. Zero or negative means DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithWaitObserver registers a hook called after every successful acquisition with the time
// spent waiting.
func WithWaitObserver(fn func(key string, waited time.Duration)) Option {
	return func(r *Registry) { r.onWait = fn }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) ref(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{key: key, token: make(chan struct{}, 1)}
		r.entries[key] = e
	}
	e.refs++
	return e
}

func (r *Registry) unref(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 && r.entries[e.key] == e {
		delete(r.entries, e.key)
	}
}

// Acquire blocks until key is free, the registry timeout elapses, or ctx is done. A timeout
// yields a retryable concurrency conflict. The returned func releases the lock.
func (r *Registry) Acquire(ctx context.Context, key string) (func(), error) {
	e := r.ref(key)
	start := time.Now()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case e.token <- struct{}{}:
	case <-timer.C:
		r.unref(e)
		return nil, errs.Conflict("locking.Acquire", nil, "lock %s busy after %s", key, r.timeout)
	case <-ctx.Done():
		r.unref(e)
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}

	if r.onWait != nil {
		r.onWait(key, time.Since(start))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.token
			r.unref(e)
		})
	}, nil
}

// Clear drops every entry nobody holds or waits on and returns how many were removed. Released
// entries already leave on their own, so this normally finds nothing.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for k, e := range r.entries {
		if e.refs == 0 {
			delete(r.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of keys currently held or waited on.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Held is a set of locks acquired together. Release frees them in reverse acquisition order
// and is safe to call more than once.
type Held struct {
	keys     []string
	releases []func()
	once     sync.Once
}

// Keys returns the keys in the order they were acquired.
func (h *Held) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

func (h *Held) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		for i := len(h.releases) - 1; i >= 0; i-- {
			h.releases[i]()
		}
	})
}

// Canonical sorts keys lexicographically and drops duplicates and empty keys.
func Canonical(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LockInOrder acquires every key in canonical order. Two callers asking for the same keys in any
// order therefore queue on the same first key and cannot deadlock each other. On failure the
// locks already taken are released.
func (r *Registry) LockInOrder(ctx context.Context, keys ...string) (*Held, error) {
	return r.LockSequence(ctx, keys)
}

// LockSequence acquires groups one after another, each group in canonical order. Keys already
// taken by an earlier group are skipped. Every caller must use the same group order.
func (r *Registry) LockSequence(ctx context.Context, groups ...[]string) (*Held, error) {
	h := &Held{}
	taken := map[string]struct{}{}
	for _, group := range groups {
		for _, key := range Canonical(group) {
			if _, ok := taken[key]; ok {
				continue
			}
			release, err := r.Acquire(ctx, key)
			if err != nil {
				h.Release()
				return nil, err
			}
			taken[key] = struct{}{}
			h.keys = append(h.keys, key)
			h.releases = append(h.releases, release)
		}
	}
	return h, nil
}

// WithLock runs fn while holding keys, acquired in canonical order. The locks are released when
// fn returns, fails or panics.
func (r *Registry) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	return r.WithLockSequence(ctx, [][]string{keys}, fn)
}

// WithLockSequence is WithLock over ordered key groups.
func (r *Registry) WithLockSequence(ctx context.Context, groups [][]string, fn func(ctx context.Context) error) error {
	held, err := r.LockSequence(ctx, groups...)
	if err != nil {
		return err
	}
	defer held.Release()
	return fn(ctx)
}
