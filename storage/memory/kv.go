package memorystore

import (
	"context"
	"sync"
	"time"
)

type kvItem struct {
	value   []byte
	expires time.Time
}

func (it kvItem) expired(now time.Time) bool {
	return !it.expires.IsZero() && now.After(it.expires)
}

// KV is an in-memory key-value store with TTL support. It backs attempts and sessions in
// development and tests.
// It is only safe for single-process deployments.
type KV struct {
	mu    sync.Mutex
	items map[string]kvItem
	now   func() time.Time
}

func NewKV() *KV {
	return &KV{items: make(map[string]kvItem), now: time.Now}
}

// WithClock overrides the time source (tests).
func (k *KV) WithClock(now func() time.Time) *KV {
	k.mu.Lock()
	k.now = now
	k.mu.Unlock()
	return k
}

func (k *KV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	it, ok := k.items[key]
	if !ok {
		return nil, false, nil
	}
	if it.expired(k.now()) {
		delete(k.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

func (k *KV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.items[key] = kvItem{value: append([]byte(nil), value...), expires: k.deadline(ttl)}
	return nil
}

func (k *KV) Del(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.items, key)
	return nil
}

// Sweep drops expired entries and reports how many were removed.
func (k *KV) Sweep() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	n := 0
	for key, it := range k.items {
		if it.expired(now) {
			delete(k.items, key)
			n++
		}
	}
	return n
}

// StartJanitor sweeps every interval until ctx is done.
func (k *KV) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				k.Sweep()
			}
		}
	}()
}

func (k *KV) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return k.now().Add(ttl)
}
