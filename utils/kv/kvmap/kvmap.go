// Package kvmap implements a map-backed in-memory key-value bucket.
package kvmap

import (
	"context"
	"fmt"
	"sync"
)

// KVMap is a mutex-guarded in-memory key-value bucket.
type KVMap struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewBucket creates a new in-memory bucket.
func NewBucket() *KVMap {
	return &KVMap{m: make(map[string][]byte)}
}

func (b *KVMap) Get(_ context.Context, k string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[k]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", k)
	}
	return v, nil
}

func (b *KVMap) Set(_ context.Context, k string, v []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[k] = v
	return nil
}

func (b *KVMap) Has(_ context.Context, k string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.m[k]
	return ok, nil
}

func (b *KVMap) Delete(_ context.Context, k string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, k)
	return nil
}

// Keys enumerates the bucket's keys.
// The enumerating goroutine holds a read lock on the map until the
// channel drains or cancel closes; writing to the bucket while
// mid-enumeration from the same goroutine will deadlock.
func (b *KVMap) Keys(cancel <-chan struct{}) <-chan string {
	r := make(chan string)
	go func() {
		b.mu.RLock()
		defer b.mu.RUnlock()
		defer close(r)
		for k := range b.m {
			select {
			case <-cancel:
				return
			case r <- k:
			}
		}
	}()
	return r
}
