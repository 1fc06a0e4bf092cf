// Package kvdiskv adapts a diskv store to the kv bucket interfaces.
package kvdiskv

import (
	"context"

	"github.com/peterbourgon/diskv/v3"
)

// KVDiskv is an on-disk key-value bucket backed by diskv.
type KVDiskv struct {
	dv *diskv.Diskv
}

// NewBucket creates a new bucket around dv.
func NewBucket(dv *diskv.Diskv) *KVDiskv {
	return &KVDiskv{dv: dv}
}

func (b *KVDiskv) Get(_ context.Context, k string) ([]byte, error) {
	return b.dv.Read(k)
}

func (b *KVDiskv) Set(_ context.Context, k string, v []byte) error {
	return b.dv.Write(k, v)
}

func (b *KVDiskv) Has(_ context.Context, k string) (bool, error) {
	return b.dv.Has(k), nil
}

func (b *KVDiskv) Delete(_ context.Context, k string) error {
	return b.dv.Erase(k)
}

func (b *KVDiskv) Keys(cancel <-chan struct{}) <-chan string {
	return b.dv.Keys(cancel)
}
