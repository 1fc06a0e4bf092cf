// Package diskv implements an engine storage backend using the diskv key-value store.
package diskv

import (
	"path/filepath"

	storagekv "github.com/staffops/staffcycle/engine/storage/kv"
	"github.com/staffops/staffcycle/utils/kv/kvdiskv"
	"github.com/staffops/staffcycle/utils/uuid"

	"github.com/peterbourgon/diskv/v3"
)

// Diskv is an on-disk engine storage backend.
type Diskv struct {
	*storagekv.KV
}

func newBucket(path, name string) *kvdiskv.KVDiskv {
	flatTransform := func(s string) []string { return []string{} }
	return kvdiskv.NewBucket(diskv.New(diskv.Options{
		BasePath:     filepath.Join(path, "engine", name),
		Transform:    flatTransform,
		CacheSizeMax: 1024 * 1024,
	}))
}

// New creates a new initialized engine storage backend at path.
func New(path string) *Diskv {
	return &Diskv{KV: storagekv.New(
		newBucket(path, "requests"),
		newBucket(path, "steps"),
		newBucket(path, "events"),
		uuid.NewUUID(),
	)}
}
