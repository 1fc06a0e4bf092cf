// Package inmem implements an engine storage backend using a map-based key-value store.
package inmem

import (
	"github.com/staffops/staffcycle/engine/storage/kv"
	"github.com/staffops/staffcycle/utils/kv/kvmap"
	"github.com/staffops/staffcycle/utils/uuid"
)

// InMem is an in-memory engine storage backend.
type InMem struct {
	*kv.KV
}

func New() *InMem {
	return &InMem{KV: kv.New(
		kvmap.NewBucket(),
		kvmap.NewBucket(),
		kvmap.NewBucket(),
		uuid.NewUUID(),
	)}
}
