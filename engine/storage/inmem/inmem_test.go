package inmem

import (
	"testing"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/engine/storage/test"
)

func TestInmemStorage(t *testing.T) {
	test.TestStore(t, func() storage.AllStore { return New() })
}
