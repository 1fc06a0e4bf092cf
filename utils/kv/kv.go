// Package kv defines small key-value bucket interfaces.
package kv

import "context"

// Bucket is basic CRUD on key-value pairs within one namespace.
type Bucket interface {
	Get(ctx context.Context, k string) (v []byte, err error)
	Set(ctx context.Context, k string, v []byte) error
	Has(ctx context.Context, k string) (found bool, err error)
	Delete(ctx context.Context, k string) error
}

// TraversingBucket is a Bucket whose keys can be enumerated.
type TraversingBucket interface {
	Bucket

	// Keys returns the bucket's keys in no particular order.
	// Closing cancel stops the enumeration.
	Keys(cancel <-chan struct{}) <-chan string
}
