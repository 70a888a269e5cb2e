// Package storage is a bucketed key/value layer over badger shared by the
// catalog and the scan history.
package storage

import "errors"

var ErrNotFound = errors.New("not found")

type Store interface {
	Put(bucket, key string, value []byte) error
	Get(bucket, key string) ([]byte, error)
	ForEach(bucket string, fn func(key, value []byte) error) error
	Delete(bucket, key string) error
	// ReplaceBucket swaps the whole content of a bucket.
	ReplaceBucket(bucket string, entries map[string][]byte) error
	Close() error
}
