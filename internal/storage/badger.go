package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	return NewBadgerStoreWithKey(path, "")
}

// NewInMemoryBadgerStore is used by tests and by one-off scans that must not
// leave anything on disk.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func NewBadgerStoreWithKey(path string, keyBase64 string) (*BadgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	// badger's own logger writes to stderr; the daemon logs through zerolog.
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if keyBase64 != "" {
		key, err := base64.StdEncoding.DecodeString(keyBase64)
		if err != nil {
			return nil, fmt.Errorf("decode encryption key: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes")
		}
		opts = opts.WithEncryptionKey(key)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Put(bucket, key string, value []byte) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("bucket and key are required")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		itemKey := makeKey(bucket, key)
		return txn.Set(itemKey, value)
	})
}

func (b *BadgerStore) Get(bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("bucket and key are required")
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(bucket, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerStore) ForEach(bucket string, fn func(key, value []byte) error) error {
	if bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	prefix := []byte(bucket + "/")
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.Key()
			key := string(k[len(prefix):])
			if err := item.Value(func(val []byte) error {
				return fn([]byte(key), val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) Delete(bucket, key string) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("bucket and key are required")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(makeKey(bucket, key))
	})
}

// ReplaceBucket deletes every key in bucket and writes entries. Large
// replacements are split over several transactions.
func (b *BadgerStore) ReplaceBucket(bucket string, entries map[string][]byte) error {
	if bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	prefix := []byte(bucket + "/")

	var stale [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	txn := b.db.NewTransaction(true)
	defer func() { txn.Discard() }()
	apply := func(op func(*badger.Txn) error) error {
		if err := op(txn); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrTxnTooBig) {
			return err
		}
		if err := txn.Commit(); err != nil {
			return err
		}
		txn = b.db.NewTransaction(true)
		return op(txn)
	}

	for _, key := range stale {
		if _, keep := entries[string(key[len(prefix):])]; keep {
			continue
		}
		if err := apply(func(t *badger.Txn) error { return t.Delete(key) }); err != nil {
			return err
		}
	}
	for key, value := range entries {
		itemKey := makeKey(bucket, key)
		if err := apply(func(t *badger.Txn) error { return t.Set(itemKey, value) }); err != nil {
			return err
		}
	}
	return txn.Commit()
}

func (b *BadgerStore) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func makeKey(bucket, key string) []byte {
	return []byte(filepath.ToSlash(bucket + "/" + key))
}
