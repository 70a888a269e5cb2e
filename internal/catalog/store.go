package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/ipsix/plugscan/internal/plugin"
	"github.com/ipsix/plugscan/internal/storage"
)

// Store persists the catalog. Load on a store that was never saved returns
// an empty catalog.
type Store interface {
	Load() (*Catalog, error)
	Save(*Snapshot) error
}

const documentVersion = 1

type document struct {
	Version     int                 `json:"version"`
	Descriptors []plugin.Descriptor `json:"descriptors"`
	Files       []FileRecord        `json:"files"`
}

// FileStore keeps the catalog in one JSON file, guarded by a lock file so
// two processes never interleave writes.
type FileStore struct {
	path string
	lock *flock.Flock
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, lock: flock.New(path + ".lock")}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock catalog: %w", err)
	}
	defer s.lock.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", s.path, err)
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("catalog %s has version %d, newer than %d", s.path, doc.Version, documentVersion)
	}
	return Restore(doc.Descriptors, doc.Files), nil
}

func (s *FileStore) Save(snap *Snapshot) error {
	raw, err := json.MarshalIndent(document{
		Version:     documentVersion,
		Descriptors: snap.Descriptors(),
		Files:       snap.Files(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock catalog: %w", err)
	}
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

const (
	descriptorsBucket = "descriptors"
	filesBucket       = "files"
)

// BadgerStore keeps descriptors and file records in two buckets of a
// storage.Store.
type BadgerStore struct {
	store storage.Store
}

func NewBadgerStore(store storage.Store) *BadgerStore {
	return &BadgerStore{store: store}
}

func (s *BadgerStore) Load() (*Catalog, error) {
	var descs []plugin.Descriptor
	err := s.store.ForEach(descriptorsBucket, func(_, value []byte) error {
		var d plugin.Descriptor
		if err := json.Unmarshal(value, &d); err != nil {
			return fmt.Errorf("decode descriptor: %w", err)
		}
		descs = append(descs, d)
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	sortDescriptors(descs)

	var files []FileRecord
	err = s.store.ForEach(filesBucket, func(_, value []byte) error {
		var rec FileRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode file record: %w", err)
		}
		files = append(files, rec)
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return Restore(descs, files), nil
}

func (s *BadgerStore) Save(snap *Snapshot) error {
	descs := make(map[string][]byte, snap.Len())
	for _, d := range snap.Descriptors() {
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode descriptor: %w", err)
		}
		descs[d.Key()] = raw
	}
	files := make(map[string][]byte)
	for _, rec := range snap.Files() {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode file record: %w", err)
		}
		files[rec.ID()] = raw
	}
	if err := s.store.ReplaceBucket(descriptorsBucket, descs); err != nil {
		return fmt.Errorf("save descriptors: %w", err)
	}
	if err := s.store.ReplaceBucket(filesBucket, files); err != nil {
		return fmt.Errorf("save file records: %w", err)
	}
	return nil
}
