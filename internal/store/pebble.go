package store

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleStore implements Store on a dedicated pebble database directory.
type PebbleStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

var _ Store = (*PebbleStore)(nil)

// OpenPebble opens (or creates) a pebble-backed store at dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	value, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// The slice is only valid until closer.Close; copy out.
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *PebbleStore) Put(key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Set([]byte(key), value, pebble.Sync)
}

func (s *PebbleStore) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Delete([]byte(key), pebble.Sync)
}

func (s *PebbleStore) Clear() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	if !iter.First() {
		return iter.Close()
	}
	first := append([]byte(nil), iter.Key()...)
	iter.Last()
	last := append([]byte(nil), iter.Key()...)
	if err := iter.Close(); err != nil {
		return err
	}

	// DeleteRange excludes the end key; delete the last key separately.
	if err := s.db.DeleteRange(first, last, pebble.Sync); err != nil {
		return err
	}
	return s.db.Delete(last, pebble.Sync)
}

func (s *PebbleStore) ScanPrefix(prefix string, fn func(key string, value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	opts := &pebble.IterOptions{}
	if prefix != "" {
		opts.LowerBound = []byte(prefix)
		opts.UpperBound = prefixUpperBound([]byte(prefix))
	}
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		if err := fn(string(iter.Key()), value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
