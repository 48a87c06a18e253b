package cache

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

var (
	ErrNotExist      = errors.New("cache: key does not exist")
	ErrQuotaExceeded = errors.New("cache: storage quota exceeded")
)

// Store is the persistent tier: a flat string keyed byte store.
type Store interface {
	// Get returns ErrNotExist for missing keys.
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Keys lists the keys starting with prefix in lexical order.
	Keys(prefix string) ([]string, error)
}

// MemoryStore is a Store backed by a map. Quota bounds the total stored bytes
// and FailWith forces every operation to fail, which lets tests reproduce
// storage failures.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
	quota int
	fail  error
}

// NewMemoryStore returns an empty store; quota <= 0 means unbounded.
func NewMemoryStore(quota int) *MemoryStore {
	return &MemoryStore{items: map[string][]byte{}, quota: quota}
}

// FailWith makes subsequent operations return err. A nil err restores the
// store.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	v, ok := s.items[key]
	if !ok {
		return nil, ErrNotExist
	}
	return slices.Clone(v), nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.quota > 0 {
		used := len(value)
		for k, v := range s.items {
			if k != key {
				used += len(v)
			}
		}
		if used > s.quota {
			return ErrQuotaExceeded
		}
	}
	s.items[key] = slices.Clone(value)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	var keys []string
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Put writes value bypassing quota and failure injection.
func (s *MemoryStore) Put(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = slices.Clone(value)
}

// Len reports the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
