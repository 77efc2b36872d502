// Package memstore is the in-memory Store used by tests and as a stub
// on platforms without persistent storage wired up yet.
package memstore

import (
	"sync"

	"timelock-go/errcode"
	"timelock-go/store"
)

type Store struct {
	mu sync.Mutex
	ns map[string]map[string][]byte

	// FailPuts makes every Put fail; tests use it to exercise the
	// store-failure paths.
	FailPuts bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{ns: map[string]map[string][]byte{}}
}

func (s *Store) Get(ns, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.ns[ns]
	if !ok {
		return nil, false, nil
	}
	v, ok := m[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *Store) Put(ns, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts {
		return &errcode.E{C: errcode.StoreFailed, Op: "memstore.put", Msg: ns + "/" + key}
	}
	m, ok := s.ns[ns]
	if !ok {
		m = map[string][]byte{}
		s.ns[ns] = m
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	m[key] = cp
	return nil
}

func (s *Store) Delete(ns, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.ns[ns]; ok {
		delete(m, key)
	}
	return nil
}

func (s *Store) Keys(ns string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.ns[ns]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *Store) WipeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ns = map[string]map[string][]byte{}
	return nil
}
