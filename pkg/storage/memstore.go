package storage

import (
	"sync"

	"github.com/nyxrelay/quorumview/pkg/types"
)

// MemStore is an in-memory Store, used by package tests and by
// single-process harness runs, grounded on the teacher's
// InMemoryBlockStore (mutex-guarded maps, no persistence).
type MemStore struct {
	mu       sync.RWMutex
	leaves   map[types.Hash]types.Leaf
	certs    map[types.VoteKind]map[types.View]types.Certificate
	highest  map[types.VoteKind]types.Certificate
	decided  []types.Leaf
}

func NewMemStore() *MemStore {
	certs := make(map[types.VoteKind]map[types.View]types.Certificate)
	return &MemStore{
		leaves:  make(map[types.Hash]types.Leaf),
		certs:   certs,
		highest: make(map[types.VoteKind]types.Certificate),
	}
}

func (s *MemStore) PutLeaf(l types.Leaf) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves[types.HashLeaf(l)] = l
	return nil
}

func (s *MemStore) GetLeaf(h types.Hash) (types.Leaf, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leaves[h]
	return l, ok, nil
}

func (s *MemStore) PutCertificate(c types.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.certs[c.Kind]
	if !ok {
		m = make(map[types.View]types.Certificate)
		s.certs[c.Kind] = m
	}
	m[c.View] = c
	if cur, ok := s.highest[c.Kind]; !ok || c.View > cur.View {
		s.highest[c.Kind] = c
	}
	return nil
}

func (s *MemStore) GetCertificate(kind types.VoteKind, v types.View) (types.Certificate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.certs[kind]
	if !ok {
		return types.Certificate{}, false, nil
	}
	c, ok := m[v]
	return c, ok, nil
}

func (s *MemStore) HighestCertificate(kind types.VoteKind) (types.Certificate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.highest[kind]
	return c, ok, nil
}

func (s *MemStore) AppendDecided(l types.Leaf) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decided = append(s.decided, l)
	return nil
}

func (s *MemStore) DecidedChain() ([]types.Leaf, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Leaf, len(s.decided))
	copy(out, s.decided)
	return out, nil
}

func (s *MemStore) Close() error { return nil }
