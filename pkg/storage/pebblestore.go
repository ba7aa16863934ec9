package storage

import (
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/nyxrelay/quorumview/pkg/types"
)

// PebbleStore is the durable Store backing a real node, grounded on
// the teacher's PebbleStore key-prefix scheme, here with single-byte
// prefixes ('l' leaves, 'c' certificates, 'd' decided chain) and a kind
// byte after 'c' so every certificate kind gets its own keyspace slice
// instead of the teacher's single QC stream.
type PebbleStore struct {
	db *pebble.DB

	mu      sync.Mutex
	highest map[types.VoteKind]types.Certificate
}

func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s := &PebbleStore{db: db, highest: make(map[types.VoteKind]types.Certificate)}
	if err := s.loadHighestWatermarks(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) loadHighestWatermarks() error {
	for kind := types.KindQuorum; kind <= types.KindViewSyncFinalize; kind++ {
		prefix := []byte{'c', byte(kind)}
		iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
		if err != nil {
			return err
		}
		for valid := iter.Last(); valid; valid = false {
			var c types.Certificate
			if err := gobDecode(iter.Value(), &c); err == nil {
				s.highest[kind] = c
			}
		}
		iter.Close()
	}
	return nil
}

func prefixUpperBound(prefix []byte) []byte {
	up := append([]byte(nil), prefix...)
	for i := len(up) - 1; i >= 0; i-- {
		up[i]++
		if up[i] != 0 {
			return up[:i+1]
		}
	}
	return nil // prefix is all 0xff, unbounded
}

func (s *PebbleStore) PutLeaf(l types.Leaf) error {
	b, err := gobEncode(l)
	if err != nil {
		return err
	}
	return s.db.Set(leafKey(types.HashLeaf(l)), b, pebble.Sync)
}

func (s *PebbleStore) GetLeaf(h types.Hash) (types.Leaf, bool, error) {
	v, closer, err := s.db.Get(leafKey(h))
	if errors.Is(err, pebble.ErrNotFound) {
		return types.Leaf{}, false, nil
	}
	if err != nil {
		return types.Leaf{}, false, err
	}
	defer closer.Close()
	var l types.Leaf
	if err := gobDecode(v, &l); err != nil {
		return types.Leaf{}, false, err
	}
	return l, true, nil
}

func (s *PebbleStore) PutCertificate(c types.Certificate) error {
	b, err := gobEncode(c)
	if err != nil {
		return err
	}
	key := certKeyPrefix(c.Kind, c.View)
	if err := s.db.Set(key, b, pebble.Sync); err != nil {
		return err
	}
	s.mu.Lock()
	if cur, ok := s.highest[c.Kind]; !ok || c.View > cur.View {
		s.highest[c.Kind] = c
	}
	s.mu.Unlock()
	return nil
}

func (s *PebbleStore) GetCertificate(kind types.VoteKind, v types.View) (types.Certificate, bool, error) {
	key := certKeyPrefix(kind, v)
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return types.Certificate{}, false, nil
	}
	if err != nil {
		return types.Certificate{}, false, err
	}
	defer closer.Close()
	var c types.Certificate
	if err := gobDecode(val, &c); err != nil {
		return types.Certificate{}, false, err
	}
	return c, true, nil
}

func (s *PebbleStore) HighestCertificate(kind types.VoteKind) (types.Certificate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.highest[kind]
	return c, ok, nil
}

func (s *PebbleStore) AppendDecided(l types.Leaf) error {
	b, err := gobEncode(l)
	if err != nil {
		return err
	}
	return s.db.Set(decidedKey(l.View), b, pebble.Sync)
}

func (s *PebbleStore) DecidedChain() ([]types.Leaf, error) {
	prefix := decidedKeyPrefix
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []types.Leaf
	for iter.First(); iter.Valid(); iter.Next() {
		var l types.Leaf
		if err := gobDecode(iter.Value(), &l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }
