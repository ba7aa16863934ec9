package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/nyxrelay/quorumview/pkg/types"
)

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// viewKey big-endian encodes a view so that pebble's lexicographic key
// ordering matches view ordering, same trick as the teacher's
// storage.viewKey.
func viewKey(v types.View) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func certKeyPrefix(kind types.VoteKind, v types.View) []byte {
	b := make([]byte, 0, 10)
	b = append(b, 'c', byte(kind))
	b = append(b, viewKey(v)...)
	return b
}

func leafKey(h types.Hash) []byte {
	b := make([]byte, 0, 33)
	b = append(b, 'l')
	return append(b, h[:]...)
}

var decidedKeyPrefix = []byte{'d'}

func decidedKey(v types.View) []byte {
	b := make([]byte, 0, 9)
	b = append(b, decidedKeyPrefix...)
	return append(b, viewKey(v)...)
}
