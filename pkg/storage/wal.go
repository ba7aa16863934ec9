package storage

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nyxrelay/quorumview/pkg/types"
)

// WAL records a terse append-only trail of view transitions and
// commits for crash forensics, grounded on the teacher's WAL
// interface (NopWAL/FileWAL), generalized from "record a prepare" to
// "record any named lifecycle line".
type WAL interface {
	Append(line string) error
}

type NopWAL struct{}

func (NopWAL) Append(string) error { return nil }

type FileWAL struct {
	mu sync.Mutex
	f  *os.File
}

func OpenFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) Append(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.f, "%s %s\n", time.Now().UTC().Format(time.RFC3339Nano), line)
	return err
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// CommitLine and ViewLine format the two lines the consensus task
// writes, kept here so every caller logs in one consistent shape.
func CommitLine(l types.Leaf) string {
	return fmt.Sprintf("COMMIT height=%d view=%d leaf=%s", l.Height, l.View, types.HashLeaf(l))
}

func ViewLine(v types.View) string {
	return fmt.Sprintf("VIEW view=%d", v)
}
