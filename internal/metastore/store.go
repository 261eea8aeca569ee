package metastore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

type Store interface {
	Load() (*Snapshot, error)
	Save(snapshot *Snapshot) error
}

type InMemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Load() (*Snapshot, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return Decode(s.data)
}

func (s *InMemoryStore) Save(snapshot *Snapshot) error {
	if s == nil || snapshot == nil {
		return nil
	}
	data, err := Encode(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

// Raw returns the last saved blob.
func (s *InMemoryStore) Raw() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// JSONFileStore keeps the snapshot in one file shared by every process that
// points at it. Writers serialize on an advisory lock next to the file.
type JSONFileStore struct {
	Path string
}

func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{Path: strings.TrimSpace(path)}
}

func (s *JSONFileStore) Load() (*Snapshot, error) {
	if s == nil || s.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return Decode(data)
}

func (s *JSONFileStore) Save(snapshot *Snapshot) error {
	if s == nil || s.Path == "" || snapshot == nil {
		return nil
	}
	data, err := Encode(snapshot)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	unlock, err := lockFile(s.LockPath())
	if err != nil {
		return err
	}
	defer unlock()
	return atomic.WriteFile(s.Path, bytes.NewReader(data))
}

func (s *JSONFileStore) LockPath() string {
	return s.Path + ".lock"
}
