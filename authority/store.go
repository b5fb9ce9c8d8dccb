package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store holds the canonical content of every resource.
type Store interface {
	// Get returns the content of a resource; ok is false if it was never stored.
	Get(ctx context.Context, name string) (content json.RawMessage, ok bool, err error)
	// Put replaces the content of a resource.
	Put(ctx context.Context, name string, content json.RawMessage) error
}

// MemStore keeps content in memory.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemStore returns a store seeded with the given content.
func NewMemStore(seed map[string]json.RawMessage) *MemStore {
	data := make(map[string]json.RawMessage, len(seed))
	for name, content := range seed {
		data[name] = content
	}
	return &MemStore{data: data}
}

func (m *MemStore) Get(_ context.Context, name string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.data[name]
	return content, ok, nil
}

func (m *MemStore) Put(_ context.Context, name string, content json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = content
	return nil
}

// FileStore keeps all resources in one JSON document on disk, keyed by
// resource name. Writes replace the file atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens the document at path. A missing file is created from seed.
func NewFileStore(path string, seed map[string]json.RawMessage) (*FileStore, error) {
	f := &FileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if seed == nil {
			seed = map[string]json.RawMessage{}
		}
		if err := f.write(seed); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return f, nil
}

func (f *FileStore) Get(_ context.Context, name string) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return nil, false, err
	}
	content, ok := doc[name]
	return content, ok, nil
}

func (f *FileStore) Put(_ context.Context, name string, content json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	doc[name] = content
	return f.write(doc)
}

func (f *FileStore) read() (map[string]json.RawMessage, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *FileStore) write(doc map[string]json.RawMessage) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}
