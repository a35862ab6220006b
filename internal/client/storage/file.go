package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists values in a single JSON file. Every call reads the
// file again, so two FileStores on the same path observe each other's
// writes.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileState struct {
	Entries map[string]string `json:"entries"`
	Version int64             `json:"version"`
}

// NewFileStore returns a FileStore backed by path. The file is created on
// the first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (fs *FileStore) load() (*fileState, error) {
	f, err := os.Open(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileState{Entries: map[string]string{}}, nil
		}
		return nil, err
	}
	defer f.Close()

	st := &fileState{}
	if err := json.NewDecoder(f).Decode(st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fs.path, err)
	}
	if st.Entries == nil {
		st.Entries = map[string]string{}
	}
	return st, nil
}

func (fs *FileStore) save(st *fileState) error {
	if dir := filepath.Dir(fs.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".carpool-*")
	if err != nil {
		return err
	}
	if err := json.NewEncoder(tmp).Encode(st); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), fs.path)
}

func (fs *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	st, err := fs.load()
	if err != nil {
		return nil, err
	}
	v, ok := st.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (fs *FileStore) Set(_ context.Context, key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	st, err := fs.load()
	if err != nil {
		return err
	}
	st.Entries[key] = string(value)
	st.Version = time.Now().Unix()
	return fs.save(st)
}

func (fs *FileStore) Delete(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	st, err := fs.load()
	if err != nil {
		return err
	}
	if _, ok := st.Entries[key]; !ok {
		return nil
	}
	delete(st.Entries, key)
	st.Version = time.Now().Unix()
	return fs.save(st)
}
