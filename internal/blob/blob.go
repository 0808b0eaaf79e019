// Package blob stores evidence files and hands back their storage paths.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/spec-kit/workorder-service/internal/domain"
)

// Store persists files under a directory and returns a path usable with Delete.
type Store interface {
	Store(ctx context.Context, file domain.PhotoUpload, dir string) (string, error)
	Delete(ctx context.Context, path string) error
}

// ObjectName builds a collision-free name that keeps the upload's extension.
func ObjectName(dir, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return path.Join(dir, uuid.NewString()+ext)
}

// LocalStore writes files below a root directory on local disk.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Store(ctx context.Context, file domain.PhotoUpload, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := ObjectName(dir, file.FileName)
	full, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := tmp.Write(file.Data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publish blob: %w", err)
	}
	return name, nil
}

// Delete removes a stored file; deleting a missing file is not an error.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	full, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *LocalStore) resolve(name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("invalid blob path %q", name)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Memory keeps blobs in a map. FailAfter makes every write after the first n
// fail, which is how callers exercise partial-batch cleanup.
type Memory struct {
	mu        sync.Mutex
	objects   map[string][]byte
	writes    int
	FailAfter int
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte), FailAfter: -1}
}

func (m *Memory) Store(ctx context.Context, file domain.PhotoUpload, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAfter >= 0 && m.writes >= m.FailAfter {
		return "", errors.New("blob store unavailable")
	}
	m.writes++
	name := ObjectName(dir, file.FileName)
	m.objects[name] = append([]byte(nil), file.Data...)
	return name, nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

// Paths lists the stored object names.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for name := range m.objects {
		out = append(out, name)
	}
	return out
}

var (
	_ Store = (*LocalStore)(nil)
	_ Store = (*Memory)(nil)
)
