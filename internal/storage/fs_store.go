package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// NewFileStore 以 basePath 为根目录构建磁盘存储，整站复用一份实例。
func NewFileStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一条目的写入与删除。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, id string, version versioning.Version) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(id, version)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, packages.ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, packages.ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, packages.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *fileStore) Put(ctx context.Context, id string, version versioning.Version, body io.Reader) error {
	filePath, err := s.entryPath(id, version)
	if err != nil {
		return err
	}
	unlock := s.lockEntry(filePath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".nupkg-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, id string, version versioning.Version) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	filePath, err := s.entryPath(id, version)
	if err != nil {
		return false, err
	}
	unlock := s.lockEntry(filePath)
	defer unlock()

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// entryPath 拒绝会逃出 basePath 的 id/版本组合。
func (s *fileStore) entryPath(id string, version versioning.Version) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", errors.New("package id required")
	}
	if strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid package id %q", id)
	}

	rel := strings.TrimPrefix(path.Clean("/"+PackagePath(id, version)), "/")
	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	root := filepath.Join(s.basePath, "packages") + string(filepath.Separator)
	if !strings.HasPrefix(filePath, root) {
		return "", errors.New("invalid storage path")
	}
	return filePath, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
