package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/rs/zerolog/log"
)

const fileSuffix = ".json"

// FileBackend stores each key as <dir>/<key>.json. Writes go through a temporary file
// and a rename so readers never observe partial values. Watch reports writes made by
// any process, including this one.
type FileBackend struct {
	mu     sync.RWMutex
	dir    string
	closed bool

	watchMu  sync.Mutex
	watchers []*fsnotify.Watcher
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage backend: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdefs.Storage("mkdir", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) Dir() string {
	return f.dir
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, key+fileSuffix)
}

func (f *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("key", key)
		}
		return nil, errdefs.Storage("read", key, err)
	}
	return b, nil
}

func (f *FileBackend) Set(_ context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureOpen(); err != nil {
		return err
	}
	path := f.path(key)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0o644); err != nil {
		return errdefs.Storage("write", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errdefs.Storage("rename", key, err)
	}
	return nil
}

func (f *FileBackend) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureOpen(); err != nil {
		return err
	}
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return errdefs.Storage("delete", key, err)
	}
	return nil
}

func (f *FileBackend) Watch(ctx context.Context) (<-chan Change, error) {
	f.mu.RLock()
	err := f.ensureOpen()
	f.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errdefs.Storage("watch", f.dir, err)
	}
	if err := w.Add(f.dir); err != nil {
		_ = w.Close()
		return nil, errdefs.Storage("watch", f.dir, err)
	}

	f.watchMu.Lock()
	f.watchers = append(f.watchers, w)
	f.watchMu.Unlock()

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				key, ok := keyFromPath(ev.Name)
				if !ok {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
					continue
				}
				select {
				case out <- Change{Key: key}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("dir", f.dir).Msg("file watcher error")
			}
		}
	}()
	return out, nil
}

func keyFromPath(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, fileSuffix) {
		return "", false
	}
	key := strings.TrimSuffix(base, fileSuffix)
	if ValidateKey(key) != nil {
		return "", false
	}
	return key, true
}

func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	f.watchMu.Lock()
	defer f.watchMu.Unlock()
	for _, w := range f.watchers {
		_ = w.Close()
	}
	f.watchers = nil
	return nil
}

func (f *FileBackend) ensureOpen() error {
	if f.closed {
		return fmt.Errorf("file storage backend closed")
	}
	return nil
}

var _ Backend = (*FileBackend)(nil)
