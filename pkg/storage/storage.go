package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/rs/zerolog/log"
)

// Change reports that the value stored under Key may have changed.
type Change struct {
	Key string
}

// Backend is a durable key-value store. Get returns an error matching
// errdefs.ErrNotFound for missing keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Watch streams change notifications until ctx is done or the backend is closed.
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Options struct {
	Backend string
	Path    string
}

func Open(opts Options) (Backend, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendFile, "":
		return NewFileBackend(opts.Path)
	case BackendSQLite:
		path := opts.Path
		if !strings.HasSuffix(path, ".db") && !strings.HasSuffix(path, ".sqlite") {
			path = filepath.Join(path, "parley.db")
		}
		return NewSQLiteBackendForFile(path)
	default:
		return nil, errdefs.InvalidArgument("storage.backend", fmt.Sprintf("unknown backend %q", opts.Backend))
	}
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func ValidateKey(key string) error {
	if !validKey.MatchString(key) {
		return errdefs.InvalidArgument("key", fmt.Sprintf("invalid storage key %q", key))
	}
	return nil
}

// watchers fans change notifications out to subscribers. Notification never blocks;
// a subscriber that falls behind loses notifications and is told so in the log.
type watchers struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Change
	closed bool
}

func newWatchers() *watchers {
	return &watchers{subs: map[int]chan Change{}}
}

func (w *watchers) add(ctx context.Context) (<-chan Change, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("storage backend closed")
	}
	id := w.next
	w.next++
	ch := make(chan Change, 64)
	w.subs[id] = ch

	go func() {
		<-ctx.Done()
		w.remove(id)
	}()
	return ch, nil
}

func (w *watchers) remove(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok := w.subs[id]; ok {
		delete(w.subs, id)
		close(ch)
	}
}

func (w *watchers) notify(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- Change{Key: key}:
		default:
			log.Warn().Str("key", key).Msg("storage watcher is not keeping up, dropping change notification")
		}
	}
}

func (w *watchers) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}
