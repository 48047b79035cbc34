package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/clock"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/projects"
	"github.com/go-go-golems/parley/pkg/settings"
	"github.com/go-go-golems/parley/pkg/storage"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FormatVersion is written into every persisted envelope. Values with a newer
// version are treated as malformed.
const FormatVersion = 1

const (
	DefaultNamespace  = "parley"
	DefaultFlushDelay = 250 * time.Millisecond
)

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type recordState struct {
	name   string
	key    string
	record Record
	dirty  bool
	// bytes of the last value we wrote or loaded; used to recognize our own writes
	// when they come back through Watch
	last []byte
}

// Adapter mirrors in-memory state into a storage.Backend. Writes are debounced;
// storage failures are logged and never surface to the commands that caused them.
type Adapter struct {
	backend    storage.Backend
	namespace  string
	clock      clock.Clock
	flushDelay time.Duration
	sink       events.Sink
	locker     sync.Locker

	mu      sync.Mutex
	records []*recordState
	byName  map[string]*recordState
	byKey   map[string]*recordState
	timer   clock.Timer
	closed  bool

	afterLoad    []func(ctx context.Context)
	onReconciled []func(ctx context.Context, name string)

	// serializes Flush
	flushMu sync.Mutex

	cancelWatch context.CancelFunc
	watchDone   chan struct{}
}

type Option func(*Adapter)

func WithNamespace(ns string) Option {
	return func(a *Adapter) {
		a.namespace = ns
	}
}

func WithClock(c clock.Clock) Option {
	return func(a *Adapter) {
		a.clock = c
	}
}

func WithFlushDelay(d time.Duration) Option {
	return func(a *Adapter) {
		a.flushDelay = d
	}
}

func WithEventSink(sink events.Sink) Option {
	return func(a *Adapter) {
		a.sink = sink
	}
}

// WithCommandLock makes reconciliation of external changes hold l while it replaces
// in-memory state, so it cannot interleave with a command.
func WithCommandLock(l sync.Locker) Option {
	return func(a *Adapter) {
		a.locker = l
	}
}

func New(backend storage.Backend, options ...Option) *Adapter {
	ret := &Adapter{
		backend:    backend,
		namespace:  DefaultNamespace,
		clock:      clock.Real(),
		flushDelay: DefaultFlushDelay,
		sink:       events.NopSink{},
		byName:     map[string]*recordState{},
		byKey:      map[string]*recordState{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Key returns the storage key for a record name.
func (a *Adapter) Key(name string) string {
	return strcase.ToSnake(a.namespace) + "_" + name
}

// Register binds a record. Records are loaded and flushed in registration order.
func (a *Adapter) Register(name string, record Record) error {
	key := a.Key(name)
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byName[name]; ok {
		return errdefs.Conflict("record", name, "already registered")
	}
	rs := &recordState{name: name, key: key, record: record}
	a.records = append(a.records, rs)
	a.byName[name] = rs
	a.byKey[key] = rs
	return nil
}

// Attach registers the records of the three stores and hooks their change
// notifications to MarkDirty. Projects are flushed before chats, so a reader never
// sees a chat pointing at a project that was not written yet.
func (a *Adapter) Attach(chats *conversation.Store, ps *projects.Store, st *settings.Store) error {
	regs := []struct {
		name   string
		record Record
	}{
		{RecordProjects, ProjectsRecord(ps)},
		{RecordCustomCategories, CategoriesRecord(ps)},
		{RecordChats, ChatsRecord(chats)},
		{RecordSettings, SettingsRecord(st)},
		{RecordActiveState, ActiveStateRecord(chats, ps)},
	}
	for _, r := range regs {
		if err := a.Register(r.name, r.record); err != nil {
			return err
		}
	}

	chats.OnChange(func(section conversation.Section) {
		switch section {
		case conversation.SectionChats:
			a.MarkDirty(RecordChats)
		case conversation.SectionActive:
			a.MarkDirty(RecordActiveState)
		}
	})
	ps.OnChange(func(section projects.Section) {
		switch section {
		case projects.SectionProjects:
			a.MarkDirty(RecordProjects)
		case projects.SectionCategories:
			a.MarkDirty(RecordCustomCategories)
		case projects.SectionActive:
			a.MarkDirty(RecordActiveState)
		}
	})
	st.OnChange(func() {
		a.MarkDirty(RecordSettings)
	})
	return nil
}

// AfterLoad registers fn to run once Load has installed the persisted state.
func (a *Adapter) AfterLoad(fn func(ctx context.Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.afterLoad = append(a.afterLoad, fn)
}

// OnReconciled registers fn to run after an external change to a record was applied.
// fn runs while the command lock is held.
func (a *Adapter) OnReconciled(fn func(ctx context.Context, name string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onReconciled = append(a.onReconciled, fn)
}

// Load reads every registered record. Missing keys load as empty state, malformed
// values are logged and replaced by empty state, and an unavailable backend is
// logged and published but does not fail the load.
func (a *Adapter) Load(ctx context.Context) error {
	a.mu.Lock()
	records := append([]*recordState(nil), a.records...)
	hooks := append(([]func(context.Context))(nil), a.afterLoad...)
	a.mu.Unlock()

	for _, rs := range records {
		b, err := a.backend.Get(ctx, rs.key)
		switch {
		case errors.Is(err, errdefs.ErrNotFound):
			rs.record.Reset()
			continue
		case err != nil:
			err = errdefs.Storage("load", rs.key, err)
			log.Error().Err(err).Str("key", rs.key).Msg("storage unavailable, starting with empty state")
			events.PublishBlind(a.sink, events.NewStorageFailedEvent(rs.key, err))
			rs.record.Reset()
			continue
		}

		if err := a.apply(rs, b); err != nil {
			log.Warn().Err(err).Str("key", rs.key).Msg("ignoring malformed persisted value")
			rs.record.Reset()
			continue
		}
		a.mu.Lock()
		rs.last = b
		a.mu.Unlock()
		log.Debug().Str("key", rs.key).Int("bytes", len(b)).Msg("loaded record")
	}

	for _, h := range hooks {
		h(ctx)
	}
	return nil
}

func (a *Adapter) apply(rs *recordState, b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return errors.Wrapf(err, "could not decode %s", rs.key)
	}
	if env.Version < 1 || env.Version > FormatVersion {
		return errors.Errorf("unsupported format version %d in %s", env.Version, rs.key)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		rs.record.Reset()
		return nil
	}
	if err := rs.record.Decode(env.Data); err != nil {
		return errors.Wrapf(err, "could not decode %s", rs.key)
	}
	return nil
}

func (a *Adapter) encode(rs *recordState) ([]byte, error) {
	v, err := rs.record.Encode()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Version: FormatVersion, Data: data})
}

// MarkDirty schedules a debounced flush of the named record.
func (a *Adapter) MarkDirty(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs, ok := a.byName[name]
	if !ok {
		log.Warn().Str("record", name).Msg("marking unknown record dirty")
		return
	}
	rs.dirty = true
	if a.timer == nil && !a.closed {
		a.timer = a.clock.AfterFunc(a.flushDelay, a.flushFromTimer)
	}
}

// Dirty lists the records waiting to be written.
func (a *Adapter) Dirty() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ret []string
	for _, rs := range a.records {
		if rs.dirty {
			ret = append(ret, rs.name)
		}
	}
	return ret
}

func (a *Adapter) flushFromTimer() {
	a.mu.Lock()
	a.timer = nil
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("background flush failed")
	}
}

// Flush writes every dirty record. A record whose write fails stays dirty and is
// retried on the next flush.
func (a *Adapter) Flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	var pending []*recordState
	for _, rs := range a.records {
		if rs.dirty {
			rs.dirty = false
			pending = append(pending, rs)
		}
	}
	a.mu.Unlock()

	var firstErr error
	for _, rs := range pending {
		if err := a.write(ctx, rs); err != nil {
			a.mu.Lock()
			rs.dirty = true
			a.mu.Unlock()
			log.Warn().Err(err).Str("key", rs.key).Msg("could not persist record")
			events.PublishBlind(a.sink, events.NewStorageFailedEvent(rs.key, err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (a *Adapter) write(ctx context.Context, rs *recordState) error {
	b, err := a.encode(rs)
	if err != nil {
		return errors.Wrapf(err, "could not encode %s", rs.key)
	}

	a.mu.Lock()
	if bytes.Equal(b, rs.last) {
		a.mu.Unlock()
		return nil
	}
	// recorded before Set so the watch notification of this write is recognized
	prev := rs.last
	rs.last = b
	a.mu.Unlock()

	if err := a.backend.Set(ctx, rs.key, b); err != nil {
		a.mu.Lock()
		if bytes.Equal(rs.last, b) {
			rs.last = prev
		}
		a.mu.Unlock()
		return errdefs.Storage("write", rs.key, err)
	}
	log.Trace().Str("key", rs.key).Int("bytes", len(b)).Msg("persisted record")
	return nil
}

// Start watches the backend for changes made by other writers and applies them,
// last writer wins. It returns once the watch is established.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancelWatch != nil {
		a.mu.Unlock()
		return errdefs.InvalidState("adapter", a.namespace, "already started")
	}
	if a.closed {
		a.mu.Unlock()
		return errdefs.InvalidState("adapter", a.namespace, "closed")
	}
	watchCtx, cancel := context.WithCancel(ctx)
	a.cancelWatch = cancel
	a.watchDone = make(chan struct{})
	done := a.watchDone
	a.mu.Unlock()

	changes, err := a.backend.Watch(watchCtx)
	if err != nil {
		cancel()
		close(done)
		return errdefs.Storage("watch", a.namespace, err)
	}

	go func() {
		defer close(done)
		for c := range changes {
			a.reconcile(watchCtx, c.Key)
		}
	}()
	return nil
}

func (a *Adapter) reconcile(ctx context.Context, key string) {
	a.mu.Lock()
	rs, ok := a.byKey[key]
	a.mu.Unlock()
	if !ok {
		return
	}

	b, err := a.backend.Get(ctx, key)
	if err != nil && !errors.Is(err, errdefs.ErrNotFound) {
		log.Warn().Err(err).Str("key", key).Msg("could not read changed record")
		return
	}

	a.mu.Lock()
	if bytes.Equal(b, rs.last) {
		a.mu.Unlock()
		return
	}
	hooks := append(([]func(context.Context, string))(nil), a.onReconciled...)
	a.mu.Unlock()

	if a.locker != nil {
		a.locker.Lock()
		defer a.locker.Unlock()
	}

	if b == nil {
		rs.record.Reset()
	} else if err := a.apply(rs, b); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("ignoring malformed external change")
		return
	}

	a.mu.Lock()
	rs.last = b
	// the external value replaced whatever was pending for this record
	rs.dirty = false
	a.mu.Unlock()

	log.Debug().Str("key", key).Msg("reconciled external change")
	events.PublishBlind(a.sink, events.NewStorageReconciledEvent(key))
	for _, h := range hooks {
		h(ctx, rs.name)
	}
}

// Close stops watching, cancels the pending debounce and flushes what is dirty.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	cancel, done := a.cancelWatch, a.watchDone
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := a.Flush(ctx); err != nil {
		return errors.Wrap(err, "final flush failed")
	}
	return nil
}

func (a *Adapter) String() string {
	return fmt.Sprintf("persistence.Adapter(%s)", a.namespace)
}
