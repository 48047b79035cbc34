package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/clock"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/persistence"
	"github.com/go-go-golems/parley/pkg/projects"
	"github.com/go-go-golems/parley/pkg/settings"
	"github.com/go-go-golems/parley/pkg/storage"
	"github.com/go-go-golems/parley/pkg/streaming"
	"github.com/go-go-golems/parley/pkg/viewstate"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// Backend defaults to an in-memory backend.
	Backend   storage.Backend
	Namespace string
	Clock     clock.Clock
	// Bus defaults to a new bus owned by the workspace.
	Bus        *events.Bus
	Streaming  streaming.Config
	Composer   streaming.Composer
	FlushDelay time.Duration
	// Watch enables reconciliation with other writers of the same backend.
	Watch bool
}

// Workspace owns the stores and is the only mutation entry point. Commands are
// serialized by one lock, which streaming ticks and storage reconciliation also take.
type Workspace struct {
	mu sync.Mutex

	clock       clock.Clock
	bus         *events.Bus
	ownsBus     bool
	chats       *conversation.Store
	projects    *projects.Store
	settings    *settings.Store
	ui          *viewstate.State
	streams     *streaming.Simulator
	persistence *persistence.Adapter

	cancel context.CancelFunc
	eg     *errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

// Open builds a workspace and loads its persisted state.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Backend == nil {
		opts.Backend = storage.NewMemoryBackend()
	}
	if opts.Namespace == "" {
		opts.Namespace = persistence.DefaultNamespace
	}
	if opts.FlushDelay == 0 {
		opts.FlushDelay = persistence.DefaultFlushDelay
	}
	if opts.Streaming == (streaming.Config{}) {
		opts.Streaming = streaming.DefaultConfig()
	}

	w := &Workspace{clock: opts.Clock, bus: opts.Bus}
	if w.bus == nil {
		w.bus = events.NewBus(events.WithLogger(events.NewWatermillLogger(log.Logger)))
		w.ownsBus = true
	}

	w.projects = projects.NewStore(projects.WithClock(opts.Clock), projects.WithEventSink(w.bus))
	w.chats = conversation.NewStore(
		conversation.WithClock(opts.Clock),
		conversation.WithEventSink(w.bus),
		conversation.WithProjectResolver(w.projects),
	)
	w.projects.OnDelete(func(ctx context.Context, projectID string) error {
		n, err := w.chats.ClearProjectReferences(ctx, projectID)
		if err != nil {
			return err
		}
		log.Debug().Str("project_id", projectID).Int("chats", n).Msg("released chats of deleted project")
		return nil
	})
	w.settings = settings.NewStore(settings.WithEventSink(w.bus))
	w.ui = viewstate.New(viewstate.WithClock(opts.Clock))

	w.persistence = persistence.New(opts.Backend,
		persistence.WithNamespace(opts.Namespace),
		persistence.WithClock(opts.Clock),
		persistence.WithFlushDelay(opts.FlushDelay),
		persistence.WithEventSink(w.bus),
		persistence.WithCommandLock(&w.mu),
	)
	if err := w.persistence.Attach(w.chats, w.projects, w.settings); err != nil {
		w.closeBus()
		return nil, err
	}
	w.persistence.AfterLoad(w.repairProjectRefs)
	w.persistence.OnReconciled(func(ctx context.Context, name string) {
		if name == persistence.RecordProjects || name == persistence.RecordChats {
			w.repairProjectRefs(ctx)
		}
	})
	if err := w.persistence.Load(ctx); err != nil {
		w.closeBus()
		return nil, errors.Wrap(err, "could not load workspace")
	}

	sim, err := streaming.NewSimulator(w.chats,
		streaming.WithClock(opts.Clock),
		streaming.WithConfig(opts.Streaming),
		streaming.WithComposer(opts.Composer),
		streaming.WithEventSink(w.bus),
		streaming.WithTickLock(&w.mu),
	)
	if err != nil {
		w.closeBus()
		return nil, err
	}
	w.streams = sim

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.eg, runCtx = errgroup.WithContext(runCtx)
	followed, err := w.ui.Follow(runCtx, w.bus)
	if err != nil {
		cancel()
		w.streams.Close()
		w.closeBus()
		return nil, errors.Wrap(err, "could not subscribe view state")
	}
	w.eg.Go(func() error {
		<-followed
		return nil
	})

	if opts.Watch {
		if err := w.persistence.Start(runCtx); err != nil {
			log.Warn().Err(err).Msg("could not watch storage, changes from other instances will not be picked up")
		}
	}

	log.Info().Str("namespace", opts.Namespace).Int("chats", w.chats.Len()).Msg("workspace opened")
	return w, nil
}

// repairProjectRefs detaches chats whose project no longer exists. It runs after
// loading and after external changes, where the two records can disagree.
func (w *Workspace) repairProjectRefs(ctx context.Context) {
	dangling := w.chats.DanglingProjectRefs(ctx, w.projects)
	if len(dangling) == 0 {
		return
	}
	pids := map[string]bool{}
	for _, id := range dangling {
		c, err := w.chats.Chat(ctx, id)
		if err == nil && c.ProjectID != "" {
			pids[c.ProjectID] = true
		}
	}
	for pid := range pids {
		if _, err := w.chats.ClearProjectReferences(ctx, pid); err != nil {
			log.Warn().Err(err).Str("project_id", pid).Msg("could not detach chats of missing project")
		}
	}
	log.Warn().Int("chats", len(dangling)).Msg("detached chats that referenced missing projects")
}

func (w *Workspace) Bus() *events.Bus { return w.bus }
func (w *Workspace) Chats() *conversation.Store { return w.chats }
func (w *Workspace) Projects() *projects.Store { return w.projects }
func (w *Workspace) Settings() *settings.Store { return w.settings }
func (w *Workspace) UI() *viewstate.State { return w.ui }
func (w *Workspace) Streams() *streaming.Simulator { return w.streams }
func (w *Workspace) Persistence() *persistence.Adapter { return w.persistence }

// Flush writes pending changes now.
func (w *Workspace) Flush(ctx context.Context) error {
	return w.persistence.Flush(ctx)
}

// Close cancels running streams, flushes and releases the bus. The backend is left
// open for the caller to close.
func (w *Workspace) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.streams.Close()
		w.mu.Unlock()
		w.cancel()
		if err := w.eg.Wait(); err != nil {
			log.Warn().Err(err).Msg("workspace background task failed")
		}
		if err := w.persistence.Close(ctx); err != nil {
			w.closeErr = err
		}
		w.closeBus()
		log.Info().Msg("workspace closed")
	})
	return w.closeErr
}

func (w *Workspace) closeBus() {
	if !w.ownsBus {
		return
	}
	if err := w.bus.Close(); err != nil {
		log.Warn().Err(err).Msg("could not close event bus")
	}
}
