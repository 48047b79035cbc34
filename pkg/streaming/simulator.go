package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/clock"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/lithammer/shortuuid/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Target receives the content of a run. conversation.Store implements it.
type Target interface {
	BeginResponse(ctx context.Context, chatID string, model models.Tag) (string, error)
	MutateActiveMessage(ctx context.Context, chatID, messageID, content string) error
	FinishActiveMessage(ctx context.Context, chatID, messageID string) error
}

type Config struct {
	TickInterval time.Duration `mapstructure:"tick-interval" yaml:"tick-interval"`
	// BatchSize is the number of runes added per tick.
	BatchSize int `mapstructure:"batch-size" yaml:"batch-size"`
	// StartDelay is the wait before the first tick. Zero means TickInterval.
	StartDelay time.Duration `mapstructure:"start-delay" yaml:"start-delay"`
}

func DefaultConfig() Config {
	return Config{
		TickInterval: 20 * time.Millisecond,
		BatchSize:    3,
		StartDelay:   500 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return errdefs.InvalidArgument("streaming.tick-interval", "must be positive")
	}
	if c.BatchSize <= 0 {
		return errdefs.InvalidArgument("streaming.batch-size", "must be positive")
	}
	if c.StartDelay < 0 {
		return errdefs.InvalidArgument("streaming.start-delay", "must not be negative")
	}
	return nil
}

// Simulator produces replies over time, one run per chat at most.
type Simulator struct {
	target   Target
	composer Composer
	clock    clock.Clock
	sink     events.Sink
	config   Config
	tickLock sync.Locker

	mu     sync.Mutex
	runs   map[string]*Run
	closed bool
}

type Option func(*Simulator)

func WithConfig(c Config) Option {
	return func(s *Simulator) {
		s.config = c
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Simulator) {
		s.clock = c
	}
}

func WithComposer(c Composer) Option {
	return func(s *Simulator) {
		s.composer = c
	}
}

func WithEventSink(sink events.Sink) Option {
	return func(s *Simulator) {
		s.sink = sink
	}
}

// WithTickLock makes every timer driven tick hold l while it touches the target.
// Start and Cancel never take l, so callers may hold it when calling them.
func WithTickLock(l sync.Locker) Option {
	return func(s *Simulator) {
		s.tickLock = l
	}
}

func NewSimulator(target Target, options ...Option) (*Simulator, error) {
	ret := &Simulator{
		target: target,
		clock:  clock.Real(),
		sink:   events.NopSink{},
		config: DefaultConfig(),
		runs:   map[string]*Run{},
	}
	for _, o := range options {
		o(ret)
	}
	if err := ret.config.Validate(); err != nil {
		return nil, err
	}
	if ret.composer == nil {
		c, err := NewTemplateComposer()
		if err != nil {
			return nil, err
		}
		ret.composer = c
	}
	return ret, nil
}

// Run is the handle of one streaming reply.
type Run struct {
	ID        string
	ChatID    string
	MessageID string
	Model     models.Tag

	sim  *Simulator
	done chan struct{}

	mu      sync.Mutex
	state   State
	planned []rune
	emitted int
	timer   clock.Timer
	reason  string
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Content returns what has been written to the target so far.
func (r *Run) Content() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.planned[:r.emitted])
}

// Planned returns the full reply the run is producing.
func (r *Run) Planned() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.planned)
}

// Reason is set when the run was cancelled.
func (r *Run) Reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Done is closed once the run reached a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) Wait(ctx context.Context) (State, error) {
	select {
	case <-r.done:
		return r.State(), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}

// Cancel stops the run and keeps the partial content. Cancelling a finished run is a no-op.
func (r *Run) Cancel() {
	r.sim.finish(r, StateCancelled, "cancelled")
}

func (r *Run) metadata() events.EventMetadata {
	return events.EventMetadata{
		ChatID:    r.ChatID,
		MessageID: r.MessageID,
		RunID:     r.ID,
		Time:      r.sim.clock.Now(),
	}
}

// Start appends an empty response to chatID and begins streaming into it.
func (s *Simulator) Start(ctx context.Context, chatID, prompt string, model models.Tag) (*Run, error) {
	model = models.Resolve(model)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errdefs.InvalidState("simulator", "", "closed")
	}
	if prev, ok := s.runs[chatID]; ok && !prev.State().Terminal() {
		s.mu.Unlock()
		return nil, errdefs.Conflict("chat", chatID, "a response is already streaming")
	}
	r := &Run{
		ID:     shortuuid.New(),
		ChatID: chatID,
		Model:  model,
		sim:    s,
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	prev := s.runs[chatID]
	s.runs[chatID] = r
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.runs[chatID] == r {
			if prev != nil {
				s.runs[chatID] = prev
			} else {
				delete(s.runs, chatID)
			}
		}
	}

	text, err := s.composer.Compose(ctx, Request{ChatID: chatID, Prompt: prompt, Model: model})
	if err != nil {
		release()
		return nil, errors.Wrap(err, "could not compose reply")
	}
	msgID, err := s.target.BeginResponse(ctx, chatID, model)
	if err != nil {
		release()
		if errors.Is(err, errdefs.ErrInvalidState) {
			return nil, errdefs.Conflict("chat", chatID, "a response is already streaming")
		}
		return nil, err
	}

	delay := s.config.StartDelay
	if delay == 0 {
		delay = s.config.TickInterval
	}

	r.mu.Lock()
	r.MessageID = msgID
	r.planned = []rune(text)
	if r.state != StateIdle {
		// cancelled while composing
		r.mu.Unlock()
		if err := s.target.FinishActiveMessage(ctx, chatID, msgID); err != nil {
			log.Debug().Err(err).Str("chat_id", chatID).Msg("could not release streaming target")
		}
		return r, nil
	}
	r.state = StateStreaming
	r.timer = s.clock.AfterFunc(delay, func() { s.tick(r) })
	r.mu.Unlock()

	log.Debug().Str("chat_id", chatID).Str("run_id", r.ID).Str("model", string(model)).
		Int("planned", len(r.planned)).Msg("started streaming run")
	md := r.metadata()
	md.Streaming = true
	events.PublishBlind(s.sink, events.NewStreamStartedEvent(md, string(model)))
	return r, nil
}

func (s *Simulator) tick(r *Run) {
	if s.tickLock != nil {
		s.tickLock.Lock()
		defer s.tickLock.Unlock()
	}

	r.mu.Lock()
	if r.state != StateStreaming {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	end := r.emitted + s.config.BatchSize
	if end > len(r.planned) {
		end = len(r.planned)
	}
	content := string(r.planned[:end])
	r.mu.Unlock()

	if err := s.target.MutateActiveMessage(context.Background(), r.ChatID, r.MessageID, content); err != nil {
		log.Debug().Err(err).Str("chat_id", r.ChatID).Str("run_id", r.ID).Msg("streaming target went away")
		s.finish(r, StateCancelled, err.Error())
		return
	}

	r.mu.Lock()
	if r.state != StateStreaming {
		r.mu.Unlock()
		return
	}
	r.emitted = end
	if end < len(r.planned) {
		r.timer = s.clock.AfterFunc(s.config.TickInterval, func() { s.tick(r) })
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	s.finish(r, StateCompleted, "")
}

func (s *Simulator) finish(r *Run, state State, reason string) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	wasStreaming := r.state == StateStreaming
	r.state = state
	r.reason = reason
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	content := string(r.planned[:r.emitted])
	r.mu.Unlock()

	if wasStreaming {
		if err := s.target.FinishActiveMessage(context.Background(), r.ChatID, r.MessageID); err != nil {
			log.Debug().Err(err).Str("chat_id", r.ChatID).Str("run_id", r.ID).Msg("could not release streaming target")
		}
	}

	log.Debug().Str("chat_id", r.ChatID).Str("run_id", r.ID).Str("state", string(state)).
		Int("emitted", len([]rune(content))).Msg("streaming run finished")

	md := r.metadata()
	if state == StateCompleted {
		events.PublishBlind(s.sink, events.NewStreamCompletedEvent(md, content))
	} else {
		events.PublishBlind(s.sink, events.NewStreamCancelledEvent(md, content, reason))
	}
	close(r.done)
}

// Cancel stops the run of chatID, if any. It is a no-op for chats that are not streaming.
func (s *Simulator) Cancel(chatID string) {
	s.mu.Lock()
	r, ok := s.runs[chatID]
	s.mu.Unlock()
	if ok {
		r.Cancel()
	}
}

// Run returns the latest run of chatID.
func (s *Simulator) Run(chatID string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[chatID]
	return r, ok
}

func (s *Simulator) State(chatID string) State {
	r, ok := s.Run(chatID)
	if !ok {
		return StateIdle
	}
	return r.State()
}

func (s *Simulator) IsStreaming(chatID string) bool {
	return s.State(chatID) == StateStreaming
}

// Active returns the runs currently streaming.
func (s *Simulator) Active() []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ret []*Run
	for _, r := range s.runs {
		if r.State() == StateStreaming {
			ret = append(ret, r)
		}
	}
	return ret
}

// Forget drops the bookkeeping of chatID, cancelling its run first.
func (s *Simulator) Forget(chatID string) {
	s.Cancel(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, chatID)
}

// Close cancels every run and rejects further starts.
func (s *Simulator) Close() {
	s.mu.Lock()
	s.closed = true
	runs := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	for _, r := range runs {
		r.Cancel()
	}
}
