package events

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const Topic = "parley.events"

// Filter selects events for a subscriber. Zero fields match everything.
type Filter struct {
	ChatID    string
	MessageID string
	Types     []EventType
}

func (f Filter) Match(e Event) bool {
	md := e.Metadata()
	if f.ChatID != "" && md.ChatID != f.ChatID {
		return false
	}
	if f.MessageID != "" && md.MessageID != f.MessageID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type() {
			return true
		}
	}
	return false
}

// Bus is the in-process notification channel. Publishing only enqueues the event;
// a single dispatcher goroutine forwards events to the watermill pub/sub in publish
// order, so commands never wait on subscribers.
type Bus struct {
	logger    watermill.LoggerAdapter
	pubSub    *gochannel.GoChannel
	publisher *PublisherManager
	queueSize int
	bufSize   int

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

type BusOption func(*Bus)

func WithLogger(logger watermill.LoggerAdapter) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

func WithVerbose(verbose bool) BusOption {
	return func(b *Bus) {
		if verbose {
			b.logger = NewWatermillLogger(log.Logger)
		}
	}
}

func WithQueueSize(size int) BusOption {
	return func(b *Bus) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

func WithSubscriberBuffer(size int) BusOption {
	return func(b *Bus) {
		if size > 0 {
			b.bufSize = size
		}
	}
}

func NewBus(options ...BusOption) *Bus {
	ret := &Bus{
		logger:    watermill.NopLogger{},
		queueSize: 1024,
		bufSize:   256,
	}
	for _, o := range options {
		o(ret)
	}

	ret.pubSub = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.publisher = NewPublisherManager()
	ret.publisher.SubscribePublisher(Topic, ret.pubSub)

	ret.queue = make(chan Event, ret.queueSize)
	ret.done = make(chan struct{})
	go ret.dispatch()

	return ret
}

func (b *Bus) PublishEvent(event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("event bus closed")
	}
	select {
	case b.queue <- event:
	default:
		log.Warn().Str("event_type", string(event.Type())).Msg("event queue full, dropping event")
	}
	return nil
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for e := range b.queue {
		if err := b.publisher.Publish(e); err != nil {
			log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("failed to dispatch event")
		}
	}
}

// Subscribe returns a channel of decoded events matching filter. The channel is
// closed when ctx is done or the bus is closed. Events arriving while the channel
// buffer is full are dropped for this subscriber only.
func (b *Bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	msgs, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, errors.Wrap(err, "could not subscribe to event bus")
	}

	out := make(chan Event, b.bufSize)
	go func() {
		defer close(out)
		for msg := range msgs {
			ev, err := NewEventFromJSON(msg.Payload)
			msg.Ack()
			if err != nil {
				log.Error().Err(err).Str("message_id", msg.UUID).Msg("failed to decode event")
				continue
			}
			if !filter.Match(ev) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			default:
				log.Warn().Str("event_type", string(ev.Type())).Msg("subscriber not keeping up, dropping event")
			}
		}
	}()
	return out, nil
}

// Handle subscribes with filter and calls fn for each event until ctx is done.
func (b *Bus) Handle(ctx context.Context, filter Filter, fn func(Event)) error {
	ch, err := b.Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			fn(ev)
		}
	}
}

// Close stops accepting events, delivers what is queued, and closes the pub/sub.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done

	log.Debug().Msg("Closing event bus pubsub")
	if err := b.pubSub.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
		return err
	}
	return nil
}

var _ Sink = (*Bus)(nil)
