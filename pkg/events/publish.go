package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// Sink receives events published by the stores and the streaming simulator.
type Sink interface {
	PublishEvent(event Event) error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) PublishEvent(Event) error { return nil }

// PublishBlind publishes to sink and logs failures.
func PublishBlind(sink Sink, event Event) {
	if sink == nil {
		return
	}
	if err := sink.PublishEvent(event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to publish event")
	}
}

const sequenceNumberMetadataKey = "sequence_number"

// PublisherManager distributes serialized events to a set of watermill publishers.
//
// The manager keeps a sequence number for each outgoing event, in the order they are
// handled by Publish. The sequence is written into the event metadata before serialization
// and mirrored in the watermill message metadata.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], pub)
}

func (s *PublisherManager) Publish(event Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sequenceNumber++
	if seq, ok := event.(interface{ SetSequence(uint64) }); ok {
		seq.SetSequence(s.sequenceNumber)
	}

	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set(sequenceNumberMetadataKey, fmt.Sprintf("%d", s.sequenceNumber))

	for topic, pubs := range s.Publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
			}
		}
	}
	return nil
}

// Recorder is a synchronous Sink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) PublishEvent(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the types of the recorded events, in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		ret = append(ret, e.Type())
	}
	return ret
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var _ Sink = (*Recorder)(nil)
var _ Sink = NopSink{}
