package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func TestBusDeliversEventsInPublishOrder(t *testing.T) {
	bus := NewBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	md := EventMetadata{ChatID: "c1", MessageID: "m1", Streaming: true}
	require.NoError(t, bus.PublishEvent(NewStreamStartedEvent(md, "Claude")))
	require.NoError(t, bus.PublishEvent(NewMessageContentEvent(md, "Hel", "Hel")))
	require.NoError(t, bus.PublishEvent(NewMessageContentEvent(md, "lo", "Hello")))
	require.NoError(t, bus.PublishEvent(NewStreamCompletedEvent(md, "Hello")))

	var seqs []uint64
	var types []EventType
	for i := 0; i < 4; i++ {
		ev := receive(t, ch)
		seqs = append(seqs, ev.Metadata().Sequence)
		types = append(types, ev.Type())
	}
	assert.Equal(t, []EventType{
		EventTypeStreamStarted,
		EventTypeMessageContent,
		EventTypeMessageContent,
		EventTypeStreamCompleted,
	}, types)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestBusFilterByMessage(t *testing.T) {
	bus := NewBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, Filter{ChatID: "c1", MessageID: "m2"})
	require.NoError(t, err)

	require.NoError(t, bus.PublishEvent(NewMessageContentEvent(EventMetadata{ChatID: "c1", MessageID: "m1"}, "a", "a")))
	require.NoError(t, bus.PublishEvent(NewMessageContentEvent(EventMetadata{ChatID: "c2", MessageID: "m2"}, "b", "b")))
	require.NoError(t, bus.PublishEvent(NewMessageContentEvent(EventMetadata{ChatID: "c1", MessageID: "m2"}, "c", "c")))

	ev := receive(t, ch)
	content, ok := ev.(*EventMessageContent)
	require.True(t, ok)
	assert.Equal(t, "c", content.Delta)
}

func TestBusRejectsAfterClose(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.Error(t, bus.PublishEvent(NewSettingsUpdatedEvent()))
}

func TestNewEventFromJSON(t *testing.T) {
	ev, err := NewEventFromJSON([]byte(`{"type":"chat.deleted","meta":{"chat_id":"c9","seq":3},"title":"Old"}`))
	require.NoError(t, err)
	chat, ok := ev.(*EventChat)
	require.True(t, ok)
	assert.Equal(t, "c9", chat.Metadata().ChatID)
	assert.Equal(t, uint64(3), chat.Metadata().Sequence)
	assert.Equal(t, "Old", chat.Title)
	assert.NotEmpty(t, chat.Payload())

	_, err = NewEventFromJSON([]byte(`{"type":"nope"}`))
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	PublishBlind(r, NewChatEvent(EventTypeChatCreated, EventMetadata{ChatID: "c"}, "t"))
	PublishBlind(nil, NewSettingsUpdatedEvent())
	assert.Equal(t, []EventType{EventTypeChatCreated}, r.Types())
	r.Reset()
	assert.Empty(t, r.Events())
}

func TestBusStalledSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(WithQueueSize(8), WithSubscriberBuffer(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := bus.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		md := EventMetadata{ChatID: "c1", MessageID: "m1"}
		for i := 0; i < 5000; i++ {
			_ = bus.PublishEvent(NewMessageContentEvent(md, "x", "x"))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a subscriber that never reads")
	}

	closed := make(chan struct{})
	go func() {
		_ = bus.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close blocked on a subscriber that never reads")
	}
}
