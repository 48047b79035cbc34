package streaming

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/clock"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reply = "Hello, streaming world!"

type harness struct {
	clock    *clock.Fake
	store    *conversation.Store
	recorder *events.Recorder
	sim      *Simulator
	chatID   string
}

func newHarness(t *testing.T, composer Composer) *harness {
	fc := clock.NewFake(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	h := &harness{
		clock:    fc,
		store:    conversation.NewStore(conversation.WithClock(fc)),
		recorder: &events.Recorder{},
	}
	sim, err := NewSimulator(h.store, WithClock(fc), WithComposer(composer), WithEventSink(h.recorder))
	require.NoError(t, err)
	h.sim = sim

	ctx := context.Background()
	h.chatID, err = h.store.CreateChat(ctx, conversation.CreateChatOptions{})
	require.NoError(t, err)
	_, err = h.store.AppendMessage(ctx, h.chatID, conversation.AppendOptions{Role: conversation.RoleQuery, Content: "hi"})
	require.NoError(t, err)
	return h
}

func (h *harness) response(t *testing.T) *conversation.Message {
	c, err := h.store.Chat(context.Background(), h.chatID)
	require.NoError(t, err)
	last := c.LastMessage()
	require.NotNil(t, last)
	require.Equal(t, conversation.RoleResponse, last.Role)
	return last
}

func streamTypes(rec *events.Recorder) []events.EventType {
	var ret []events.EventType
	for _, tt := range rec.Types() {
		if strings.HasPrefix(string(tt), "stream.") {
			ret = append(ret, tt)
		}
	}
	return ret
}

func TestTicksAddOneBatchEach(t *testing.T) {
	h := newHarness(t, StaticComposer(reply))
	cfg := DefaultConfig()

	run, err := h.sim.Start(context.Background(), h.chatID, "hi", models.Auto)
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, run.State())
	assert.True(t, h.store.IsStreaming(h.chatID))
	assert.Equal(t, "", h.response(t).Content)

	h.clock.Advance(cfg.StartDelay - time.Millisecond)
	assert.Equal(t, "", h.response(t).Content)

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, reply[:3], h.response(t).Content)

	for n := 2; n <= 5; n++ {
		h.clock.Advance(cfg.TickInterval)
		assert.Equal(t, reply[:n*cfg.BatchSize], h.response(t).Content)
	}
	assert.Equal(t, reply[:15], run.Content())
}

func TestCancelKeepsPartialContent(t *testing.T) {
	h := newHarness(t, StaticComposer(reply))
	cfg := DefaultConfig()

	run, err := h.sim.Start(context.Background(), h.chatID, "hi", models.Auto)
	require.NoError(t, err)
	h.clock.Advance(cfg.StartDelay + 2*cfg.TickInterval)
	require.Equal(t, reply[:9], h.response(t).Content)

	h.sim.Cancel(h.chatID)
	assert.Equal(t, StateCancelled, run.State())
	assert.Equal(t, StateCancelled, h.sim.State(h.chatID))
	assert.False(t, h.store.IsStreaming(h.chatID))
	assert.Equal(t, 0, h.clock.Pending())

	h.clock.Advance(time.Second)
	assert.Equal(t, reply[:9], h.response(t).Content)

	// idempotent, also for chats that never streamed
	h.sim.Cancel(h.chatID)
	run.Cancel()
	h.sim.Cancel("nope")

	select {
	case <-run.Done():
	default:
		t.Fatal("run not done after cancel")
	}
	assert.Equal(t, []events.EventType{events.EventTypeStreamStarted, events.EventTypeStreamCancelled}, streamTypes(h.recorder))
}

func TestNaturalCompletion(t *testing.T) {
	h := newHarness(t, StaticComposer(reply))
	run, err := h.sim.Start(context.Background(), h.chatID, "hi", models.Claude)
	require.NoError(t, err)

	h.clock.Advance(10 * time.Second)
	state, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	msg := h.response(t)
	assert.Equal(t, reply, msg.Content)
	assert.Equal(t, models.Claude, msg.Model)
	assert.False(t, h.store.IsStreaming(h.chatID))
	assert.False(t, h.sim.IsStreaming(h.chatID))

	// frozen again
	err = h.store.MutateActiveMessage(context.Background(), h.chatID, msg.ID, "edited")
	assert.ErrorIs(t, err, errdefs.ErrInvalidState)
	assert.Equal(t, []events.EventType{events.EventTypeStreamStarted, events.EventTypeStreamCompleted}, streamTypes(h.recorder))
}

func TestStartConflictsWithRunningStream(t *testing.T) {
	h := newHarness(t, StaticComposer(reply))
	_, err := h.sim.Start(context.Background(), h.chatID, "hi", models.Auto)
	require.NoError(t, err)

	_, err = h.sim.Start(context.Background(), h.chatID, "again", models.Auto)
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	h.sim.Cancel(h.chatID)
	_, err = h.store.AppendMessage(context.Background(), h.chatID, conversation.AppendOptions{Role: conversation.RoleQuery, Content: "again"})
	require.NoError(t, err)
	_, err = h.sim.Start(context.Background(), h.chatID, "again", models.Auto)
	assert.NoError(t, err)
}

func TestStartOnUnknownChat(t *testing.T) {
	h := newHarness(t, StaticComposer(reply))
	_, err := h.sim.Start(context.Background(), "missing", "hi", models.Auto)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.Equal(t, StateIdle, h.sim.State("missing"))
}

func TestDeletedChatCancelsSilently(t *testing.T) {
	h := newHarness(t, StaticComposer(reply))
	cfg := DefaultConfig()
	run, err := h.sim.Start(context.Background(), h.chatID, "hi", models.Auto)
	require.NoError(t, err)
	h.clock.Advance(cfg.StartDelay)

	require.NoError(t, h.store.DeleteChat(context.Background(), h.chatID))
	h.clock.Advance(cfg.TickInterval)

	assert.Equal(t, StateCancelled, run.State())
	assert.NotEmpty(t, run.Reason())
	assert.Equal(t, reply[:3], run.Content())
	assert.Equal(t, 0, h.clock.Pending())
}

func TestBatchesCountRunes(t *testing.T) {
	h := newHarness(t, StaticComposer("héllo wörld ✓"))
	cfg := DefaultConfig()
	_, err := h.sim.Start(context.Background(), h.chatID, "hi", models.Auto)
	require.NoError(t, err)

	h.clock.Advance(cfg.StartDelay)
	assert.Equal(t, "hél", h.response(t).Content)
	h.clock.Advance(cfg.TickInterval * 3)
	assert.Equal(t, "héllo wörld ", h.response(t).Content)
	h.clock.Advance(cfg.TickInterval)
	assert.Equal(t, "héllo wörld ✓", h.response(t).Content)
}

func TestEmptyReplyCompletesOnFirstTick(t *testing.T) {
	h := newHarness(t, StaticComposer(""))
	run, err := h.sim.Start(context.Background(), h.chatID, "hi", models.Auto)
	require.NoError(t, err)
	h.clock.Advance(DefaultConfig().StartDelay)
	assert.Equal(t, StateCompleted, run.State())
}

func TestComposerErrorLeavesChatUntouched(t *testing.T) {
	h := newHarness(t, ComposerFunc(func(context.Context, Request) (string, error) {
		return "", errors.New("model offline")
	}))
	_, err := h.sim.Start(context.Background(), h.chatID, "hi", models.Auto)
	require.Error(t, err)

	c, err := h.store.Chat(context.Background(), h.chatID)
	require.NoError(t, err)
	assert.Len(t, c.Messages, 1)
	assert.Equal(t, StateIdle, h.sim.State(h.chatID))
}

func TestCloseCancelsRuns(t *testing.T) {
	h := newHarness(t, StaticComposer(reply))
	run, err := h.sim.Start(context.Background(), h.chatID, "hi", models.Auto)
	require.NoError(t, err)

	h.sim.Close()
	assert.Equal(t, StateCancelled, run.State())
	_, err = h.sim.Start(context.Background(), h.chatID, "hi", models.Auto)
	assert.ErrorIs(t, err, errdefs.ErrInvalidState)
}

func TestConfigValidation(t *testing.T) {
	_, err := NewSimulator(conversation.NewStore(), WithConfig(Config{TickInterval: 0, BatchSize: 3}))
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
	_, err = NewSimulator(conversation.NewStore(), WithConfig(Config{TickInterval: time.Millisecond, BatchSize: 0}))
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestTemplateComposer(t *testing.T) {
	c, err := NewTemplateComposer()
	require.NoError(t, err)
	ctx := context.Background()

	first, err := c.Compose(ctx, Request{Prompt: "abc", Model: models.Claude})
	require.NoError(t, err)
	again, err := c.Compose(ctx, Request{Prompt: "abc", Model: models.Claude})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Contains(t, first, "Claude Sonnet 4.5")
	assert.Contains(t, first, `"abc"`)

	other, err := c.Compose(ctx, Request{Prompt: "abcd"})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	_, err = NewTemplateComposer("{{ .Prompt")
	assert.Error(t, err)
}
