package streaming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnokio/orchestrator/pkg/ephemeral"
	"github.com/pinnokio/orchestrator/pkg/models"
)

type fakeStore struct {
	appended  []*models.ChatMessage
	updates   []string
	completed map[string]models.MessageStatus
	nextID    string
}

func newFakeStore() *fakeStore {
	return &fakeStore{completed: make(map[string]models.MessageStatus), nextID: "m1"}
}

func (f *fakeStore) AppendMessage(_ context.Context, msg *models.ChatMessage) (string, error) {
	msg.ID = f.nextID
	f.appended = append(f.appended, msg)
	return f.nextID, nil
}

func (f *fakeStore) UpdateStreamingContent(_ context.Context, _, content string) error {
	f.updates = append(f.updates, content)
	return nil
}

func (f *fakeStore) CompleteMessage(_ context.Context, id, content string, status models.MessageStatus) error {
	f.completed[id] = status
	f.updates = append(f.updates, content)
	return nil
}

type fakeHub struct {
	frames []StreamFrame
}

func (f *fakeHub) Broadcast(_ string, frame any) {
	f.frames = append(f.frames, frame.(StreamFrame))
}

type fixedOracle struct{ mode ephemeral.Mode }

func (f fixedOracle) ModeFor(context.Context, string) ephemeral.Mode { return f.mode }

func TestAssistantStreamUIMode(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	bus := NewBus(store, hub, fixedOracle{ephemeral.ModeUI})

	s, err := bus.StartAssistantStream(context.Background(), "u1", "c1", "t1")
	require.NoError(t, err)

	s.Push(context.Background(), "Hel")
	s.Push(context.Background(), "lo")
	require.NoError(t, s.Complete(context.Background(), "", models.MessageStatusComplete))

	// record created as streaming, rewritten cumulatively, then completed
	require.Len(t, store.appended, 1)
	assert.Equal(t, models.MessageStatusStreaming, store.appended[0].Status)
	assert.Equal(t, []string{"Hel", "Hello", "Hello"}, store.updates)
	assert.Equal(t, models.MessageStatusComplete, store.completed["m1"])

	// deltas broadcast live, then a completion frame
	require.Len(t, hub.frames, 3)
	assert.Equal(t, FrameLLMStreamChunk, hub.frames[0].Type)
	assert.Equal(t, "Hel", hub.frames[0].Content)
	assert.Equal(t, FrameLLMStreamComplete, hub.frames[2].Type)
	assert.Equal(t, "Hello", hub.frames[2].Content)
}

func TestAssistantStreamBackendModePersistsOnly(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	bus := NewBus(store, hub, fixedOracle{ephemeral.ModeBackend})

	s, err := bus.StartAssistantStream(context.Background(), "u1", "c1", "t1")
	require.NoError(t, err)
	s.Push(context.Background(), "Hello")
	require.NoError(t, s.Complete(context.Background(), "", models.MessageStatusComplete))

	assert.Len(t, store.updates, 2, "persistence is unconditional")
	assert.Empty(t, hub.frames, "no broadcasts while detached")
}

func TestCompleteSubstitutesFinalText(t *testing.T) {
	store := newFakeStore()
	bus := NewBus(store, &fakeHub{}, fixedOracle{ephemeral.ModeBackend})

	s, _ := bus.StartAssistantStream(context.Background(), "u1", "c1", "t1")
	s.Push(context.Background(), "partial")
	require.NoError(t, s.Complete(context.Background(), "Final conclusion.", models.MessageStatusComplete))

	assert.Equal(t, "Final conclusion.", store.updates[len(store.updates)-1])
}

func TestAppendUserMessage(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	bus := NewBus(store, hub, fixedOracle{ephemeral.ModeUI})

	require.NoError(t, bus.AppendUserMessage(context.Background(), "u1", "c1", "t1", "book invoices"))

	require.Len(t, store.appended, 1)
	assert.Equal(t, models.RoleUser, store.appended[0].Role)
	require.Len(t, hub.frames, 1)
	assert.Equal(t, FrameMessageAppended, hub.frames[0].Type)
}
