package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
)

func startHub(t *testing.T, queue, buffer int) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(nil, queue, buffer)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func receive(t *testing.T, session *Session) Event {
	t.Helper()
	select {
	case payload, ok := <-session.Send():
		require.True(t, ok, "session closed unexpectedly")
		var evt Event
		require.NoError(t, json.Unmarshal(payload, &evt))
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestBroadcastReachesEverySession(t *testing.T) {
	hub, _ := startHub(t, 8, 8)

	first, err := hub.Register(KindWebSocket)
	require.NoError(t, err)
	second, err := hub.Register(KindSSE)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 5*time.Millisecond)

	msg := message.Message{ID: "m1", Text: "hello", SenderName: "Ann", CreatedAt: time.Now().UTC()}
	require.NoError(t, hub.Broadcast(NewMessageEvent(msg)))

	for _, session := range []*Session{first, second} {
		evt := receive(t, session)
		require.Equal(t, EventNewMessage, evt.Type)
		got, err := evt.Message()
		require.NoError(t, err)
		require.Equal(t, "m1", got.ID)
		require.Equal(t, "hello", got.Text)
	}
}

func TestLateSessionDoesNotReceiveEarlierEvents(t *testing.T) {
	hub, _ := startHub(t, 8, 8)

	early, err := hub.Register(KindWebSocket)
	require.NoError(t, err)
	require.NoError(t, hub.Broadcast(MessageDeletedEvent("gone")))
	evt := receive(t, early)
	id, err := evt.DeletedID()
	require.NoError(t, err)
	require.Equal(t, "gone", id)

	late, err := hub.Register(KindWebSocket)
	require.NoError(t, err)
	select {
	case <-late.Send():
		t.Fatal("late session must not get replayed events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterClosesSession(t *testing.T) {
	hub, _ := startHub(t, 8, 8)

	session, err := hub.Register(KindWebSocket)
	require.NoError(t, err)
	hub.Unregister(session)
	hub.Unregister(session)

	_, ok := <-session.Send()
	require.False(t, ok)
	require.Equal(t, 0, hub.Count())
}

func TestSlowSessionIsDropped(t *testing.T) {
	hub, _ := startHub(t, 8, 1)

	slow, err := hub.Register(KindWebSocket)
	require.NoError(t, err)

	require.NoError(t, hub.Broadcast(MessagesClearedEvent()))
	require.NoError(t, hub.Broadcast(MessagesClearedEvent()))

	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
	// the buffered event is still readable, then the channel is closed
	<-slow.Send()
	_, ok := <-slow.Send()
	require.False(t, ok)
}

func TestClosedHubRejects(t *testing.T) {
	hub, cancel := startHub(t, 8, 8)
	session, err := hub.Register(KindSSE)
	require.NoError(t, err)

	cancel()
	<-hub.Done()

	_, ok := <-session.Send()
	require.False(t, ok)
	require.ErrorIs(t, hub.Broadcast(MessagesClearedEvent()), ErrHubClosed)
	_, err = hub.Register(KindSSE)
	require.ErrorIs(t, err, ErrHubClosed)
}

func TestBroadcastBacklogFull(t *testing.T) {
	// no Run loop: the queue is never drained
	hub := NewHub(nil, 1, 1)
	require.NoError(t, hub.Broadcast(MessagesClearedEvent()))
	require.ErrorIs(t, hub.Broadcast(MessagesClearedEvent()), ErrBacklogFull)
}

func TestEventAccessorsRejectWrongType(t *testing.T) {
	_, err := MessagesClearedEvent().Message()
	require.Error(t, err)
	_, err = NewMessageEvent(message.Message{ID: "x"}).DeletedID()
	require.Error(t, err)
}
