package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/message-wall/backend/internal/handler"
	"github.com/zhouzirui/message-wall/backend/internal/handler/wall"
	"github.com/zhouzirui/message-wall/backend/internal/model/message"
	"github.com/zhouzirui/message-wall/backend/internal/service/admission"
	"github.com/zhouzirui/message-wall/backend/internal/service/broadcast"
	wallService "github.com/zhouzirui/message-wall/backend/internal/service/wall"
	"github.com/zhouzirui/message-wall/backend/internal/web"
)

func startServer(t *testing.T) (*httptest.Server, *broadcast.Hub) {
	t.Helper()

	controller := admission.New(admission.DefaultLimits())
	hub := broadcast.NewHub(nil, 16, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	renderer, err := web.NewRenderer()
	require.NoError(t, err)

	svc := wallService.NewService(message.NewMemoryStore(), controller, nil, hub)
	srv := httptest.NewServer(handler.NewRouter(handler.Deps{
		Wall:     svc,
		Hub:      hub,
		Renderer: renderer,
		Options:  wall.Options{Limits: controller.Limits()},
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub
}

func TestSubmitAndLatest(t *testing.T) {
	srv, _ := startServer(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := c.Submit(ctx, Submission{Text: "hello", SenderName: "Ann"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Empty(t, created.ImageURL)

	latest, err := c.Latest(ctx, 0)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, created.ID, latest[0].ID)
	require.Equal(t, "Ann", latest[0].SenderName)
}

func TestSubmitErrorsMapToSentinels(t *testing.T) {
	srv, _ := startServer(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Submit(ctx, Submission{Text: "", SenderName: "Ann"})
	require.ErrorIs(t, err, ErrRejected)

	_, err = c.Submit(ctx, Submission{Text: "first", SenderName: "Ann"})
	require.NoError(t, err)

	_, err = c.Submit(ctx, Submission{Text: "second", SenderName: "Ann"})
	require.ErrorIs(t, err, ErrRateLimited)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Greater(t, statusErr.RetryAfter, time.Duration(0))
}

func TestPictureUploadFailureIsNotFatal(t *testing.T) {
	srv, _ := startServer(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)

	// GIF89a header is enough for content sniffing.
	gif := []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")
	created, err := c.Submit(context.Background(), Submission{
		Text: "with photo", SenderName: "Bo", Picture: gif, Filename: "a.gif", ContentType: "image/gif",
	})
	require.NoError(t, err)
	require.Empty(t, created.ImageURL)
}

func TestDeleteAndDeleteAll(t *testing.T) {
	srv, _ := startServer(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := c.Submit(ctx, Submission{Text: "bye", SenderName: "Cy"})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, created.ID))
	latest, err := c.Latest(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, latest)

	require.NoError(t, c.DeleteAll(ctx))
}

func TestLatestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL, Options{})
	require.NoError(t, err)
	_, err = c.Latest(context.Background(), 5)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://wall.example.com", Options{})
	require.Error(t, err)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	srv, hub := startServer(t)
	c, err := New(srv.URL, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan broadcast.Event, 4)
	done := make(chan error, 1)
	go func() { done <- c.Subscribe(ctx, events) }()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	created, err := c.Submit(context.Background(), Submission{Text: "pushed", SenderName: "Dee"})
	require.NoError(t, err)

	select {
	case evt := <-events:
		require.Equal(t, broadcast.EventNewMessage, evt.Type)
		msg, err := evt.Message()
		require.NoError(t, err)
		require.Equal(t, created.ID, msg.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestSubscribeBacksOffWhenStreamDropsImmediately(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials.Add(1)
		conn.Close()
	}))
	defer srv.Close()

	c, err := New(srv.URL, Options{ReconnectDelay: 50 * time.Millisecond, MaxReconnectDelay: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Subscribe(ctx, make(chan broadcast.Event)))

	// 50ms, 100ms, 200ms pauses leave room for at most four dials.
	require.GreaterOrEqual(t, dials.Load(), int32(2))
	require.LessOrEqual(t, dials.Load(), int32(4))
}

func TestReconnectDelayDoublesUpToCap(t *testing.T) {
	c, err := New("http://wall.local", Options{ReconnectDelay: time.Second, MaxReconnectDelay: 5 * time.Second})
	require.NoError(t, err)

	require.Equal(t, time.Second, c.reconnectDelay(0))
	require.Equal(t, 2*time.Second, c.reconnectDelay(1))
	require.Equal(t, 4*time.Second, c.reconnectDelay(2))
	require.Equal(t, 5*time.Second, c.reconnectDelay(3))
	require.Equal(t, 5*time.Second, c.reconnectDelay(10))
}
