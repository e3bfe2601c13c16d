package wall_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
	"github.com/zhouzirui/message-wall/backend/internal/service/admission"
	"github.com/zhouzirui/message-wall/backend/internal/service/broadcast"
	"github.com/zhouzirui/message-wall/backend/internal/service/upload"
	"github.com/zhouzirui/message-wall/backend/internal/service/wall"
)

type fakeUploader struct {
	url   string
	err   error
	calls int
}

func (f *fakeUploader) Upload(_ context.Context, _ upload.Image) (string, error) {
	f.calls++
	return f.url, f.err
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcast.Event
	err    error
}

func (r *recordingBroadcaster) Broadcast(evt broadcast.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, evt)
	return nil
}

type brokenStore struct {
	*message.MemoryStore
}

func (brokenStore) Create(context.Context, message.Message) (message.Message, error) {
	return message.Message{}, errors.New("connection refused")
}

func (brokenStore) Latest(context.Context, int) ([]message.Message, error) {
	return nil, errors.New("connection refused")
}

var now = time.Date(2026, 2, 14, 18, 0, 0, 0, time.UTC)

func newService(store message.Store, up upload.Uploader, b wall.Broadcaster) *wall.Service {
	admit := admission.New(admission.DefaultLimits(), admission.WithClock(func() time.Time { return now }))
	return wall.NewService(store, admit, up, b, wall.WithClock(func() time.Time { return now }))
}

func photo() *admission.Image {
	// 1x1 GIF
	return &admission.Image{
		Data:        []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;"),
		ContentType: "image/gif",
		Filename:    "dot.gif",
	}
}

func TestSubmitPersistsAndPublishes(t *testing.T) {
	req := require.New(t)
	store := message.NewMemoryStore()
	b := &recordingBroadcaster{}
	svc := newService(store, &fakeUploader{}, b)

	created, err := svc.Submit(context.Background(), admission.Submission{Text: " hello ", SenderName: "Ann", ClientID: "1.2.3.4"})
	req.NoError(err)
	req.NotEmpty(created.ID)
	req.Equal("hello", created.Text)
	req.Empty(created.ImageURL)
	req.True(now.Equal(created.CreatedAt))

	stored, err := svc.Latest(context.Background(), 10)
	req.NoError(err)
	req.Len(stored, 1)
	req.Equal(created.ID, stored[0].ID)

	req.Len(b.events, 1)
	req.Equal(broadcast.EventNewMessage, b.events[0].Type)
	pushed, err := b.events[0].Message()
	req.NoError(err)
	req.Equal(created, pushed)
}

func TestSubmitWithPhoto(t *testing.T) {
	up := &fakeUploader{url: "https://cdn.example/dot.gif"}
	svc := newService(message.NewMemoryStore(), up, &recordingBroadcaster{})

	created, err := svc.Submit(context.Background(), admission.Submission{Text: "look", SenderName: "Bo", Image: photo(), ClientID: "c"})
	require.NoError(t, err)
	require.Equal(t, 1, up.calls)
	require.Equal(t, "https://cdn.example/dot.gif", created.ImageURL)
}

func TestSubmitUploadFailureKeepsMessage(t *testing.T) {
	up := &fakeUploader{err: upload.ErrUploadFailed}
	store := message.NewMemoryStore()
	svc := newService(store, up, &recordingBroadcaster{})

	created, err := svc.Submit(context.Background(), admission.Submission{Text: "look", SenderName: "Bo", Image: photo(), ClientID: "c"})
	require.NoError(t, err)
	require.Empty(t, created.ImageURL)

	stored, _ := store.Latest(context.Background(), 0)
	require.Len(t, stored, 1)
	require.Empty(t, stored[0].ImageURL)
}

func TestSubmitRejectedDoesNoWork(t *testing.T) {
	cases := map[string]struct {
		sub  admission.Submission
		want error
	}{
		"empty text":    {admission.Submission{SenderName: "Ann", ClientID: "c"}, admission.ErrInvalidPayload},
		"text too long": {admission.Submission{Text: strings.Repeat("x", 301), SenderName: "Ann", ClientID: "c"}, admission.ErrInvalidPayload},
		"not an image":  {admission.Submission{Text: "hi", SenderName: "Ann", ClientID: "c", Image: &admission.Image{Data: []byte("%PDF-1.4"), ContentType: "application/pdf"}}, admission.ErrInvalidImage},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store := message.NewMemoryStore()
			up := &fakeUploader{}
			b := &recordingBroadcaster{}
			svc := newService(store, up, b)

			_, err := svc.Submit(context.Background(), tc.sub)
			require.ErrorIs(t, err, tc.want)

			stored, _ := store.Latest(context.Background(), 0)
			require.Empty(t, stored)
			require.Zero(t, up.calls)
			require.Empty(t, b.events)
		})
	}
}

func TestSubmitRateLimited(t *testing.T) {
	store := message.NewMemoryStore()
	svc := newService(store, &fakeUploader{}, &recordingBroadcaster{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, admission.Submission{Text: "one", SenderName: "Ann", ClientID: "c"})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, admission.Submission{Text: "two", SenderName: "Ann", ClientID: "c"})
	require.ErrorIs(t, err, admission.ErrRateLimited)

	stored, _ := store.Latest(ctx, 0)
	require.Len(t, stored, 1)
}

func TestSubmitStoreFailure(t *testing.T) {
	b := &recordingBroadcaster{}
	svc := newService(brokenStore{message.NewMemoryStore()}, &fakeUploader{}, b)

	_, err := svc.Submit(context.Background(), admission.Submission{Text: "hi", SenderName: "Ann", ClientID: "c"})
	require.ErrorIs(t, err, wall.ErrStoreUnavailable)
	require.Empty(t, b.events)

	_, err = svc.Latest(context.Background(), 5)
	require.ErrorIs(t, err, wall.ErrStoreUnavailable)
}

func TestSubmitPublishFailureIsSwallowed(t *testing.T) {
	store := message.NewMemoryStore()
	svc := newService(store, &fakeUploader{}, &recordingBroadcaster{err: broadcast.ErrHubClosed})

	_, err := svc.Submit(context.Background(), admission.Submission{Text: "hi", SenderName: "Ann", ClientID: "c"})
	require.NoError(t, err)
	stored, _ := store.Latest(context.Background(), 0)
	require.Len(t, stored, 1)
}

func TestDeleteAndDeleteAll(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := message.NewMemoryStore()
	b := &recordingBroadcaster{}
	svc := newService(store, &fakeUploader{}, b)

	first, err := svc.Submit(ctx, admission.Submission{Text: "one", SenderName: "Ann", ClientID: "a"})
	req.NoError(err)
	_, err = svc.Submit(ctx, admission.Submission{Text: "two", SenderName: "Bo", ClientID: "b"})
	req.NoError(err)

	req.NoError(svc.Delete(ctx, first.ID))
	req.ErrorIs(svc.Delete(ctx, first.ID), wall.ErrNotFound)

	all, err := svc.List(ctx)
	req.NoError(err)
	req.Len(all, 1)
	req.NotEqual(first.ID, all[0].ID)

	removed, err := svc.DeleteAll(ctx)
	req.NoError(err)
	req.Equal(int64(1), removed)
	all, err = svc.List(ctx)
	req.NoError(err)
	req.Empty(all)

	types := make([]broadcast.EventType, 0, len(b.events))
	for _, evt := range b.events {
		types = append(types, evt.Type)
	}
	req.Equal([]broadcast.EventType{
		broadcast.EventNewMessage,
		broadcast.EventNewMessage,
		broadcast.EventMessageDeleted,
		broadcast.EventMessagesCleared,
	}, types)
}
