package wall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
	"github.com/zhouzirui/message-wall/backend/internal/service/admission"
	"github.com/zhouzirui/message-wall/backend/internal/service/broadcast"
	"github.com/zhouzirui/message-wall/backend/internal/service/upload"
)

var (
	ErrStoreUnavailable = errors.New("message store unavailable")
	ErrNotFound         = message.ErrNotFound
)

// Admitter gates submissions.
type Admitter interface {
	Admit(ctx context.Context, sub admission.Submission) error
}

// Broadcaster pushes events to live viewers.
type Broadcaster interface {
	Broadcast(evt broadcast.Event) error
}

// Service runs the ingestion pipeline and the moderation operations.
type Service struct {
	store         message.Store
	admitter      Admitter
	uploader      upload.Uploader
	broadcaster   Broadcaster
	uploadTimeout time.Duration
	clock         func() time.Time
	log           *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now for message timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithUploadTimeout bounds each photo upload.
func WithUploadTimeout(d time.Duration) Option {
	return func(s *Service) { s.uploadTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService wires the pipeline stages together. A nil uploader behaves as
// upload.Unconfigured.
func NewService(store message.Store, admitter Admitter, uploader upload.Uploader, broadcaster Broadcaster, opts ...Option) *Service {
	if uploader == nil {
		uploader = upload.Unconfigured{}
	}
	s := &Service{
		store:         store,
		admitter:      admitter,
		uploader:      uploader,
		broadcaster:   broadcaster,
		uploadTimeout: 20 * time.Second,
		clock:         time.Now,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit admits, uploads, persists and publishes a submission. Only admission
// and store failures are returned; upload and publish failures are logged.
func (s *Service) Submit(ctx context.Context, sub admission.Submission) (message.Message, error) {
	if err := s.admitter.Admit(ctx, sub); err != nil {
		return message.Message{}, err
	}

	var imageURL string
	if sub.Image != nil && len(sub.Image.Data) > 0 {
		imageURL = s.uploadImage(ctx, sub.Image)
	}

	created, err := s.store.Create(ctx, message.Message{
		Text:       strings.TrimSpace(sub.Text),
		SenderName: strings.TrimSpace(sub.SenderName),
		ImageURL:   imageURL,
		CreatedAt:  s.clock().UTC(),
	})
	if err != nil {
		s.log.Error("[wall] failed to persist message", "client", sub.ClientID, "error", err)
		return message.Message{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.publish(broadcast.NewMessageEvent(created))
	s.log.Info("[wall] message accepted", "id", created.ID, "client", sub.ClientID, "picture", created.HasImage())
	return created, nil
}

func (s *Service) uploadImage(ctx context.Context, img *admission.Image) string {
	uploadCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	url, err := s.uploader.Upload(uploadCtx, upload.Image{
		Data:        img.Data,
		ContentType: img.ContentType,
		Filename:    img.Filename,
	})
	if err != nil {
		s.log.Warn("[wall] photo upload failed, saving message without picture", "error", err)
		return ""
	}
	return url
}

func (s *Service) publish(evt broadcast.Event) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(evt); err != nil {
		s.log.Warn("[wall] publish failed", "type", evt.Type, "error", err)
	}
}

// List returns every message, newest first.
func (s *Service) List(ctx context.Context) ([]message.Message, error) {
	return s.Latest(ctx, 0)
}

// Latest reads the n newest messages straight from the store.
func (s *Service) Latest(ctx context.Context, n int) ([]message.Message, error) {
	messages, err := s.store.Latest(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return messages, nil
}

// Delete removes one message and tells viewers to drop it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, message.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.publish(broadcast.MessageDeletedEvent(id))
	s.log.Info("[wall] message deleted", "id", id)
	return nil
}

// DeleteAll empties the wall and tells viewers to clear their buffers.
func (s *Service) DeleteAll(ctx context.Context) (int64, error) {
	removed, err := s.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.publish(broadcast.MessagesClearedEvent())
	s.log.Info("[wall] wall cleared", "removed", removed)
	return removed, nil
}
