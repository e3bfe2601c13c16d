package message

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a message id does not exist in the store.
var ErrNotFound = errors.New("message not found")

// Store persists wall messages. Implementations assign the ID on Create and
// fill CreatedAt when the caller left it zero.
type Store interface {
	Create(ctx context.Context, msg Message) (Message, error)
	// Latest returns up to limit messages, newest first. limit <= 0 returns all.
	Latest(ctx context.Context, limit int) ([]Message, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
	Close() error
}

// MemoryStore implements Store in process memory. It backs tests and the
// memory:// store URI.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Message
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied messages.
func NewMemoryStore(items ...Message) *MemoryStore {
	s := &MemoryStore{items: append([]Message(nil), items...)}
	SortNewestFirst(s.items)
	return s
}

// Create stores a copy of msg with a fresh id.
func (s *MemoryStore) Create(_ context.Context, msg Message) (Message, error) {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.items = append(s.items, msg)
	SortNewestFirst(s.items)
	s.mu.Unlock()

	return msg, nil
}

// Latest returns the newest messages first.
func (s *MemoryStore) Latest(_ context.Context, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.items)
	if limit > 0 && limit < n {
		n = limit
	}
	copied := make([]Message, n)
	copy(copied, s.items[:n])
	return copied, nil
}

// Delete removes a single message.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// DeleteAll empties the store.
func (s *MemoryStore) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := int64(len(s.items))
	s.items = nil
	return removed, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
