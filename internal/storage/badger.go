package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
)

var (
	messagePrefix = []byte("msg:")
	indexPrefix   = []byte("id:")
)

// BadgerStore keeps messages in an embedded Badger database.
//
// Messages live under "msg:{created_at_unix_nano_padded}:{id}" so that a
// reverse prefix scan yields newest-first order with id as the tie breaker.
// "id:{id}" points back at the message key for deletion.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

type badgerRecord struct {
	ID         string `json:"id"`
	Text       string `json:"message"`
	SenderName string `json:"sender_name"`
	ImageURL   string `json:"picture,omitempty"`
	At         int64  `json:"at"`
}

// OpenBadger opens the Badger database rooted at dir.
func OpenBadger(dir string, log *slog.Logger) (*BadgerStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("badger directory is empty")
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("database opening failed: %w", err)
	}
	return NewBadgerStore(db, log), nil
}

// NewBadgerStore wraps an already opened database.
func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	if log == nil {
		log = slog.Default()
	}
	return &BadgerStore{db: db, log: log}
}

func messageKey(at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", messagePrefix, at.UnixNano(), id))
}

func indexKey(id string) []byte {
	return append(append([]byte{}, indexPrefix...), id...)
}

// Create stores the message and its id index in one transaction.
func (s *BadgerStore) Create(_ context.Context, msg message.Message) (message.Message, error) {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	value, err := json.Marshal(badgerRecord{
		ID:         msg.ID,
		Text:       msg.Text,
		SenderName: msg.SenderName,
		ImageURL:   msg.ImageURL,
		At:         msg.CreatedAt.UnixNano(),
	})
	if err != nil {
		return message.Message{}, err
	}

	key := messageKey(msg.CreatedAt, msg.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(msg.ID), key)
	})
	if err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

// Latest walks the message keys backwards from the newest entry.
func (s *BadgerStore) Latest(_ context.Context, limit int) ([]message.Message, error) {
	messages := make([]message.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = messagePrefix
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append(append([]byte{}, messagePrefix...), 0xff)
		for it.Seek(seekKey); it.ValidForPrefix(messagePrefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			var record badgerRecord
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &record)
			})
			if err != nil {
				return err
			}
			messages = append(messages, message.Message{
				ID:         record.ID,
				Text:       record.Text,
				SenderName: record.SenderName,
				ImageURL:   record.ImageURL,
				CreatedAt:  time.Unix(0, record.At).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Delete removes the message and its index entry.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return message.ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
}

// DeleteAll counts the stored messages then drops both key spaces.
func (s *BadgerStore) DeleteAll(_ context.Context) (int64, error) {
	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = messagePrefix
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(messagePrefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := s.db.DropPrefix(messagePrefix, indexPrefix); err != nil {
		return 0, err
	}
	s.log.Debug("[storage] badger prefixes dropped", "messages", count)
	return count, nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	s.log.Info("[storage] closing badger")
	return s.db.Close()
}
