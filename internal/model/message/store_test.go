package message_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
)

func TestMemoryStoreLatestNewestFirst(t *testing.T) {
	store := message.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 2, 14, 18, 0, 0, 0, time.UTC)

	for i, text := range []string{"first", "second", "third"} {
		if _, err := store.Create(ctx, message.Message{
			Text:       text,
			SenderName: "Ann",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Create err: %v", err)
		}
	}

	got, err := store.Latest(ctx, 0)
	if err != nil {
		t.Fatalf("Latest err: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Text != "third" || got[2].Text != "first" {
		t.Fatalf("unexpected order: %q %q %q", got[0].Text, got[1].Text, got[2].Text)
	}

	limited, err := store.Latest(ctx, 2)
	if err != nil {
		t.Fatalf("Latest err: %v", err)
	}
	if len(limited) != 2 || limited[0].Text != "third" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestMemoryStoreTiesBrokenByID(t *testing.T) {
	at := time.Date(2026, 2, 14, 18, 0, 0, 0, time.UTC)
	store := message.NewMemoryStore(
		message.Message{ID: "a", Text: "a", CreatedAt: at},
		message.Message{ID: "c", Text: "c", CreatedAt: at},
		message.Message{ID: "b", Text: "b", CreatedAt: at},
	)

	got, _ := store.Latest(context.Background(), 0)
	if got[0].ID != "c" || got[1].ID != "b" || got[2].ID != "a" {
		t.Fatalf("expected id-descending tie break, got %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := message.NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, message.Message{Text: "hello", SenderName: "Ann"})
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be assigned: %+v", created)
	}

	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if err := store.Delete(ctx, created.ID); !errors.Is(err, message.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, _ := store.Latest(ctx, 0)
	if len(got) != 0 {
		t.Fatalf("expected empty store, got %d", len(got))
	}
}

func TestMemoryStoreDeleteAll(t *testing.T) {
	store := message.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Create(ctx, message.Message{Text: "x", SenderName: "y"}); err != nil {
			t.Fatalf("Create err: %v", err)
		}
	}

	removed, err := store.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll err: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	got, _ := store.Latest(ctx, 0)
	if len(got) != 0 {
		t.Fatalf("expected empty store after DeleteAll, got %d", len(got))
	}
}
