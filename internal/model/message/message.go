package message

import (
	"sort"
	"time"
)

// Message is a single entry on the wall. It is never updated once created.
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"message"`
	SenderName string    `json:"sender_name"`
	ImageURL   string    `json:"picture,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// HasImage reports whether an uploaded picture is attached.
func (m Message) HasImage() bool {
	return m.ImageURL != ""
}

// Newer reports whether m sorts before other in a newest-first listing.
// Ties on CreatedAt are broken by ID so the order is total.
func (m Message) Newer(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.After(other.CreatedAt)
	}
	return m.ID > other.ID
}

// SortNewestFirst orders messages in place by CreatedAt descending.
func SortNewestFirst(items []Message) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Newer(items[j])
	})
}
