package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
)

// EventType names a realtime event.
type EventType string

const (
	EventNewMessage      EventType = "newMessage"
	EventMessageDeleted  EventType = "messageDeleted"
	EventMessagesCleared EventType = "messagesCleared"
)

// Event is the envelope pushed to every viewer session.
type Event struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type deletedPayload struct {
	ID string `json:"id"`
}

// NewMessageEvent carries the full created message.
func NewMessageEvent(msg message.Message) Event {
	return newEvent(EventNewMessage, msg)
}

// MessageDeletedEvent tells viewers to drop one message.
func MessageDeletedEvent(id string) Event {
	return newEvent(EventMessageDeleted, deletedPayload{ID: id})
}

// MessagesClearedEvent tells viewers to empty their buffers.
func MessagesClearedEvent() Event {
	return Event{Type: EventMessagesCleared, Timestamp: time.Now().UTC()}
}

func newEvent(kind EventType, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// message.Message and deletedPayload always marshal.
		panic(fmt.Sprintf("broadcast: marshal %s payload: %v", kind, err))
	}
	return Event{Type: kind, Data: data, Timestamp: time.Now().UTC()}
}

// Message decodes the payload of a newMessage event.
func (e Event) Message() (message.Message, error) {
	var msg message.Message
	if e.Type != EventNewMessage {
		return msg, fmt.Errorf("event %s carries no message", e.Type)
	}
	err := json.Unmarshal(e.Data, &msg)
	return msg, err
}

// DeletedID decodes the payload of a messageDeleted event.
func (e Event) DeletedID() (string, error) {
	if e.Type != EventMessageDeleted {
		return "", fmt.Errorf("event %s carries no id", e.Type)
	}
	var payload deletedPayload
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return "", err
	}
	return payload.ID, nil
}
